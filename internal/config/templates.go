package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tis24dev/proxmox-b2/pkg/utils"
)

//go:embed templates/proxmox-b2.env
var defaultEnvTemplate string

// DefaultEnvTemplate returns the commented configuration template.
func DefaultEnvTemplate() string {
	return defaultEnvTemplate
}

// WriteTemplate writes the default template to path. An existing file is
// only replaced when force is set.
func WriteTemplate(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s", path)
	}
	if err := utils.EnsureDir(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultEnvTemplate), 0o600); err != nil {
		return fmt.Errorf("write configuration template: %w", err)
	}
	return nil
}
