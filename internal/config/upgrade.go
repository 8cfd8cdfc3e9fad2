package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tis24dev/proxmox-b2/pkg/utils"
)

// UpgradeResult describes what merging a config file with the template did.
type UpgradeResult struct {
	BackupPath      string
	MissingKeys     []string // added from the template with default values
	ExtraKeys       []string // not in the template, kept in a custom section
	PreservedValues int
	Changed         bool
}

// UpgradeConfigFile merges configPath with the embedded template: template
// layout and comments are kept, user values win for known keys, unknown keys
// move to a trailing custom section. The previous file is saved next to it
// as <path>.backup.<timestamp>. With dryRun nothing is written.
func UpgradeConfigFile(configPath string, dryRun bool) (*UpgradeResult, error) {
	original, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read configuration file %s: %w", configPath, err)
	}

	result, merged := mergeWithTemplate(string(original), DefaultEnvTemplate())
	if !result.Changed || dryRun {
		return result, nil
	}

	mode := os.FileMode(0o600)
	if info, err := os.Stat(configPath); err == nil {
		mode = info.Mode() & os.ModePerm
	}

	backupPath := fmt.Sprintf("%s.backup.%s", configPath, time.Now().Format("20060102_150405"))
	if err := os.WriteFile(backupPath, original, mode); err != nil {
		return result, fmt.Errorf("failed to create backup %s: %w", backupPath, err)
	}

	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(merged), mode); err != nil {
		_ = os.Remove(tmpPath)
		return result, fmt.Errorf("failed to write temporary config %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		_ = os.Remove(tmpPath)
		return result, fmt.Errorf("failed to replace config %s: %w", configPath, err)
	}
	result.BackupPath = backupPath

	if _, err := LoadConfig(configPath, true); err != nil {
		_ = os.Rename(backupPath, configPath)
		return result, fmt.Errorf("upgraded config invalid, restored backup: %w", err)
	}
	return result, nil
}

func mergeWithTemplate(original, template string) (*UpgradeResult, string) {
	result := &UpgradeResult{}

	userValues := make(map[string]string)
	var userOrder []string
	lines := strings.Split(strings.ReplaceAll(original, "\r\n", "\n"), "\n")
	for i := 0; i < len(lines); i++ {
		if utils.IsComment(lines[i]) {
			continue
		}
		key, value, ok := utils.SplitKeyValue(lines[i])
		if !ok {
			continue
		}
		if blockValueKeys[key] && strings.TrimSpace(lines[i]) == key+`="` {
			var block []string
			for i++; i < len(lines) && strings.TrimSpace(lines[i]) != `"`; i++ {
				block = append(block, lines[i])
			}
			value = "\"\n" + strings.Join(block, "\n") + "\n\""
		}
		if _, seen := userValues[key]; !seen {
			userOrder = append(userOrder, key)
		}
		userValues[key] = value
	}

	templateKeys := make(map[string]bool)
	var out []string
	tmpl := strings.Split(template, "\n")
	for i := 0; i < len(tmpl); i++ {
		line := tmpl[i]
		if utils.IsComment(line) {
			out = append(out, line)
			continue
		}
		key, _, ok := utils.SplitKeyValue(line)
		if !ok {
			out = append(out, line)
			continue
		}
		templateKeys[key] = true

		// Multi-line template defaults span until the closing quote.
		var templateBlock []string
		if blockValueKeys[key] && strings.TrimSpace(line) == key+`="` {
			for i++; i < len(tmpl) && strings.TrimSpace(tmpl[i]) != `"`; i++ {
				templateBlock = append(templateBlock, tmpl[i])
			}
		}

		if value, ok := userValues[key]; ok {
			result.PreservedValues++
			out = append(out, key+"="+quoteIfNeeded(value))
			continue
		}
		result.MissingKeys = append(result.MissingKeys, key)
		out = append(out, line)
		if templateBlock != nil {
			out = append(out, templateBlock...)
			out = append(out, `"`)
		}
	}

	for _, key := range userOrder {
		if templateKeys[key] {
			continue
		}
		if len(result.ExtraKeys) == 0 {
			out = append(out, "", "# Custom keys preserved from previous configuration")
		}
		result.ExtraKeys = append(result.ExtraKeys, key)
		out = append(out, key+"="+quoteIfNeeded(userValues[key]))
	}

	result.Changed = len(result.MissingKeys) > 0 || len(result.ExtraKeys) > 0
	return result, strings.Join(out, "\n")
}

func quoteIfNeeded(value string) string {
	if strings.HasPrefix(value, "\"\n") {
		return value
	}
	if strings.ContainsAny(value, " #'\t") {
		return `"` + value + `"`
	}
	return value
}
