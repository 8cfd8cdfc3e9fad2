// Package version exposes the build version of proxmox-b2.
package version

import (
	"runtime/debug"
	"strings"
)

// Populated at build time, e.g.
//
//	-X github.com/tis24dev/proxmox-b2/internal/version.Version=v1.0.0
//	-X github.com/tis24dev/proxmox-b2/internal/version.Commit=abcdef1
//	-X github.com/tis24dev/proxmox-b2/internal/version.Date=2025-01-01T12:34:56Z
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

const devVersion = "0.0.0-dev"

var readBuildInfo = debug.ReadBuildInfo

// String returns the effective version without a leading "v": the ldflags
// value, else the main module version from the build info, else a dev
// placeholder.
func String() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		if info, ok := readBuildInfo(); ok && info != nil {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
	}
	if v == "" {
		v = devVersion
	}
	return strings.TrimPrefix(v, "v")
}

// Signature is the version line printed by --version and the run summary.
func Signature() string {
	parts := []string{"v" + String()}
	if c := strings.TrimSpace(Commit); c != "" {
		if len(c) > 7 {
			c = c[:7]
		}
		parts = append(parts, c)
	}
	if d := strings.TrimSpace(Date); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, " ")
}
