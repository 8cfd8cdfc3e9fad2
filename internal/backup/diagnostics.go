package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tis24dev/proxmox-b2/internal/logging"
)

// Snapshot is one diagnostic command whose stdout lands in the staging dir.
type Snapshot struct {
	Name        string
	Command     []string
	Output      string // file name relative to the staging dir
	Description string
}

// DefaultSnapshots describes the host layout collected next to the config files.
var DefaultSnapshots = []Snapshot{
	{Name: "lsblk", Command: []string{"lsblk", "-f"}, Output: "lsblk.txt", Description: "block devices"},
	{Name: "df", Command: []string{"df", "-h"}, Output: "df.txt", Description: "filesystem usage"},
	{Name: "mounts", Command: []string{"findmnt", "--list"}, Output: "mounts.txt", Description: "mount table"},
	{Name: "pvs", Command: []string{"pvs"}, Output: "lvm_pvs.txt", Description: "LVM physical volumes"},
	{Name: "vgs", Command: []string{"vgs"}, Output: "lvm_vgs.txt", Description: "LVM volume groups"},
	{Name: "lvs", Command: []string{"lvs"}, Output: "lvm_lvs.txt", Description: "LVM logical volumes"},
	{Name: "zpool", Command: []string{"zpool", "status"}, Output: "zpool_status.txt", Description: "ZFS pool status"},
	{Name: "pveversion", Command: []string{"pveversion", "-v"}, Output: "pveversion.txt", Description: "Proxmox package versions"},
}

// DiagnosticsReport summarizes a collection pass.
type DiagnosticsReport struct {
	Collected []string `json:"collected"`
	Missing   []string `json:"missing,omitempty"` // binary not installed
	Failed    []string `json:"failed,omitempty"`  // non-zero exit or write error
}

// DiagnosticsCollector runs best-effort snapshot commands. Nothing it does can
// fail a run: every problem is logged and recorded in the report.
type DiagnosticsCollector struct {
	logger    *logging.Logger
	snapshots []Snapshot
	deps      Deps
}

// NewDiagnosticsCollector creates a collector; nil snapshots selects DefaultSnapshots.
func NewDiagnosticsCollector(logger *logging.Logger, snapshots []Snapshot, deps Deps) *DiagnosticsCollector {
	if snapshots == nil {
		snapshots = DefaultSnapshots
	}
	return &DiagnosticsCollector{
		logger:    logger,
		snapshots: snapshots,
		deps:      deps.withDefaults(),
	}
}

// Collect writes every available snapshot into stagingDir.
func (c *DiagnosticsCollector) Collect(ctx context.Context, stagingDir string) *DiagnosticsReport {
	report := &DiagnosticsReport{}
	if err := os.MkdirAll(stagingDir, 0o750); err != nil {
		c.logger.Debug("Cannot create staging directory %s: %v", stagingDir, err)
		for _, s := range c.snapshots {
			report.Failed = append(report.Failed, s.Name)
		}
		return report
	}

	for _, snap := range c.snapshots {
		if ctx.Err() != nil {
			c.logger.Debug("Diagnostics interrupted: %v", ctx.Err())
			break
		}
		switch err := c.collectOne(ctx, stagingDir, snap); {
		case err == nil:
			report.Collected = append(report.Collected, snap.Name)
		case errors.Is(err, exec.ErrNotFound):
			report.Missing = append(report.Missing, snap.Name)
		default:
			report.Failed = append(report.Failed, snap.Name)
		}
	}

	c.logger.Debug("Diagnostics: %d collected, %d missing, %d failed",
		len(report.Collected), len(report.Missing), len(report.Failed))
	return report
}

func (c *DiagnosticsCollector) collectOne(ctx context.Context, stagingDir string, snap Snapshot) error {
	if len(snap.Command) == 0 {
		return fmt.Errorf("empty command for %s", snap.Name)
	}
	cmdString := strings.Join(snap.Command, " ")
	output := filepath.Join(stagingDir, snap.Output)
	c.logger.Debug("Collecting %s via command: %s > %s", snap.Description, cmdString, output)

	if _, err := c.deps.LookPath(snap.Command[0]); err != nil {
		c.logger.Debug("Command not available: %s (skipping %s)", snap.Command[0], snap.Description)
		return fmt.Errorf("%s: %w", snap.Command[0], exec.ErrNotFound)
	}

	out, err := c.deps.RunCommand(ctx, snap.Command[0], snap.Command[1:]...)
	if err != nil {
		c.logger.Debug("Skipping %s: command `%s` failed (%v)", snap.Description, cmdString, err)
		return err
	}

	if err := os.WriteFile(output, out, 0o640); err != nil {
		c.logger.Debug("Failed to write %s: %v", output, err)
		_ = os.Remove(output)
		return err
	}
	c.logger.Debug("Successfully collected %s", snap.Description)
	return nil
}
