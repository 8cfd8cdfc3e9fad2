package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/tis24dev/proxmox-b2/internal/logging"
)

var (
	osStat      = os.Stat
	osMkdirAll  = os.MkdirAll
	freeSpaceMB = diskSpaceMB
)

// Checker performs the validation a run needs before it writes anything.
type Checker struct {
	logger *logging.Logger
	config *CheckerConfig
}

// CheckerConfig holds configuration for pre-run checks. Invocations are
// independent: nothing here serializes concurrent runs.
type CheckerConfig struct {
	ArchiveDir string
	CacheDir   string
	MinFreeMB  float64 // required on both ArchiveDir and CacheDir
	DryRun     bool
}

// Validate checks if the checker configuration is valid.
func (c *CheckerConfig) Validate() error {
	if c.ArchiveDir == "" {
		return fmt.Errorf("archive directory cannot be empty")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache directory cannot be empty")
	}
	if c.MinFreeMB < 0 {
		return fmt.Errorf("minimum free space cannot be negative")
	}
	return nil
}

// CheckResult holds the result of a validation check.
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   error
}

// NewChecker creates a new pre-run checker.
func NewChecker(logger *logging.Logger, config *CheckerConfig) *Checker {
	return &Checker{
		logger: logger,
		config: config,
	}
}

// GetDefaultCheckerConfig returns the checks used by run and prune.
func GetDefaultCheckerConfig(archiveDir, cacheDir string, dryRun bool) *CheckerConfig {
	return &CheckerConfig{
		ArchiveDir: archiveDir,
		CacheDir:   cacheDir,
		MinFreeMB:  64,
		DryRun:     dryRun,
	}
}

// RunAllChecks performs all pre-run checks. Directories come first since
// the disk space check needs them to exist.
func (c *Checker) RunAllChecks(ctx context.Context) ([]CheckResult, error) {
	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checker configuration: %w", err)
	}
	c.logger.Debug("Running pre-run checks")

	var results []CheckResult
	steps := []func() CheckResult{c.CheckDirectories, c.CheckDiskSpace}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := step()
		results = append(results, res)
		if !res.Passed {
			return results, fmt.Errorf("%s check failed: %s", res.Name, res.Message)
		}
	}

	c.logger.Debug("All pre-run checks passed")
	return results, nil
}

// CheckDirectories creates the archive and cache directories when
// they are missing. A dry run still builds its archive locally, so the
// directories are created in that mode too.
func (c *Checker) CheckDirectories() CheckResult {
	result := CheckResult{Name: "Directories"}

	seen := make(map[string]bool)
	for _, dir := range []string{c.config.ArchiveDir, c.config.CacheDir} {
		dir = filepath.Clean(dir)
		if dir == "." || dir == "/" || seen[dir] {
			continue
		}
		seen[dir] = true

		info, err := osStat(dir)
		if err == nil {
			if !info.IsDir() {
				result.Error = fmt.Errorf("required path is not a directory: %s", dir)
				result.Message = result.Error.Error()
				c.logger.Error("%s", result.Message)
				return result
			}
			continue
		}
		if !os.IsNotExist(err) {
			result.Error = fmt.Errorf("failed to stat directory %s: %w", dir, err)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		}
		if err := osMkdirAll(dir, 0o750); err != nil {
			result.Error = fmt.Errorf("failed to create directory %s: %w", dir, err)
			result.Message = result.Error.Error()
			c.logger.Error("%s", result.Message)
			return result
		}
		c.logger.Info("Created missing directory: %s", dir)
	}

	result.Passed = true
	result.Message = "All required directories exist"
	return result
}

// CheckDiskSpace verifies MinFreeMB is available for the archive and the
// staging area. In a dry run a shortfall is only reported: the build itself
// decides whether the run succeeds.
func (c *Checker) CheckDiskSpace() CheckResult {
	result := CheckResult{Name: "Disk Space"}
	if c.config.MinFreeMB <= 0 {
		result.Passed = true
		result.Message = "Disk space check disabled"
		return result
	}

	for _, entry := range []struct{ label, path string }{
		{"Archive", c.config.ArchiveDir},
		{"Cache", c.config.CacheDir},
	} {
		available, err := freeSpaceMB(entry.path)
		if err != nil {
			return c.diskFailure(result, fmt.Errorf("%s disk space check failed (%s): %w", entry.label, entry.path, err))
		}
		c.logger.Debug("%s: %.0f MB available, %.0f MB required", entry.label, available, c.config.MinFreeMB)
		if available < c.config.MinFreeMB {
			return c.diskFailure(result, fmt.Errorf("%s disk space insufficient on %s: %.0f MB available, %.0f MB required",
				entry.label, entry.path, available, c.config.MinFreeMB))
		}
	}

	result.Passed = true
	result.Message = "Sufficient disk space"
	return result
}

func (c *Checker) diskFailure(result CheckResult, err error) CheckResult {
	result.Error = err
	result.Message = err.Error()
	if c.config.DryRun {
		c.logger.Warning("[DRY RUN] %s", result.Message)
		result.Passed = true
		return result
	}
	c.logger.Error("%s", result.Message)
	return result
}

func diskSpaceMB(path string) (float64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return float64(stat.Bavail*uint64(stat.Bsize)) / (1024 * 1024), nil
}
