package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the configuration before any work starts. Credentials and
// bucket are only required for live runs.
func (c *Config) Validate() error {
	var problems []string

	if len(c.SourcePaths) == 0 {
		problems = append(problems, "SOURCE_PATHS is empty")
	}
	for _, p := range c.SourcePaths {
		if !filepath.IsAbs(p) {
			problems = append(problems, fmt.Sprintf("source path %q is not absolute", p))
		}
	}
	if !filepath.IsAbs(c.ArchiveDir) {
		problems = append(problems, fmt.Sprintf("ARCHIVE_DIR %q must be an absolute path", c.ArchiveDir))
	}
	if !filepath.IsAbs(c.CacheDir) {
		problems = append(problems, fmt.Sprintf("CACHE_DIR %q must be an absolute path", c.CacheDir))
	}
	if strings.TrimSpace(c.ArchivePrefix) == "" || strings.ContainsAny(c.ArchivePrefix, "/ ") {
		problems = append(problems, fmt.Sprintf("ARCHIVE_PREFIX %q must be a non-empty name without slashes or spaces", c.ArchivePrefix))
	}
	if c.KeepRemote < 0 {
		problems = append(problems, fmt.Sprintf("KEEP_REMOTE must be >= 0 (got %d)", c.KeepRemote))
	}
	if strings.TrimSpace(c.RcloneRemote) == "" || strings.Contains(c.RcloneRemote, ":") {
		problems = append(problems, fmt.Sprintf("RCLONE_REMOTE %q is not a valid remote name", c.RcloneRemote))
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 22 {
		problems = append(problems, fmt.Sprintf("COMPRESSION_LEVEL %d out of range", c.CompressionLevel))
	}

	if !c.DryRun {
		if c.Bucket == "" {
			problems = append(problems, "B2_BUCKET is required")
		}
		if c.B2AccountID == "" {
			problems = append(problems, "B2_ACCOUNT_ID is required unless DRY_RUN is enabled")
		}
		if c.B2ApplicationKey == "" {
			problems = append(problems, "B2_APPLICATION_KEY is required unless DRY_RUN is enabled")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
