package checks

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/internal/types"
)

func newTestChecker(t *testing.T, dryRun bool) (*Checker, *CheckerConfig) {
	t.Helper()
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(io.Discard)
	root := t.TempDir()
	cfg := GetDefaultCheckerConfig(filepath.Join(root, "archives"), filepath.Join(root, "cache"), dryRun)
	cfg.MinFreeMB = 0.001
	return NewChecker(logger, cfg), cfg
}

func TestRunAllChecksCreatesDirectories(t *testing.T) {
	checker, cfg := newTestChecker(t, false)

	results, err := checker.RunAllChecks(context.Background())

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.DirExists(t, cfg.ArchiveDir)
	assert.DirExists(t, cfg.CacheDir)
}

func TestRunAllChecksIgnoresLeftoverFiles(t *testing.T) {
	checker, cfg := newTestChecker(t, false)
	require.NoError(t, os.MkdirAll(cfg.CacheDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.CacheDir, ".proxmox-b2.lock"), []byte("pid=1\n"), 0o640))

	_, err := checker.RunAllChecks(context.Background())
	require.NoError(t, err)

	// A second checker in parallel is not serialized either.
	_, err = NewChecker(checker.logger, cfg).RunAllChecks(context.Background())
	require.NoError(t, err)
}

func TestCheckDiskSpaceInsufficient(t *testing.T) {
	checker, cfg := newTestChecker(t, false)
	require.True(t, checker.CheckDirectories().Passed)
	cfg.MinFreeMB = 1 << 40

	res := checker.CheckDiskSpace()

	assert.False(t, res.Passed)
	assert.Contains(t, res.Message, "disk space insufficient")
}

func TestCheckDiskSpaceShortfallDoesNotFailDryRun(t *testing.T) {
	checker, cfg := newTestChecker(t, true)
	require.True(t, checker.CheckDirectories().Passed)
	cfg.MinFreeMB = 1 << 40

	res := checker.CheckDiskSpace()

	assert.True(t, res.Passed)
	assert.ErrorContains(t, res.Error, "disk space insufficient")

	_, err := checker.RunAllChecks(context.Background())
	assert.NoError(t, err)
}

func TestCheckDiskSpaceStatFailure(t *testing.T) {
	checker, _ := newTestChecker(t, false)
	orig := freeSpaceMB
	freeSpaceMB = func(string) (float64, error) { return 0, errors.New("statfs failed") }
	t.Cleanup(func() { freeSpaceMB = orig })

	res := checker.CheckDiskSpace()

	assert.False(t, res.Passed)
	assert.ErrorContains(t, res.Error, "statfs failed")
}

func TestCheckDirectoriesRejectsFile(t *testing.T) {
	checker, cfg := newTestChecker(t, false)
	require.NoError(t, os.WriteFile(cfg.ArchiveDir, []byte("x"), 0o640))

	res := checker.CheckDirectories()

	assert.False(t, res.Passed)
	assert.Contains(t, res.Message, "not a directory")
}

func TestCheckerConfigValidate(t *testing.T) {
	require.NoError(t, (&CheckerConfig{ArchiveDir: "/a", CacheDir: "/c"}).Validate())

	assert.Error(t, (&CheckerConfig{CacheDir: "/c"}).Validate())
	assert.Error(t, (&CheckerConfig{ArchiveDir: "/a"}).Validate())
	assert.Error(t, (&CheckerConfig{ArchiveDir: "/a", CacheDir: "/c", MinFreeMB: -1}).Validate())
}

func TestRunAllChecksCanceled(t *testing.T) {
	checker, _ := newTestChecker(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := checker.RunAllChecks(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
