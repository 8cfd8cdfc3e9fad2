package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tis24dev/proxmox-b2/internal/backup"
	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/internal/storage"
	"github.com/tis24dev/proxmox-b2/internal/types"
	"github.com/tis24dev/proxmox-b2/pkg/utils"
)

// ErrDestinationExists is returned instead of overwriting a restored file.
var ErrDestinationExists = errors.New("destination already exists")

// Restore downloads name and its checksum from the run target, verifies the
// archive and moves both into destDir. Existing files are never replaced.
// The returned path is the restored archive.
func (o *Orchestrator) Restore(ctx context.Context, dl Downloader, run *Run, name, destDir string) (path string, err error) {
	done := logging.DebugStart(o.logger, "restore", "name=%s dest=%s", name, destDir)
	defer func() { done(err) }()

	name = filepath.Base(name)
	if name == "." || name == "/" || storage.IsChecksumName(name) {
		return "", &StageError{Stage: "restore", Code: types.ExitGenericError, Err: fmt.Errorf("invalid archive name %q", name)}
	}

	finalPath := filepath.Join(destDir, name)
	for _, p := range []string{finalPath, finalPath + storage.ChecksumSuffix} {
		if utils.PathExists(p) {
			return "", &StageError{Stage: "restore", Code: types.ExitGenericError, Err: fmt.Errorf("%w: %s", ErrDestinationExists, p)}
		}
	}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", &StageError{Stage: "restore", Code: types.ExitGenericError, Err: err}
	}
	// Same filesystem as destDir so the final move is a link, not a copy.
	workDir, err := os.MkdirTemp(destDir, ".proxmox-b2-restore-")
	if err != nil {
		return "", &StageError{Stage: "restore", Code: types.ExitGenericError, Err: err}
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			o.logger.Warning("Failed to remove %s: %v", workDir, rmErr)
		}
	}()

	o.logger.Step("Downloading %s from %s", name, run.Target)
	tmpArchive := filepath.Join(workDir, name)
	for _, obj := range []string{name, name + storage.ChecksumSuffix} {
		if err := dl.Download(ctx, run.Target, obj, filepath.Join(workDir, obj)); err != nil {
			return "", &StageError{Stage: "download", Code: types.ExitNetworkError, Err: err}
		}
	}

	if err := backup.VerifyArchive(ctx, o.logger, tmpArchive); err != nil {
		return "", &StageError{Stage: StageVerify, Code: types.ExitVerificationError, Err: err}
	}
	o.logger.Info("Checksum verified for %s", name)

	// Link fails when the target appeared meanwhile; it never overwrites.
	placed := make([]string, 0, 2)
	for _, obj := range []string{name, name + storage.ChecksumSuffix} {
		dst := filepath.Join(destDir, obj)
		if err := os.Link(filepath.Join(workDir, obj), dst); err != nil {
			for _, p := range placed {
				_ = os.Remove(p)
			}
			if errors.Is(err, os.ErrExist) {
				err = fmt.Errorf("%w: %s", ErrDestinationExists, dst)
			}
			return "", &StageError{Stage: "restore", Code: types.ExitGenericError, Err: err}
		}
		placed = append(placed, dst)
	}

	o.logger.Info("Restored %s to %s", name, finalPath)
	return finalPath, nil
}
