package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/pkg/utils"
)

// LocalArchive is an archive kept in the local archive directory.
type LocalArchive struct {
	Path        string
	Name        string
	Size        int64
	HasChecksum bool
}

// ListLocal returns the archives in dir ordered oldest first. Sidecars,
// temporary files and foreign files are skipped.
func ListLocal(dir string) ([]LocalArchive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Operation: "list", Path: dir, Kind: ErrorKindPath, Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || IsChecksumName(name) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		if !strings.Contains(name, ".tar") {
			continue
		}
		names = append(names, name)
	}
	SortArchiveNames(names)

	archives := make([]LocalArchive, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		archives = append(archives, LocalArchive{
			Path:        path,
			Name:        name,
			Size:        info.Size(),
			HasChecksum: utils.FileExists(path + ChecksumSuffix),
		})
	}
	return archives, nil
}

// RemoveLocalArchive deletes an archive and its sidecar. Both removals are
// attempted; missing files are not an error.
func RemoveLocalArchive(logger *logging.Logger, archivePath string) error {
	var errs []error
	for _, p := range []string{archivePath, archivePath + ChecksumSuffix} {
		if err := utils.RemoveIfExists(p); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", filepath.Base(p), err))
			continue
		}
		logger.Debug("Removed local file %s", p)
	}
	return errors.Join(errs...)
}
