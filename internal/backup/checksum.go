package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tis24dev/proxmox-b2/internal/logging"
)

// ChecksumSuffix is appended to the archive name for the sidecar file.
const ChecksumSuffix = ".sha256"

// ErrChecksumMismatch is returned when a file no longer matches its sidecar.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// GenerateChecksum calculates the SHA256 checksum of a file.
func GenerateChecksum(ctx context.Context, logger *logging.Logger, filePath string) (string, error) {
	logger.Debug("Generating SHA256 checksum for: %s", filePath)

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := file.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	logger.Debug("Generated checksum: %s", checksum)
	return checksum, nil
}

// WriteChecksumFile writes "<digest>  <basename>\n" (sha256sum format) to
// <archivePath>.sha256 and returns the sidecar path.
func WriteChecksumFile(archivePath, digest string) (string, error) {
	sidecar := archivePath + ChecksumSuffix
	line := fmt.Sprintf("%s  %s\n", digest, filepath.Base(archivePath))
	if err := os.WriteFile(sidecar, []byte(line), 0o640); err != nil {
		return "", fmt.Errorf("failed to write checksum file: %w", err)
	}
	return sidecar, nil
}

// ParseChecksumLine splits a sha256sum line into digest and file name.
func ParseChecksumLine(line string) (digest, name string, err error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return "", "", fmt.Errorf("empty checksum line")
	}
	digest = strings.ToLower(fields[0])
	if len(digest) != sha256.Size*2 {
		return "", "", fmt.Errorf("invalid sha256 digest %q", fields[0])
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", "", fmt.Errorf("invalid sha256 digest %q", fields[0])
	}
	if len(fields) > 1 {
		// sha256sum marks binary mode with a leading '*'.
		name = strings.TrimPrefix(fields[1], "*")
	}
	return digest, name, nil
}

// ReadChecksumFile loads the digest recorded in a sidecar file.
func ReadChecksumFile(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read checksum file: %w", err)
	}
	first, _, _ := strings.Cut(string(data), "\n")
	return ParseChecksumLine(first)
}

// VerifyChecksum recomputes filePath's digest and compares it to expected.
func VerifyChecksum(ctx context.Context, logger *logging.Logger, filePath, expected string) error {
	actual, err := GenerateChecksum(ctx, logger, filePath)
	if err != nil {
		return fmt.Errorf("failed to generate checksum: %w", err)
	}
	if !strings.EqualFold(actual, expected) {
		logger.Warning("Checksum mismatch for %s! Expected: %s, Got: %s", filepath.Base(filePath), expected, actual)
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, filepath.Base(filePath))
	}
	logger.Debug("Checksum verification passed for %s", filepath.Base(filePath))
	return nil
}

// VerifyArchive checks archivePath against its <archivePath>.sha256 sidecar.
func VerifyArchive(ctx context.Context, logger *logging.Logger, archivePath string) error {
	digest, name, err := ReadChecksumFile(archivePath + ChecksumSuffix)
	if err != nil {
		return err
	}
	if name != "" && name != filepath.Base(archivePath) {
		return fmt.Errorf("%w: sidecar names %s, not %s", ErrChecksumMismatch, name, filepath.Base(archivePath))
	}
	return VerifyChecksum(ctx, logger, archivePath, digest)
}
