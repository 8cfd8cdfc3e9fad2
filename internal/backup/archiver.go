package backup

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/internal/types"
)

// stagingArchiveDir is where the staging directory lands inside the archive.
const stagingArchiveDir = "metadata"

// BuildError reports a fatal archive build failure.
type BuildError struct {
	Op   string
	Path string
	Err  error
}

func (e *BuildError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("archive %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("archive %s: %v", e.Op, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// CompressionError is returned when an external compressor exits non-zero.
type CompressionError struct {
	Algorithm string
	Err       error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("%s compression failed: %v", e.Algorithm, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// Archive is the result of a successful build.
type Archive struct {
	Path         string
	ChecksumPath string
	Name         string
	Size         int64
	SHA256       string
	Compression  types.CompressionType
	Included     []string
	Skipped      []string
}

// BuilderConfig holds the archive options.
type BuilderConfig struct {
	Compression      types.CompressionType
	CompressionLevel int
}

// Builder writes one tar stream per run from the source manifest and the
// staging directory.
type Builder struct {
	logger      *logging.Logger
	requested   types.CompressionType
	compression types.CompressionType
	level       int
	resolved    bool
	deps        Deps
}

// NewBuilder creates an archive builder.
func NewBuilder(logger *logging.Logger, cfg BuilderConfig, deps Deps) *Builder {
	comp := cfg.Compression
	if comp == "" {
		comp = types.CompressionGzip
	}
	return &Builder{
		logger:      logger,
		requested:   comp,
		compression: comp,
		level:       cfg.CompressionLevel,
		deps:        deps.withDefaults(),
	}
}

// ResolveCompression checks that the external compressor exists and falls
// back to in-process gzip otherwise. The result decides the archive suffix.
func (b *Builder) ResolveCompression() types.CompressionType {
	if b.resolved {
		return b.compression
	}
	b.resolved = true

	switch b.compression {
	case types.CompressionXZ, types.CompressionZstd:
		bin := compressorBinary(b.compression)
		if _, err := b.deps.LookPath(bin); err != nil {
			b.logger.Warning("%s command not available (%v), using gzip instead", bin, err)
			b.compression = types.CompressionGzip
		}
	case types.CompressionGzip, types.CompressionNone:
	default:
		b.logger.Warning("Unknown compression type %s, using gzip fallback", b.compression)
		b.compression = types.CompressionGzip
	}
	b.level = normalizeLevel(b.compression, b.level)
	b.logger.Debug("Compression resolved to %s (level %d, requested %s)", b.compression, b.level, b.requested)
	return b.compression
}

// Extension returns the archive suffix for the effective compression.
func (b *Builder) Extension() string {
	return b.ResolveCompression().Extension()
}

func compressorBinary(c types.CompressionType) string {
	if c == types.CompressionZstd {
		return "zstd"
	}
	return "xz"
}

func normalizeLevel(comp types.CompressionType, level int) int {
	switch comp {
	case types.CompressionGzip:
		if level < gzip.BestSpeed || level > gzip.BestCompression {
			return gzip.DefaultCompression
		}
	case types.CompressionXZ:
		if level < 0 || level > 9 {
			return 6
		}
	case types.CompressionZstd:
		if level < 1 || level > 22 {
			return 3
		}
	case types.CompressionNone:
		return 0
	}
	return level
}

// ExistingSources splits paths into those present right now and those missing.
func ExistingSources(paths []string) (included, skipped []string) {
	for _, p := range paths {
		clean := filepath.Clean(p)
		if _, err := os.Lstat(clean); err != nil {
			skipped = append(skipped, clean)
			continue
		}
		included = append(included, clean)
	}
	return included, skipped
}

// Build archives the existing sourcePaths (rooted at /) plus stagingDir
// (rooted under metadata/) into outputPath and writes the sha256 sidecar.
// Missing sources are skipped; any write failure is fatal.
func (b *Builder) Build(ctx context.Context, sourcePaths []string, stagingDir, outputPath string) (*Archive, error) {
	comp := b.ResolveCompression()
	included, skipped := ExistingSources(sourcePaths)
	for _, s := range skipped {
		b.logger.Skip("Source path not present: %s", s)
	}
	b.logger.Info("Creating archive %s (%s, %d sources)", filepath.Base(outputPath), comp, len(included))

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return nil, &BuildError{Op: "prepare", Path: filepath.Dir(outputPath), Err: err}
	}

	tmpPath := outputPath + ".tmp"
	if err := b.writeCompressed(ctx, comp, included, stagingDir, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, &BuildError{Op: "write", Path: outputPath, Err: err}
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, &BuildError{Op: "finalize", Path: outputPath, Err: err}
	}

	digest, err := GenerateChecksum(ctx, b.logger, outputPath)
	if err != nil {
		return nil, &BuildError{Op: "checksum", Path: outputPath, Err: err}
	}
	checksumPath, err := WriteChecksumFile(outputPath, digest)
	if err != nil {
		return nil, &BuildError{Op: "checksum", Path: outputPath, Err: err}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, &BuildError{Op: "stat", Path: outputPath, Err: err}
	}

	return &Archive{
		Path:         outputPath,
		ChecksumPath: checksumPath,
		Name:         filepath.Base(outputPath),
		Size:         info.Size(),
		SHA256:       digest,
		Compression:  comp,
		Included:     included,
		Skipped:      skipped,
	}, nil
}

func (b *Builder) writeCompressed(ctx context.Context, comp types.CompressionType, sources []string, stagingDir, path string) (err error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	switch comp {
	case types.CompressionNone:
		return b.writeTar(ctx, sources, stagingDir, out)
	case types.CompressionGzip:
		gz, err := gzip.NewWriterLevel(out, b.level)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		if err := b.writeTar(ctx, sources, stagingDir, gz); err != nil {
			gz.Close()
			return err
		}
		return gz.Close()
	case types.CompressionXZ:
		cmd := b.deps.CommandContext(ctx, "xz", fmt.Sprintf("-%d", b.level), "-T0", "-q", "-c")
		return b.pipeThroughCommand(ctx, sources, stagingDir, out, cmd, "xz")
	case types.CompressionZstd:
		cmd := b.deps.CommandContext(ctx, "zstd", fmt.Sprintf("-%d", b.level), "-T0", "-q", "-c")
		return b.pipeThroughCommand(ctx, sources, stagingDir, out, cmd, "zstd")
	}
	return fmt.Errorf("unsupported compression type: %s", comp)
}

func (b *Builder) pipeThroughCommand(ctx context.Context, sources []string, stagingDir string, out io.Writer, cmd *exec.Cmd, algo string) error {
	pr, pw := io.Pipe()
	cmd.Stdin = pr
	cmd.Stdout = out
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("capture %s output: %w", algo, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", algo, err)
	}

	tag := strings.ToUpper(algo)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			b.logger.Warning("[%s] %s", tag, scanner.Text())
		}
	}()

	tarErr := b.writeTar(ctx, sources, stagingDir, pw)
	if tarErr != nil {
		pw.CloseWithError(tarErr)
	} else {
		pw.Close()
	}

	waitErr := cmd.Wait()
	if tarErr != nil {
		return tarErr
	}
	if waitErr != nil {
		return &CompressionError{Algorithm: algo, Err: waitErr}
	}
	return nil
}

func (b *Builder) writeTar(ctx context.Context, sources []string, stagingDir string, w io.Writer) error {
	tw := tar.NewWriter(w)
	for _, src := range sources {
		base := strings.TrimPrefix(filepath.ToSlash(src), "/")
		if err := b.addTree(ctx, tw, src, base); err != nil {
			tw.Close()
			return err
		}
	}
	if stagingDir != "" {
		if _, err := os.Stat(stagingDir); err == nil {
			if err := b.addTree(ctx, tw, stagingDir, stagingArchiveDir); err != nil {
				tw.Close()
				return err
			}
		} else {
			b.logger.Debug("Staging directory %s not present: %v", stagingDir, err)
		}
	}
	return tw.Close()
}

// addTree walks root without following symlinks and stores every entry as
// ./<base>/<relative path>. Unreadable entries are skipped with a warning;
// errors writing the stream abort the build.
func (b *Builder) addTree(ctx context.Context, tw *tar.Writer, root, base string) error {
	return filepath.Walk(root, func(path string, _ os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			b.logger.Warning("Error accessing path %s: %v", path, walkErr)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(base, rel))
		}
		return b.addEntry(tw, path, name)
	})
}

func (b *Builder) addEntry(tw *tar.Writer, path, name string) error {
	info, err := os.Lstat(path)
	if err != nil {
		b.logger.Warning("Failed to stat path %s: %v", path, err)
		return nil
	}

	mode := info.Mode()
	if !mode.IsRegular() && !mode.IsDir() && mode&os.ModeSymlink == 0 {
		b.logger.Debug("Skipping special file %s (%s)", path, mode.Type())
		return nil
	}

	var linkTarget string
	if mode&os.ModeSymlink != 0 {
		if linkTarget, err = os.Readlink(path); err != nil {
			b.logger.Warning("Failed to read symlink %s: %v", path, err)
			return nil
		}
	}

	var file *os.File
	if mode.IsRegular() {
		// Open before the header so an unreadable file does not leave a dangling entry.
		if file, err = os.Open(path); err != nil {
			b.logger.Warning("Failed to open file %s: %v", path, err)
			return nil
		}
		defer file.Close()
	}

	header, err := tar.FileInfoHeader(info, linkTarget)
	if err != nil {
		b.logger.Warning("Failed to create header for %s: %v", path, err)
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		header.Uid = int(stat.Uid)
		header.Gid = int(stat.Gid)
		header.ModTime = time.Unix(stat.Mtim.Sec, stat.Mtim.Nsec)
	}
	header.Uname, header.Gname = "", ""
	header.Format = tar.FormatPAX
	header.Name = "./" + name
	if mode.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", path, err)
	}
	if file != nil {
		n, err := io.Copy(tw, file)
		if err != nil {
			return fmt.Errorf("failed to write %s to archive: %w", path, err)
		}
		if n != header.Size {
			return fmt.Errorf("file %s changed size while archiving", path)
		}
	}
	return nil
}
