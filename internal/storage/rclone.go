package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tis24dev/proxmox-b2/internal/logging"
)

// RcloneOptions tunes how rclone is invoked.
type RcloneOptions struct {
	Binary           string        // default "rclone"
	ConfigPath       string        // passed as --config when set
	ExtraFlags       []string      // appended to data operations
	BandwidthLimit   string        // --bwlimit
	OperationTimeout time.Duration // per upload/download
}

// RcloneStore implements RemoteStore by shelling out to rclone.
type RcloneStore struct {
	logger      *logging.Logger
	opts        RcloneOptions
	execCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
	lookPath    func(string) (string, error)
	chmod       func(string, os.FileMode) error
}

var _ RemoteStore = (*RcloneStore)(nil)

// NewRcloneStore creates an rclone-backed store.
func NewRcloneStore(logger *logging.Logger, opts RcloneOptions) *RcloneStore {
	if opts.Binary == "" {
		opts.Binary = "rclone"
	}
	return &RcloneStore{
		logger:      logger,
		opts:        opts,
		execCommand: defaultExecCommand,
		lookPath:    exec.LookPath,
		chmod:       os.Chmod,
	}
}

// CheckBinary verifies rclone is installed.
func (r *RcloneStore) CheckBinary() error {
	if _, err := r.lookPath(r.opts.Binary); err != nil {
		return &StorageError{Operation: "check", Path: r.opts.Binary, Kind: ErrorKindTool, Err: err}
	}
	return nil
}

func (r *RcloneStore) baseArgs(subcommand ...string) []string {
	args := make([]string, 0, len(subcommand)+2)
	if r.opts.ConfigPath != "" {
		args = append(args, "--config", r.opts.ConfigPath)
	}
	return append(args, subcommand...)
}

// dataArgs adds the user flags that only make sense for transfers and listings.
func (r *RcloneStore) dataArgs(subcommand string) []string {
	args := r.baseArgs(subcommand)
	return append(args, r.opts.ExtraFlags...)
}

func (r *RcloneStore) run(ctx context.Context, display []string, args []string) ([]byte, error) {
	r.logger.Debug("Running: %s %s", r.opts.Binary, strings.Join(display, " "))
	out, err := r.execCommand(ctx, r.opts.Binary, args...)
	if err != nil && ctx.Err() != nil {
		return out, fmt.Errorf("rclone interrupted: %w", ctx.Err())
	}
	return out, err
}

func (r *RcloneStore) wrap(op, target string, err error, out []byte) error {
	text := strings.TrimSpace(string(out))
	kind := detectErrorKind(text)
	if errors.Is(err, exec.ErrNotFound) {
		kind = ErrorKindTool
	}
	return &StorageError{
		Operation:   op,
		Path:        target,
		Kind:        kind,
		Output:      lastLines(text, 5),
		Err:         err,
		Recoverable: kind == ErrorKindNetwork,
	}
}

// EnsureRemote queries the configured remotes and creates name as a B2
// remote when it is missing. The rclone config file is then restricted to
// the owner. Calling it repeatedly is harmless.
func (r *RcloneStore) EnsureRemote(ctx context.Context, name string, creds Credentials) error {
	done := logging.DebugStart(r.logger, "ensure remote", "name=%s", name)
	err := r.ensureRemote(ctx, name, creds)
	done(err)
	return err
}

func (r *RcloneStore) ensureRemote(ctx context.Context, name string, creds Credentials) error {
	name = strings.TrimSuffix(strings.TrimSpace(name), ":")
	if name == "" {
		return &StorageError{Operation: "ensure", Kind: ErrorKindOther, Err: errors.New("remote name is empty")}
	}

	args := r.baseArgs("listremotes")
	out, err := r.run(ctx, args, args)
	if err != nil {
		return r.wrap("ensure", name+":", err, out)
	}

	if hasRemote(string(out), name) {
		r.logger.Debug("Remote %s: already configured", name)
	} else {
		if creds.Empty() {
			return &StorageError{Operation: "ensure", Path: name + ":", Kind: ErrorKindAuth,
				Err: errors.New("remote is not configured and no B2 credentials were provided")}
		}
		r.logger.Info("Creating rclone remote %s (b2)", name)
		create := r.baseArgs("config", "create", name, "b2",
			"account", creds.AccountID,
			"key", creds.ApplicationKey,
			"hard_delete", "true",
			"--non-interactive")
		out, err := r.run(ctx, redact(create, creds.ApplicationKey), create)
		if err != nil {
			return r.wrap("ensure", name+":", err, []byte(strings.ReplaceAll(string(out), creds.ApplicationKey, "***")))
		}
	}

	confPath, err := r.configFile(ctx)
	if err != nil {
		return r.wrap("ensure", name+":", err, nil)
	}
	if err := r.chmod(confPath, 0o600); err != nil {
		return &StorageError{Operation: "ensure", Path: confPath, Kind: ErrorKindOther, Err: fmt.Errorf("restrict permissions: %w", err)}
	}
	r.logger.Debug("Remote %s ready (config %s)", name, confPath)
	return nil
}

func (r *RcloneStore) configFile(ctx context.Context) (string, error) {
	if r.opts.ConfigPath != "" {
		return r.opts.ConfigPath, nil
	}
	args := r.baseArgs("config", "file")
	out, err := r.run(ctx, args, args)
	if err != nil {
		return "", fmt.Errorf("locate rclone config: %w", err)
	}
	// "Configuration file is stored at:\n/root/.config/rclone/rclone.conf"
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	path := strings.TrimSpace(lines[len(lines)-1])
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("unexpected rclone config file output %q", strings.TrimSpace(string(out)))
	}
	return path, nil
}

func hasRemote(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		if strings.TrimSuffix(strings.TrimSpace(line), ":") == name {
			return true
		}
	}
	return false
}

func redact(args []string, secret string) []string {
	out := append([]string(nil), args...)
	for i, a := range out {
		if secret != "" && a == secret {
			out[i] = "***"
		}
	}
	return out
}

// Upload copies localPath to <target>/<basename> with B2 hard-delete
// semantics so replaced objects do not linger as hidden versions.
func (r *RcloneStore) Upload(ctx context.Context, localPath string, target RemoteTarget) error {
	remote := target.ObjectPath(filepath.Base(localPath))
	done := logging.DebugStart(r.logger, "upload", "%s -> %s", localPath, remote)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	args := r.dataArgs("copyto")
	args = append(args, "--b2-hard-delete")
	if r.opts.BandwidthLimit != "" {
		args = append(args, "--bwlimit", r.opts.BandwidthLimit)
	}
	args = append(args, localPath, remote)

	out, err := r.run(ctx, args, args)
	if err != nil {
		err = r.wrap("upload", remote, err, out)
	}
	done(err)
	return err
}

// Download copies <target>/<name> to localPath.
func (r *RcloneStore) Download(ctx context.Context, target RemoteTarget, name, localPath string) error {
	remote := target.ObjectPath(name)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	args := r.dataArgs("copyto")
	if r.opts.BandwidthLimit != "" {
		args = append(args, "--bwlimit", r.opts.BandwidthLimit)
	}
	args = append(args, remote, localPath)
	out, err := r.run(ctx, args, args)
	if err != nil {
		return r.wrap("download", remote, err, out)
	}
	return nil
}

type lsjsonEntry struct {
	Path    string    `json:"Path"`
	Name    string    `json:"Name"`
	Size    int64     `json:"Size"`
	ModTime time.Time `json:"ModTime"`
	IsDir   bool      `json:"IsDir"`
}

// List returns every file directly under the target, oldest first.
func (r *RcloneStore) List(ctx context.Context, target RemoteTarget) ([]RemoteObject, error) {
	args := r.dataArgs("lsjson")
	args = append(args, "--files-only", "--no-mimetype", target.Path())

	out, err := r.run(ctx, args, args)
	if err != nil {
		if isObjectNotFound(string(out)) {
			r.logger.Debug("Remote %s has no objects yet", target)
			return []RemoteObject{}, nil
		}
		return nil, r.wrap("list", target.Path(), err, out)
	}

	var entries []lsjsonEntry
	if trimmed := strings.TrimSpace(string(out)); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
			return nil, &StorageError{Operation: "list", Path: target.Path(), Kind: ErrorKindOther,
				Err: fmt.Errorf("parse rclone lsjson output: %w", err)}
		}
	}

	objects := make([]RemoteObject, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		name := e.Name
		if name == "" {
			name = filepath.Base(e.Path)
		}
		objects = append(objects, RemoteObject{Name: name, Size: e.Size, ModTime: e.ModTime})
	}
	sortObjects(objects)
	return objects, nil
}

// Delete removes one object. An object that is already gone counts as deleted.
func (r *RcloneStore) Delete(ctx context.Context, target RemoteTarget, name string) error {
	remote := target.ObjectPath(name)
	args := r.dataArgs("deletefile")
	args = append(args, "--b2-hard-delete", remote)

	out, err := r.run(ctx, args, args)
	if err != nil {
		if isObjectNotFound(string(out)) {
			r.logger.Debug("Remote object already removed: %s", remote)
			return nil
		}
		return r.wrap("delete", remote, err, out)
	}
	return nil
}

// Stats counts archives and sidecars at the target.
func (r *RcloneStore) Stats(ctx context.Context, target RemoteTarget) (*Stats, error) {
	objects, err := r.List(ctx, target)
	if err != nil {
		return nil, err
	}
	return ComputeStats(objects), nil
}

// ComputeStats summarizes a listing.
func ComputeStats(objects []RemoteObject) *Stats {
	stats := &Stats{}
	for _, o := range objects {
		stats.TotalSize += o.Size
		if IsChecksumName(o.Name) {
			stats.Sidecars++
			continue
		}
		stats.Archives++
		ts, ok := ParseArchiveTimestamp(o.Name)
		if !ok {
			ts = o.ModTime
		}
		if stats.Oldest == nil || ts.Before(*stats.Oldest) {
			t := ts
			stats.Oldest = &t
		}
		if stats.Newest == nil || ts.After(*stats.Newest) {
			t := ts
			stats.Newest = &t
		}
	}
	return stats
}

func (r *RcloneStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.OperationTimeout)
}

func defaultExecCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
