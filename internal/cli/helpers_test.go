package cli

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/proxmox-b2/internal/backup"
	"github.com/tis24dev/proxmox-b2/internal/config"
	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/internal/storage"
	"github.com/tis24dev/proxmox-b2/internal/tui"
	"github.com/tis24dev/proxmox-b2/internal/types"
)

var testNow = time.Date(2025, 1, 10, 2, 30, 0, 0, time.UTC)

const newArchive = "pve1-20250110T023000Z.tar.gz"

type fakeRemote struct {
	mu        sync.Mutex
	objects   map[string][]byte
	calls     []string
	checkErr  error
	ensureErr error
	listErr   error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: make(map[string][]byte)}
}

// addArchive stores name with data and a matching sha256sum sidecar.
func (f *fakeRemote) addArchive(name, data string) {
	sum := sha256.Sum256([]byte(data))
	f.objects[name] = []byte(data)
	f.objects[name+storage.ChecksumSuffix] = []byte(hex.EncodeToString(sum[:]) + "  " + name + "\n")
}

func (f *fakeRemote) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeRemote) CheckBinary() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("check")
	return f.checkErr
}

func (f *fakeRemote) EnsureRemote(_ context.Context, name string, _ storage.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ensure " + name)
	return f.ensureErr
}

func (f *fakeRemote) Upload(_ context.Context, localPath string, _ storage.RemoteTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := filepath.Base(localPath)
	f.record("upload " + name)
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.objects[name] = data
	return nil
}

func (f *fakeRemote) List(_ context.Context, _ storage.RemoteTarget) ([]storage.RemoteObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]storage.RemoteObject, 0, len(f.objects))
	for name, data := range f.objects {
		out = append(out, storage.RemoteObject{Name: name, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeRemote) Delete(_ context.Context, _ storage.RemoteTarget, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete " + name)
	delete(f.objects, name)
	return nil
}

func (f *fakeRemote) Download(_ context.Context, _ storage.RemoteTarget, name, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("download " + name)
	data, ok := f.objects[name]
	if !ok {
		return errors.New("object not found")
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for name := range f.objects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type stubCollector struct{}

func (stubCollector) Collect(_ context.Context, stagingDir string) *backup.DiagnosticsReport {
	_ = os.MkdirAll(stagingDir, 0o750)
	_ = os.WriteFile(filepath.Join(stagingDir, "df.txt"), []byte("Filesystem Size\n"), 0o640)
	return &backup.DiagnosticsReport{Collected: []string{"df"}}
}

type harness struct {
	root       string
	configPath string
	remote     *fakeRemote

	stdin     string
	terminal  bool
	pickIndex int
	pickErr   error
	picked    []tui.PickerItem

	stdout bytes.Buffer
	stderr bytes.Buffer
}

// newHarness writes a live configuration under a temp dir; extra lines are
// appended and win over the defaults.
func newHarness(t *testing.T, extra ...string) *harness {
	t.Helper()

	root := t.TempDir()
	src := filepath.Join(root, "etc", "pve")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "storage.cfg"), []byte("dir: local\n"), 0o644))

	lines := []string{
		"ARCHIVE_DIR=" + filepath.Join(root, "archives"),
		"CACHE_DIR=" + filepath.Join(root, "cache"),
		"ARCHIVE_PREFIX=pve1",
		"SOURCE_PATHS=" + src + "," + filepath.Join(root, "etc", "missing.conf"),
		"RCLONE_REMOTE=proxmox-b2",
		"B2_BUCKET=bkt",
		"B2_PREFIX=proxmox/configs",
		"B2_ACCOUNT_ID=id",
		"B2_APPLICATION_KEY=key",
		"KEEP_REMOTE=2",
		"USE_COLOR=false",
		"LOG_PATH=",
	}
	lines = append(lines, extra...)
	path := filepath.Join(root, "proxmox-b2.env")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	return &harness{root: root, configPath: path, remote: newFakeRemote()}
}

func (h *harness) options() Options {
	return Options{
		Stdin:      strings.NewReader(h.stdin),
		Stdout:     &h.stdout,
		Stderr:     &h.stderr,
		IsTerminal: func() bool { return h.terminal },
		PickArchive: func(_ string, items []tui.PickerItem) (int, error) {
			h.picked = items
			return h.pickIndex, h.pickErr
		},
		NewRemote: func(*logging.Logger, *config.Config) Remote { return h.remote },
		Collector: stubCollector{},
		Clock:     testclock.NewClock(testNow),
	}
}

// exec runs the command tree with --config pointing at the harness file.
func (h *harness) exec(args ...string) types.ExitCode {
	h.stdout.Reset()
	h.stderr.Reset()
	full := append([]string{appName, "--config", h.configPath}, args...)
	return Execute(context.Background(), full, h.options())
}

func (h *harness) archiveDir() string {
	return filepath.Join(h.root, "archives")
}
