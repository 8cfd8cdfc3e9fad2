package orchestrator

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
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
	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/internal/metrics"
	"github.com/tis24dev/proxmox-b2/internal/storage"
	"github.com/tis24dev/proxmox-b2/internal/types"
)

var testStart = time.Date(2025, 1, 10, 2, 30, 0, 0, time.UTC)

// fakeStore is an in-memory RemoteStore that also serves downloads.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	calls     []string
	ensureErr error
	uploadErr map[string]error // by base name
	listErr   error
	deleteErr map[string]error
}

func newFakeStore(names ...string) *fakeStore {
	s := &fakeStore{
		objects:   make(map[string][]byte),
		uploadErr: make(map[string]error),
		deleteErr: make(map[string]error),
	}
	for _, n := range names {
		s.objects[n] = []byte(n)
	}
	return s
}

func (s *fakeStore) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *fakeStore) EnsureRemote(_ context.Context, name string, _ storage.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ensure " + name)
	return s.ensureErr
}

func (s *fakeStore) Upload(_ context.Context, localPath string, _ storage.RemoteTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := filepath.Base(localPath)
	s.record("upload " + name)
	if err := s.uploadErr[name]; err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.objects[name] = data
	return nil
}

func (s *fakeStore) List(_ context.Context, _ storage.RemoteTarget) ([]storage.RemoteObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("list")
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]storage.RemoteObject, 0, len(s.objects))
	for name, data := range s.objects {
		out = append(out, storage.RemoteObject{Name: name, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) Delete(_ context.Context, _ storage.RemoteTarget, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete " + name)
	if err := s.deleteErr[name]; err != nil {
		return err
	}
	delete(s.objects, name)
	return nil
}

func (s *fakeStore) Download(_ context.Context, _ storage.RemoteTarget, name, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("download " + name)
	data, ok := s.objects[name]
	if !ok {
		return errors.New("object not found")
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (s *fakeStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeStore) archiveNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.objects {
		if !storage.IsChecksumName(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

type fakeCollector struct{}

func (fakeCollector) Collect(_ context.Context, stagingDir string) *backup.DiagnosticsReport {
	_ = os.MkdirAll(stagingDir, 0o750)
	_ = os.WriteFile(filepath.Join(stagingDir, "df.txt"), []byte("Filesystem Size\n"), 0o640)
	return &backup.DiagnosticsReport{Collected: []string{"df"}, Missing: []string{"zpool"}}
}

type failingBuilder struct{}

func (failingBuilder) ResolveCompression() types.CompressionType { return types.CompressionGzip }

func (failingBuilder) Build(context.Context, []string, string, string) (*backup.Archive, error) {
	return nil, &backup.BuildError{Op: "write", Path: "/nowhere", Err: errors.New("disk full")}
}

type recordingExporter struct {
	exported []*metrics.RunMetrics
}

func (r *recordingExporter) Export(m *metrics.RunMetrics) error {
	r.exported = append(r.exported, m)
	return nil
}

type fixture struct {
	orch     *Orchestrator
	run      *Run
	store    *fakeStore
	exporter *recordingExporter
	logger   *logging.Logger
}

func newFixture(t *testing.T, store *fakeStore) *fixture {
	t.Helper()

	root := t.TempDir()
	src := filepath.Join(root, "etc", "pve")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nodes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "storage.cfg"), []byte("dir: local\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nodes", "qemu.conf"), []byte("cores: 2\n"), 0o644))

	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(io.Discard)
	exporter := &recordingExporter{}

	orch := New(Deps{
		Logger:    logger,
		Clock:     testclock.NewClock(testStart),
		Store:     store,
		Builder:   backup.NewBuilder(logger, backup.BuilderConfig{Compression: types.CompressionGzip, CompressionLevel: 6}, backup.Deps{}),
		Collector: fakeCollector{},
		Metrics:   exporter,
		Hostname:  "pve1",
		Version:   "test",
	})

	run := &Run{
		ID:           storage.RunID(testStart),
		InvocationID: "0b0e7c4e-0000-4000-8000-000000000000",
		StartedAt:    testStart,
		Keep:         4,
		SourcePaths:  []string{src, filepath.Join(root, "etc", "missing.conf")},
		ArchiveDir:   filepath.Join(root, "archives"),
		CacheDir:     filepath.Join(root, "cache"),
		Prefix:       "pve1",
		Target:       storage.RemoteTarget{Remote: "proxmox-b2", Bucket: "bkt", Prefix: "proxmox/configs"},
		Creds:        storage.Credentials{AccountID: "id", ApplicationKey: "key"},
	}
	return &fixture{orch: orch, run: run, store: store, exporter: exporter, logger: logger}
}

func (f *fixture) archivePath() string {
	return filepath.Join(f.run.ArchiveDir, "pve1-20250110T023000Z.tar.gz")
}

func hasCallPrefix(calls []string, prefix string) bool {
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// listTarGz returns the entry names of a gzip-compressed tar archive.
func listTarGz(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names
		}
		require.NoError(t, err)
		names = append(names, h.Name)
	}
}
