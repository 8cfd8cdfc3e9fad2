package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/internal/types"
)

func newTestLogger() *logging.Logger {
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(io.Discard)
	return logger
}

type fakeRunner struct {
	installed map[string]bool
	outputs   map[string]string
	failures  map[string]error
	calls     []string
}

func (f *fakeRunner) deps() Deps {
	return Deps{
		LookPath: func(name string) (string, error) {
			if f.installed[name] {
				return "/usr/bin/" + name, nil
			}
			return "", exec.ErrNotFound
		},
		RunCommand: func(_ context.Context, name string, args ...string) ([]byte, error) {
			key := strings.TrimSpace(name + " " + strings.Join(args, " "))
			f.calls = append(f.calls, key)
			if err := f.failures[key]; err != nil {
				return []byte(f.outputs[key]), err
			}
			out, ok := f.outputs[key]
			if !ok {
				return nil, fmt.Errorf("unexpected command %q", key)
			}
			return []byte(out), nil
		},
	}
}

// listArchive returns the entry names of a .tar or .tar.gz written by Build.
func listArchive(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		require.NoError(t, err)
		defer gz.Close()
		r = gz
	}

	var names []string
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names
		}
		require.NoError(t, err)
		names = append(names, h.Name)
	}
}
