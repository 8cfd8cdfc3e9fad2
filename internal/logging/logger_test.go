package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/proxmox-b2/internal/types"
)

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelWarning, false)
	logger.SetOutput(&buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Step("step message")
	logger.Warning("warning message")
	logger.Error("error message")
	logger.Critical("critical message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.NotContains(t, out, "step message")
	assert.Contains(t, out, "warning message")
	assert.Contains(t, out, "error message")
	assert.Contains(t, out, "critical message")
	assert.True(t, logger.HasWarnings())
	assert.True(t, logger.HasErrors())

	warnings, errs := logger.Counts()
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 2, errs)
}

func TestLabelsAndColors(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelDebug, false)
	logger.SetOutput(&buf)

	logger.Step("archive built")
	logger.Skip("upload (dry run)")

	out := buf.String()
	assert.Contains(t, out, "STEP     archive built")
	assert.Contains(t, out, "SKIP     upload (dry run)")
	assert.NotContains(t, out, "\033[")

	buf.Reset()
	colored := New(types.LogLevelDebug, true)
	colored.SetOutput(&buf)
	colored.Warning("careful")
	assert.Contains(t, buf.String(), "\033[33m")
}

func TestLogFileHasNoColors(t *testing.T) {
	dir := t.TempDir()
	logger := New(types.LogLevelInfo, true)
	logger.SetOutput(&bytes.Buffer{})

	path, cleanup, err := OpenRunLog(logger, dir, "PVE Node 1", "20250101T000000Z")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pve-node-1-20250101T000000Z.log"), path)
	assert.Equal(t, path, logger.LogFilePath())

	logger.Info("hello file")
	cleanup()
	assert.Empty(t, logger.LogFilePath())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.False(t, strings.Contains(string(data), "\033["))
}

func TestJournalSink(t *testing.T) {
	type entry struct {
		msg  string
		prio journal.Priority
		vars map[string]string
	}
	var got []entry
	logger := New(types.LogLevelInfo, false)
	logger.SetOutput(&bytes.Buffer{})
	logger.SetJournal(func(msg string, prio journal.Priority, vars map[string]string) error {
		got = append(got, entry{msg, prio, vars})
		return nil
	}, map[string]string{"SYSLOG_IDENTIFIER": "proxmox-b2"})
	logger.WithField("RUN_ID", "abc")

	logger.Debug("filtered")
	logger.Info("uploaded")
	logger.Error("failed")

	require.Len(t, got, 2)
	assert.Equal(t, "uploaded", got[0].msg)
	assert.Equal(t, journal.PriInfo, got[0].prio)
	assert.Equal(t, journal.PriErr, got[1].prio)
	assert.Equal(t, "abc", got[1].vars["RUN_ID"])
	assert.Equal(t, "proxmox-b2", got[1].vars["SYSLOG_IDENTIFIER"])
}

func TestDebugStart(t *testing.T) {
	var buf bytes.Buffer
	logger := New(types.LogLevelDebug, false)
	logger.SetOutput(&buf)

	done := DebugStart(logger, "upload", "target=%s", "b2:bucket")
	done(nil)

	out := buf.String()
	assert.Contains(t, out, "Start upload: target=b2:bucket")
	assert.Contains(t, out, "End upload (ok")

	DebugStart(nil, "noop", "")(nil)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "run", sanitizeName("  "))
	assert.Equal(t, "a-b", sanitizeName("A//B"))
	assert.Equal(t, "host.local", sanitizeName("host.local"))
}
