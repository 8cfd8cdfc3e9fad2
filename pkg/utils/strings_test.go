package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5242880, "5.0 MB"},
		{1234567890, "1.1 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatBytes(tt.input))
	}
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "now", FormatAge(10*time.Second))
	assert.Equal(t, "12m", FormatAge(12*time.Minute))
	assert.Equal(t, "30h", FormatAge(30*time.Hour))
	assert.Equal(t, "3d", FormatAge(72*time.Hour))
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "1", "yes", "on", "enabled", "TRUE"} {
		assert.True(t, ParseBool(v), v)
	}
	for _, v := range []string{"false", "0", "no", ""} {
		assert.False(t, ParseBool(v), v)
	}
}

func TestSplitKeyValue(t *testing.T) {
	tests := []struct {
		line, key, value string
		ok               bool
	}{
		{"B2_BUCKET=backups", "B2_BUCKET", "backups", true},
		{`B2_PREFIX="proxmox/configs" # remote prefix`, "B2_PREFIX", "proxmox/configs", true},
		{"KEEP_REMOTE=14 # days", "KEEP_REMOTE", "14", true},
		{"export DRY_RUN=true", "DRY_RUN", "true", true},
		{`ARCHIVE_PREFIX='pve#1'`, "ARCHIVE_PREFIX", "pve#1", true},
		{"no separator", "", "", false},
	}
	for _, tt := range tests {
		key, value, ok := SplitKeyValue(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		if tt.ok {
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.value, value)
		}
	}
}

func TestIsComment(t *testing.T) {
	assert.True(t, IsComment("  # note"))
	assert.True(t, IsComment(""))
	assert.False(t, IsComment("KEY=1"))
}

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))
	assert.True(t, DirExists(dir))
	assert.True(t, PathExists(file))

	link := filepath.Join(dir, "dangling")
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing"), link))
	assert.True(t, PathExists(link))
	assert.False(t, FileExists(link))

	require.NoError(t, EnsureDir(filepath.Join(dir, "x", "y"), 0o755))
	assert.True(t, DirExists(filepath.Join(dir, "x", "y")))

	require.NoError(t, RemoveIfExists(file))
	require.NoError(t, RemoveIfExists(file))
	assert.False(t, PathExists(file))
}
