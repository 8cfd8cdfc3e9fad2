package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/proxmox-b2/internal/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range knownKeys {
		t.Setenv(key, "")
	}
}

func TestLoadConfigEnvFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "proxmox-b2.env", `
# comment
DRY_RUN=false
DEBUG_LEVEL=debug
ARCHIVE_DIR=/srv/archives
ARCHIVE_PREFIX=pve01
COMPRESSION_TYPE=zstd
RETAIN_LOCAL=yes
RCLONE_REMOTE=b2remote:
B2_BUCKET=/my-bucket/
B2_PREFIX="/nodes/pve01/"   # trailing comment
B2_ACCOUNT_ID=acc
B2_APPLICATION_KEY='secret key'
KEEP_REMOTE=7
RCLONE_FLAGS="--fast-list --b2-chunk-size 96M"
SOURCE_PATHS="
/etc/pve
# disabled
/etc/hosts
/etc/pve
"
`)

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigPath)
	assert.Equal(t, types.LogLevelDebug, cfg.DebugLevel)
	assert.Equal(t, "/srv/archives", cfg.ArchiveDir)
	assert.Equal(t, "/var/cache/proxmox-b2", cfg.CacheDir)
	assert.Equal(t, "pve01", cfg.ArchivePrefix)
	assert.Equal(t, types.CompressionZstd, cfg.Compression)
	assert.True(t, cfg.RetainLocal)
	assert.Equal(t, "b2remote", cfg.RcloneRemote)
	assert.Equal(t, "my-bucket", cfg.Bucket)
	assert.Equal(t, "nodes/pve01", cfg.Prefix)
	assert.Equal(t, "secret key", cfg.B2ApplicationKey)
	assert.Equal(t, 7, cfg.KeepRemote)
	assert.Equal(t, []string{"--fast-list", "--b2-chunk-size", "96M"}, cfg.RcloneFlags)
	assert.Equal(t, []string{"/etc/pve", "/etc/hosts"}, cfg.SourcePaths)
	assert.Equal(t, "b2remote:my-bucket/nodes/pve01", cfg.RemoteRoot())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"), true)
	require.Error(t, err)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"), false)
	require.NoError(t, err)
	assert.Empty(t, cfg.ConfigPath)
	assert.Equal(t, "proxmox-b2", cfg.RcloneRemote)
	assert.Equal(t, "proxmox/configs", cfg.Prefix)
	assert.Equal(t, 14, cfg.KeepRemote)
	assert.Equal(t, DefaultSourcePaths, cfg.SourcePaths)
	assert.Equal(t, types.CompressionGzip, cfg.Compression)
	assert.False(t, cfg.ColorSet)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "a.env", "KEEP_REMOTE=3\nB2_BUCKET=file-bucket\n")
	t.Setenv("KEEP_REMOTE", "9")
	t.Setenv("DRY_RUN", "1")

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.KeepRemote)
	assert.Equal(t, "file-bucket", cfg.Bucket)
	assert.True(t, cfg.DryRun)
}

func TestParseErrors(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "bad.env", "KEEP_REMOTE=many\nCOMPRESSION_TYPE=rar\n")
	_, err := LoadConfig(path, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEEP_REMOTE")
	assert.Contains(t, err.Error(), "COMPRESSION_TYPE")

	path = writeFile(t, "open.env", "SOURCE_PATHS=\"\n/etc/pve\n")
	_, err = LoadConfig(path, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated")
}

func TestLoadConfigYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", `
b2:
  remote: proxmox-b2
  bucket: homelab-backups
  prefix_configs: proxmox/configs
  account_id: acc
  application_key: key
  keep: 30
archive:
  sources:
    - /etc/pve
    - /etc/network/interfaces
  retain_local: true
dry_run: false
`)

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "homelab-backups", cfg.Bucket)
	assert.Equal(t, "proxmox/configs", cfg.Prefix)
	assert.Equal(t, 30, cfg.KeepRemote)
	assert.True(t, cfg.RetainLocal)
	assert.Equal(t, []string{"/etc/pve", "/etc/network/interfaces"}, cfg.SourcePaths)
	require.NoError(t, cfg.Validate())

	_, err = parseYAML([]byte("b2: [unclosed"))
	assert.Error(t, err)
}

func TestParseYAMLPrefixWinsOverLegacyAlias(t *testing.T) {
	doc := []byte(`
b2:
  prefix_configs: legacy/configs
  prefix: proxmox/configs
`)
	for i := 0; i < 20; i++ {
		raw, err := parseYAML(doc)
		require.NoError(t, err)
		assert.Equal(t, "proxmox/configs", raw["B2_PREFIX"])
	}

	raw, err := parseYAML([]byte("b2:\n  prefix_configs: legacy/configs\n"))
	require.NoError(t, err)
	assert.Equal(t, "legacy/configs", raw["B2_PREFIX"])
	assert.NotContains(t, raw, "B2_PREFIX_CONFIGS")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("", false)
	require.NoError(t, err)

	err = cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "B2_ACCOUNT_ID")
	assert.Contains(t, err.Error(), "B2_APPLICATION_KEY")
	assert.Contains(t, err.Error(), "B2_BUCKET")

	cfg.DryRun = true
	require.NoError(t, cfg.Validate())

	cfg.KeepRemote = -1
	cfg.ArchiveDir = "relative/dir"
	cfg.SourcePaths = []string{"etc/pve"}
	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "KEEP_REMOTE")
	assert.Contains(t, msg, "ARCHIVE_DIR")
	assert.Contains(t, msg, "not absolute")
}

func TestSetAndReparse(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("", false)
	require.NoError(t, err)

	cfg.Set("KEEP_REMOTE", "2")
	cfg.Set("DRY_RUN", "true")
	require.NoError(t, cfg.Reparse())
	assert.Equal(t, 2, cfg.KeepRemote)
	assert.True(t, cfg.DryRun)

	v, ok := cfg.Get("KEEP_REMOTE")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestTemplateLoadsAndUpgrade(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "proxmox-b2.env")
	require.NoError(t, WriteTemplate(path, false))
	require.Error(t, WriteTemplate(path, false))

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, DefaultSourcePaths, cfg.SourcePaths)
	assert.NotEmpty(t, cfg.ArchivePrefix)

	res, err := UpgradeConfigFile(path, false)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	old := filepath.Join(dir, "old.env")
	require.NoError(t, os.WriteFile(old, []byte("B2_BUCKET=keepme\nLEGACY_FLAG=on\nSOURCE_PATHS=\"\n/etc/pve\n\"\n"), 0o640))

	res, err = UpgradeConfigFile(old, true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Empty(t, res.BackupPath)

	res, err = UpgradeConfigFile(old, false)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Contains(t, res.MissingKeys, "KEEP_REMOTE")
	assert.Equal(t, []string{"LEGACY_FLAG"}, res.ExtraKeys)
	assert.Equal(t, 2, res.PreservedValues)
	assert.FileExists(t, res.BackupPath)

	data, err := os.ReadFile(old)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "B2_BUCKET=keepme"))
	assert.True(t, strings.Contains(string(data), "LEGACY_FLAG=on"))

	upgraded, err := LoadConfig(old, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/pve"}, upgraded.SourcePaths)
	assert.Equal(t, "keepme", upgraded.Bucket)
}
