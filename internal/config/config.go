package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tis24dev/proxmox-b2/internal/types"
	"github.com/tis24dev/proxmox-b2/pkg/utils"
)

// DefaultConfigPath is read when --config is not given.
const DefaultConfigPath = "/etc/proxmox-b2/proxmox-b2.env"

// DefaultSourcePaths is the configuration manifest of a Proxmox VE node.
var DefaultSourcePaths = []string{
	"/etc/pve",
	"/etc/network/interfaces",
	"/etc/hosts",
	"/etc/hostname",
	"/etc/resolv.conf",
	"/etc/vzdump.conf",
	"/etc/cron.d",
	"/etc/systemd/system",
	"/root/.ssh",
	"/etc/ssh",
}

// Config holds the whole run configuration. It is built once by LoadConfig
// and handed to the orchestrator as explicit values.
type Config struct {
	ConfigPath string

	// General
	DryRun     bool
	DebugLevel types.LogLevel
	UseColor   bool
	ColorSet   bool // USE_COLOR was given explicitly
	LogPath    string
	LogJournal bool

	// Archive
	ArchiveDir       string
	CacheDir         string
	ArchivePrefix    string
	SourcePaths      []string
	Compression      types.CompressionType
	CompressionLevel int
	RetainLocal      bool

	// Remote (rclone + B2)
	RcloneRemote           string
	Bucket                 string
	Prefix                 string
	RcloneConfigPath       string
	B2AccountID            string
	B2ApplicationKey       string
	RcloneFlags            []string
	RcloneBandwidthLimit   string
	RcloneTimeoutOperation int

	// Retention
	KeepRemote      int
	CloudBatchSize  int
	CloudDeleteRate float64

	// Metrics
	MetricsEnabled bool
	MetricsPath    string

	raw map[string]string
}

// knownKeys lists every key that the process environment may override.
var knownKeys = []string{
	"DRY_RUN", "DEBUG_LEVEL", "USE_COLOR", "LOG_PATH", "LOG_JOURNAL",
	"ARCHIVE_DIR", "CACHE_DIR", "ARCHIVE_PREFIX", "SOURCE_PATHS",
	"COMPRESSION_TYPE", "COMPRESSION_LEVEL", "RETAIN_LOCAL",
	"RCLONE_REMOTE", "B2_BUCKET", "B2_PREFIX", "RCLONE_CONFIG",
	"B2_ACCOUNT_ID", "B2_APPLICATION_KEY",
	"RCLONE_FLAGS", "RCLONE_BANDWIDTH_LIMIT", "RCLONE_TIMEOUT_OPERATION",
	"KEEP_REMOTE", "CLOUD_BATCH_SIZE", "CLOUD_DELETE_RATE",
	"METRICS_ENABLED", "METRICS_PATH",
}

// blockValueKeys accept the KEY=" ... " multi-line form.
var blockValueKeys = map[string]bool{
	"SOURCE_PATHS": true,
	"RCLONE_FLAGS": true,
}

// LoadConfig reads configPath (env or YAML format), applies environment
// overrides and parses typed values. When required is false a missing file
// falls back to defaults plus environment.
func LoadConfig(configPath string, required bool) (*Config, error) {
	raw := map[string]string{}
	if utils.FileExists(configPath) {
		var err error
		if isYAMLPath(configPath) {
			raw, err = parseYAMLFile(configPath)
		} else {
			raw, err = parseEnvFile(configPath)
		}
		if err != nil {
			return nil, err
		}
	} else if required {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	} else {
		configPath = ""
	}

	cfg := &Config{
		ConfigPath: configPath,
		raw:        raw,
	}
	cfg.loadEnvOverrides()

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadEnvOverrides() {
	for _, key := range knownKeys {
		if envValue := os.Getenv(key); envValue != "" {
			c.raw[key] = envValue
		}
	}
}

func (c *Config) parse() error {
	var errs []error

	c.DryRun = c.getBool("DRY_RUN", false)

	level, err := types.ParseLogLevel(c.getString("DEBUG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, fmt.Errorf("DEBUG_LEVEL: %w", err))
	}
	c.DebugLevel = level

	if _, ok := c.raw["USE_COLOR"]; ok {
		c.ColorSet = true
		c.UseColor = c.getBool("USE_COLOR", false)
	}
	c.LogPath = c.getString("LOG_PATH", "")
	c.LogJournal = c.getBool("LOG_JOURNAL", false)

	c.ArchiveDir = c.getNonEmpty("ARCHIVE_DIR", "/var/backups/proxmox-b2")
	c.CacheDir = c.getNonEmpty("CACHE_DIR", "/var/cache/proxmox-b2")
	c.ArchivePrefix = c.getNonEmpty("ARCHIVE_PREFIX", defaultPrefix())
	c.SourcePaths = c.getStringSlice("SOURCE_PATHS", DefaultSourcePaths)

	comp, err := types.ParseCompressionType(c.getString("COMPRESSION_TYPE", "gz"))
	if err != nil {
		errs = append(errs, fmt.Errorf("COMPRESSION_TYPE: %w", err))
	}
	c.Compression = comp
	c.CompressionLevel = c.getInt("COMPRESSION_LEVEL", 6)
	c.RetainLocal = c.getBool("RETAIN_LOCAL", false)

	c.RcloneRemote = strings.TrimSuffix(c.getNonEmpty("RCLONE_REMOTE", "proxmox-b2"), ":")
	c.Bucket = strings.Trim(c.getString("B2_BUCKET", ""), "/")
	c.Prefix = strings.Trim(c.getString("B2_PREFIX", "proxmox/configs"), "/")
	c.RcloneConfigPath = c.getString("RCLONE_CONFIG", "")
	c.B2AccountID = c.getString("B2_ACCOUNT_ID", "")
	c.B2ApplicationKey = c.getString("B2_APPLICATION_KEY", "")
	c.RcloneFlags = strings.Fields(strings.ReplaceAll(c.getString("RCLONE_FLAGS", ""), "\n", " "))
	c.RcloneBandwidthLimit = c.getString("RCLONE_BANDWIDTH_LIMIT", "")
	c.RcloneTimeoutOperation = c.ensurePositiveInt("RCLONE_TIMEOUT_OPERATION", 300)

	keep, err := c.getStrictInt("KEEP_REMOTE", 14)
	if err != nil {
		errs = append(errs, err)
	}
	c.KeepRemote = keep
	c.CloudBatchSize = c.ensurePositiveInt("CLOUD_BATCH_SIZE", 20)
	c.CloudDeleteRate = c.getFloat("CLOUD_DELETE_RATE", 5)

	c.MetricsEnabled = c.getBool("METRICS_ENABLED", false)
	c.MetricsPath = c.getNonEmpty("METRICS_PATH", "/var/lib/prometheus/node-exporter")

	return errors.Join(errs...)
}

// Get returns the raw value of key.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.raw[key]
	return v, ok
}

// Set overrides a raw value; call Reparse afterwards to refresh typed fields.
func (c *Config) Set(key, value string) {
	if c.raw == nil {
		c.raw = make(map[string]string)
	}
	c.raw[key] = value
}

// Reparse recomputes typed fields from the raw map (used after CLI overrides).
func (c *Config) Reparse() error {
	return c.parse()
}

// RemoteRoot returns "<remote>:<bucket>/<prefix>" for display.
func (c *Config) RemoteRoot() string {
	path := strings.Trim(c.Bucket+"/"+c.Prefix, "/")
	return c.RcloneRemote + ":" + path
}

func (c *Config) getString(key, defaultValue string) string {
	if val, ok := c.raw[key]; ok {
		return os.ExpandEnv(val)
	}
	return defaultValue
}

// getNonEmpty treats an empty value (KEY=) like a missing key.
func (c *Config) getNonEmpty(key, defaultValue string) string {
	if val, ok := c.raw[key]; ok && strings.TrimSpace(val) != "" {
		return os.ExpandEnv(val)
	}
	return defaultValue
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	if val, ok := c.raw[key]; ok {
		return utils.ParseBool(val)
	}
	return defaultValue
}

func (c *Config) getInt(key string, defaultValue int) int {
	if val, ok := c.raw[key]; ok {
		if intVal, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getStrictInt rejects non-numeric values instead of silently defaulting.
func (c *Config) getStrictInt(key string, defaultValue int) (int, error) {
	val, ok := c.raw[key]
	if !ok || strings.TrimSpace(val) == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %q is not an integer", key, val)
	}
	return n, nil
}

func (c *Config) ensurePositiveInt(key string, defaultValue int) int {
	value := c.getInt(key, defaultValue)
	if value <= 0 {
		return defaultValue
	}
	return value
}

func (c *Config) getFloat(key string, defaultValue float64) float64 {
	if val, ok := c.raw[key]; ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil && f >= 0 {
			return f
		}
	}
	return defaultValue
}

func (c *Config) getStringSlice(key string, defaultValue []string) []string {
	val, ok := c.raw[key]
	if !ok || strings.TrimSpace(val) == "" {
		return append([]string(nil), defaultValue...)
	}

	parts := strings.FieldsFunc(val, func(r rune) bool {
		switch r {
		case ',', ';', '|', '\n', ' ', '\t':
			return true
		default:
			return false
		}
	})

	seen := make(map[string]struct{}, len(parts))
	var result []string
	for _, part := range parts {
		trimmed := strings.Trim(strings.TrimSpace(part), `"'`)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

func defaultPrefix() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "proxmox"
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return strings.ToLower(host)
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}

func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer file.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if utils.IsComment(trimmed) {
			continue
		}

		key, value, ok := utils.SplitKeyValue(line)
		if !ok {
			continue
		}

		if blockValueKeys[key] && trimmed == fmt.Sprintf("%s=\"", key) {
			var blockLines []string
			terminated := false
			for scanner.Scan() {
				next := strings.TrimRight(scanner.Text(), "\r")
				if strings.TrimSpace(next) == "\"" {
					terminated = true
					break
				}
				if utils.IsComment(next) {
					continue
				}
				blockLines = append(blockLines, strings.TrimSpace(next))
			}
			if !terminated {
				return nil, fmt.Errorf("unterminated multi-line value for %s", key)
			}
			raw[key] = strings.Join(blockLines, "\n")
			continue
		}

		raw[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return raw, nil
}
