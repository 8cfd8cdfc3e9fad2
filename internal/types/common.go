package types

import (
	"fmt"
	"strconv"
	"strings"
)

// CompressionType represents the archive compression.
type CompressionType string

const (
	// CompressionGzip - in-process gzip compression
	CompressionGzip CompressionType = "gz"

	// CompressionXZ - xz compression through the external binary
	CompressionXZ CompressionType = "xz"

	// CompressionZstd - zstd compression through the external binary
	CompressionZstd CompressionType = "zst"

	// CompressionNone - plain tar
	CompressionNone CompressionType = "none"
)

// String returns the string representation of the compression type.
func (c CompressionType) String() string {
	return string(c)
}

// Extension returns the archive suffix for the compression type.
func (c CompressionType) Extension() string {
	switch c {
	case CompressionGzip:
		return ".tar.gz"
	case CompressionXZ:
		return ".tar.xz"
	case CompressionZstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}

// ParseCompressionType normalizes user input ("gzip", "zstd", "tar", ...).
func ParseCompressionType(value string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "gz", "gzip", "tgz":
		return CompressionGzip, nil
	case "xz":
		return CompressionXZ, nil
	case "zst", "zstd":
		return CompressionZstd, nil
	case "none", "tar":
		return CompressionNone, nil
	default:
		return "", fmt.Errorf("unsupported compression type %q", value)
	}
}

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel accepts either a level name or its numeric value.
func ParseLogLevel(value string) (LogLevel, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "debug", "trace":
		return LogLevelDebug, nil
	case "", "info", "standard":
		return LogLevelInfo, nil
	case "warning", "warn":
		return LogLevelWarning, nil
	case "error":
		return LogLevelError, nil
	case "critical", "fatal":
		return LogLevelCritical, nil
	case "none", "off", "quiet":
		return LogLevelNone, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < int(LogLevelNone) || n > int(LogLevelDebug) {
		return LogLevelInfo, fmt.Errorf("invalid log level %q", value)
	}
	return LogLevel(n), nil
}
