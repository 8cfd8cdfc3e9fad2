package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OpenRunLog opens <dir>/<prefix>-<runID>.log on the given logger. The
// returned cleanup closes the file and must be called when the run ends.
func OpenRunLog(logger *Logger, dir, prefix, runID string) (string, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create log directory: %w", err)
	}

	logName := fmt.Sprintf("%s-%s.log", sanitizeName(prefix), runID)
	logPath := filepath.Join(dir, logName)
	if err := logger.OpenLogFile(logPath); err != nil {
		return "", nil, err
	}

	cleanup := func() {
		_ = logger.CloseLogFile()
	}
	return logPath, cleanup, nil
}

func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "run"
	}
	replacer := func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' {
			return r
		}
		return '-'
	}
	sanitized := strings.Map(replacer, name)
	sanitized = strings.Trim(sanitized, "-")
	for strings.Contains(sanitized, "--") {
		sanitized = strings.ReplaceAll(sanitized, "--", "-")
	}
	if sanitized == "" {
		sanitized = "run"
	}
	return sanitized
}
