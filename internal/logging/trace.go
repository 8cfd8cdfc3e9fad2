package logging

import (
	"fmt"
	"time"
)

// DebugStart logs a standardized debug start line and returns a function that
// logs the end status (ok/error) with duration.
func DebugStart(logger *Logger, operation string, format string, args ...interface{}) func(error) {
	if logger == nil {
		return func(error) {}
	}

	if format != "" {
		logger.Debug("Start %s: %s", operation, fmt.Sprintf(format, args...))
	} else {
		logger.Debug("Start %s", operation)
	}

	started := time.Now()
	return func(err error) {
		if err != nil {
			logger.Debug("End %s (error=%v, duration=%s)", operation, err, time.Since(started).Round(time.Millisecond))
			return
		}
		logger.Debug("End %s (ok, duration=%s)", operation, time.Since(started).Round(time.Millisecond))
	}
}
