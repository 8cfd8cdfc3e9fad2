// Package types defines shared application data types.
package types

// ExitCode represents the process exit code of a run.
type ExitCode int

const (
	// ExitSuccess - Run completed (or dry-run finished) without fatal errors.
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified error.
	ExitGenericError ExitCode = 1

	// ExitConfigError - Configuration is missing or invalid.
	ExitConfigError ExitCode = 2

	// ExitEnvironmentError - A required tool (rclone, tar helpers) is missing.
	ExitEnvironmentError ExitCode = 3

	// ExitStorageError - The remote endpoint could not be ensured.
	ExitStorageError ExitCode = 5

	// ExitNetworkError - The archive upload failed.
	ExitNetworkError ExitCode = 6

	// ExitVerificationError - Checksum verification failed.
	ExitVerificationError ExitCode = 8

	// ExitArchiveError - The archive could not be written.
	ExitArchiveError ExitCode = 10

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13

	// ExitInterrupted - The run was cancelled by a signal.
	ExitInterrupted ExitCode = 130
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitEnvironmentError:
		return "environment error"
	case ExitStorageError:
		return "storage error"
	case ExitNetworkError:
		return "network error"
	case ExitVerificationError:
		return "verification error"
	case ExitArchiveError:
		return "archive error"
	case ExitPanicError:
		return "panic error"
	case ExitInterrupted:
		return "interrupted"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as an int.
func (e ExitCode) Int() int {
	return int(e)
}
