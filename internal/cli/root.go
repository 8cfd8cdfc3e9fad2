// Package cli wires the proxmox-b2 command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/juju/clock"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/tis24dev/proxmox-b2/internal/config"
	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/internal/orchestrator"
	"github.com/tis24dev/proxmox-b2/internal/storage"
	"github.com/tis24dev/proxmox-b2/internal/tui"
	"github.com/tis24dev/proxmox-b2/internal/types"
	"github.com/tis24dev/proxmox-b2/internal/version"
)

const (
	appName = "proxmox-b2"

	configEnvVar = "PROXMOX_B2_CONFIG"
)

// ExitError carries the process exit code of a failure that happened
// outside the pipeline stages (configuration, usage, verification).
type ExitError struct {
	Code types.ExitCode
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Remote is everything the commands need from the object store.
type Remote interface {
	storage.RemoteStore
	orchestrator.Downloader
	CheckBinary() error
}

// Options holds the process-level collaborators of one invocation. Zero
// values are replaced by the real terminal, rclone and wall clock.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// IsTerminal gates the interactive restore picker.
	IsTerminal  func() bool
	PickArchive func(title string, items []tui.PickerItem) (int, error)

	NewRemote func(logger *logging.Logger, cfg *config.Config) Remote
	Collector orchestrator.MetadataCollector
	Clock     clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.IsTerminal == nil {
		o.IsTerminal = func() bool {
			return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
		}
	}
	if o.PickArchive == nil {
		o.PickArchive = tui.PickArchive
	}
	if o.NewRemote == nil {
		o.NewRemote = newRcloneRemote
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	return o
}

// NewCommand builds the root command. Without a subcommand it runs the
// backup pipeline.
func NewCommand(opts Options) *cli.Command {
	opts = opts.withDefaults()
	return &cli.Command{
		Name:      appName,
		Usage:     "Back up Proxmox VE node configuration to Backblaze B2 through rclone",
		Version:   version.Signature(),
		Reader:    opts.Stdin,
		Writer:    opts.Stdout,
		ErrWriter: opts.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file (env or YAML)",
				Value:   config.DefaultConfigPath,
				Sources: cli.EnvVars(configEnvVar),
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"n"},
				Usage:   "Build the archive but make no remote calls",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Log level (debug|info|warning|error|critical|none or 0-5)",
			},
			&cli.BoolFlag{
				Name:  "retain-local",
				Usage: "Keep the local archive after a run",
			},
			&cli.IntFlag{
				Name:  "keep",
				Usage: "Number of remote archives to keep (overrides KEEP_REMOTE)",
			},
		},
		// Exit codes are mapped by Execute, never by os.Exit inside the library.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Action:         runAction(opts),
		Commands: []*cli.Command{
			runCmd(opts),
			listCmd(opts),
			pruneCmd(opts),
			restoreCmd(opts),
			verifyCmd(opts),
			configCmd(opts),
		},
	}
}

// Execute runs the command tree with args (args[0] is the program name) and
// returns the process exit code.
func Execute(ctx context.Context, args []string, opts Options) types.ExitCode {
	opts = opts.withDefaults()
	err := NewCommand(opts).Run(ctx, args)
	if err == nil {
		return types.ExitSuccess
	}

	code := exitCodeOf(err)
	var stageErr *orchestrator.StageError
	// Stage failures were already logged by the orchestrator.
	if !errors.As(err, &stageErr) && code != types.ExitInterrupted {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
	}
	return code
}

func exitCodeOf(err error) types.ExitCode {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return orchestrator.ExitCodeOf(err)
}

func usageError(format string, args ...interface{}) error {
	return &ExitError{Code: types.ExitGenericError, Err: fmt.Errorf(format, args...)}
}
