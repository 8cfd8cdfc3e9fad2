package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tis24dev/proxmox-b2/internal/backup"
	"github.com/tis24dev/proxmox-b2/internal/checks"
	"github.com/tis24dev/proxmox-b2/internal/config"
	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/internal/metrics"
	"github.com/tis24dev/proxmox-b2/internal/orchestrator"
	"github.com/tis24dev/proxmox-b2/internal/storage"
	"github.com/tis24dev/proxmox-b2/internal/types"
	"github.com/tis24dev/proxmox-b2/internal/version"
)

// session is the configured state shared by the commands that touch the
// archive directory or the remote.
type session struct {
	cfg     *config.Config
	logger  *logging.Logger
	remote  Remote
	orch    *orchestrator.Orchestrator
	closers []func()
}

func openSession(cmd *cli.Command, opts Options) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, &ExitError{Code: types.ExitConfigError, Err: err}
	}

	logger := newLogger(cfg.DebugLevel, cfg.ColorSet, cfg.UseColor, opts.Stdout)
	if cfg.LogJournal && !logger.EnableJournal(appName) {
		logger.Warning("LOG_JOURNAL is enabled but the systemd journal is not reachable")
	}
	logging.SetDefaultLogger(logger)

	remote := opts.NewRemote(logger, cfg)
	deps := orchestrator.Deps{
		Logger: logger,
		Clock:  opts.Clock,
		Store:  remote,
		Builder: backup.NewBuilder(logger, backup.BuilderConfig{
			Compression:      cfg.Compression,
			CompressionLevel: cfg.CompressionLevel,
		}, backup.DefaultDeps()),
		Collector:  opts.Collector,
		CheckTools: remote.CheckBinary,
		Version:    version.String(),
	}
	if cfg.MetricsEnabled {
		deps.Metrics = metrics.NewPrometheusExporter(cfg.MetricsPath, logger)
	}

	return &session{
		cfg:    cfg,
		logger: logger,
		remote: remote,
		orch:   orchestrator.New(deps),
	}, nil
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// attachRun tags log lines with the run ID and opens the per-run log file
// when LOG_PATH is set. A log file failure is only a warning.
func (s *session) attachRun(run *orchestrator.Run) {
	s.logger.WithField("RUN_ID", run.ID)
	if s.cfg.LogPath == "" {
		return
	}
	path, cleanup, err := logging.OpenRunLog(s.logger, s.cfg.LogPath, s.cfg.ArchivePrefix, run.ID)
	if err != nil {
		s.logger.Warning("Cannot open run log in %s: %v", s.cfg.LogPath, err)
		return
	}
	s.logger.Debug("Writing run log to %s", path)
	s.closers = append(s.closers, cleanup)
}

// preflight creates the local directories and checks free space.
func (s *session) preflight(ctx context.Context) error {
	checker := checks.NewChecker(s.logger, checks.GetDefaultCheckerConfig(s.cfg.ArchiveDir, s.cfg.CacheDir, s.cfg.DryRun))
	if _, err := checker.RunAllChecks(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &ExitError{Code: types.ExitEnvironmentError, Err: err}
	}
	return nil
}

// prepareRemote checks the rclone binary and makes sure the remote exists,
// which a freshly installed node needs before it can list or download.
// Callers never reach it in dry-run.
func (s *session) prepareRemote(ctx context.Context, run *orchestrator.Run) error {
	if err := s.remote.CheckBinary(); err != nil {
		return &ExitError{Code: types.ExitEnvironmentError, Err: err}
	}
	if err := s.remote.EnsureRemote(ctx, run.Target.Remote, run.Creds); err != nil {
		return &ExitError{Code: types.ExitStorageError, Err: err}
	}
	return nil
}

// loadConfig reads the configuration, applies command-line overrides and
// validates the result. An explicitly given --config must exist.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cmd.String("config"), cmd.IsSet("config"))
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cmd *cli.Command, cfg *config.Config) error {
	changed := false
	if cmd.Bool("dry-run") {
		cfg.Set("DRY_RUN", "true")
		changed = true
	}
	if cmd.Bool("retain-local") {
		cfg.Set("RETAIN_LOCAL", "true")
		changed = true
	}
	if cmd.IsSet("log-level") {
		cfg.Set("DEBUG_LEVEL", cmd.String("log-level"))
		changed = true
	}
	if cmd.IsSet("keep") {
		cfg.Set("KEEP_REMOTE", strconv.Itoa(cmd.Int("keep")))
		changed = true
	}
	if !changed {
		return nil
	}
	return cfg.Reparse()
}

func newLogger(level types.LogLevel, colorSet, useColor bool, out io.Writer) *logging.Logger {
	if !colorSet {
		useColor = false
		if f, ok := out.(*os.File); ok {
			useColor = logging.DetectColor(f)
		}
	}
	logger := logging.New(level, useColor)
	logger.SetOutput(out)
	return logger
}

func newRcloneRemote(logger *logging.Logger, cfg *config.Config) Remote {
	return storage.NewRcloneStore(logger, storage.RcloneOptions{
		ConfigPath:       cfg.RcloneConfigPath,
		ExtraFlags:       cfg.RcloneFlags,
		BandwidthLimit:   cfg.RcloneBandwidthLimit,
		OperationTimeout: time.Duration(cfg.RcloneTimeoutOperation) * time.Second,
	})
}
