// Package orchestrator drives one backup run: metadata collection, archive
// build, upload to the remote target, retention and local cleanup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"

	"github.com/tis24dev/proxmox-b2/internal/backup"
	"github.com/tis24dev/proxmox-b2/internal/config"
	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/internal/metrics"
	"github.com/tis24dev/proxmox-b2/internal/storage"
	"github.com/tis24dev/proxmox-b2/internal/types"
	"github.com/tis24dev/proxmox-b2/pkg/utils"
)

// Stage names used in logs, errors and metrics.
const (
	StageStart       = "start"
	StageEnvironment = "environment"
	StageArchive     = "archive"
	StageEnsure      = "ensure"
	StageVerify      = "verify"
	StageUpload      = "upload"
	StagePrune       = "prune"
	StageCleanup     = "cleanup"
	StageDone        = "done"
)

// StageError is a fatal failure of one pipeline stage.
type StageError struct {
	Stage string
	Code  types.ExitCode
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExitCodeOf maps an error returned by the orchestrator to a process exit code.
func ExitCodeOf(err error) types.ExitCode {
	if err == nil {
		return types.ExitSuccess
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Code
	}
	if errors.Is(err, context.Canceled) {
		return types.ExitInterrupted
	}
	return types.ExitGenericError
}

// Run is the immutable description of one invocation.
type Run struct {
	ID           string
	InvocationID string
	StartedAt    time.Time

	DryRun      bool
	RetainLocal bool
	Keep        int

	SourcePaths []string
	ArchiveDir  string
	CacheDir    string
	Prefix      string

	Target storage.RemoteTarget
	Creds  storage.Credentials

	DeleteRate  float64
	DeleteBurst int
}

// NewRun derives a Run from a validated config at time now.
func NewRun(cfg *config.Config, now time.Time) *Run {
	return &Run{
		ID:           storage.RunID(now),
		InvocationID: newInvocationID(),
		StartedAt:    now.UTC(),
		DryRun:       cfg.DryRun,
		RetainLocal:  cfg.RetainLocal,
		Keep:         cfg.KeepRemote,
		SourcePaths:  append([]string(nil), cfg.SourcePaths...),
		ArchiveDir:   cfg.ArchiveDir,
		CacheDir:     cfg.CacheDir,
		Prefix:       cfg.ArchivePrefix,
		Target: storage.RemoteTarget{
			Remote: cfg.RcloneRemote,
			Bucket: cfg.Bucket,
			Prefix: cfg.Prefix,
		},
		Creds: storage.Credentials{
			AccountID:      cfg.B2AccountID,
			ApplicationKey: cfg.B2ApplicationKey,
		},
		DeleteRate:  cfg.CloudDeleteRate,
		DeleteBurst: cfg.CloudBatchSize,
	}
}

// StagingDir is where metadata for this run is collected.
func (r *Run) StagingDir() string {
	return filepath.Join(r.CacheDir, r.ID)
}

// UploadStatus reports what happened to the archive at the remote.
type UploadStatus string

const (
	UploadPending UploadStatus = "pending"
	UploadDone    UploadStatus = "uploaded"
	UploadSkipped UploadStatus = "skipped" // dry run
	UploadFailed  UploadStatus = "failed"
)

// RunResult is what a run did, successful or not.
type RunResult struct {
	Run          *Run
	Stage        string // last stage reached
	Archive      *backup.Archive
	Diagnostics  *backup.DiagnosticsReport
	Upload       UploadStatus
	Prune        *storage.PruneResult
	PruneErr     error
	LocalRemoved bool
	Duration     time.Duration
	ExitCode     types.ExitCode
}

// Orchestrator runs the pipeline stages in order.
type Orchestrator struct {
	logger     *logging.Logger
	clock      clock.Clock
	store      storage.RemoteStore
	builder    ArchiveBuilder
	collector  MetadataCollector
	metrics    MetricsExporter
	checkTools func() error
	hostname   string
	version    string
}

// New creates an orchestrator from deps.
func New(deps Deps) *Orchestrator {
	deps = deps.withDefaults()
	return &Orchestrator{
		logger:     deps.Logger,
		clock:      deps.Clock,
		store:      deps.Store,
		builder:    deps.Builder,
		collector:  deps.Collector,
		metrics:    deps.Metrics,
		checkTools: deps.CheckTools,
		hostname:   deps.Hostname,
		version:    deps.Version,
	}
}

// NewRun derives a Run from cfg using the orchestrator clock.
func (o *Orchestrator) NewRun(cfg *config.Config) *Run {
	return NewRun(cfg, o.clock.Now())
}

// Now is the orchestrator clock's current time.
func (o *Orchestrator) Now() time.Time {
	return o.clock.Now()
}

func (o *Orchestrator) fail(result *RunResult, stage string, code types.ExitCode, err error) error {
	if errors.Is(err, context.Canceled) {
		code = types.ExitInterrupted
	}
	result.ExitCode = code
	o.logger.Error("%s stage failed: %v", stage, err)
	return &StageError{Stage: stage, Code: code, Err: err}
}

// Execute runs the pipeline:
//
//	start -> archive built -> remote ensured -> uploaded (or skipped)
//	      -> pruned (or skipped) -> local cleanup -> done
//
// A dry run never touches the remote store. Ensure and upload failures abort
// before local cleanup so the archive stays on disk for a manual retry;
// retention and cleanup failures are only logged. The staging directory is
// removed whatever the outcome.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) (result *RunResult, err error) {
	result = &RunResult{Run: run, Stage: StageStart, Upload: UploadPending}
	started := o.clock.Now()

	defer func() {
		result.Duration = o.clock.Now().Sub(started)
		o.exportMetrics(run, result, started)
	}()

	stagingDir := run.StagingDir()
	defer o.removeStaging(stagingDir)

	mode := "live"
	if run.DryRun {
		mode = "dry-run"
	}
	o.logger.Step("Starting run %s (%s) for %s", run.ID, mode, run.Target)
	o.logger.Debug("Invocation %s, staging %s", run.InvocationID, stagingDir)

	if !run.DryRun {
		if o.store == nil {
			return result, o.fail(result, StageEnvironment, types.ExitEnvironmentError, errors.New("no remote store configured"))
		}
		if o.checkTools != nil {
			if err := o.checkTools(); err != nil {
				return result, o.fail(result, StageEnvironment, types.ExitEnvironmentError, err)
			}
		}
	}

	archive, err := o.buildArchive(ctx, run, result, stagingDir)
	if err != nil {
		return result, o.fail(result, StageArchive, types.ExitArchiveError, err)
	}
	result.Archive = archive
	result.Stage = StageArchive
	o.logger.Info("Archive ready: %s (%s, sha256 %s)", archive.Name, utils.FormatBytes(archive.Size), archive.SHA256)

	if run.DryRun {
		o.logger.Skip("Remote ensure, upload and retention (dry run): would upload %s to %s and keep %d",
			archive.Name, run.Target, run.Keep)
		result.Upload = UploadSkipped
	} else {
		if err := o.upload(ctx, run, result, archive); err != nil {
			result.Upload = UploadFailed
			o.logger.Warning("Local archive kept for retry: %s", archive.Path)
			return result, err
		}
		result.Upload = UploadDone
		o.prune(ctx, run, result)
	}

	o.cleanupLocal(run, result, archive)

	result.Stage = StageDone
	result.ExitCode = types.ExitSuccess
	o.logger.Step("Run %s completed", run.ID)
	return result, nil
}

func (o *Orchestrator) buildArchive(ctx context.Context, run *Run, result *RunResult, stagingDir string) (*backup.Archive, error) {
	o.logger.Step("Collecting system metadata")
	report := o.collector.Collect(ctx, stagingDir)
	result.Diagnostics = report
	o.logger.Info("Metadata snapshots: %d collected, %d unavailable, %d failed",
		len(report.Collected), len(report.Missing), len(report.Failed))

	comp := o.builder.ResolveCompression()
	name := storage.ArchiveName(run.Prefix, run.ID, comp.Extension())
	included, skipped := backup.ExistingSources(run.SourcePaths)
	if len(included) == 0 {
		o.logger.Warning("None of the %d source paths exist; the archive will only hold metadata", len(run.SourcePaths))
	}

	manifest := &backup.Manifest{
		RunID:        run.ID,
		InvocationID: run.InvocationID,
		Hostname:     o.hostname,
		CreatedAt:    run.StartedAt,
		ArchiveName:  name,
		Compression:  string(comp),
		Sources:      included,
		Skipped:      skipped,
		Diagnostics:  report,
		DryRun:       run.DryRun,
	}
	if _, err := backup.WriteManifest(stagingDir, manifest); err != nil {
		return nil, err
	}

	o.logger.Step("Building archive")
	return o.builder.Build(ctx, run.SourcePaths, stagingDir, filepath.Join(run.ArchiveDir, name))
}

func (o *Orchestrator) upload(ctx context.Context, run *Run, result *RunResult, archive *backup.Archive) error {
	o.logger.Step("Ensuring remote %s", run.Target.Remote)
	if err := o.store.EnsureRemote(ctx, run.Target.Remote, run.Creds); err != nil {
		return o.fail(result, StageEnsure, types.ExitStorageError, err)
	}
	result.Stage = StageEnsure

	if err := backup.VerifyArchive(ctx, o.logger, archive.Path); err != nil {
		return o.fail(result, StageVerify, types.ExitVerificationError, err)
	}

	o.logger.Step("Uploading %s to %s", archive.Name, run.Target)
	for _, path := range []string{archive.Path, archive.ChecksumPath} {
		if err := o.store.Upload(ctx, path, run.Target); err != nil {
			return o.fail(result, StageUpload, types.ExitNetworkError, err)
		}
	}
	result.Stage = StageUpload
	o.logger.Info("Uploaded %s and its checksum", archive.Name)
	return nil
}

func (o *Orchestrator) prune(ctx context.Context, run *Run, result *RunResult) {
	o.logger.Step("Applying remote retention (keep %d)", run.Keep)
	pruner := storage.NewPruner(o.store, o.logger, run.DeleteRate, run.DeleteBurst)
	res, err := pruner.Apply(ctx, run.Target, storage.RetentionPolicy{Keep: run.Keep})
	result.Stage = StagePrune
	if err != nil {
		result.PruneErr = err
		o.logger.Warning("Remote retention skipped: %v", err)
		return
	}
	result.Prune = res
}

func (o *Orchestrator) cleanupLocal(run *Run, result *RunResult, archive *backup.Archive) {
	result.Stage = StageCleanup
	if run.RetainLocal {
		o.logger.Info("Keeping local archive %s", archive.Path)
		return
	}
	if err := storage.RemoveLocalArchive(o.logger, archive.Path); err != nil {
		o.logger.Warning("Local cleanup incomplete: %v", err)
		return
	}
	result.LocalRemoved = true
	o.logger.Info("Removed local archive %s", archive.Name)
}

func (o *Orchestrator) removeStaging(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		o.logger.Warning("Failed to remove staging directory %s: %v", dir, err)
		return
	}
	o.logger.Debug("Removed staging directory %s", dir)
}

func (o *Orchestrator) exportMetrics(run *Run, result *RunResult, started time.Time) {
	if o.metrics == nil || run.DryRun {
		return
	}
	warnings, errs := o.logger.Counts()
	m := &metrics.RunMetrics{
		Hostname:     o.hostname,
		Version:      o.version,
		Target:       run.Target.String(),
		StartTime:    started,
		EndTime:      started.Add(result.Duration),
		Duration:     result.Duration,
		ExitCode:     result.ExitCode.Int(),
		Stage:        result.Stage,
		WarningCount: warnings,
		ErrorCount:   errs,
		SourcesTotal: len(run.SourcePaths),
		Uploaded:     result.Upload == UploadDone,
		LocalRemoved: result.LocalRemoved,
	}
	if result.Archive != nil {
		m.ArchiveSize = result.Archive.Size
		m.SourcesMissed = len(result.Archive.Skipped)
	}
	if result.Prune != nil {
		m.RemoteObjects = result.Prune.Remaining()
		m.PruneDeleted = len(result.Prune.Deleted)
		m.PruneFailed = len(result.Prune.Failed)
	}
	if err := o.metrics.Export(m); err != nil {
		o.logger.Warning("Failed to export Prometheus metrics: %v", err)
	}
}
