package orchestrator

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/tis24dev/proxmox-b2/internal/backup"
	"github.com/tis24dev/proxmox-b2/internal/logging"
	"github.com/tis24dev/proxmox-b2/internal/metrics"
	"github.com/tis24dev/proxmox-b2/internal/storage"
	"github.com/tis24dev/proxmox-b2/internal/types"
)

// ArchiveBuilder produces the run archive; *backup.Builder implements it.
type ArchiveBuilder interface {
	ResolveCompression() types.CompressionType
	Build(ctx context.Context, sourcePaths []string, stagingDir, outputPath string) (*backup.Archive, error)
}

// MetadataCollector fills the staging directory; *backup.DiagnosticsCollector implements it.
type MetadataCollector interface {
	Collect(ctx context.Context, stagingDir string) *backup.DiagnosticsReport
}

// MetricsExporter publishes the run snapshot; *metrics.PrometheusExporter implements it.
type MetricsExporter interface {
	Export(m *metrics.RunMetrics) error
}

// Downloader fetches one remote object; *storage.RcloneStore implements it.
type Downloader interface {
	Download(ctx context.Context, target storage.RemoteTarget, name, localPath string) error
}

// Deps groups the orchestrator collaborators. Zero values are filled with
// production defaults where one exists.
type Deps struct {
	Logger    *logging.Logger
	Clock     clock.Clock
	Store     storage.RemoteStore
	Builder   ArchiveBuilder
	Collector MetadataCollector
	Metrics   MetricsExporter // nil disables export

	// CheckTools verifies external binaries needed by a live run.
	CheckTools func() error

	Hostname string
	Version  string
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.GetDefaultLogger()
	}
	if d.Clock == nil {
		d.Clock = clock.WallClock
	}
	if d.Collector == nil {
		d.Collector = backup.NewDiagnosticsCollector(d.Logger, nil, backup.DefaultDeps())
	}
	if d.Hostname == "" {
		d.Hostname, _ = os.Hostname()
	}
	return d
}

var newInvocationID = uuid.NewString
