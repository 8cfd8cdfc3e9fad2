package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tis24dev/proxmox-b2/internal/logging"
)

const (
	metricsNamespace = "proxmox_b2"
	// TextfileName is the file node_exporter's textfile collector picks up.
	TextfileName = "proxmox_b2.prom"
)

// RunMetrics is the snapshot of one pipeline run exported for node_exporter.
type RunMetrics struct {
	Hostname string
	Version  string
	Target   string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	ExitCode      int
	Stage         string // last stage reached
	WarningCount  int
	ErrorCount    int
	ArchiveSize   int64
	SourcesTotal  int
	SourcesMissed int
	Uploaded      bool
	RemoteObjects int
	PruneDeleted  int
	PruneFailed   int
	LocalRemoved  bool
}

// Collector is a prometheus.Collector over a single RunMetrics snapshot.
type Collector struct {
	startTime     prometheus.Gauge
	endTime       prometheus.Gauge
	duration      prometheus.Gauge
	exitCode      prometheus.Gauge
	status        prometheus.Gauge
	issues        *prometheus.GaugeVec
	archiveSize   prometheus.Gauge
	sources       *prometheus.GaugeVec
	uploaded      prometheus.Gauge
	remoteObjects prometheus.Gauge
	prune         *prometheus.GaugeVec
	info          *prometheus.GaugeVec
}

// NewCollector builds the gauges and fills them from m.
func NewCollector(m *RunMetrics) *Collector {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: metricsNamespace, Name: name, Help: help})
	}
	vec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: metricsNamespace, Name: name, Help: help}, labels)
	}

	c := &Collector{
		startTime:     gauge("start_time_seconds", "Unix timestamp of the last run start."),
		endTime:       gauge("end_time_seconds", "Unix timestamp of the last run end."),
		duration:      gauge("duration_seconds", "Duration of the last run in seconds."),
		exitCode:      gauge("exit_code", "Exit code of the last run."),
		status:        gauge("status", "Status of the last run (0=success,1=warning,2=error)."),
		issues:        vec("log_messages", "Warnings and errors logged during the last run.", "level"),
		archiveSize:   gauge("archive_size_bytes", "Size of the archive produced by the last run."),
		sources:       vec("sources", "Configured source paths by outcome.", "state"),
		uploaded:      gauge("uploaded", "1 if the last run uploaded its archive."),
		remoteObjects: gauge("remote_archives", "Archives left at the remote target after retention."),
		prune:         vec("prune_objects", "Remote archives handled by the last retention pass.", "result"),
		info:          vec("info", "Static information about the host and tool.", "hostname", "version", "target"),
	}

	end := m.EndTime
	if end.IsZero() && !m.StartTime.IsZero() {
		end = m.StartTime.Add(m.Duration)
	}
	status := 0.0
	switch {
	case m.ExitCode != 0:
		status = 2
	case m.WarningCount > 0 || m.PruneFailed > 0:
		status = 1
	}

	c.startTime.Set(float64(m.StartTime.Unix()))
	c.endTime.Set(float64(end.Unix()))
	c.duration.Set(m.Duration.Seconds())
	c.exitCode.Set(float64(m.ExitCode))
	c.status.Set(status)
	c.issues.WithLabelValues("warning").Set(float64(m.WarningCount))
	c.issues.WithLabelValues("error").Set(float64(m.ErrorCount))
	c.archiveSize.Set(float64(m.ArchiveSize))
	c.sources.WithLabelValues("included").Set(float64(m.SourcesTotal - m.SourcesMissed))
	c.sources.WithLabelValues("missing").Set(float64(m.SourcesMissed))
	c.uploaded.Set(boolGauge(m.Uploaded))
	c.remoteObjects.Set(float64(m.RemoteObjects))
	c.prune.WithLabelValues("deleted").Set(float64(m.PruneDeleted))
	c.prune.WithLabelValues("failed").Set(float64(m.PruneFailed))
	c.info.WithLabelValues(m.Hostname, m.Version, m.Target).Set(1)
	return c
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.startTime, c.endTime, c.duration, c.exitCode, c.status, c.issues,
		c.archiveSize, c.sources, c.uploaded, c.remoteObjects, c.prune, c.info,
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}

// PrometheusExporter writes run metrics in Prometheus textfile format for node_exporter.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

// Path is the textfile written by Export.
func (pe *PrometheusExporter) Path() string {
	return filepath.Join(pe.textfileDir, TextfileName)
}

// Export replaces the textfile with the given snapshot. The write goes
// through a temporary file so node_exporter never reads a partial file.
func (pe *PrometheusExporter) Export(m *RunMetrics) error {
	if pe == nil || m == nil {
		return nil
	}
	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}
	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(m)); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(pe.Path(), reg); err != nil {
		return fmt.Errorf("write metrics file %s: %w", pe.Path(), err)
	}

	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", pe.Path())
	}
	return nil
}
