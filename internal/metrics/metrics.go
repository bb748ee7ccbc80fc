// Package metrics collects the measurements of a single sync run.
//
// The job is short-lived, so nothing is scraped: at the end of a run the
// registry is pushed to a Pushgateway and/or written as a node_exporter
// textfile.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/keithlinneman/linnemanlabs-profile/internal/version"
	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

// JobName groups pushed series on the Pushgateway.
const JobName = "assetsync"

type RunMetrics struct {
	reg *prometheus.Registry

	buildInfo      *prometheus.GaugeVec
	entriesTotal   *prometheus.CounterVec
	fetchDur       prometheus.Histogram
	fetchedBytes   prometheus.Counter
	throttledTotal prometheus.Counter
	changedFiles   prometheus.Gauge
	runDur         prometheus.Gauge
	lastRunTs      prometheus.Gauge
	versioning     *prometheus.CounterVec
	publishTotal   *prometheus.CounterVec
}

// New returns a fresh registry with the run metrics registered. Go and
// process collectors are left out since their values describe a process
// that has already exited by the time anyone reads them.
func New() *RunMetrics {
	reg := prometheus.NewRegistry()

	m := &RunMetrics{
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		entriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetsync_entries_total",
			Help: "Mapping entries processed by outcome",
		}, []string{"status"}),
		fetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assetsync_fetch_duration_seconds",
			Help:    "Time to fetch one remote asset",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		fetchedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetsync_fetched_bytes_total",
			Help: "Bytes downloaded from remote asset sources",
		}),
		throttledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assetsync_fetch_throttled_total",
			Help: "Fetches that waited on the per-host rate limiter",
		}),
		changedFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assetsync_changed_files",
			Help: "Files written by the last run",
		}),
		runDur: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assetsync_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		lastRunTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assetsync_last_run_timestamp_seconds",
			Help: "Unix timestamp of when the last run finished",
		}),
		versioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetsync_versioning_total",
			Help: "Version control steps by step and result",
		}, []string{"step", "result"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assetsync_published_total",
			Help: "Assets mirrored to object storage by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.buildInfo,
		m.entriesTotal,
		m.fetchDur,
		m.fetchedBytes,
		m.throttledTotal,
		m.changedFiles,
		m.runDur,
		m.lastRunTs,
		m.versioning,
		m.publishTotal,
	)

	// zero series so every status shows up even when it never happened
	for _, s := range []string{"changed", "unchanged", "skipped", "failed"} {
		m.entriesTotal.WithLabelValues(s)
	}

	m.reg = reg
	return m
}

func (m *RunMetrics) Gatherer() prometheus.Gatherer {
	return m.reg
}

// set once at startup.
func (m *RunMetrics) SetBuildInfoFromVersion(vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *RunMetrics) ObserveFetch(d time.Duration, bytes int) {
	m.fetchDur.Observe(d.Seconds())
	m.fetchedBytes.Add(float64(bytes))
}

func (m *RunMetrics) ObserveEntry(status string) {
	m.entriesTotal.WithLabelValues(status).Inc()
}

func (m *RunMetrics) IncThrottled() {
	m.throttledTotal.Inc()
}

// ObserveVersioning counts one version control step. result is one of
// "ok", "noop", "error" or "skipped".
func (m *RunMetrics) ObserveVersioning(step, result string) {
	m.versioning.WithLabelValues(step, result).Inc()
}

// ObservePublish counts mirrored assets by what happened to them.
func (m *RunMetrics) ObservePublish(uploaded, unchanged, failed int) {
	m.publishTotal.WithLabelValues("uploaded").Add(float64(uploaded))
	m.publishTotal.WithLabelValues("unchanged").Add(float64(unchanged))
	m.publishTotal.WithLabelValues("error").Add(float64(failed))
}

// FinishRun records the run summary.
func (m *RunMetrics) FinishRun(changed int, d time.Duration, finished time.Time) {
	m.changedFiles.Set(float64(changed))
	m.runDur.Set(d.Seconds())
	m.lastRunTs.Set(float64(finished.Unix()))
}

// Push replaces this job's series on the Pushgateway at url.
func (m *RunMetrics) Push(ctx context.Context, url string) error {
	err := push.New(url, JobName).
		Gatherer(m.reg).
		PushContext(ctx)
	if err != nil {
		return xerrors.Wrapf(err, "push metrics to %s", url)
	}
	return nil
}

// WriteTextfile writes the registry in the text exposition format for the
// node_exporter textfile collector. The file is replaced atomically.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return xerrors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}
