package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/keithlinneman/linnemanlabs-profile/internal/assetsync"
	"github.com/keithlinneman/linnemanlabs-profile/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-profile/internal/fetch"
	"github.com/keithlinneman/linnemanlabs-profile/internal/log"
	"github.com/keithlinneman/linnemanlabs-profile/internal/mapping"
	"github.com/keithlinneman/linnemanlabs-profile/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-profile/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-profile/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-profile/internal/preflight"
	"github.com/keithlinneman/linnemanlabs-profile/internal/publish"
	"github.com/keithlinneman/linnemanlabs-profile/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-profile/internal/vcs"
	v "github.com/keithlinneman/linnemanlabs-profile/internal/version"
)

const envPrefix = "ASSETSYNC_"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags, .env and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		return 0
	}

	stderrf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	if err := cfg.LoadDotEnv(conf.EnvFile); err != nil {
		stderrf("config error: %v", err)
		return 1
	}
	cfg.FillFromEnv(flag.CommandLine, envPrefix, stderrf)

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		stderrf("invalid log level %s: %v", conf.LogLevel, err)
		return 1
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		stderrf("invalid stacktrace level %s: %v", conf.StacktraceLevel, err)
		return 1
	}
	runID := uuid.NewString()
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.ShortCommit(),
		RunID:             runID,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	// no-op for slog/stderr, but keeps buffered backends honest on exit
	defer lg.Sync()
	L := lg.With("component", "main")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "starting asset sync",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"repo_dir", conf.RepoDir,
		"mapping", conf.Mapping,
		"workers", conf.Workers,
		"fetch_timeout", conf.FetchTimeout.String(),
		"rate_per_host", conf.RatePerHost,
		"commit_enabled", conf.Commit,
		"push_enabled", conf.Push,
		"enable_tracing", conf.EnableTracing,
		"pushgateway_url", conf.PushgatewayURL,
		"s3_bucket", conf.S3Bucket,
		"ssm_param", conf.SSMParam,
		"signing_key_arn", conf.SigningKeyARN,
	)

	// Setup otel for tracing
	// Insecure is true because the collector runs next to the job
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: true,
		Sample:   conf.TraceSample,
		Service:  v.AppName,
		Version:  vi.Version,
		RunID:    runID,
	})
	if err != nil {
		// tracing is optional, keep going without it
		L.Error(ctx, err, "otel init failed", "otlp_endpoint", conf.OTLPEndpoint)
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			L.Warn(sctx, "otel shutdown", "error", err)
		}
	}()

	m := metrics.New()
	m.SetBuildInfoFromVersion(vi)
	defer exportMetrics(ctx, L, m, conf)

	// Load the mapping, any problem here is fatal
	mappingPath, err := pathutil.Join(conf.RepoDir, conf.Mapping)
	if err != nil {
		L.Error(ctx, err, "invalid mapping path", "mapping", conf.Mapping)
		return 1
	}
	checks := []preflight.Check{
		{Name: "repo_dir", Probe: preflight.DirWritable(conf.RepoDir), Required: true},
		{Name: "mapping", Probe: preflight.FileReadable(mappingPath), Required: true},
	}
	if conf.Commit {
		checks = append(checks, preflight.Check{Name: "git", Probe: preflight.CommandAvailable("git")})
	}
	if err := preflight.Run(ctx, checks...); err != nil {
		L.Error(ctx, err, "preflight failed", "repo_dir", conf.RepoDir)
		return 1
	}

	entries, err := mapping.Load(mappingPath)
	if err != nil {
		L.Error(ctx, err, "cannot load mapping", "path", mappingPath)
		return 1
	}
	L.Info(ctx, "loaded mapping", "path", mappingPath, "entries", len(entries))

	limiter := ratelimit.New(
		ratelimit.WithRate(conf.RatePerHost, conf.RateBurst),
		ratelimit.WithOnThrottled(func(host string, wait time.Duration) {
			m.IncThrottled()
			L.Debug(ctx, "pacing fetch", "host", host, "wait", wait.String())
		}),
	)
	userAgent := conf.UserAgent
	if userAgent == "" {
		userAgent = vi.UserAgent()
	}
	client := fetch.New(fetch.Options{
		Timeout:   conf.FetchTimeout,
		MaxBytes:  conf.MaxBytes,
		UserAgent: userAgent,
		Limiter:   limiter,
	})

	syncer := assetsync.New(assetsync.Options{
		RepoDir:  conf.RepoDir,
		Workers:  conf.Workers,
		Fetcher:  client,
		Logger:   lg.With("component", "assetsync"),
		Observer: m,
	})
	report, err := syncer.Run(ctx, entries)
	m.FinishRun(len(report.Changed), time.Since(start), time.Now())
	if err != nil {
		// interrupted: whatever was written stays on disk for the next run
		L.Warn(ctx, "run interrupted, skipping versioning", "error", err, "changed", len(report.Changed))
		return 1
	}

	recordChanges(ctx, vcs.NewGit(conf.RepoDir), report.Changed, versionOptions{
		Commit:  conf.Commit,
		Push:    conf.Push,
		Message: conf.CommitMessage,
		Identity: vcs.Identity{
			Name:  conf.GitName,
			Email: conf.GitEmail,
		},
	}, m)

	if conf.S3Bucket != "" {
		mirror(ctx, lg, conf, runID, report, m)
	}

	for _, p := range report.Changed {
		fmt.Println(p)
	}
	return 0
}

// mirror publishes the cached assets to S3. Failures are logged only.
func mirror(ctx context.Context, lg log.Logger, conf cfg.App, runID string, report *assetsync.Report, m *metrics.RunMetrics) {
	L := log.FromContext(ctx)
	pub, err := publish.New(ctx, publish.Options{
		Logger:           lg.With("component", "publish"),
		Bucket:           conf.S3Bucket,
		Prefix:           conf.S3Prefix,
		RepoDir:          conf.RepoDir,
		RunID:            runID,
		SSMParam:         conf.SSMParam,
		KMSKeyID:         conf.SigningKeyARN,
		SigningAlgorithm: conf.SigningKeyAlgo,
	})
	if err != nil {
		L.Error(ctx, err, "publisher init failed", "bucket", conf.S3Bucket)
		return
	}
	res, err := pub.Publish(ctx, publishable(report))
	if res != nil {
		m.ObservePublish(len(res.Uploaded), res.Unchanged, res.Failed)
	}
	if err != nil {
		L.Warn(ctx, "publishing assets failed", "bucket", conf.S3Bucket, "error", err)
	}
}

// publishable lists every asset present on disk after the run.
func publishable(report *assetsync.Report) []publish.Asset {
	var out []publish.Asset
	for _, o := range report.Outcomes {
		if o.Status == assetsync.StatusChanged || o.Status == assetsync.StatusUnchanged {
			out = append(out, publish.Asset{Path: o.Path, Ext: o.Ext})
		}
	}
	return out
}

func exportMetrics(ctx context.Context, L log.Logger, m *metrics.RunMetrics, conf cfg.App) {
	if conf.MetricsFile != "" {
		if err := m.WriteTextfile(conf.MetricsFile); err != nil {
			L.Warn(ctx, "writing metrics textfile failed", "path", conf.MetricsFile, "error", err)
		}
	}
	if conf.PushgatewayURL != "" {
		// the run context may already be cancelled
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := m.Push(pctx, conf.PushgatewayURL); err != nil {
			L.Warn(ctx, "pushing metrics failed", "pushgateway_url", conf.PushgatewayURL, "error", err)
		}
	}
}
