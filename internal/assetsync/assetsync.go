// Package assetsync refreshes the locally cached copies of remote profile
// assets.
//
// A Syncer fans mapping entries out to a fixed pool of workers. Each worker
// fetches one resource, resolves its destination with filetype, and writes
// the bytes only when they differ from what is on disk. Outcomes flow back
// over a channel to a single collector that builds the Report, so the set of
// changed destinations is never shared between goroutines.
package assetsync

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-profile/internal/fetch"
	"github.com/keithlinneman/linnemanlabs-profile/internal/log"
	"github.com/keithlinneman/linnemanlabs-profile/internal/mapping"
)

const (
	DefaultWorkers = 6
	MaxWorkers     = 64

	tracerName = "github.com/keithlinneman/linnemanlabs-profile/internal/assetsync"
)

// Fetcher retrieves one remote resource. *fetch.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Result, error)
}

// Observer receives per-entry measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveFetch(d time.Duration, bytes int)
	ObserveEntry(status string)
}

type Options struct {
	// RepoDir is the root every destination is resolved under
	RepoDir string
	Workers int
	Fetcher Fetcher

	Logger   log.Logger
	Observer Observer
	Tracer   trace.Tracer
}

type Syncer struct {
	root     string
	workers  int
	fetcher  Fetcher
	logger   log.Logger
	observer Observer
	tracer   trace.Tracer
}

func New(opts Options) *Syncer {
	s := &Syncer{
		root:     opts.RepoDir,
		workers:  opts.Workers,
		fetcher:  opts.Fetcher,
		logger:   opts.Logger,
		observer: opts.Observer,
		tracer:   opts.Tracer,
	}
	if s.root == "" {
		s.root = "."
	}
	if s.workers <= 0 {
		s.workers = DefaultWorkers
	}
	if s.workers > MaxWorkers {
		s.workers = MaxWorkers
	}
	if s.logger == nil {
		s.logger = log.Nop()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Run processes every entry and returns the report. Individual entry failures
// are recorded in the report, never returned. The error is non-nil only when
// ctx ended before the run finished; the report is still complete and the
// interrupted entries are marked failed.
func (s *Syncer) Run(ctx context.Context, entries []mapping.Entry) (*Report, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "assetsync.run", trace.WithAttributes(
		attribute.Int("assetsync.entries", len(entries)),
		attribute.Int("assetsync.workers", s.workers),
	))
	defer span.End()

	claims := newClaims(entries)
	jobs := make(chan mapping.Entry)
	results := make(chan Outcome)

	// workers never return errors, the group only bounds their lifetime
	var g errgroup.Group
	for i := 0; i < min(s.workers, max(len(entries), 1)); i++ {
		g.Go(func() error {
			for e := range jobs {
				results <- s.process(ctx, e, claims)
			}
			return nil
		})
	}

	go func() {
		for _, e := range entries {
			jobs <- e
		}
		close(jobs)
		_ = g.Wait()
		close(results)
	}()

	report := &Report{Outcomes: make([]Outcome, 0, len(entries))}
	for o := range results {
		report.add(o)
	}
	report.finish()

	s.logger.Info(ctx, "asset sync finished",
		"entries", len(entries),
		"changed", report.Count(StatusChanged),
		"unchanged", report.Count(StatusUnchanged),
		"skipped", report.Count(StatusSkipped),
		"failed", report.Count(StatusFailed),
		"duration", time.Since(start).String(),
	)

	span.SetAttributes(attribute.Int("assetsync.changed", len(report.Changed)))
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "interrupted")
		return report, err
	}
	return report, nil
}

// Report is the result of one run.
type Report struct {
	// Changed lists repository-relative paths that were written, sorted
	Changed []string
	// Outcomes has one element per entry in mapping order
	Outcomes []Outcome

	counts map[Status]int
}

func (r *Report) add(o Outcome) {
	if r.counts == nil {
		r.counts = make(map[Status]int, 4)
	}
	r.counts[o.Status]++
	r.Outcomes = append(r.Outcomes, o)
	if o.Status == StatusChanged {
		r.Changed = append(r.Changed, o.Path)
	}
}

func (r *Report) finish() {
	sort.Strings(r.Changed)
	sort.SliceStable(r.Outcomes, func(i, j int) bool {
		return r.Outcomes[i].Entry.Index < r.Outcomes[j].Entry.Index
	})
}

// Count returns how many entries ended with status.
func (r *Report) Count(status Status) int {
	if r == nil {
		return 0
	}
	return r.counts[status]
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(time.Duration, int) {}
func (nopObserver) ObserveEntry(string)             {}
