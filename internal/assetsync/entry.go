package assetsync

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-profile/internal/filetype"
	"github.com/keithlinneman/linnemanlabs-profile/internal/mapping"
	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

func (s *Syncer) process(ctx context.Context, raw mapping.Entry, claims *claims) (o Outcome) {
	e := raw.Normalized()
	o = Outcome{Entry: e}

	ctx, span := s.tracer.Start(ctx, "assetsync.entry", trace.WithAttributes(
		attribute.Int("assetsync.entry.index", e.Index),
		attribute.String("assetsync.entry.out", e.Out),
	))
	defer func() {
		span.SetAttributes(attribute.String("assetsync.entry.status", string(o.Status)))
		if o.Err != nil {
			span.RecordError(o.Err)
			span.SetStatus(codes.Error, string(o.Status))
		}
		span.End()
		s.observer.ObserveEntry(string(o.Status))
	}()

	if err := e.Validate(); err != nil {
		s.logger.Warn(ctx, "skipping invalid mapping entry",
			"index", e.Index,
			"url", e.URL,
			"out", e.Out,
			"error", err,
		)
		o.Status, o.Err = StatusSkipped, err
		return o
	}
	span.SetAttributes(attribute.String("assetsync.entry.url", e.URL))

	res, err := s.fetcher.Get(ctx, e.URL)
	if err != nil {
		s.logger.Warn(ctx, "fetch failed, keeping cached copy",
			"index", e.Index,
			"url", e.URL,
			"error", err,
		)
		o.Status, o.Err = StatusFailed, err
		return o
	}
	s.observer.ObserveFetch(res.Duration, len(res.Body))
	o.Bytes = len(res.Body)

	r := filetype.Resolve(e.Out, res.ContentType, res.Body)
	o.Path, o.Ext = r.Path, r.Ext
	span.SetAttributes(
		attribute.String("assetsync.entry.path", r.Path),
		attribute.String("assetsync.entry.ext_source", string(r.Source)),
	)

	if ok, owner := claims.claim(r.Path, e.Index); !ok {
		err := xerrors.Tag(xerrors.Newf("destination %s already written by entry %d", r.Path, owner), xerrors.KindEntry)
		s.logger.Warn(ctx, "skipping entry with duplicate destination",
			"index", e.Index,
			"path", r.Path,
			"owner", owner,
		)
		o.Status, o.Err = StatusSkipped, err
		return o
	}

	changed, err := writeIfChanged(s.root, r.Path, res.Body)
	if err != nil {
		s.logger.Warn(ctx, "write failed",
			"index", e.Index,
			"path", r.Path,
			"error", err,
		)
		o.Status, o.Err = StatusFailed, err
		return o
	}
	if !changed {
		s.logger.Debug(ctx, "asset unchanged", "path", r.Path)
		o.Status = StatusUnchanged
		return o
	}

	s.logger.Info(ctx, "asset updated",
		"path", r.Path,
		"bytes", len(res.Body),
		"ext_source", string(r.Source),
		"content_type", res.ContentType,
	)
	o.Status = StatusChanged
	return o
}
