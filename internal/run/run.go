// Package run wires freshness, aggregation and publishing into one invocation.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/child-deaths-bot/internal/freshness"
	"github.com/DeafMist/child-deaths-bot/internal/logger"
	"github.com/DeafMist/child-deaths-bot/internal/models"
	"github.com/DeafMist/child-deaths-bot/internal/processing"
	"github.com/DeafMist/child-deaths-bot/internal/publish"
	"github.com/DeafMist/child-deaths-bot/internal/runreport"
)

// Checker gates the run and owns the marker.
type Checker interface {
	ShouldPublish(ctx context.Context) (freshness.Decision, error)
	UpstreamTime(ctx context.Context) (time.Time, error)
	WriteMarker(ctx context.Context, ts time.Time) error
}

// RecordSource returns every upstream record.
type RecordSource interface {
	Records(ctx context.Context) ([]models.RawRecord, error)
}

// Publisher renders and posts.
type Publisher interface {
	Publish(ctx context.Context, s models.Summary) publish.Report
}

// Archive stores publication documents.
type Archive interface {
	IndexPublication(ctx context.Context, doc models.Publication) error
}

// Events announces publications.
type Events interface {
	Published(ctx context.Context, pub models.Publication) error
}

// ReportFunc persists the run report.
type ReportFunc func(r runreport.Run) error

// Outcome describes what one run did.
type Outcome struct {
	RunID    string
	Decision freshness.Decision
	// Published is false when the data was stale, so nothing else ran.
	Published     bool
	Summary       models.Summary
	Report        publish.Report
	MarkerWritten bool
	MarkerErr     error
	Publication   *models.Publication
	ArchiveErr    error
	EventErr      error
	ReportErr     error
}

// Runner holds the collaborators of a run. Archive, Events and Report are optional.
type Runner struct {
	Checker   Checker
	Records   RecordSource
	Publisher Publisher
	Archive   Archive
	Events    Events
	Report    ReportFunc
	Log       *slog.Logger

	now func() time.Time
}

// Run executes one invocation. Only freshness, fetch and aggregation errors are returned;
// post, marker and archive failures are recorded on the Outcome.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	log := r.Log
	if log == nil {
		log = logger.Discard()
	}
	out := Outcome{RunID: uuid.NewString()}
	log = log.With(slog.String("run_id", out.RunID))

	decision, err := r.Checker.ShouldPublish(ctx)
	if err != nil {
		return out, fmt.Errorf("check freshness: %w", err)
	}
	out.Decision = decision
	if !decision.Publish {
		log.Info("no new data",
			slog.Time("upstream", decision.Upstream),
			slog.Time("marker", decision.Marker),
		)
		r.writeReport(log, &out)
		return out, nil
	}
	log.Info("new data available", slog.Time("upstream", decision.Upstream), slog.Time("marker", decision.Marker))

	records, err := r.Records.Records(ctx)
	if err != nil {
		return out, fmt.Errorf("fetch records: %w", err)
	}
	summary, err := processing.Aggregate(records)
	if err != nil {
		return out, fmt.Errorf("aggregate records: %w", err)
	}
	out.Summary = summary
	log.Info("records aggregated",
		slog.Int("records", len(records)),
		slog.Int("months", len(summary.Months)),
		slog.Int("total", summary.CumulativeTotal),
	)

	out.Report = r.Publisher.Publish(ctx, summary)
	if !out.Report.Published() {
		r.writeReport(log, &out)
		return out, nil
	}
	out.Published = true

	r.persistMarker(ctx, log, &out)

	pub := r.publication(out)
	out.Publication = &pub

	if r.Archive != nil {
		if err := r.Archive.IndexPublication(ctx, pub); err != nil {
			out.ArchiveErr = err
			log.Error("archive publication", slog.Any("err", err))
		}
	}
	if r.Events != nil {
		if err := r.Events.Published(ctx, pub); err != nil {
			out.EventErr = err
			log.Error("emit publication event", slog.Any("err", err))
		}
	}
	r.writeReport(log, &out)

	log.Info("run finished",
		slog.Int("posts_failed", len(out.Report.Failed())),
		slog.Bool("marker_written", out.MarkerWritten),
	)
	return out, nil
}

// persistMarker stores the upstream timestamp as seen after publishing.
func (r *Runner) persistMarker(ctx context.Context, log *slog.Logger, out *Outcome) {
	ts, err := r.Checker.UpstreamTime(ctx)
	if err != nil {
		out.MarkerErr = err
		log.Error("refetch upstream timestamp, marker not written", slog.Any("err", err))
		return
	}
	if err := r.Checker.WriteMarker(ctx, ts); err != nil {
		out.MarkerErr = err
		log.Error("persist marker", slog.Any("err", err))
		return
	}
	out.MarkerWritten = true
	log.Info("marker written", slog.String("marker", freshness.FormatMarker(ts)))
}

func (r *Runner) publication(out Outcome) models.Publication {
	return models.Publication{
		ID:              uuid.NewString(),
		RunID:           out.RunID,
		PublishedAt:     r.clock().UTC(),
		DataUpdatedAt:   out.Decision.Upstream,
		LatestDate:      out.Summary.LatestDate.Format(models.DateLayout),
		CumulativeTotal: out.Summary.CumulativeTotal,
		Months:          out.Summary.Months,
		Posts:           out.Report.Results(),
	}
}

func (r *Runner) writeReport(log *slog.Logger, out *Outcome) {
	if r.Report == nil {
		return
	}
	rep := runreport.Run{
		FinishedAt:      r.clock(),
		Published:       out.Published,
		CumulativeTotal: out.Summary.CumulativeTotal,
	}
	if len(out.Report.Posts) > 0 {
		rep.Posts = make(map[string]bool, len(out.Report.Posts))
		for _, p := range out.Report.Posts {
			rep.Posts[p.Platform] = p.Err == nil
		}
	}
	if err := r.Report(rep); err != nil {
		out.ReportErr = err
		log.Warn("write run report", slog.Any("err", err))
	}
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}
