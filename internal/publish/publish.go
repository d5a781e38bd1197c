// Package publish renders the chart and hands it, with the caption, to every poster.
package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DeafMist/child-deaths-bot/internal/logger"
	"github.com/DeafMist/child-deaths-bot/internal/models"
)

// Poster is one social platform.
type Poster interface {
	Name() string
	Post(ctx context.Context, text, mediaPath string) (string, error)
}

// RenderFunc writes the chart for s to path.
type RenderFunc func(s models.Summary, path string) error

// PostResult is the outcome on one platform.
type PostResult struct {
	Platform string
	PostID   string
	Err      error
}

// Report is the outcome of one Publish call.
type Report struct {
	ChartPath string
	Caption   string
	// ChartErr is set when the chart could not be written; no post is attempted then.
	ChartErr error
	Posts    []PostResult
}

// Published reports whether the chart exists and every platform was attempted.
func (r Report) Published() bool {
	return r.ChartErr == nil
}

// Failed returns the platforms whose post failed.
func (r Report) Failed() []PostResult {
	var out []PostResult
	for _, p := range r.Posts {
		if p.Err != nil {
			out = append(out, p)
		}
	}
	return out
}

// Results converts the post outcomes to their archived form.
func (r Report) Results() []models.PostResult {
	out := make([]models.PostResult, 0, len(r.Posts))
	for _, p := range r.Posts {
		res := models.PostResult{Platform: p.Platform, PostID: p.PostID}
		if p.Err != nil {
			res.Error = p.Err.Error()
		}
		out = append(out, res)
	}
	return out
}

// Publisher owns the chart path and the platform list.
type Publisher struct {
	render    RenderFunc
	chartPath string
	posters   []Poster
	log       *slog.Logger
}

// New builds a Publisher. Posters run in the order given.
func New(render RenderFunc, chartPath string, posters []Poster, log *slog.Logger) *Publisher {
	if log == nil {
		log = logger.Discard()
	}
	return &Publisher{render: render, chartPath: chartPath, posters: posters, log: log}
}

// Publish renders the chart, then posts to every platform. A failing platform
// never stops the next one.
func (p *Publisher) Publish(ctx context.Context, s models.Summary) Report {
	report := Report{
		ChartPath: p.chartPath,
		Caption:   Caption(s.CumulativeTotal, s.LatestDateLabel()),
	}

	if err := p.render(s, p.chartPath); err != nil {
		report.ChartErr = fmt.Errorf("render chart: %w", err)
		p.log.Error("chart rendering failed, skipping posts", slog.Any("err", report.ChartErr))
		return report
	}
	p.log.Info("chart written", slog.String("path", p.chartPath), slog.Int("months", len(s.Months)))

	for _, poster := range p.posters {
		res := attempt(ctx, poster, report.Caption, p.chartPath)
		if res.Err != nil {
			p.log.Error("post failed", slog.String("platform", res.Platform), slog.Any("err", res.Err))
		} else {
			p.log.Info("post sent", slog.String("platform", res.Platform), slog.String("id", res.PostID))
		}
		report.Posts = append(report.Posts, res)
	}
	return report
}

// attempt runs one poster, turning a panic into an error.
func attempt(ctx context.Context, poster Poster, text, mediaPath string) (res PostResult) {
	res.Platform = poster.Name()
	defer func() {
		if r := recover(); r != nil {
			res.PostID = ""
			res.Err = fmt.Errorf("%s post panicked: %v", res.Platform, r)
		}
	}()

	res.PostID, res.Err = poster.Post(ctx, text, mediaPath)
	return res
}
