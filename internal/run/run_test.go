package run_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/child-deaths-bot/internal/blobstore"
	"github.com/DeafMist/child-deaths-bot/internal/chart"
	"github.com/DeafMist/child-deaths-bot/internal/freshness"
	"github.com/DeafMist/child-deaths-bot/internal/models"
	"github.com/DeafMist/child-deaths-bot/internal/publish"
	"github.com/DeafMist/child-deaths-bot/internal/run"
	"github.com/DeafMist/child-deaths-bot/internal/runreport"
)

const bucket = "bot-state"

type stubUpstream struct {
	stamps []string
	calls  int
	err    error
}

func (s *stubUpstream) LastUpdate(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	stamp := s.stamps[min(s.calls, len(s.stamps)-1)]
	s.calls++
	return stamp, nil
}

type stubRecords struct {
	records []models.RawRecord
	err     error
	calls   int
}

func (s *stubRecords) Records(context.Context) ([]models.RawRecord, error) {
	s.calls++
	return s.records, s.err
}

type stubPoster struct {
	name  string
	id    string
	err   error
	texts []string
	media []string
}

func (p *stubPoster) Name() string { return p.name }

func (p *stubPoster) Post(_ context.Context, text, mediaPath string) (string, error) {
	p.texts = append(p.texts, text)
	p.media = append(p.media, mediaPath)
	if p.err != nil {
		return "", p.err
	}
	return p.id, nil
}

type stubArchive struct {
	docs []models.Publication
	err  error
}

func (a *stubArchive) IndexPublication(_ context.Context, doc models.Publication) error {
	a.docs = append(a.docs, doc)
	return a.err
}

type stubEvents struct{ pubs []models.Publication }

func (e *stubEvents) Published(_ context.Context, pub models.Publication) error {
	e.pubs = append(e.pubs, pub)
	return nil
}

type fixture struct {
	upstream *stubUpstream
	store    *blobstore.Memory
	records  *stubRecords
	twitter  *stubPoster
	mastodon *stubPoster
	archive  *stubArchive
	events   *stubEvents
	reports  []runreport.Run
	rendered int
	runner   *run.Runner
}

func newFixture(t *testing.T, renderErr error) *fixture {
	t.Helper()
	f := &fixture{
		upstream: &stubUpstream{stamps: []string{"2021-06-01T00:00:00.000000Z"}},
		store:    blobstore.NewMemory(),
		records: &stubRecords{records: []models.RawRecord{
			{Date: "2021-05-01", Data: []models.AgeDeaths{{Age: "00_04", Deaths: 1}, {Age: "60+", Deaths: 90}}},
			{Date: "2021-05-20", Data: []models.AgeDeaths{{Age: "15_19", Deaths: 2}}},
			{Date: "2021-04-03", Data: []models.AgeDeaths{{Age: "10_14", Deaths: 4}}},
		}},
		twitter:  &stubPoster{name: "twitter", id: "tw-1"},
		mastodon: &stubPoster{name: "mastodon", id: "md-1"},
		archive:  &stubArchive{},
		events:   &stubEvents{},
	}

	render := func(s models.Summary, path string) error {
		f.rendered++
		if renderErr != nil {
			return renderErr
		}
		return chart.Render(s, path, chart.Options{})
	}
	chartPath := filepath.Join(t.TempDir(), "graph.png")

	f.runner = &run.Runner{
		Checker:   freshness.NewChecker(f.upstream, f.store, bucket, nil),
		Records:   f.records,
		Publisher: publish.New(render, chartPath, []publish.Poster{f.twitter, f.mastodon}, nil),
		Archive:   f.archive,
		Events:    f.events,
		Report: func(r runreport.Run) error {
			f.reports = append(f.reports, r)
			return nil
		},
	}
	return f
}

func (f *fixture) marker(t *testing.T) string {
	t.Helper()
	v, err := f.store.Read(context.Background(), bucket, freshness.MarkerKey)
	require.NoError(t, err)
	return v
}

func TestRunPublishesFreshData(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.stamps = []string{"2021-06-01T00:00:00.000000Z", "2021-06-01T08:30:00.000000Z"}

	out, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	require.True(t, out.Published)
	require.NotEmpty(t, out.RunID)
	require.Equal(t, 7, out.Summary.CumulativeTotal)
	require.Len(t, out.Summary.Months, 2)

	caption := publish.Caption(7, "20/05/2021")
	require.Equal(t, []string{caption}, f.twitter.texts)
	require.Equal(t, []string{caption}, f.mastodon.texts)
	require.Equal(t, f.twitter.media, f.mastodon.media)
	info, err := os.Stat(f.twitter.media[0])
	require.NoError(t, err)
	require.Positive(t, info.Size())

	// The marker holds the timestamp read after posting, not the one that gated the run.
	require.True(t, out.MarkerWritten)
	require.Equal(t, "2021-06-01 08:30:00", f.marker(t))

	require.Len(t, f.archive.docs, 1)
	doc := f.archive.docs[0]
	require.Equal(t, out.RunID, doc.RunID)
	require.Equal(t, "2021-05-20", doc.LatestDate)
	require.Equal(t, []models.PostResult{
		{Platform: "twitter", PostID: "tw-1"},
		{Platform: "mastodon", PostID: "md-1"},
	}, doc.Posts)
	require.Equal(t, f.archive.docs, f.events.pubs)

	require.Len(t, f.reports, 1)
	require.True(t, f.reports[0].Published)
	require.Equal(t, map[string]bool{"twitter": true, "mastodon": true}, f.reports[0].Posts)
}

func TestRunStaleDataHasNoSideEffects(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Write(context.Background(), bucket, freshness.MarkerKey, "2021-06-01 00:00:00"))

	out, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	require.False(t, out.Published)
	require.False(t, out.Decision.Publish)
	require.Zero(t, f.records.calls)
	require.Zero(t, f.rendered)
	require.Empty(t, f.twitter.texts)
	require.Empty(t, f.mastodon.texts)
	require.Empty(t, f.archive.docs)
	require.False(t, out.MarkerWritten)
	require.Equal(t, "2021-06-01 00:00:00", f.marker(t))

	require.Len(t, f.reports, 1)
	require.False(t, f.reports[0].Published)
}

func TestRunMissingMarkerPublishes(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	require.ErrorIs(t, out.Decision.MarkerErr, blobstore.ErrNotFound)
	require.Equal(t, freshness.Epoch, out.Decision.Marker)
	require.True(t, out.Published)
	require.Equal(t, "2021-06-01 00:00:00", f.marker(t))
}

func TestRunPartialPostFailureStillWritesMarker(t *testing.T) {
	f := newFixture(t, nil)
	f.twitter.err = errors.New("rate limited")

	out, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.mastodon.texts, 1)
	require.Len(t, out.Report.Failed(), 1)
	require.Equal(t, "twitter", out.Report.Failed()[0].Platform)
	require.True(t, out.MarkerWritten)
	require.Equal(t, "2021-06-01 00:00:00", f.marker(t))
	require.Equal(t, "rate limited", f.archive.docs[0].Posts[0].Error)
	require.Equal(t, map[string]bool{"twitter": false, "mastodon": true}, f.reports[0].Posts)
}

func TestRunBothPostsFailStillWritesMarker(t *testing.T) {
	f := newFixture(t, nil)
	f.twitter.err = errors.New("down")
	f.mastodon.err = errors.New("down")

	out, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Report.Failed(), 2)
	require.True(t, out.MarkerWritten)
}

func TestRunChartFailureSkipsPostsAndMarker(t *testing.T) {
	f := newFixture(t, errors.New("disk full"))

	out, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	require.False(t, out.Published)
	require.Error(t, out.Report.ChartErr)
	require.Empty(t, f.twitter.texts)
	require.Empty(t, f.mastodon.texts)
	require.False(t, out.MarkerWritten)
	_, readErr := f.store.Read(context.Background(), bucket, freshness.MarkerKey)
	require.ErrorIs(t, readErr, blobstore.ErrNotFound)
	require.Empty(t, f.archive.docs)

	// The report must overwrite a previous successful run.
	require.Len(t, f.reports, 1)
	require.False(t, f.reports[0].Published)
	require.Empty(t, f.reports[0].Posts)
}

func TestRunChartFailureReplacesReportFile(t *testing.T) {
	f := newFixture(t, errors.New("disk full"))
	path := filepath.Join(t.TempDir(), "child_deaths.prom")
	require.NoError(t, runreport.WriteFile(path, runreport.Run{Published: true, CumulativeTotal: 7}))
	f.runner.Report = func(r runreport.Run) error { return runreport.WriteFile(path, r) }

	_, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "child_deaths_published 0\n")
	require.NotContains(t, string(data), "child_deaths_cumulative_total")
}

func TestRunUpstreamErrorIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.upstream.err = errors.New("503")

	_, err := f.runner.Run(context.Background())
	require.Error(t, err)
	require.Zero(t, f.records.calls)
	require.Empty(t, f.twitter.texts)
}

func TestRunFetchErrorIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.records.err = errors.New("connection reset")

	_, err := f.runner.Run(context.Background())
	require.ErrorContains(t, err, "fetch records")
	require.Zero(t, f.rendered)
	_, readErr := f.store.Read(context.Background(), bucket, freshness.MarkerKey)
	require.ErrorIs(t, readErr, blobstore.ErrNotFound)
}

func TestRunEmptyFeedIsError(t *testing.T) {
	f := newFixture(t, nil)
	f.records.records = nil

	_, err := f.runner.Run(context.Background())
	require.Error(t, err)
	require.Zero(t, f.rendered)
}

func TestRunArchiveFailureIsRecorded(t *testing.T) {
	f := newFixture(t, nil)
	f.archive.err = errors.New("cluster red")

	out, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.Error(t, out.ArchiveErr)
	require.True(t, out.MarkerWritten)
	require.Len(t, f.events.pubs, 1)
}

func TestRunWithoutOptionalCollaborators(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.Archive = nil
	f.runner.Events = nil
	f.runner.Report = nil

	out, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, out.Published)
	require.NotNil(t, out.Publication)
	require.WithinDuration(t, time.Now(), out.Publication.PublishedAt, time.Minute)
}
