package publish_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/child-deaths-bot/internal/models"
	"github.com/DeafMist/child-deaths-bot/internal/publish"
)

type stubPoster struct {
	name      string
	err       error
	panicWith any
	calls     int
	text      string
	sawChart  bool
}

func (s *stubPoster) Name() string { return s.name }

func (s *stubPoster) Post(_ context.Context, text, mediaPath string) (string, error) {
	s.calls++
	s.text = text
	_, statErr := os.Stat(mediaPath)
	s.sawChart = statErr == nil
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.err != nil {
		return "", s.err
	}
	return s.name + "-id", nil
}

func writeFile(s models.Summary, path string) error {
	return os.WriteFile(path, []byte("chart"), 0o644)
}

func sample() models.Summary {
	return models.Summary{
		Months:          []models.MonthlyCount{{Month: time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC), ChildDeaths: 2}},
		LatestDate:      time.Date(2021, 3, 10, 0, 0, 0, 0, time.UTC),
		CumulativeTotal: 2,
	}
}

func TestCaption(t *testing.T) {
	want := "Latest COVID-19 children (0-19 year) deaths for England - 42.\n" +
		"Last updated on 10/03/2021\n" +
		"#COVID19 #python #pandas\n" +
		"newDeaths28DaysByDeathDateAgeDemographics\n" +
		"https://coronavirus.data.gov.uk/details/developers-guide/main-api#structure-metrics"
	require.Equal(t, want, publish.Caption(42, "10/03/2021"))
}

func TestPublishPostsToAll(t *testing.T) {
	a := &stubPoster{name: "a"}
	b := &stubPoster{name: "b"}
	path := filepath.Join(t.TempDir(), "graph.png")

	report := publish.New(writeFile, path, []publish.Poster{a, b}, nil).Publish(context.Background(), sample())

	require.True(t, report.Published())
	require.Empty(t, report.Failed())
	require.Len(t, report.Posts, 2)
	require.Equal(t, "a-id", report.Posts[0].PostID)
	require.Equal(t, "b-id", report.Posts[1].PostID)
	require.True(t, a.sawChart)
	require.True(t, b.sawChart)
	require.Equal(t, a.text, b.text)
	require.Equal(t, publish.Caption(2, "10/03/2021"), a.text)
}

func TestPublishFailureIsolation(t *testing.T) {
	tests := []struct {
		name   string
		a, b   *stubPoster
		failed []string
	}{
		{
			name:   "first fails",
			a:      &stubPoster{name: "a", err: errors.New("401")},
			b:      &stubPoster{name: "b"},
			failed: []string{"a"},
		},
		{
			name:   "second fails",
			a:      &stubPoster{name: "a"},
			b:      &stubPoster{name: "b", err: errors.New("422")},
			failed: []string{"b"},
		},
		{
			name:   "first panics",
			a:      &stubPoster{name: "a", panicWith: "nil media"},
			b:      &stubPoster{name: "b"},
			failed: []string{"a"},
		},
		{
			name:   "both fail",
			a:      &stubPoster{name: "a", err: errors.New("x")},
			b:      &stubPoster{name: "b", err: errors.New("y")},
			failed: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "graph.png")
			report := publish.New(writeFile, path, []publish.Poster{tt.a, tt.b}, nil).Publish(context.Background(), sample())

			require.Equal(t, 1, tt.a.calls)
			require.Equal(t, 1, tt.b.calls)

			var failed []string
			for _, f := range report.Failed() {
				failed = append(failed, f.Platform)
			}
			require.Equal(t, tt.failed, failed)
			require.True(t, report.Published())
		})
	}
}

func TestPublishChartFailureSkipsPosts(t *testing.T) {
	a := &stubPoster{name: "a"}
	render := func(models.Summary, string) error { return errors.New("disk full") }

	report := publish.New(render, "graph.png", []publish.Poster{a}, nil).Publish(context.Background(), sample())
	require.False(t, report.Published())
	require.Error(t, report.ChartErr)
	require.Zero(t, a.calls)
	require.Empty(t, report.Posts)
}

func TestReportResults(t *testing.T) {
	report := publish.Report{Posts: []publish.PostResult{
		{Platform: "twitter", PostID: "1"},
		{Platform: "mastodon", Err: errors.New("boom")},
	}}
	require.Equal(t, []models.PostResult{
		{Platform: "twitter", PostID: "1"},
		{Platform: "mastodon", Error: "boom"},
	}, report.Results())
}
