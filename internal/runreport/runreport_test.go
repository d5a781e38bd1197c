package runreport_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/child-deaths-bot/internal/runreport"
)

func TestEncodePublishedRun(t *testing.T) {
	out, err := runreport.Encode(runreport.Run{
		FinishedAt:      time.Unix(1700000000, 0),
		Published:       true,
		CumulativeTotal: 42,
		Posts:           map[string]bool{"twitter": false, "mastodon": true},
	})
	require.NoError(t, err)

	text := string(out)
	require.Contains(t, text, "# TYPE child_deaths_cumulative_total gauge")
	require.Contains(t, text, "child_deaths_cumulative_total 42\n")
	require.Contains(t, text, "child_deaths_published 1\n")
	require.Contains(t, text, `child_deaths_post_success{platform="mastodon"} 1`)
	require.Contains(t, text, `child_deaths_post_success{platform="twitter"} 0`)
	require.Contains(t, text, "child_deaths_last_run_timestamp_seconds 1.7e+09\n")
}

func TestEncodeSkippedRun(t *testing.T) {
	out, err := runreport.Encode(runreport.Run{FinishedAt: time.Unix(10, 0)})
	require.NoError(t, err)

	text := string(out)
	require.Contains(t, text, "child_deaths_published 0\n")
	require.NotContains(t, text, "child_deaths_cumulative_total")
	require.NotContains(t, text, "child_deaths_post_success")
}

func TestFamiliesSorted(t *testing.T) {
	fams := runreport.Families(runreport.Run{Published: true, Posts: map[string]bool{"twitter": true}})

	var names []string
	for _, f := range fams {
		names = append(names, f.GetName())
	}
	require.Equal(t, []string{
		"child_deaths_cumulative_total",
		"child_deaths_last_run_timestamp_seconds",
		"child_deaths_post_success",
		"child_deaths_published",
	}, names)
}

func TestWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "child_deaths.prom")

	require.NoError(t, runreport.WriteFile(path, runreport.Run{Published: true, CumulativeTotal: 1}))
	require.NoError(t, runreport.WriteFile(path, runreport.Run{Published: true, CumulativeTotal: 2}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "child_deaths_cumulative_total 2\n")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, strings.HasPrefix(entries[0].Name(), ".runreport-"))
}
