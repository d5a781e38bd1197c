// Package runreport writes run results in the Prometheus text exposition
// format, for pickup by a node_exporter textfile collector.
package runreport

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Run is what one invocation reports.
type Run struct {
	FinishedAt      time.Time
	Published       bool
	CumulativeTotal int
	// Posts maps platform name to success.
	Posts map[string]bool
}

// Families converts r into metric families, sorted by name.
func Families(r Run) []*dto.MetricFamily {
	published := 0.0
	if r.Published {
		published = 1
	}

	fams := []*dto.MetricFamily{
		gauge("child_deaths_last_run_timestamp_seconds",
			"Unix time the last run finished.",
			metric(float64(r.FinishedAt.Unix()))),
		gauge("child_deaths_published",
			"1 if the last run published new data.",
			metric(published)),
	}

	if r.Published {
		fams = append(fams, gauge("child_deaths_cumulative_total",
			"Cumulative child deaths in the last published chart.",
			metric(float64(r.CumulativeTotal))))
	}

	if len(r.Posts) > 0 {
		platforms := make([]string, 0, len(r.Posts))
		for p := range r.Posts {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)

		var ms []*dto.Metric
		for _, p := range platforms {
			ok := 0.0
			if r.Posts[p] {
				ok = 1
			}
			m := metric(ok)
			m.Label = []*dto.LabelPair{{Name: str("platform"), Value: str(p)}}
			ms = append(ms, m)
		}
		fams = append(fams, gauge("child_deaths_post_success",
			"1 if the last post to the platform succeeded.", ms...))
	}

	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

// Encode renders r as exposition text.
func Encode(r Run) ([]byte, error) {
	var buf bytes.Buffer
	for _, mf := range Families(r) {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

// WriteFile replaces path atomically so the collector never reads a partial file.
func WriteFile(path string, r Run) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".runreport-*")
	if err != nil {
		return fmt.Errorf("create temp metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close metrics: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod metrics: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename metrics: %w", err)
	}
	return nil
}

func gauge(name, help string, ms ...*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   str(name),
		Help:   str(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: ms,
	}
}

func metric(v float64) *dto.Metric {
	return &dto.Metric{Gauge: &dto.Gauge{Value: &v}}
}

func str(s string) *string { return &s }
