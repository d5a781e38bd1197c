package processing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DeafMist/child-deaths-bot/internal/models"
)

// ErrNoData is returned when there is nothing to aggregate.
var ErrNoData = errors.New("no records to aggregate")

// ChildBands are the fine age bands covering ages 0-19.
var ChildBands = []string{"00_04", "05_09", "10_14", "15_19"}

// coarse bands repeat the fine breakdown and must never be summed with it.
var coarseBands = map[string]struct{}{
	"00_59": {},
	"60+":   {},
}

// NormalizeBand maps "05-09" style labels onto the feed's "05_09" form.
func NormalizeBand(age string) string {
	return strings.ReplaceAll(strings.TrimSpace(age), "-", "_")
}

// IsCoarseBand reports whether age is one of the aggregate brackets.
func IsCoarseBand(age string) bool {
	_, ok := coarseBands[NormalizeBand(age)]
	return ok
}

// ChildDeaths sums the child bands of one date's band counts.
func ChildDeaths(bands map[string]int) int {
	total := 0
	for _, band := range ChildBands {
		total += bands[band]
	}
	return total
}

// DailyBands flattens records into per-date band counts. Coarse bands are
// dropped and repeated dates are merged by summing.
func DailyBands(records []models.RawRecord) (map[time.Time]map[string]int, error) {
	daily := make(map[time.Time]map[string]int, len(records))
	for _, rec := range records {
		date, err := time.Parse(models.DateLayout, strings.TrimSpace(rec.Date))
		if err != nil {
			return nil, fmt.Errorf("parse record date %q: %w", rec.Date, err)
		}

		bands, ok := daily[date]
		if !ok {
			bands = make(map[string]int, len(rec.Data))
			daily[date] = bands
		}
		for _, d := range rec.Data {
			if IsCoarseBand(d.Age) {
				continue
			}
			bands[NormalizeBand(d.Age)] += d.Deaths
		}
	}
	return daily, nil
}

// Aggregate turns raw records into the monthly child-death series.
//
// LatestDate is the newest raw date, taken before the monthly roll-up.
// Months only contains calendar months that have at least one record.
func Aggregate(records []models.RawRecord) (models.Summary, error) {
	if len(records) == 0 {
		return models.Summary{}, ErrNoData
	}

	daily, err := DailyBands(records)
	if err != nil {
		return models.Summary{}, err
	}

	var latest time.Time
	monthly := make(map[time.Time]int)
	for date, bands := range daily {
		if date.After(latest) {
			latest = date
		}
		monthly[monthStart(date)] += ChildDeaths(bands)
	}

	starts := make([]time.Time, 0, len(monthly))
	for start := range monthly {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	months := make([]models.MonthlyCount, 0, len(starts))
	for _, start := range starts {
		months = append(months, models.MonthlyCount{
			Month:       monthEnd(start),
			ChildDeaths: monthly[start],
		})
	}

	total := 0
	for _, v := range CumulativeSeries(months) {
		total = max(total, v)
	}

	return models.Summary{
		Months:          months,
		LatestDate:      latest,
		CumulativeTotal: total,
	}, nil
}

// CumulativeSeries returns the running sum over months.
func CumulativeSeries(months []models.MonthlyCount) []int {
	out := make([]int, len(months))
	running := 0
	for i, m := range months {
		running += m.ChildDeaths
		out[i] = running
	}
	return out
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthEnd(start time.Time) time.Time {
	return start.AddDate(0, 1, -1)
}
