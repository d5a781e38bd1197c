package models

import "time"

// DateLayout is the calendar date format used by the upstream feed.
const DateLayout = "2006-01-02"

// AgeDeaths is one age band's count inside an upstream record.
type AgeDeaths struct {
	Age    string `json:"age"`
	Deaths int    `json:"deaths"`
}

// RawRecord is one entry of newDeaths28DaysByDeathDateAgeDemographics for a single date.
type RawRecord struct {
	Date string      `json:"date"`
	Data []AgeDeaths `json:"data"`
}

// MonthlyCount is the child-death total of one calendar month.
// Month is the last day of that month.
type MonthlyCount struct {
	Month       time.Time `json:"month"`
	ChildDeaths int       `json:"child_deaths"`
}

// Summary is everything the publisher needs from one aggregation.
type Summary struct {
	Months          []MonthlyCount `json:"months"`
	LatestDate      time.Time      `json:"latest_date"`
	CumulativeTotal int            `json:"cumulative_total"`
}

// LatestDateLabel formats LatestDate as DD/MM/YYYY.
func (s Summary) LatestDateLabel() string {
	return s.LatestDate.Format("02/01/2006")
}
