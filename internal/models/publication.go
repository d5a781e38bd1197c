package models

import "time"

// PostResult records what happened on one platform.
type PostResult struct {
	Platform string `json:"platform"`
	PostID   string `json:"post_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Publication is the archived record of one publishing run.
type Publication struct {
	ID              string         `json:"id"`
	RunID           string         `json:"run_id"`
	PublishedAt     time.Time      `json:"published_at"`
	DataUpdatedAt   time.Time      `json:"data_updated_at"`
	LatestDate      string         `json:"latest_date"`
	CumulativeTotal int            `json:"cumulative_total"`
	Months          []MonthlyCount `json:"months"`
	Posts           []PostResult   `json:"posts"`
}
