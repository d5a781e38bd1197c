// Package coronavirus talks to the UK coronavirus dashboard data API.
package coronavirus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/DeafMist/child-deaths-bot/internal/logger"
	"github.com/DeafMist/child-deaths-bot/internal/models"
)

// DefaultBaseURL is the public v1 data endpoint.
const DefaultBaseURL = "https://api.coronavirus.data.gov.uk/v1/data"

// TimestampLayout is the layout of LastUpdate values.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Filters restrict the query to England.
var Filters = []string{"areaType=nation", "areaName=england"}

// Structure selects the date and the age-banded death counts.
const Structure = `{"date":"date","data":"newDeaths28DaysByDeathDateAgeDemographics"}`

// StatusError is returned for responses with a 4xx/5xx status.
type StatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s data api: unexpected status %d", e.Method, e.StatusCode)
	}
	return fmt.Sprintf("%s data api: unexpected status %d: %s", e.Method, e.StatusCode, e.Body)
}

// Client fetches records and the last-modified timestamp.
type Client struct {
	http    *http.Client
	baseURL string
	log     *slog.Logger
}

// New builds a client. An empty baseURL selects DefaultBaseURL and a nil
// httpClient selects http.DefaultClient.
func New(baseURL string, httpClient *http.Client, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{http: httpClient, baseURL: baseURL, log: log}
}

type page struct {
	Length     int                `json:"length"`
	Data       []models.RawRecord `json:"data"`
	Pagination struct {
		Current *string `json:"current"`
		Next    *string `json:"next"`
	} `json:"pagination"`
}

func (c *Client) endpoint(pageNo int) string {
	q := url.Values{}
	q.Set("filters", strings.Join(Filters, ";"))
	q.Set("structure", Structure)
	q.Set("format", "json")
	if pageNo > 0 {
		q.Set("page", strconv.Itoa(pageNo))
	}
	return c.baseURL + "?" + q.Encode()
}

// LastUpdate returns the feed's Last-Modified time formatted with TimestampLayout.
func (c *Client) LastUpdate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint(0), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("head data api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", &StatusError{Method: http.MethodHead, StatusCode: resp.StatusCode}
	}

	raw := resp.Header.Get("Last-Modified")
	if raw == "" {
		return "", fmt.Errorf("head data api: missing Last-Modified header")
	}
	ts, err := http.ParseTime(raw)
	if err != nil {
		return "", fmt.Errorf("parse Last-Modified %q: %w", raw, err)
	}
	return ts.UTC().Format(TimestampLayout), nil
}

// Records downloads every page of the feed. A 204 or a null pagination.next
// ends the walk.
func (c *Client) Records(ctx context.Context) ([]models.RawRecord, error) {
	var records []models.RawRecord
	for pageNo := 1; ; pageNo++ {
		p, done, err := c.fetchPage(ctx, pageNo)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", pageNo, err)
		}
		if done {
			break
		}

		records = append(records, p.Data...)
		c.log.Debug("fetched page", slog.Int("page", pageNo), slog.Int("records", len(p.Data)))

		if p.Pagination.Next == nil || *p.Pagination.Next == "" {
			break
		}
	}
	return records, nil
}

func (c *Client) fetchPage(ctx context.Context, pageNo int) (*page, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(pageNo), nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, true, nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, false, &StatusError{
			Method:     http.MethodGet,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, false, fmt.Errorf("decode page: %w", err)
	}
	return &p, false, nil
}

// ParseTimestamp parses a LastUpdate value. Other RFC 3339 precisions are accepted too.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	ts, err := time.Parse(TimestampLayout, raw)
	if err == nil {
		return ts, nil
	}
	if ts, rfcErr := time.Parse(time.RFC3339Nano, raw); rfcErr == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("parse upstream timestamp %q: %w", raw, err)
}
