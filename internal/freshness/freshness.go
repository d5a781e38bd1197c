// Package freshness decides whether the upstream feed changed since the last publication.
package freshness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DeafMist/child-deaths-bot/internal/blobstore"
	"github.com/DeafMist/child-deaths-bot/internal/coronavirus"
	"github.com/DeafMist/child-deaths-bot/internal/logger"
)

// MarkerKey is the object holding the last published upstream timestamp.
const MarkerKey = "local_child_deaths_modified"

// MarkerLayout is the persisted text form of the marker. Whole seconds print
// without a fraction; any sub-second part is kept so a written marker equals
// the upstream time it came from.
const MarkerLayout = "2006-01-02 15:04:05.999999999"

// Epoch stands in for a marker that cannot be read.
var Epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Upstream reports the feed's last update time.
type Upstream interface {
	LastUpdate(ctx context.Context) (string, error)
}

// Decision is the result of one freshness check.
type Decision struct {
	Publish  bool
	Upstream time.Time
	Marker   time.Time
	// MarkerErr is set when the marker could not be read or parsed; Marker is Epoch then.
	MarkerErr error
}

// Checker compares the feed timestamp against the persisted marker.
type Checker struct {
	upstream Upstream
	store    blobstore.Store
	bucket   string
	log      *slog.Logger
}

// NewChecker wires a Checker to its collaborators.
func NewChecker(upstream Upstream, store blobstore.Store, bucket string, log *slog.Logger) *Checker {
	if log == nil {
		log = logger.Discard()
	}
	return &Checker{upstream: upstream, store: store, bucket: bucket, log: log}
}

// ShouldPublish reports whether the upstream timestamp is strictly newer than the marker.
// Upstream errors are returned; marker errors are recorded on the Decision.
func (c *Checker) ShouldPublish(ctx context.Context) (Decision, error) {
	upstream, err := c.UpstreamTime(ctx)
	if err != nil {
		return Decision{}, err
	}

	marker, markerErr := c.ReadMarker(ctx)
	if markerErr != nil {
		c.log.Warn("could not read freshness marker, treating as never published",
			slog.String("bucket", c.bucket),
			slog.String("key", MarkerKey),
			slog.Any("err", markerErr),
		)
		marker = Epoch
	}

	d := Decision{
		Publish:   upstream.After(marker),
		Upstream:  upstream,
		Marker:    marker,
		MarkerErr: markerErr,
	}
	c.log.Debug("freshness checked",
		slog.Time("upstream", d.Upstream),
		slog.Time("marker", d.Marker),
		slog.Bool("publish", d.Publish),
	)
	return d, nil
}

// UpstreamTime fetches and parses the feed's last update time.
func (c *Checker) UpstreamTime(ctx context.Context) (time.Time, error) {
	raw, err := c.upstream.LastUpdate(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch upstream last update: %w", err)
	}
	return coronavirus.ParseTimestamp(raw)
}

// ReadMarker returns the persisted marker.
func (c *Checker) ReadMarker(ctx context.Context) (time.Time, error) {
	raw, err := c.store.Read(ctx, c.bucket, MarkerKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("read marker: %w", err)
	}
	return ParseMarker(raw)
}

// WriteMarker persists ts as the last published upstream timestamp.
func (c *Checker) WriteMarker(ctx context.Context, ts time.Time) error {
	if err := c.store.Write(ctx, c.bucket, MarkerKey, FormatMarker(ts)); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// FormatMarker renders ts in MarkerLayout (UTC).
func FormatMarker(ts time.Time) string {
	return ts.UTC().Format(MarkerLayout)
}

// ParseMarker parses a MarkerLayout value; the fractional-second suffix is optional.
func ParseMarker(raw string) (time.Time, error) {
	ts, err := time.Parse(MarkerLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse marker %q: %w", raw, err)
	}
	return ts, nil
}
