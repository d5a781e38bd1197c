package freshness_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/child-deaths-bot/internal/blobstore"
	"github.com/DeafMist/child-deaths-bot/internal/freshness"
)

type stubUpstream struct {
	ts  string
	err error
}

func (s stubUpstream) LastUpdate(context.Context) (string, error) {
	return s.ts, s.err
}

type failingStore struct{}

func (failingStore) Read(context.Context, string, string) (string, error) {
	return "", errors.New("storage unavailable")
}

func (failingStore) Write(context.Context, string, string, string) error {
	return errors.New("storage unavailable")
}

func TestShouldPublishComparesTimestamps(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
		marker   string
		want     bool
	}{
		{name: "newer", upstream: "2021-06-02T00:00:00.000000Z", marker: "2021-06-01 00:00:00", want: true},
		{name: "equal", upstream: "2021-06-01T00:00:00.000000Z", marker: "2021-06-01 00:00:00", want: false},
		{name: "older", upstream: "2021-05-31T23:59:59.000000Z", marker: "2021-06-01 00:00:00", want: false},
		{name: "one second later", upstream: "2021-06-01T00:00:01.000000Z", marker: "2021-06-01 00:00:00", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewMemory()
			require.NoError(t, store.Write(ctx, "bucket", freshness.MarkerKey, tt.marker))

			c := freshness.NewChecker(stubUpstream{ts: tt.upstream}, store, "bucket", nil)
			d, err := c.ShouldPublish(ctx)
			require.NoError(t, err)
			require.Equal(t, tt.want, d.Publish)
			require.NoError(t, d.MarkerErr)
		})
	}
}

func TestShouldPublishMissingMarker(t *testing.T) {
	c := freshness.NewChecker(stubUpstream{ts: "1970-01-01T00:00:01.000000Z"}, blobstore.NewMemory(), "bucket", nil)
	d, err := c.ShouldPublish(context.Background())
	require.NoError(t, err)
	require.True(t, d.Publish)
	require.ErrorIs(t, d.MarkerErr, blobstore.ErrNotFound)
	require.Equal(t, freshness.Epoch, d.Marker)
}

func TestShouldPublishUnreadableMarker(t *testing.T) {
	c := freshness.NewChecker(stubUpstream{ts: "2021-06-01T00:00:00.000000Z"}, failingStore{}, "bucket", nil)
	d, err := c.ShouldPublish(context.Background())
	require.NoError(t, err)
	require.True(t, d.Publish)
	require.Error(t, d.MarkerErr)
}

func TestShouldPublishCorruptMarker(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemory()
	require.NoError(t, store.Write(ctx, "bucket", freshness.MarkerKey, "garbage"))

	c := freshness.NewChecker(stubUpstream{ts: "2021-06-01T00:00:00.000000Z"}, store, "bucket", nil)
	d, err := c.ShouldPublish(ctx)
	require.NoError(t, err)
	require.True(t, d.Publish)
	require.Error(t, d.MarkerErr)
}

func TestShouldPublishUpstreamErrorPropagates(t *testing.T) {
	c := freshness.NewChecker(stubUpstream{err: errors.New("dns failure")}, blobstore.NewMemory(), "bucket", nil)
	_, err := c.ShouldPublish(context.Background())
	require.Error(t, err)

	c = freshness.NewChecker(stubUpstream{ts: "yesterday"}, blobstore.NewMemory(), "bucket", nil)
	_, err = c.ShouldPublish(context.Background())
	require.Error(t, err)
}

func TestShouldPublishDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemory()
	c := freshness.NewChecker(stubUpstream{ts: "2021-06-01T00:00:00.000000Z"}, store, "bucket", nil)

	_, err := c.ShouldPublish(ctx)
	require.NoError(t, err)

	_, err = store.Read(ctx, "bucket", freshness.MarkerKey)
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestMarkerRoundTrip(t *testing.T) {
	ts := time.Date(2021, 6, 1, 15, 4, 5, 0, time.UTC)
	raw := freshness.FormatMarker(ts)
	require.Equal(t, "2021-06-01 15:04:05", raw)

	parsed, err := freshness.ParseMarker(raw)
	require.NoError(t, err)
	require.True(t, ts.Equal(parsed))

	withFraction, err := freshness.ParseMarker("2021-06-01 15:04:05.250000")
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, withFraction.Sub(ts))

	epoch, err := freshness.ParseMarker("1970-01-01 00:00:00")
	require.NoError(t, err)
	require.True(t, freshness.Epoch.Equal(epoch))
}

func TestWriteMarker(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemory()
	c := freshness.NewChecker(stubUpstream{}, store, "bucket", nil)

	require.NoError(t, c.WriteMarker(ctx, time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)))
	got, err := store.Read(ctx, "bucket", freshness.MarkerKey)
	require.NoError(t, err)
	require.Equal(t, "2021-06-01 00:00:00", got)

	c = freshness.NewChecker(stubUpstream{}, failingStore{}, "bucket", nil)
	require.Error(t, c.WriteMarker(ctx, time.Now()))
}

func TestWrittenMarkerStopsRepublishing(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
		marker   string
	}{
		{name: "whole seconds", upstream: "2021-06-01T00:00:00.000000Z", marker: "2021-06-01 00:00:00"},
		{name: "half second", upstream: "2021-06-01T00:00:00.500000Z", marker: "2021-06-01 00:00:00.5"},
		{name: "microseconds", upstream: "2021-06-01T08:30:00.000123Z", marker: "2021-06-01 08:30:00.000123"},
		{name: "nanoseconds", upstream: "2021-06-01T08:30:00.123456789Z", marker: "2021-06-01 08:30:00.123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewMemory()
			c := freshness.NewChecker(stubUpstream{ts: tt.upstream}, store, "bucket", nil)

			d, err := c.ShouldPublish(ctx)
			require.NoError(t, err)
			require.True(t, d.Publish)

			ts, err := c.UpstreamTime(ctx)
			require.NoError(t, err)
			require.NoError(t, c.WriteMarker(ctx, ts))

			raw, err := store.Read(ctx, "bucket", freshness.MarkerKey)
			require.NoError(t, err)
			require.Equal(t, tt.marker, raw)

			d, err = c.ShouldPublish(ctx)
			require.NoError(t, err)
			require.False(t, d.Publish)
			require.True(t, d.Marker.Equal(d.Upstream))
		})
	}
}
