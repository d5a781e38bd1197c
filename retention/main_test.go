package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/child-deaths-bot/internal/config"
	"github.com/DeafMist/child-deaths-bot/internal/logger"
)

type stubPruner struct {
	pingErrs []error
	pings    int
	deleted  int64
	err      error
	maxAge   time.Duration
	batch    int
}

func (s *stubPruner) Ping(context.Context) error {
	defer func() { s.pings++ }()
	if s.pings < len(s.pingErrs) {
		return s.pingErrs[s.pings]
	}
	return nil
}

func (s *stubPruner) DeleteOlderThan(_ context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	s.maxAge, s.batch = maxAge, batchSize
	return s.deleted, s.err
}

func TestWaitReadyRetries(t *testing.T) {
	p := &stubPruner{pingErrs: []error{errors.New("refused"), errors.New("refused")}}
	require.NoError(t, waitReady(context.Background(), logger.Discard(), p, 5, time.Millisecond))
	require.Equal(t, 3, p.pings)
}

func TestWaitReadyGivesUp(t *testing.T) {
	down := errors.New("refused")
	p := &stubPruner{pingErrs: []error{down, down, down}}
	err := waitReady(context.Background(), logger.Discard(), p, 3, time.Millisecond)
	require.ErrorIs(t, err, down)
	require.Equal(t, 3, p.pings)
}

func TestWaitReadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &stubPruner{pingErrs: []error{errors.New("refused")}}
	require.ErrorIs(t, waitReady(ctx, logger.Discard(), p, 3, time.Hour), context.Canceled)
}

func TestRunOncePassesConfig(t *testing.T) {
	cfg := &config.Retention{MaxAge: 720 * time.Hour, BatchSize: 50}

	p := &stubPruner{deleted: 4}
	require.Equal(t, int64(4), runOnce(context.Background(), logger.Discard(), p, cfg))
	require.Equal(t, 720*time.Hour, p.maxAge)
	require.Equal(t, 50, p.batch)

	p = &stubPruner{err: errors.New("timeout")}
	require.Zero(t, runOnce(context.Background(), logger.Discard(), p, cfg))
}
