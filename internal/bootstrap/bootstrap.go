// Package bootstrap builds a run.Runner from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/DeafMist/child-deaths-bot/internal/blobstore"
	"github.com/DeafMist/child-deaths-bot/internal/chart"
	"github.com/DeafMist/child-deaths-bot/internal/config"
	"github.com/DeafMist/child-deaths-bot/internal/coronavirus"
	"github.com/DeafMist/child-deaths-bot/internal/elasticsearch"
	"github.com/DeafMist/child-deaths-bot/internal/events"
	"github.com/DeafMist/child-deaths-bot/internal/freshness"
	"github.com/DeafMist/child-deaths-bot/internal/models"
	"github.com/DeafMist/child-deaths-bot/internal/publish"
	"github.com/DeafMist/child-deaths-bot/internal/run"
	"github.com/DeafMist/child-deaths-bot/internal/runreport"
	"github.com/DeafMist/child-deaths-bot/internal/social/mastodon"
	"github.com/DeafMist/child-deaths-bot/internal/social/twitter"
)

// Pipeline is a wired runner plus the resources it holds open.
type Pipeline struct {
	Runner *run.Runner
	// Archive is nil unless ELASTICSEARCH_ADDR is set.
	Archive *elasticsearch.Client

	closers []func() error
}

// Close releases the store and event writer.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New wires every collaborator named by cfg. Optional sections that are not
// configured are left out of the runner.
func New(ctx context.Context, cfg *config.Poster, httpClient *http.Client, log *slog.Logger) (*Pipeline, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	p := &Pipeline{}

	store, err := newStore(ctx, cfg.State, log)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(interface{ Close() error }); ok {
		p.closers = append(p.closers, c.Close)
	}

	upstream := coronavirus.New(cfg.UpstreamURL, httpClient, log)

	tw := twitter.New(twitter.Credentials{
		ConsumerKey:    cfg.Twitter.ConsumerKey,
		ConsumerSecret: cfg.Twitter.ConsumerSecret,
		AccessToken:    cfg.Twitter.AccessToken,
		AccessSecret:   cfg.Twitter.AccessSecret,
	}, httpClient,
		twitter.WithAPIURL(cfg.Twitter.APIURL),
		twitter.WithUploadURL(cfg.Twitter.UploadURL),
		twitter.WithLogger(log),
	)
	md := mastodon.New(cfg.Mastodon.BaseURL, cfg.Mastodon.Secret, httpClient, log)

	render := func(s models.Summary, path string) error {
		return chart.Render(s, path, chart.Options{})
	}

	p.Runner = &run.Runner{
		Checker:   freshness.NewChecker(upstream, store, cfg.State.Bucket, log),
		Records:   upstream,
		Publisher: publish.New(render, cfg.GraphFile, []publish.Poster{tw, md}, log),
		Log:       log,
	}

	if cfg.Archive.Enabled() {
		es, err := elasticsearch.New(cfg.Archive.ElasticsearchAddr, cfg.Archive.ElasticsearchIndex, log)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("init elasticsearch: %w", err)
		}
		indexCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := es.EnsureIndex(indexCtx); err != nil {
			log.Warn("archive index not ensured", slog.Any("err", err))
		}
		cancel()
		p.Archive = es
		p.Runner.Archive = es
	}

	if cfg.Events.Enabled() {
		emitter := events.New(events.NewWriter(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic), log)
		p.closers = append(p.closers, emitter.Close)
		p.Runner.Events = emitter
	}

	if cfg.MetricsTextfile != "" {
		path := cfg.MetricsTextfile
		p.Runner.Report = func(r runreport.Run) error {
			return runreport.WriteFile(path, r)
		}
	}

	log.Info("pipeline ready",
		slog.String("state_backend", cfg.State.Backend),
		slog.Bool("archive", p.Runner.Archive != nil),
		slog.Bool("events", p.Runner.Events != nil),
		slog.Bool("run_report", p.Runner.Report != nil),
	)
	return p, nil
}

func newStore(ctx context.Context, cfg config.State, log *slog.Logger) (blobstore.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		st, err := blobstore.NewRedis(pingCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		return st, nil
	default:
		st, err := blobstore.NewS3(ctx, blobstore.S3Config{
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			EndpointURL:     cfg.S3EndpointURL,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("init s3 store: %w", err)
		}
		return st, nil
	}
}
