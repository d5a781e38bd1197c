package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/child-deaths-bot/internal/bootstrap"
	"github.com/DeafMist/child-deaths-bot/internal/config"
	"github.com/DeafMist/child-deaths-bot/internal/dedupe"
	"github.com/DeafMist/child-deaths-bot/internal/elasticsearch"
	"github.com/DeafMist/child-deaths-bot/internal/logger"
	"github.com/DeafMist/child-deaths-bot/internal/run"
)

type runner interface {
	Run(ctx context.Context) (run.Outcome, error)
}

type archive interface {
	Health(ctx context.Context) error
	ListPublications(ctx context.Context, params elasticsearch.ListParams) (*elasticsearch.ListResult, error)
}

func main() {
	log := logger.New("trigger")
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadTrigger()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pipeline, err := bootstrap.New(ctx, &cfg.Poster, nil, log)
	if err != nil {
		log.Error("init pipeline", slog.Any("err", err))
		os.Exit(1)
	}
	defer pipeline.Close()

	srv := &server{
		log:    log,
		cfg:    cfg,
		runner: pipeline.Runner,
		guard:  dedupe.NewGuard(cfg.DedupeCapacity, cfg.DedupeTTL),
	}
	if pipeline.Archive != nil {
		srv.archive = pipeline.Archive
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RunTimeout + 15*time.Second,
	}

	go func() {
		log.Info("trigger server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type server struct {
	log     *slog.Logger
	cfg     *config.Trigger
	runner  runner
	archive archive
	guard   *dedupe.Guard

	// running is held for the whole of one invocation.
	running sync.Mutex
}

type errorResponse struct {
	Error string `json:"error"`
}

type invokeResponse struct {
	RunID         string   `json:"run_id,omitempty"`
	Published     bool     `json:"published"`
	Duplicate     bool     `json:"duplicate,omitempty"`
	DataUpdatedAt string   `json:"data_updated_at,omitempty"`
	Total         int      `json:"cumulative_total,omitempty"`
	FailedPosts   []string `json:"failed_posts,omitempty"`
	MarkerSaved   bool     `json:"marker_saved"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/invoke", s.handleInvoke)
	r.Get("/publications", s.handleList)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.archive.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInvoke runs the pipeline. Overlapping invocations get 409.
func (s *server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if !s.guard.Claim(id) {
		writeJSON(w, http.StatusOK, invokeResponse{Duplicate: true})
		return
	}

	if !s.running.TryLock() {
		s.guard.Release(id)
		writeJSON(w, http.StatusConflict, errorResponse{Error: "a run is already in progress"})
		return
	}
	defer s.running.Unlock()

	// The run outlives a dropped client connection.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.RunTimeout)
	defer cancel()

	out, err := s.runner.Run(ctx)
	if err != nil {
		s.guard.Release(id)
		s.log.Error("run failed", slog.String("run_id", out.RunID), slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	resp := invokeResponse{
		RunID:       out.RunID,
		Published:   out.Published,
		Total:       out.Summary.CumulativeTotal,
		MarkerSaved: out.MarkerWritten,
	}
	if !out.Decision.Upstream.IsZero() {
		resp.DataUpdatedAt = out.Decision.Upstream.UTC().Format(time.RFC3339)
	}
	for _, p := range out.Report.Failed() {
		resp.FailedPosts = append(resp.FailedPosts, p.Platform)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "publication archive is not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := elasticsearch.ListParams{
		Platform: strings.TrimSpace(q.Get("platform")),
		Failed:   q.Get("failed") == "true",
		From:     clampInt(q.Get("from"), 0, 10_000),
		Size:     clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Start:    parseTime(q.Get("start")),
		End:      parseTime(q.Get("end")),
	}

	result, err := s.archive.ListPublications(ctx, params)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
