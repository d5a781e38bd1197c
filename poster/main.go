package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/DeafMist/child-deaths-bot/internal/bootstrap"
	"github.com/DeafMist/child-deaths-bot/internal/config"
	"github.com/DeafMist/child-deaths-bot/internal/dedupe"
	"github.com/DeafMist/child-deaths-bot/internal/logger"
	"github.com/DeafMist/child-deaths-bot/internal/run"
)

type runner interface {
	Run(ctx context.Context) (run.Outcome, error)
}

type response struct {
	RunID       string   `json:"run_id,omitempty"`
	Published   bool     `json:"published"`
	Duplicate   bool     `json:"duplicate,omitempty"`
	FailedPosts []string `json:"failed_posts,omitempty"`
	MarkerSaved bool     `json:"marker_saved"`
}

type handler struct {
	runner runner
	guard  *dedupe.Guard
	log    *slog.Logger
}

func main() {
	log := logger.New("poster")
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Error("load .env", slog.Any("err", err))
		os.Exit(1)
	}
	cfg, err := config.LoadPoster()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pipeline, err := bootstrap.New(ctx, cfg, nil, log)
	if err != nil {
		log.Error("init pipeline", slog.Any("err", err))
		os.Exit(1)
	}

	h := &handler{
		runner: pipeline.Runner,
		guard:  dedupe.NewGuard(cfg.DedupeCapacity, cfg.DedupeTTL),
		log:    log,
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		log.Info("starting lambda handler")
		lambda.Start(h.Handle)
		return
	}

	_, err = h.Handle(ctx, nil)
	if cerr := pipeline.Close(); cerr != nil {
		log.Warn("close pipeline", slog.Any("err", cerr))
	}
	if err != nil {
		log.Error("run failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// Handle runs the pipeline once per distinct event.
func (h *handler) Handle(ctx context.Context, event json.RawMessage) (response, error) {
	id := eventID(event)
	if !h.guard.Claim(id) {
		h.log.Info("duplicate trigger ignored", slog.String("event_id", id))
		return response{Duplicate: true}, nil
	}

	out, err := h.runner.Run(ctx)
	if err != nil {
		// Let a redelivery of the same event try again.
		h.guard.Release(id)
		return response{RunID: out.RunID}, err
	}

	resp := response{
		RunID:       out.RunID,
		Published:   out.Published,
		MarkerSaved: out.MarkerWritten,
	}
	for _, p := range out.Report.Failed() {
		resp.FailedPosts = append(resp.FailedPosts, p.Platform)
	}
	return resp, nil
}

// eventID extracts the "id" field scheduled and API Gateway events carry.
// Anything else, including a missing or malformed payload, yields "".
func eventID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var ev struct {
		ID             string `json:"id"`
		RequestContext struct {
			RequestID string `json:"requestId"`
		} `json:"requestContext"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ""
	}
	if id := strings.TrimSpace(ev.ID); id != "" {
		return id
	}
	return strings.TrimSpace(ev.RequestContext.RequestID)
}
