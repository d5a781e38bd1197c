// Package mastodon posts a status with one image to a Mastodon instance.
package mastodon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	gomastodon "github.com/mattn/go-mastodon"

	"github.com/DeafMist/child-deaths-bot/internal/logger"
)

// Platform names this client in logs and results.
const Platform = "mastodon"

// DefaultBaseURL is the instance the account lives on.
const DefaultBaseURL = "https://mastodon.social"

// Client authenticates with a bearer access token.
type Client struct {
	api *gomastodon.Client
	log *slog.Logger
}

// New returns a client for baseURL (DefaultBaseURL when empty). base, when
// non-nil, replaces the HTTP client requests go through.
func New(baseURL, token string, base *http.Client, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = logger.Discard()
	}

	api := gomastodon.NewClient(&gomastodon.Config{
		Server:      strings.TrimRight(baseURL, "/"),
		AccessToken: token,
	})
	if base != nil {
		api.Client = *base
	}
	return &Client{api: api, log: log}
}

// Name implements publish.Poster.
func (c *Client) Name() string { return Platform }

// Post uploads the image, described by the caption, and sends the status.
func (c *Client) Post(ctx context.Context, text, mediaPath string) (string, error) {
	mediaID, err := c.UploadMedia(ctx, mediaPath, text)
	if err != nil {
		return "", err
	}
	return c.PostStatus(ctx, text, mediaID)
}

// UploadMedia sends the file as a media attachment and returns its id.
func (c *Client) UploadMedia(ctx context.Context, path, description string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("read media %s: %w", path, err)
	}
	defer f.Close()

	att, err := c.api.UploadMediaFromMedia(ctx, &gomastodon.Media{File: f, Description: description})
	if err != nil {
		return "", fmt.Errorf("%s upload media: %w", Platform, err)
	}
	if att.ID == "" {
		return "", fmt.Errorf("%s upload media: response has no id", Platform)
	}
	c.log.Debug("media uploaded", slog.String("media_id", string(att.ID)))
	return string(att.ID), nil
}

// PostStatus creates a status referencing mediaID and returns its id.
func (c *Client) PostStatus(ctx context.Context, text, mediaID string) (string, error) {
	status, err := c.api.PostStatus(ctx, &gomastodon.Toot{
		Status:   text,
		MediaIDs: []gomastodon.ID{gomastodon.ID(mediaID)},
	})
	if err != nil {
		return "", fmt.Errorf("%s post status: %w", Platform, err)
	}
	c.log.Info("toot sent", slog.String("id", string(status.ID)))
	return string(status.ID), nil
}
