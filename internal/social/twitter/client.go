// Package twitter posts a status with one image through the v1.1 API.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dghubble/oauth1"

	"github.com/DeafMist/child-deaths-bot/internal/logger"
	"github.com/DeafMist/child-deaths-bot/internal/social"
)

// Platform names this client in logs and results.
const Platform = "twitter"

const (
	DefaultAPIURL    = "https://api.twitter.com/1.1"
	DefaultUploadURL = "https://upload.twitter.com/1.1"
)

// Credentials are the four OAuth1 values.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// Client signs every request with OAuth1.
type Client struct {
	http      *http.Client
	apiURL    string
	uploadURL string
	log       *slog.Logger
}

// Option adjusts a Client.
type Option func(*Client)

// WithAPIURL overrides the REST base URL.
func WithAPIURL(u string) Option { return func(c *Client) { c.apiURL = strings.TrimRight(u, "/") } }

// WithUploadURL overrides the media upload base URL.
func WithUploadURL(u string) Option { return func(c *Client) { c.uploadURL = strings.TrimRight(u, "/") } }

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(c *Client) { c.log = log } }

// New returns a client authenticated with creds. base, when non-nil, is the
// HTTP client the OAuth1 transport wraps.
func New(creds Credentials, base *http.Client, opts ...Option) *Client {
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth1.HTTPClient, base)
	}
	cfg := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)

	c := &Client{
		http:      cfg.Client(ctx, token),
		apiURL:    DefaultAPIURL,
		uploadURL: DefaultUploadURL,
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements publish.Poster.
func (c *Client) Name() string { return Platform }

// Post verifies credentials, uploads the image and sends the status.
// A failed credential check is logged only; the upload decides.
func (c *Client) Post(ctx context.Context, text, mediaPath string) (string, error) {
	if err := c.VerifyCredentials(ctx); err != nil {
		c.log.Warn("twitter credential check failed", slog.Any("err", err))
	}

	mediaID, err := c.UploadMedia(ctx, mediaPath)
	if err != nil {
		return "", err
	}
	return c.UpdateStatus(ctx, text, mediaID)
}

// VerifyCredentials calls account/verify_credentials.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/account/verify_credentials.json", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	defer resp.Body.Close()
	return social.CheckResponse(Platform, "verify credentials", resp)
}

// UploadMedia uploads the file and returns its media_id_string.
func (c *Client) UploadMedia(ctx context.Context, path string) (string, error) {
	body, contentType, err := social.MultipartFile(social.FilePart{Field: "media", Path: path})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL+"/media/upload.json", body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	defer resp.Body.Close()
	if err := social.CheckResponse(Platform, "upload media", resp); err != nil {
		return "", err
	}

	var parsed struct {
		MediaID       int64  `json:"media_id"`
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode media upload: %w", err)
	}
	if parsed.MediaIDString == "" && parsed.MediaID != 0 {
		parsed.MediaIDString = fmt.Sprintf("%d", parsed.MediaID)
	}
	if parsed.MediaIDString == "" {
		return "", fmt.Errorf("upload media: response has no media id")
	}
	return parsed.MediaIDString, nil
}

// UpdateStatus posts text with the uploaded media and returns the status id.
func (c *Client) UpdateStatus(ctx context.Context, text, mediaID string) (string, error) {
	form := url.Values{}
	form.Set("status", text)
	form.Set("media_ids", mediaID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/statuses/update.json", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("update status: %w", err)
	}
	defer resp.Body.Close()
	if err := social.CheckResponse(Platform, "update status", resp); err != nil {
		return "", err
	}

	var parsed struct {
		IDStr string `json:"id_str"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode status: %w", err)
	}
	c.log.Info("tweet sent", slog.String("id", parsed.IDStr))
	return parsed.IDStr, nil
}
