// Package elasticsearch archives publication records.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/child-deaths-bot/internal/logger"
	"github.com/DeafMist/child-deaths-bot/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Mapping is the index layout for models.Publication. Posts are nested so a
// platform filter and an error filter apply to the same post.
var Mapping = map[string]any{
	"mappings": map[string]any{
		"dynamic": "strict",
		"properties": map[string]any{
			"id":               map[string]any{"type": "keyword"},
			"run_id":           map[string]any{"type": "keyword"},
			"published_at":     map[string]any{"type": "date"},
			"data_updated_at":  map[string]any{"type": "date"},
			"latest_date":      map[string]any{"type": "date", "format": "yyyy-MM-dd"},
			"cumulative_total": map[string]any{"type": "integer"},
			"months": map[string]any{
				"properties": map[string]any{
					"month":        map[string]any{"type": "date"},
					"child_deaths": map[string]any{"type": "integer"},
				},
			},
			"posts": map[string]any{
				"type": "nested",
				"properties": map[string]any{
					"platform": map[string]any{"type": "keyword"},
					"post_id":  map[string]any{"type": "keyword"},
					"error":    map[string]any{"type": "text"},
				},
			},
		},
	},
}

// Client archives publications in one Elasticsearch index.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// ListParams narrow the publication listing.
type ListParams struct {
	// Platform keeps publications with a post on that platform.
	Platform string
	// Failed keeps publications with a failed post (on Platform, when set).
	Failed bool
	From   int
	Size   int
	Start  *time.Time
	End    *time.Time
}

// ListResult bundles hits and total count.
type ListResult struct {
	Total int64                `json:"total"`
	Items []models.Publication `json:"items"`
}

// New builds a client for the archive index. It does not contact the cluster.
func New(addr, index string, log *slog.Logger) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{es: es, index: index, log: log}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	return decode(res, "ping", nil)
}

// EnsureIndex creates the archive index with Mapping unless it exists.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", c.index, err)
	}
	res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index %s: %s", c.index, res.Status())
	}

	body, err := json.Marshal(Mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", c.index, err)
	}
	if err := decode(res, "create index", nil); err != nil {
		return err
	}
	c.log.Info("archive index created", slog.String("index", c.index))
	return nil
}

// IndexPublication stores doc under its ID, replacing an earlier copy.
func (c *Client) IndexPublication(ctx context.Context, doc models.Publication) error {
	if doc.ID == "" {
		return fmt.Errorf("index publication: empty id")
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal publication: %w", err)
	}

	res, err := c.es.Index(c.index, bytes.NewReader(payload),
		c.es.Index.WithContext(ctx),
		c.es.Index.WithDocumentID(doc.ID),
	)
	if err != nil {
		return fmt.Errorf("index publication: %w", err)
	}
	if err := decode(res, "index publication", nil); err != nil {
		return err
	}

	c.log.Debug("publication archived",
		slog.String("id", doc.ID),
		slog.Int("posts", len(doc.Posts)),
	)
	return nil
}

// ListQuery builds the search body for params, newest publication first.
func ListQuery(params ListParams) map[string]any {
	size := params.Size
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}

	var filters []map[string]any
	if post := postFilter(params.Platform, params.Failed); post != nil {
		filters = append(filters, post)
	}
	if window := publishedWindow(params.Start, params.End); window != nil {
		filters = append(filters, window)
	}

	boolQuery := map[string]any{"filter": filters}
	if len(filters) == 0 {
		boolQuery = map[string]any{"must": []map[string]any{{"match_all": map[string]any{}}}}
	}

	return map[string]any{
		"from":             max(params.From, 0),
		"size":             size,
		"track_total_hits": true,
		"query":            map[string]any{"bool": boolQuery},
		"sort": []map[string]any{
			{"published_at": map[string]any{"order": "desc"}},
		},
	}
}

// postFilter matches publications having one post that satisfies both conditions.
func postFilter(platform string, failed bool) map[string]any {
	var must []map[string]any
	if platform != "" {
		must = append(must, map[string]any{"term": map[string]any{"posts.platform": platform}})
	}
	if failed {
		must = append(must, map[string]any{"exists": map[string]any{"field": "posts.error"}})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{
		"nested": map[string]any{
			"path":  "posts",
			"query": map[string]any{"bool": map[string]any{"must": must}},
		},
	}
}

func publishedWindow(start, end *time.Time) map[string]any {
	if start == nil && end == nil {
		return nil
	}
	bounds := map[string]any{}
	if start != nil {
		bounds["gte"] = start.UTC().Format(time.RFC3339)
	}
	if end != nil {
		bounds["lte"] = end.UTC().Format(time.RFC3339)
	}
	return map[string]any{"range": map[string]any{"published_at": bounds}}
}

// ListPublications returns archived publications matching params.
func (c *Client) ListPublications(ctx context.Context, params ListParams) (*ListResult, error) {
	payload, err := json.Marshal(ListQuery(params))
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search publications: %w", err)
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.Publication `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := decode(res, "search publications", &parsed); err != nil {
		return nil, err
	}

	out := &ListResult{
		Total: parsed.Hits.Total.Value,
		Items: make([]models.Publication, 0, len(parsed.Hits.Hits)),
	}
	for _, hit := range parsed.Hits.Hits {
		out.Items = append(out.Items, hit.Source)
	}
	return out, nil
}

// DeleteOlderThan removes publications published more than maxAge ago, in
// batches of batchSize, until a batch comes back short.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	cutoff := time.Now().Add(-maxAge).UTC()

	var total int64
	for {
		deleted, err := c.deleteBatch(ctx, cutoff, batchSize)
		total += deleted
		if err != nil {
			return total, err
		}
		if deleted < int64(batchSize) {
			return total, nil
		}
	}
}

func (c *Client) deleteBatch(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	payload, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"range": map[string]any{
				"published_at": map[string]any{"lt": cutoff.Format(time.RFC3339)},
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal delete body: %w", err)
	}

	res, err := c.es.DeleteByQuery([]string{c.index}, bytes.NewReader(payload),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithWaitForCompletion(true),
		c.es.DeleteByQuery.WithConflicts("proceed"),
		c.es.DeleteByQuery.WithMaxDocs(batchSize),
	)
	if err != nil {
		return 0, fmt.Errorf("delete old publications: %w", err)
	}

	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := decode(res, "delete old publications", &parsed); err != nil {
		return 0, err
	}
	return parsed.Deleted, nil
}

// Health fails when the cluster is unreachable or red.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("cluster health: %w", err)
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := decode(res, "cluster health", &parsed); err != nil {
		return err
	}
	if parsed.Status == "red" {
		return fmt.Errorf("cluster health: status red")
	}
	return nil
}

// decode closes res, turning an error status into an error carrying the body
// and otherwise decoding the body into out when out is non-nil.
func decode(res *esapi.Response, op string, out any) error {
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("%s: %s: %s", op, res.Status(), strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
