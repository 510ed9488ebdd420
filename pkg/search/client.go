// Package search submits documents to a Meilisearch-compatible index.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cperrin88/archdex/internal/logger"
	"github.com/cperrin88/archdex/pkg/errors"
	"golang.org/x/time/rate"
)

// Index names written by archdex.
const (
	IndexPackages = "packages"
	IndexServices = "services"
	IndexTimers   = "timers"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 4 << 10

// Options configure a Client.
type Options struct {
	URL string
	Key string
	// RequestsPerSecond paces submissions. Zero or less means unlimited.
	RequestsPerSecond float64
	Timeout           time.Duration
	UserAgent         string
}

// Task is the acknowledgement returned for an accepted submission.
type Task struct {
	TaskUID  int64  `json:"taskUid"`
	IndexUID string `json:"indexUid"`
	Status   string `json:"status"`
	Type     string `json:"type"`
}

// Client posts documents to the index. It is safe for concurrent use.
type Client struct {
	base       *url.URL
	key        string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client from opts.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid search URL %q", opts.URL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid search URL %q: scheme must be http or https", opts.URL)
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}

	return &Client{
		base:       base,
		key:        opts.Key,
		userAgent:  opts.UserAgent,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

// Put adds one document to index. The document is sent as a
// one-element array.
func (c *Client) Put(ctx context.Context, index string, doc any) error {
	body, err := json.Marshal([]any{doc})
	if err != nil {
		return errors.Wrapf(err, "failed to encode document for %s", index)
	}
	return c.post(ctx, index, body)
}

// PutBatch adds docs to index in one request. docs must encode to a JSON
// array.
func (c *Client) PutBatch(ctx context.Context, index string, docs any) error {
	body, err := json.Marshal(docs)
	if err != nil {
		return errors.Wrapf(err, "failed to encode documents for %s", index)
	}
	if len(body) == 0 || body[0] != '[' {
		return fmt.Errorf("documents for %s must encode to a JSON array", index)
	}
	return c.post(ctx, index, body)
}

func (c *Client) documentsURL(index string) (string, error) {
	u := *c.base
	var err error
	u.Path, err = url.JoinPath(c.base.Path, "indexes", index, "documents")
	if err != nil {
		return "", errors.Wrap(err, "failed to build search URL")
	}
	return u.String(), nil
}

func (c *Client) post(ctx context.Context, index string, body []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", errors.ErrSubmitFailed, err)
	}

	target, err := c.documentsURL(index)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrSubmitFailed, index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s: unexpected status code: %d: %s",
			errors.ErrSubmitFailed, index, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var task Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err == nil {
		logger.Debug("documents enqueued", logger.Fields{
			"index":  index,
			"task":   task.TaskUID,
			"status": task.Status,
		})
	}
	return nil
}
