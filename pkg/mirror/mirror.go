// Package mirror fetches repository files databases and package archives
// from an Arch-style mirror.
package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cperrin88/archdex/pkg/errors"
)

const (
	// DefaultArch is the architecture directory used when none is configured.
	DefaultArch = "x86_64"

	filesDatabaseSuffix = ".files.tar.gz"
)

// Client streams files from one mirror.
type Client struct {
	base      *url.URL
	arch      string
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewClient creates a client for the mirror at baseURL. timeout bounds the
// wait for response headers on every request and the whole download of a
// package archive. The files database body is read for as long as the
// repository takes to index, so only its context bounds it. A zero timeout
// leaves requests unbounded apart from their context.
func NewClient(baseURL, arch string, timeout time.Duration, userAgent string) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid mirror URL %q", baseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid mirror URL %q: scheme must be http or https", baseURL)
	}
	if arch == "" {
		arch = DefaultArch
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}
	return &Client{
		base:      base,
		arch:      arch,
		client:    &http.Client{Transport: transport},
		timeout:   timeout,
		userAgent: userAgent,
	}, nil
}

// DatabaseName returns the file name of a repository's files database.
func DatabaseName(repo string) string {
	return repo + filesDatabaseSuffix
}

// URL returns the location of filename inside repo:
// <base>/<repo>/os/<arch>/<filename>.
func (c *Client) URL(repo, filename string) (string, error) {
	u := *c.base
	var err error
	u.Path, err = url.JoinPath(c.base.Path, repo, "os", c.arch, filename)
	if err != nil {
		return "", errors.Wrap(err, "failed to build mirror URL")
	}
	return u.String(), nil
}

// OpenDatabase opens the files database of repo. The caller closes the body.
func (c *Client) OpenDatabase(ctx context.Context, repo string) (io.ReadCloser, error) {
	return c.open(ctx, repo, DatabaseName(repo))
}

// OpenPackage opens the archive filename of repo. The caller closes the body.
// Reading it fails once the client timeout has passed since the request.
func (c *Client) OpenPackage(ctx context.Context, repo, filename string) (io.ReadCloser, error) {
	if c.timeout <= 0 {
		return c.open(ctx, repo, filename)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	body, err := c.open(ctx, repo, filename)
	if err != nil {
		cancel()
		return nil, err
	}
	return &boundedBody{ReadCloser: body, cancel: cancel}, nil
}

// boundedBody releases the request deadline when the body is closed.
type boundedBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *boundedBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (c *Client) open(ctx context.Context, repo, filename string) (io.ReadCloser, error) {
	target, err := c.URL(repo, filename)
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(ctx, target)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) doRequest(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrFetchFailed, target, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: unexpected status code: %d", errors.ErrFetchFailed, target, resp.StatusCode)
	}
	return resp, nil
}
