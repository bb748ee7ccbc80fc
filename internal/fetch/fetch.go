// Package fetch retrieves one remote asset with a bounded timeout and size.
// There are no retries: a failed fetch is reported and the next scheduled
// run tries again.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-profile/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

const (
	DefaultTimeout  = 20 * time.Second
	DefaultMaxBytes = 10 << 20

	acceptHeader = "image/svg+xml,image/*;q=0.9,*/*;q=0.8"
)

// ErrTooLarge is returned when a payload exceeds the configured cap.
var ErrTooLarge = errors.New("payload exceeds size limit")

// StatusError is a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Result is what a successful fetch returns.
type Result struct {
	Body []byte
	// ContentType is the Content-Type header as sent, possibly empty
	ContentType string
	Status      int
	Duration    time.Duration
}

type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string

	// Limiter paces requests per host, nil disables pacing
	Limiter *ratelimit.HostLimiter

	// Transport defaults to http.DefaultTransport; it is always wrapped for tracing
	Transport http.RoundTripper
}

type Client struct {
	http      *http.Client
	timeout   time.Duration
	maxBytes  int64
	userAgent string
	limiter   *ratelimit.HostLimiter
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(base,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "fetch " + r.URL.Host
				}),
			),
		},
		timeout:   opts.Timeout,
		maxBytes:  opts.MaxBytes,
		userAgent: opts.UserAgent,
		limiter:   opts.Limiter,
	}
}

// Get fetches rawURL. Every error is tagged KindEntry.
func (c *Client) Get(ctx context.Context, rawURL string) (*Result, error) {
	res, err := c.get(ctx, rawURL)
	return res, xerrors.Tag(err, xerrors.KindEntry)
}

func (c *Client) get(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse url")
	}

	// pacing happens before the per-fetch timeout starts so waiting for a
	// token never eats into the request budget
	if err := c.limiter.Wait(ctx, u.Hostname()); err != nil {
		return nil, xerrors.Wrapf(err, "wait for %s rate limit", u.Hostname())
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", acceptHeader)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrapf(err, "GET %s timed out after %s", rawURL, c.timeout)
		}
		return nil, xerrors.Wrapf(err, "GET %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, xerrors.WithStack(&StatusError{URL: rawURL, Code: resp.StatusCode})
	}

	if resp.ContentLength > c.maxBytes {
		return nil, xerrors.Newf("GET %s: content-length %d: %w", rawURL, resp.ContentLength, ErrTooLarge)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read body of %s", rawURL)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, xerrors.Newf("GET %s: more than %d bytes: %w", rawURL, c.maxBytes, ErrTooLarge)
	}

	return &Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Status:      resp.StatusCode,
		Duration:    time.Since(start),
	}, nil
}
