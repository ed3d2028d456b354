// Package storage provides the object store gateway and the render
// pipeline's local workspaces.
//
// The remote side speaks a Supabase-storage-style HTTP API: bucket
// creation, upserting object uploads, deterministic public URLs, and a
// post-upload availability probe that closes the race between upload
// acknowledgement and CDN visibility.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/reelgen/reelgen/internal/httpclient"
	"github.com/reelgen/reelgen/internal/provider"
)

const (
	defaultTimeout = 60 * time.Second

	// Upload retry schedule: linear 500ms, 1s, 1.5s between attempts.
	uploadAttempts    = 3
	uploadBackoffStep = 500 * time.Millisecond

	// Availability probe schedule: exponential from 200ms, capped at 2s,
	// bounded overall by the configured max wait.
	availabilityInitial     = 200 * time.Millisecond
	availabilityMax         = 2 * time.Second
	DefaultAvailabilityWait = 10 * time.Second
)

// Client talks to the object store.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	fetcher    *httpclient.Client
	logger     *slog.Logger
	maxWait    time.Duration
	uploadStep time.Duration
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient replaces the HTTP client used for uploads and probes.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAvailabilityWait bounds how long WaitForAvailability probes before
// giving up.
func WithAvailabilityWait(d time.Duration) Option {
	return func(c *Client) { c.maxWait = d }
}

// New creates an object store client for the given endpoint. The API key
// is sent as a bearer token on every mutating call.
func New(endpoint, apiKey string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("storage: endpoint is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("storage: api key is required")
	}

	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
		maxWait:    DefaultAvailabilityWait,
		uploadStep: uploadBackoffStep,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Downloads ride the shared resilient client; uploads and probes keep
	// their own schedules below and must not retry twice.
	fetchCfg := httpclient.DefaultConfig()
	fetchCfg.Logger = c.logger
	fetchCfg.BaseClient = c.httpClient
	c.fetcher = httpclient.New(fetchCfg)

	return c, nil
}

type createBucketRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Public bool   `json:"public"`
}

// EnsureBucket creates a public bucket if it does not already exist.
// A conflict response means the bucket is already there and is success.
func (c *Client) EnsureBucket(ctx context.Context, name string) error {
	const op = "storage.ensure_bucket"

	body, err := json.Marshal(createBucketRequest{ID: name, Name: name, Public: true})
	if err != nil {
		return provider.New(provider.KindUnknown, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/bucket", bytes.NewReader(body))
	if err != nil {
		return provider.New(provider.KindUnknown, op, err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already exists.
		return nil
	default:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return provider.FromHTTPStatus(op, resp.StatusCode, string(payload))
	}
}

// EnsureBuckets creates every pipeline bucket. Called once at service
// start.
func (c *Client) EnsureBuckets(ctx context.Context) error {
	for _, name := range Buckets() {
		if err := c.EnsureBucket(ctx, name); err != nil {
			return fmt.Errorf("ensuring bucket %s: %w", name, err)
		}
	}
	return nil
}

// Upload writes an object with overwrite semantics. Transient transport
// failures are retried up to three attempts on a linear schedule;
// exhaustion classifies as upload_failed.
func (c *Client) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	const op = "storage.upload"

	var lastErr error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * c.uploadStep
			c.logger.Warn("retrying upload",
				slog.String("bucket", bucket),
				slog.String("key", key),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return provider.Cancelled(op, lastErr)
			case <-time.After(delay):
			}
		}

		retriable, err := c.uploadOnce(ctx, bucket, key, data, contentType)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable {
			break
		}
	}
	return provider.UploadFailed(op, fmt.Errorf("uploading %s/%s: %w", bucket, key, lastErr))
}

// uploadOnce performs a single upsert POST. retriable reports whether
// the failure is worth another attempt.
func (c *Client) uploadOnce(ctx context.Context, bucket, key string, data []byte, contentType string) (retriable bool, err error) {
	uploadURL := fmt.Sprintf("%s/object/%s/%s", c.endpoint, bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	retriable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return retriable, statusErr
}

// PublicURL returns the deterministic public URL for an object.
func (c *Client) PublicURL(bucket, key string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", c.endpoint, bucket, key)
}

// Download fetches an object by its public URL. Failures classify as
// object_not_visible: the store should already be serving anything the
// pipeline asks for here.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	const op = "storage.download"

	resp, err := c.fetcher.Get(ctx, rawURL)
	if err != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return nil, provider.Timeout(op, err)
		case context.Canceled:
			return nil, provider.Cancelled(op, err)
		}
		return nil, provider.ObjectNotVisible(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ObjectNotVisible(op, fmt.Errorf("status %d for %s", resp.StatusCode, rawURL))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.ObjectNotVisible(op, fmt.Errorf("reading body: %w", err))
	}
	if len(data) == 0 {
		return nil, provider.ObjectNotVisible(op, fmt.Errorf("empty object at %s", rawURL))
	}
	return data, nil
}

// WaitForAvailability probes a public URL until it answers 200. Uploads
// are acknowledged before the CDN serves the object; downstream stages
// call this before recording the URL. Exhaustion classifies as
// object_not_visible.
func (c *Client) WaitForAvailability(ctx context.Context, rawURL string) error {
	const op = "storage.wait_for_availability"

	if _, err := url.Parse(rawURL); err != nil {
		return provider.New(provider.KindUnknown, op, err)
	}

	sched := backoff.NewExponentialBackOff()
	sched.InitialInterval = availabilityInitial
	sched.Multiplier = 2.0
	sched.RandomizationFactor = 0
	sched.MaxInterval = availabilityMax
	sched.MaxElapsedTime = c.maxWait
	sched.Reset()

	var lastStatus int
	probe := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp.Body.Close()
		lastStatus = resp.StatusCode
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := backoff.Retry(probe, backoff.WithContext(sched, ctx)); err != nil {
		if ctx.Err() != nil {
			return provider.Cancelled(op, err)
		}
		if lastStatus != 0 {
			return provider.ObjectNotVisible(op, fmt.Errorf("gave up after %v, last status %d for %s", c.maxWait, lastStatus, rawURL))
		}
		return provider.ObjectNotVisible(op, fmt.Errorf("gave up after %v probing %s: %w", c.maxWait, rawURL, err))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// classifyTransport maps transport-level errors onto the pipeline error
// taxonomy.
func classifyTransport(ctx context.Context, op string, err error) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return provider.Timeout(op, err)
	case context.Canceled:
		return provider.Cancelled(op, err)
	}
	return provider.Transient(op, err)
}
