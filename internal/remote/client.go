// Package remote is the client side of the venue protocol: submitting
// invocations and reconciling a local job mirror with the venue's
// authoritative record.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"venue/internal/apperrors"
	"venue/internal/job"
	"venue/pkg/circuitbreaker"
)

// Poll defaults.
const (
	DefaultPollInitial  = 300 * time.Millisecond
	DefaultPollFactor   = 1.5
	DefaultFetchTimeout = 10 * time.Second
)

// maxResponseSize bounds decoded response bodies.
const maxResponseSize = 8 << 20

// MetricsRecorder is an optional interface for recording poll outcomes.
type MetricsRecorder interface {
	RecordRemotePoll(ctx context.Context, venue, outcome string)
}

// Config configures a Client.
type Config struct {
	URL    string
	APIKey string
	// Name labels the venue in logs and metrics.
	Name string

	PollInitial  time.Duration
	PollFactor   float64
	PollMax      time.Duration // 0 = uncapped
	FetchTimeout time.Duration

	HTTPClient *http.Client
	Breaker    circuitbreaker.Config
	Metrics    MetricsRecorder
}

// Client talks to one venue.
type Client struct {
	base    string
	apiKey  string
	name    string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	metrics MetricsRecorder

	pollInitial  time.Duration
	pollFactor   float64
	pollMax      time.Duration
	fetchTimeout time.Duration

	// sleep waits between polls; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.Validationf("url", "venue URL must be an absolute http(s) URL, got %q", cfg.URL)
	}
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = DefaultPollInitial
	}
	if cfg.PollFactor < 1 {
		cfg.PollFactor = DefaultPollFactor
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Name == "" {
		cfg.Name = u.Host
	}
	return &Client{
		base:         strings.TrimRight(u.String(), "/"),
		apiKey:       cfg.APIKey,
		name:         cfg.Name,
		http:         cfg.HTTPClient,
		breaker:      circuitbreaker.New(cfg.Breaker),
		metrics:      cfg.Metrics,
		pollInitial:  cfg.PollInitial,
		pollFactor:   cfg.PollFactor,
		pollMax:      cfg.PollMax,
		fetchTimeout: cfg.FetchTimeout,
		sleep:        sleepContext,
	}, nil
}

// Name returns the venue label.
func (c *Client) Name() string { return c.name }

type invokeRequest struct {
	Operation string `json:"operation"`
	Input     any    `json:"input"`
}

// Submit invokes opRef on the venue and returns a local mirror of the new
// job, seeded with the record the venue returned.
func (c *Client) Submit(ctx context.Context, opRef string, input any) (*job.Job, error) {
	rec, err := c.submit(ctx, opRef, input)
	if err != nil {
		return nil, err
	}
	return job.New(rec, job.Hooks{}), nil
}

func (c *Client) submit(ctx context.Context, opRef string, input any) (job.Record, error) {
	var rec job.Record
	err := c.do(ctx, http.MethodPost, "/v1/invoke", invokeRequest{Operation: opRef, Input: input}, &rec)
	if err != nil {
		return job.Record{}, fmt.Errorf("submit %s: %w", opRef, err)
	}
	if rec.ID == "" {
		return job.Record{}, fmt.Errorf("submit %s: venue returned a record without an id", opRef)
	}
	return rec, nil
}

// Fetch returns the venue's current record for id, or ErrJobNotFound.
func (c *Client) Fetch(ctx context.Context, id string) (job.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	var rec job.Record
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, &rec); err != nil {
		return job.Record{}, err
	}
	return rec, nil
}

// Cancel asks the venue to cancel a job and returns the resulting record.
func (c *Client) Cancel(ctx context.Context, id string) (job.Record, error) {
	var rec job.Record
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, &rec); err != nil {
		return job.Record{}, err
	}
	return rec, nil
}

// Ping checks the venue's liveness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/livez", nil, nil)
}

// Invoke submits opRef, waits for the job to finish and returns its output.
func (c *Client) Invoke(ctx context.Context, opRef string, input any) (any, error) {
	j, err := c.Submit(ctx, opRef, input)
	if err != nil {
		return nil, err
	}
	if err := c.Sync(ctx, j); err != nil {
		return nil, err
	}
	return j.Output()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseSize)
	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/v1/jobs/") {
		return ErrJobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(limited).Decode(&payload)
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isNotFound(err error) bool { return errors.Is(err, ErrJobNotFound) }
