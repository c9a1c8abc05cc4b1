package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"impactkit/core"
)

// Sink posts notification events to configured HTTP endpoints and implements
// engine.Notifier. Delivery is at-least-once per attempt budget; a receiver
// may see duplicates after a timeout.
type Sink struct {
	client       *http.Client
	endpoints    []string
	maxRetries   uint64
	initialDelay time.Duration
	logger       *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithMaxRetries bounds retries per endpoint after the first attempt.
func WithMaxRetries(n int) Option {
	return func(s *Sink) {
		if n >= 0 {
			s.maxRetries = uint64(n)
		}
	}
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.initialDelay = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client:       &http.Client{Timeout: 2 * time.Second},
		maxRetries:   3,
		initialDelay: 200 * time.Millisecond,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Notify posts the event JSON to every endpoint and joins the failures.
func (s *Sink) Notify(ctx context.Context, e core.Event) error {
	if len(s.endpoints) == 0 {
		return nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	var errs []error
	for _, ep := range s.endpoints {
		if err := s.deliver(ctx, ep, body, e); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", ep, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) deliver(ctx context.Context, endpoint string, body []byte, e core.Event) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Impactkit-Event", string(e.Type))
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		switch {
		case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialDelay
	return backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx),
		func(err error, d time.Duration) {
			s.logger.WarnContext(ctx, "webhook attempt failed",
				"endpoint", endpoint, "event", e.Type, "user_id", e.UserID, "error", err, "backoff", d)
		},
	)
}
