package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"impactkit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the impactkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
	maxRetries uint64
	retryWait  time.Duration
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
		maxRetries: 2,
		retryWait:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// WithRetry sets how often temporary failures (503, 429) are retried and
// the first backoff interval. Zero retries disables retrying.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if initial > 0 {
			c.retryWait = initial
		}
	}
}

// RegisterUser creates a user with no points at the citizen level.
func (c *Client) RegisterUser(ctx context.Context, userID string) (core.User, error) {
	if strings.TrimSpace(userID) == "" {
		return core.User{}, ErrEmptyUserID
	}
	var u core.User
	err := c.do(ctx, http.MethodPost, "/users", map[string]string{"user_id": userID}, &u)
	return u, err
}

// RecordAction reports one action and returns the points, level and badges
// it produced. A 503 means nothing was applied, so it is retried.
func (c *Client) RecordAction(ctx context.Context, userID string, req ActionRequest) (core.ActionResult, error) {
	if strings.TrimSpace(userID) == "" {
		return core.ActionResult{}, ErrEmptyUserID
	}
	var res core.ActionResult
	err := c.do(ctx, http.MethodPost, userPath(userID, "actions"), req, &res)
	return res, err
}

// Quote previews the award for action without recording it.
func (c *Client) Quote(ctx context.Context, userID, action string, reward int64) (Quote, error) {
	if strings.TrimSpace(userID) == "" {
		return Quote{}, ErrEmptyUserID
	}
	q := url.Values{"action": {action}}
	if reward > 0 {
		q.Set("reward", strconv.FormatInt(reward, 10))
	}
	var out Quote
	err := c.do(ctx, http.MethodGet, userPath(userID, "quote")+"?"+q.Encode(), nil, &out)
	return out, err
}

// GetProfile fetches the user with level progress and streaks.
func (c *Client) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return Profile{}, ErrEmptyUserID
	}
	var p Profile
	err := c.do(ctx, http.MethodGet, userPath(userID, ""), nil, &p)
	return p, err
}

func (c *Client) Streaks(ctx context.Context, userID string) ([]core.StreakStatus, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	var body struct {
		Streaks []core.StreakStatus `json:"streaks"`
	}
	err := c.do(ctx, http.MethodGet, userPath(userID, "streaks"), nil, &body)
	return body.Streaks, err
}

func (c *Client) Progress(ctx context.Context, userID string) (core.LevelProgress, error) {
	if strings.TrimSpace(userID) == "" {
		return core.LevelProgress{}, ErrEmptyUserID
	}
	var p core.LevelProgress
	err := c.do(ctx, http.MethodGet, userPath(userID, "progress"), nil, &p)
	return p, err
}

// Activity lists logged actions, optionally limited to kinds and a time window.
func (c *Client) Activity(ctx context.Context, userID string, kinds []string, from, to time.Time) ([]core.ActivityEvent, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	q := url.Values{}
	for _, k := range kinds {
		q.Add("kind", k)
	}
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(time.RFC3339))
	}
	path := userPath(userID, "activity")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var body struct {
		Events []core.ActivityEvent `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &body)
	return body.Events, err
}

// Badges lists the server's badge catalog.
func (c *Client) Badges(ctx context.Context) ([]core.BadgeDefinition, error) {
	var body struct {
		Badges []core.BadgeDefinition `json:"badges"`
	}
	err := c.do(ctx, http.MethodGet, "/badges", nil, &body)
	return body.Badges, err
}

// Leaderboard returns the top limit users by points.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	path := "/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var body struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &body)
	return body.Entries, err
}

// Health calls /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &hs)
	var ae *APIError
	if errors.As(err, &ae) && ae.StatusCode == http.StatusServiceUnavailable {
		return HealthStatus{Status: "unhealthy"}, err
	}
	return hs, err
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// A non-empty userID limits the stream to that user's events.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if userID != "" {
		target += "?user=" + url.QueryEscape(userID)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

// do sends one JSON request, retrying temporary API failures with
// exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	op := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.applyHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		err = decodeJSON(resp, out)
		var ae *APIError
		if errors.As(err, &ae) && ae.Temporary() {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryWait
	eb.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx))
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func userPath(userID, sub string) string {
	p := "/users/" + url.PathEscape(userID)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
