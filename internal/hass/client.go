// Package hass provides an authenticated API client for one instance
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/avhall/hearth/internal/common"
	"github.com/avhall/hearth/internal/interfaces"
	"github.com/avhall/hearth/internal/models"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client performs authenticated HTTP calls against the instance a Connection
// is bound to. A 401 triggers a single-flight token refresh and exactly one
// retry of the failed request.
type Client struct {
	clientID   string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	store      interfaces.ConnectionStore
	now        func() time.Time

	mu   sync.Mutex // guards conn
	conn models.Connection

	refreshGroup singleflight.Group
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithStore sets the connection store used to persist rotated tokens
func WithStore(store interfaces.ConnectionStore) ClientOption {
	return func(c *Client) {
		c.store = store
	}
}

// WithClientID sets the OAuth client id sent on token refresh
func WithClientID(clientID string) ClientOption {
	return func(c *Client) {
		c.clientID = clientID
	}
}

// NewClient creates a client bound to the given connection. The connection is
// copied; token rotation mutates the client's copy and, when a store is
// configured, the persisted record.
func NewClient(conn models.Connection, opts ...ClientOption) *Client {
	c := &Client{
		conn: conn,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connection returns a snapshot of the bound connection.
func (c *Client) Connection() models.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// do builds, authenticates, and executes one request, classifying the
// response. A 401 on a first attempt triggers the refresh protocol and one
// retry; a 401 on the retry falls through to a plain HTTPError.
func (c *Client) do(ctx context.Context, method, path string, body any, expectStatus int, out any, isRetry bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Endpoint: path, Err: err}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	c.mu.Lock()
	token := c.conn.AccessToken
	base := c.conn.BaseURL()
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, method, base+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("method", method).Str("path", path).Bool("retry", isRetry).Msg("API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Endpoint: path, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized && !isRetry {
		c.logger.Debug().Str("path", path).Msg("Unauthorized, refreshing token")
		if _, err := c.refresh(ctx, token); err != nil {
			// The refresh error carries more signal than the 401 it recovers.
			return err
		}
		return c.do(ctx, method, path, body, expectStatus, out, true)
	}

	if resp.StatusCode != expectStatus {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(data), Endpoint: path}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Endpoint: path, Err: err}
	}

	return nil
}

// refresh performs the single-flight token refresh. staleToken is the access
// token the caller's failed request carried: when another caller already
// completed a refresh, the closure sees a newer token and returns it without
// a second network call.
func (c *Client) refresh(ctx context.Context, staleToken string) (string, error) {
	v, err, shared := c.refreshGroup.Do("refresh", func() (any, error) {
		c.mu.Lock()
		current := c.conn
		c.mu.Unlock()

		if current.AccessToken != staleToken && current.AccessToken != "" {
			return current.AccessToken, nil
		}
		if current.RefreshToken == "" {
			return nil, &AuthError{Reason: ReasonNoRefreshToken, Message: "connection has no refresh token"}
		}

		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", current.RefreshToken)
		form.Set("client_id", c.clientID)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, current.TokenEndpoint(), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, &AuthError{Reason: ReasonRefreshFailed, Message: "failed to create refresh request", Err: err}
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &AuthError{Reason: ReasonRefreshFailed, Message: "refresh request failed", Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &AuthError{Reason: ReasonRefreshFailed, Message: "failed to read refresh response", Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &AuthError{
				Reason:  ReasonRefreshFailed,
				Message: fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, string(data)),
			}
		}

		var tok models.TokenResponse
		if err := json.Unmarshal(data, &tok); err != nil {
			return nil, &AuthError{Reason: ReasonRefreshFailed, Message: "failed to decode token response", Err: err}
		}
		if tok.AccessToken == "" {
			return nil, &AuthError{Reason: ReasonRefreshFailed, Message: "token response missing access_token"}
		}

		c.mu.Lock()
		c.conn.AccessToken = tok.AccessToken
		// Servers are not required to rotate the refresh token.
		if tok.RefreshToken != "" {
			c.conn.RefreshToken = tok.RefreshToken
		}
		c.conn.Touch(c.now())
		snapshot := c.conn
		c.mu.Unlock()

		c.logger.Info().Int("expires_in", tok.ExpiresIn).Msg("Access token refreshed")

		if c.store != nil {
			if err := c.store.Upsert(ctx, &snapshot); err != nil {
				// The refreshed token stays live for this session even when the
				// durable write fails.
				c.logger.Warn().Err(err).Msg("Failed to persist refreshed token")
			}
		}

		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug().Msg("Joined in-flight token refresh")
	}
	return v.(string), nil
}

// statusResponse is the GET /api/ payload.
type statusResponse struct {
	Message string `json:"message"`
}

// Status checks API availability.
func (c *Client) Status(ctx context.Context) (string, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/api/", nil, http.StatusOK, &resp, false); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// States lists all entity states.
func (c *Client) States(ctx context.Context) ([]models.EntityState, error) {
	states := []models.EntityState{}
	if err := c.do(ctx, http.MethodGet, "/api/states", nil, http.StatusOK, &states, false); err != nil {
		return nil, err
	}
	return states, nil
}

// State fetches a single entity state by id.
func (c *Client) State(ctx context.Context, entityID string) (*models.EntityState, error) {
	var state models.EntityState
	path := "/api/states/" + url.PathEscape(entityID)
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &state, false); err != nil {
		return nil, err
	}
	return &state, nil
}

// CallService invokes a domain service and returns the changed states.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) ([]models.EntityState, error) {
	if data == nil {
		data = map[string]any{}
	}
	changed := []models.EntityState{}
	path := fmt.Sprintf("/api/services/%s/%s", url.PathEscape(domain), url.PathEscape(service))
	if err := c.do(ctx, http.MethodPost, path, data, http.StatusOK, &changed, false); err != nil {
		return nil, err
	}
	return changed, nil
}

// Ensure Client implements InstanceClient
var _ interfaces.InstanceClient = (*Client)(nil)
