// Package session owns the single active connection and orchestrates
// connect, disconnect, startup load, and the OAuth authorization flow.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avhall/hearth/internal/common"
	"github.com/avhall/hearth/internal/hass"
	"github.com/avhall/hearth/internal/interfaces"
	"github.com/avhall/hearth/internal/models"
	"github.com/avhall/hearth/internal/pkce"
)

const verifierLength = 128

// ClientFactory builds an API client bound to a connection.
type ClientFactory func(conn models.Connection) interfaces.InstanceClient

// AuthRequest carries everything needed to build the authorization redirect.
type AuthRequest struct {
	AuthorizeURL  string
	State         string
	CodeChallenge string
}

// pendingOAuth is the short-lived state of one authorization attempt. It is
// consumed on the first callback, success or failure.
type pendingOAuth struct {
	state    string
	verifier string
}

// Service is the session manager. Public operations are serialized; the
// connection and client fields always change together through setCurrent.
type Service struct {
	store      interfaces.ConnectionStore
	oauth      common.OAuthConfig
	logger     *common.Logger
	newClient  ClientFactory
	httpClient *http.Client
	now        func() time.Time

	opMu sync.Mutex // serializes public operations

	mu      sync.Mutex // guards the fields below
	current *models.Connection
	client  interfaces.InstanceClient
	busy    bool
	lastErr error
	pending *pendingOAuth
}

// Option configures the service
type Option func(*Service)

// WithClientFactory overrides how API clients are constructed
func WithClientFactory(factory ClientFactory) Option {
	return func(s *Service) {
		s.newClient = factory
	}
}

// WithHTTPClient sets the HTTP client used for the OAuth code exchange
func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *Service) {
		s.httpClient = httpClient
	}
}

// NewService creates a session manager
func NewService(store interfaces.ConnectionStore, oauth common.OAuthConfig, logger *common.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		oauth:      oauth,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	s.newClient = func(conn models.Connection) interfaces.InstanceClient {
		return hass.NewClient(conn,
			hass.WithLogger(logger),
			hass.WithStore(store),
			hass.WithClientID(oauth.ClientID),
		)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns a copy of the active connection, or nil.
func (s *Service) Current() *models.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	conn := *s.current
	return &conn
}

// Client returns the API client bound to the active connection, or nil.
func (s *Service) Client() interfaces.InstanceClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Busy reports whether an operation is in progress.
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// LastErr returns the error recorded by the most recent failed operation.
func (s *Service) LastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// setCurrent is the single transition point for the connection/client pair:
// both change together, so one is nil exactly when the other is.
func (s *Service) setCurrent(conn *models.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn == nil {
		s.current = nil
		s.client = nil
		return
	}
	copied := *conn
	s.current = &copied
	s.client = s.newClient(copied)
}

func (s *Service) setBusy(busy bool) {
	s.mu.Lock()
	s.busy = busy
	s.mu.Unlock()
}

func (s *Service) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// LoadPersisted promotes the most recently connected stored record to the
// active connection. A store failure clears the pair and records the error.
func (s *Service) LoadPersisted(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.setBusy(true)
	defer s.setBusy(false)

	conn, err := s.store.MostRecent(ctx)
	if err != nil {
		s.setCurrent(nil)
		s.setLastErr(err)
		return err
	}
	if conn == nil {
		s.setCurrent(nil)
		return nil
	}

	s.setCurrent(conn)
	s.setLastErr(nil)
	s.logger.Info().Str("url", conn.URL).Msg("Restored persisted connection")
	return nil
}

// SaveConnection stamps, persists, and promotes a connection. Only a fully
// committed write becomes current; on failure the previous connection stays.
func (s *Service) SaveConnection(ctx context.Context, conn *models.Connection) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.saveConnection(ctx, conn)
}

func (s *Service) saveConnection(ctx context.Context, conn *models.Connection) error {
	s.setBusy(true)
	defer s.setBusy(false)

	conn.Touch(s.now())
	if err := s.store.Upsert(ctx, conn); err != nil {
		s.setLastErr(err)
		return err
	}

	s.setCurrent(conn)
	s.setLastErr(nil)
	s.logger.Info().Str("url", conn.URL).Msg("Connection saved")
	return nil
}

// Connect creates a connection from a manually entered URL and token,
// verifies it against the instance, and saves it.
func (s *Service) Connect(ctx context.Context, rawURL, token, name string) (*models.Connection, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.setBusy(true)
	defer s.setBusy(false)

	conn := &models.Connection{
		ID:          uuid.NewString(),
		URL:         strings.TrimRight(rawURL, "/"),
		AccessToken: token,
		Name:        name,
	}
	if err := conn.Validate(); err != nil {
		s.setLastErr(err)
		return nil, err
	}

	// Verify the token before persisting anything.
	probe := s.newClient(*conn)
	if _, err := probe.Status(ctx); err != nil {
		s.setLastErr(err)
		return nil, err
	}

	if err := s.saveConnection(ctx, conn); err != nil {
		return nil, err
	}
	return s.Current(), nil
}

// Disconnect clears the active connection and client. The persisted record is
// kept so the connection can be restored on next launch.
func (s *Service) Disconnect() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.setCurrent(nil)
	s.setLastErr(nil)
	s.logger.Info().Msg("Disconnected")
}

// BeginOAuth starts a fresh authorization attempt, discarding any unfinished
// one, and returns the values needed for the authorization redirect.
func (s *Service) BeginOAuth() (*AuthRequest, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	verifier, err := pkce.GenerateCodeVerifier(verifierLength)
	if err != nil {
		if err != pkce.ErrWeakRandom {
			return nil, err
		}
		s.logger.Warn().Msg("Secure random source unavailable, PKCE verifier uses weak randomness")
	}
	state, err := pkce.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	challenge := pkce.CodeChallenge(verifier)

	s.mu.Lock()
	s.pending = &pendingOAuth{state: state, verifier: verifier}
	s.mu.Unlock()

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", s.oauth.ClientID)
	params.Set("redirect_uri", s.oauth.RedirectURI)
	params.Set("state", state)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "S256")

	return &AuthRequest{
		AuthorizeURL:  s.oauth.AuthorizeEndpoint + "?" + params.Encode(),
		State:         state,
		CodeChallenge: challenge,
	}, nil
}

// CompleteOAuth validates the authorization callback, exchanges the code for
// tokens, and saves the resulting connection. manualURL supplies the instance
// URL when the callback does not carry one. Pending state is consumed whether
// the attempt succeeds or fails.
func (s *Service) CompleteOAuth(ctx context.Context, callbackURL, manualURL string) (*models.Connection, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.setBusy(true)
	defer s.setBusy(false)

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	callback, err := url.Parse(callbackURL)
	if err != nil {
		return s.failAuth(&hass.AuthError{Reason: hass.ReasonProviderError, Message: "invalid callback URL", Err: err})
	}
	if err := s.validateCallbackTarget(callback); err != nil {
		return s.failAuth(err)
	}

	query := callback.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		msg := providerErr
		if desc := query.Get("error_description"); desc != "" {
			msg += ": " + desc
		}
		return s.failAuth(&hass.AuthError{Reason: hass.ReasonProviderError, Message: msg})
	}

	state := query.Get("state")
	if pending == nil || state == "" || state != pending.state {
		return s.failAuth(&hass.AuthError{Reason: hass.ReasonInvalidState, Message: "callback state does not match pending authorization"})
	}

	code := query.Get("code")
	if code == "" {
		return s.failAuth(&hass.AuthError{Reason: hass.ReasonProviderError, Message: "callback missing authorization code"})
	}

	instanceURL := query.Get("instance_url")
	if instanceURL == "" {
		instanceURL = manualURL
	}
	if instanceURL == "" {
		return s.failAuth(fmt.Errorf("no instance URL in callback and none supplied"))
	}
	instanceURL = strings.TrimRight(instanceURL, "/")

	tok, err := s.exchangeCode(ctx, instanceURL, code, pending.verifier)
	if err != nil {
		return s.failAuth(err)
	}

	conn := &models.Connection{
		ID:           uuid.NewString(),
		URL:          instanceURL,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if err := s.saveConnection(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info().Str("url", instanceURL).Msg("OAuth login completed")
	return s.Current(), nil
}

// failAuth records and returns an authorization failure.
func (s *Service) failAuth(err error) (*models.Connection, error) {
	s.setLastErr(err)
	return nil, err
}

// validateCallbackTarget checks that a callback was addressed to this
// application's redirect URI.
func (s *Service) validateCallbackTarget(callback *url.URL) error {
	redirect, err := url.Parse(s.oauth.RedirectURI)
	if err != nil {
		return fmt.Errorf("invalid configured redirect URI %q: %w", s.oauth.RedirectURI, err)
	}
	if callback.Scheme != redirect.Scheme || callback.Host != redirect.Host {
		return &hass.AuthError{
			Reason:  hass.ReasonProviderError,
			Message: fmt.Sprintf("callback %s://%s does not match redirect URI", callback.Scheme, callback.Host),
		}
	}
	return nil
}

// exchangeCode trades an authorization code for tokens at the instance's
// token endpoint.
func (s *Service) exchangeCode(ctx context.Context, instanceURL, code, verifier string) (*models.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", s.oauth.RedirectURI)
	form.Set("client_id", s.oauth.ClientID)
	form.Set("code_verifier", verifier)

	endpoint := instanceURL + "/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &hass.AuthError{Reason: hass.ReasonProviderError, Message: "failed to create token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &hass.TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &hass.TransportError{Endpoint: endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &hass.AuthError{
			Reason:  hass.ReasonProviderError,
			Message: fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, string(data)),
		}
	}

	var tok models.TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, &hass.DecodeError{Endpoint: endpoint, Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &hass.AuthError{Reason: hass.ReasonProviderError, Message: "token response missing access_token"}
	}
	return &tok, nil
}

// HasPendingOAuth reports whether an authorization attempt is awaiting its
// callback.
func (s *Service) HasPendingOAuth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}
