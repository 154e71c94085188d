// Package models defines the core data types for Hearth
package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Connection represents one persisted server connection. The persisted store
// may hold many; the session promotes the most recently connected one on load.
type Connection struct {
	ID              string    `badgerhold:"key" json:"id"`
	URL             string    `json:"url"`
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token,omitempty"`
	Name            string    `json:"name,omitempty"`
	LastConnectedAt time.Time `json:"last_connected_at"`
}

// Validate checks that the connection has an absolute base URL and a token.
func (c *Connection) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("connection id is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", c.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL %q must use http or https", c.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL %q is missing a host", c.URL)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	return nil
}

// HasRefreshToken reports whether this connection can refresh its credentials.
// Static long-lived token connections have no refresh token.
func (c *Connection) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// Touch stamps the last-connected time.
func (c *Connection) Touch(now time.Time) {
	c.LastConnectedAt = now
}

// BaseURL returns the base URL without a trailing slash.
func (c *Connection) BaseURL() string {
	return strings.TrimRight(c.URL, "/")
}

// TokenEndpoint returns the instance's OAuth token endpoint.
func (c *Connection) TokenEndpoint() string {
	return c.BaseURL() + "/oauth2/token"
}

// WebsocketURL returns the instance's websocket API endpoint.
func (c *Connection) WebsocketURL() string {
	base := c.BaseURL()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/websocket"
}
