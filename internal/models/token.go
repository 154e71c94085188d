package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenResponse is the JSON body returned by the instance's /oauth2/token
// endpoint for both authorization_code and refresh_token grants.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// AccessTokenExpiry reads the expiry claim from an access token without
// verifying its signature. Instance access tokens are JWTs signed with a
// server-side secret we never hold, so unverified introspection is the only
// option client-side. Returns ok=false for opaque (non-JWT) tokens.
func AccessTokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
