// Package pkce generates Proof Key for Code Exchange material for the
// OAuth2 authorization-code flow (RFC 7636).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	mathrand "math/rand"
)

// unreserved is the RFC 7636 code-verifier character set.
const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

const (
	// MinVerifierLength and MaxVerifierLength bound the verifier per RFC 7636.
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// ErrWeakRandom flags a verifier produced without a cryptographically secure
// random source. The verifier is still returned so a caller may proceed
// deliberately, but it must not be accepted silently.
var ErrWeakRandom = errors.New("pkce: secure random source unavailable, verifier generated from weak randomness")

// GenerateCodeVerifier produces a random verifier of the requested length,
// clamped to [43,128], drawn from the unreserved character set.
// If crypto/rand fails the verifier is regenerated from math/rand and the
// result is returned together with ErrWeakRandom.
func GenerateCodeVerifier(length int) (string, error) {
	if length < MinVerifierLength {
		length = MinVerifierLength
	}
	if length > MaxVerifierLength {
		length = MaxVerifierLength
	}

	out := make([]byte, length)
	if err := secureFill(out); err != nil {
		for i := range out {
			out[i] = unreserved[mathrand.Intn(len(unreserved))]
		}
		return string(out), ErrWeakRandom
	}
	return string(out), nil
}

// secureFill fills out with characters from the unreserved set using
// crypto/rand. Rejection sampling keeps the selection unbiased: bytes at or
// above the largest multiple of len(unreserved) are discarded.
func secureFill(out []byte) error {
	limit := byte(256 - 256%len(unreserved)) // 198 for a 66-char set
	buf := make([]byte, len(out)*2)
	filled := 0
	for filled < len(out) {
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out[filled] = unreserved[int(b)%len(unreserved)]
			filled++
			if filled == len(out) {
				break
			}
		}
	}
	return nil
}

// CodeChallenge computes the S256 challenge for a verifier: base64url-encoded
// SHA-256 of the verifier's UTF-8 bytes, without padding.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState produces a random CSRF state token.
func GenerateState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
