package pkce

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeVerifierLengthClamp(t *testing.T) {
	cases := []struct {
		requested int
		want      int
	}{
		{0, 43},
		{10, 43},
		{43, 43},
		{64, 64},
		{128, 128},
		{500, 128},
	}

	for _, tc := range cases {
		verifier, err := GenerateCodeVerifier(tc.requested)
		require.NoError(t, err)
		assert.Len(t, verifier, tc.want, "requested length %d", tc.requested)
	}
}

func TestGenerateCodeVerifierCharset(t *testing.T) {
	verifier, err := GenerateCodeVerifier(128)
	require.NoError(t, err)

	for _, r := range verifier {
		assert.True(t, strings.ContainsRune(unreserved, r), "character %q outside unreserved set", r)
	}
}

func TestGenerateCodeVerifierUnique(t *testing.T) {
	a, err := GenerateCodeVerifier(64)
	require.NoError(t, err)
	b, err := GenerateCodeVerifier(64)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCodeChallengeDeterministic(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

	first := CodeChallenge(verifier)
	second := CodeChallenge(verifier)
	assert.Equal(t, first, second)

	// Known vector from RFC 7636 appendix B.
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", first)
}

func TestCodeChallengeBase64URL(t *testing.T) {
	verifier, err := GenerateCodeVerifier(80)
	require.NoError(t, err)

	challenge := CodeChallenge(verifier)
	assert.NotContains(t, challenge, "+")
	assert.NotContains(t, challenge, "/")
	assert.NotContains(t, challenge, "=")
	assert.Len(t, challenge, 43) // 32 bytes, base64url, unpadded
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	require.NoError(t, err)
	b, err := GenerateState()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
