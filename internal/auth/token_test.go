package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuerRoundTrip(t *testing.T) {
	issuer, err := NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := issuer.Issue("alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	userID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	userID, err = issuer.Verify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestIssuerRejects(t *testing.T) {
	issuer, err := NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	other, err := NewIssuer("other-secret", time.Hour)
	require.NoError(t, err)

	foreign, _, err := other.Issue("alice")
	require.NoError(t, err)

	expiredIssuer, err := NewIssuer("test-secret", time.Minute)
	require.NoError(t, err)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _, err := expiredIssuer.Issue("alice")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":          "",
		"garbage":        "not-a-token",
		"wrong secret":   foreign,
		"expired":        expired,
		"none algorithm": none,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Verify(token)
			assert.Error(t, err)
		})
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("", time.Hour)
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "abc", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "Bearer xyz", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Empty(t, TokenFromRequest(r))
}
