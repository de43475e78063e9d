package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, now *time.Time) *Gate {
	t.Helper()

	g, err := NewGate("session-secret", true)
	require.NoError(t, err)
	g.clock = func() time.Time { return *now }
	return g
}

func TestNewGate_EmptySecret(t *testing.T) {
	_, err := NewGate("", false)
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestIssueAndCheck(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	g := newTestGate(t, &now)

	token, issued, err := g.Issue()
	require.NoError(t, err)
	assert.Equal(t, now, issued.IssuedAt)
	assert.Equal(t, now.Add(TTL), issued.ExpiresAt)

	a, ok := g.Check(token)
	require.True(t, ok)
	assert.Equal(t, ScopeUpload, a.Scope)
	assert.True(t, a.ExpiresAt.Equal(issued.ExpiresAt))

	now = now.Add(TTL - time.Minute)
	_, ok = g.Check(token)
	assert.True(t, ok, "token is valid until expiry")

	now = now.Add(2 * time.Minute)
	_, ok = g.Check(token)
	assert.False(t, ok, "expired token is rejected")
}

func TestCheck_Rejects(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	g := newTestGate(t, &now)

	other, err := NewGate("other-secret", false)
	require.NoError(t, err)
	other.clock = g.clock
	foreign, _, err := other.Issue()
	require.NoError(t, err)

	wrongScope, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Scope: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("session-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Scope:            ScopeUpload,
		RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)},
	}).SignedString([]byte("session-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":       "",
		"garbage":     "true",
		"foreign key": foreign,
		"wrong scope": wrongScope,
		"no expiry":   noExpiry,
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := g.Check(token)
			assert.False(t, ok)
		})
	}
}

func TestCookies(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	g := newTestGate(t, &now)

	token, a, err := g.Issue()
	require.NoError(t, err)

	w := httptest.NewRecorder()
	g.SetCookie(w, token, a)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)

	c := cookies[0]
	assert.Equal(t, CookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, int(TTL.Seconds()), c.MaxAge)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(c)
	_, ok := g.FromRequest(r)
	assert.True(t, ok)

	_, ok = g.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)

	w = httptest.NewRecorder()
	g.Revoke(w)
	cookies = w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	a := Artifact{Scope: ScopeUpload}
	got, ok := FromContext(WithArtifact(context.Background(), a))
	require.True(t, ok)
	assert.Equal(t, a, got)
}
