// Package session выдаёт и проверяет артефакт недавней успешной оплаты.
//
// Артефакт не привязан к конкретному заказу: он лишь закрывает маршрут загрузки.
// Права на ресурс заказа по-прежнему проверяются при списании квоты.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName содержит имя cookie с артефактом.
	CookieName = "payment-verified"
	// TTL ограничивает срок действия артефакта.
	TTL = 2 * time.Hour
	// ScopeUpload обозначает закрываемую артефактом операцию.
	ScopeUpload = "upload"
)

// ErrEmptySecret возвращается при пустом ключе подписи.
var ErrEmptySecret = errors.New("session secret is empty")

// Artifact описывает выданный артефакт.
type Artifact struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
	Scope     string
}

// Valid сообщает, действует ли артефакт в момент now.
func (a Artifact) Valid(now time.Time) bool {
	return a.Scope == ScopeUpload && !a.IssuedAt.IsZero() && now.Before(a.ExpiresAt)
}

type claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Gate подписывает артефакты HS256 и управляет cookie.
type Gate struct {
	secret []byte
	secure bool
	clock  func() time.Time
}

// NewGate создаёт Gate. secure включает атрибут Secure у cookie.
func NewGate(secret string, secure bool) (*Gate, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Gate{
		secret: []byte(secret),
		secure: secure,
		clock:  time.Now,
	}, nil
}

// Issue выдаёт новый артефакт со сроком действия TTL.
func (g *Gate) Issue() (string, Artifact, error) {
	now := g.clock().Truncate(time.Second)
	a := Artifact{IssuedAt: now, ExpiresAt: now.Add(TTL), Scope: ScopeUpload}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Scope: a.Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(a.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(a.ExpiresAt),
		},
	})

	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", Artifact{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, a, nil
}

// Check проверяет подпись, срок действия и область действия токена.
func (g *Gate) Check(token string) (Artifact, bool) {
	if token == "" {
		return Artifact{}, false
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(g.clock),
	)
	if err != nil || c.IssuedAt == nil || c.ExpiresAt == nil {
		return Artifact{}, false
	}

	a := Artifact{IssuedAt: c.IssuedAt.Time, ExpiresAt: c.ExpiresAt.Time, Scope: c.Scope}
	if !a.Valid(g.clock()) {
		return Artifact{}, false
	}
	return a, true
}

// FromRequest извлекает и проверяет артефакт из cookie запроса.
func (g *Gate) FromRequest(r *http.Request) (Artifact, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Artifact{}, false
	}
	return g.Check(c.Value)
}

// SetCookie записывает артефакт в cookie.
func (g *Gate) SetCookie(w http.ResponseWriter, token string, a Artifact) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  a.ExpiresAt,
		MaxAge:   int(TTL.Seconds()),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Revoke удаляет cookie с артефактом.
func (g *Gate) Revoke(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

type contextKey struct{}

// WithArtifact добавляет артефакт в контекст запроса.
func WithArtifact(ctx context.Context, a Artifact) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext извлекает артефакт из контекста запроса.
func FromContext(ctx context.Context) (Artifact, bool) {
	a, ok := ctx.Value(contextKey{}).(Artifact)
	return a, ok
}
