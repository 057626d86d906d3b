// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// SessionKey is the context key for the authenticated session.
	SessionKey ContextKey = "session"
)

// Claims represents JWT claims for a widget or dashboard session. An
// empty Email means an anonymous visitor session.
type Claims struct {
	jwt.RegisteredClaims
	Email       string `json:"email,omitempty"`
	MailboxSlug string `json:"mailbox_slug"`
	IsStaff     bool   `json:"is_staff,omitempty"`
}

// Session is the authenticated identity attached to the request.
type Session struct {
	UserID      string
	Email       string
	MailboxSlug string
	IsStaff     bool
}

// EmailPtr returns the session email as an optional value; nil for
// anonymous sessions.
func (s *Session) EmailPtr() *string {
	if s == nil || s.Email == "" {
		return nil
	}
	email := s.Email
	return &email
}

// Auth creates JWT authentication middleware.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			session := &Session{
				UserID:      claims.Subject,
				Email:       claims.Email,
				MailboxSlug: claims.MailboxSlug,
				IsStaff:     claims.IsStaff,
			}

			ctx := context.WithValue(r.Context(), SessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession gets the authenticated session from context.
func GetSession(ctx context.Context) *Session {
	if v := ctx.Value(SessionKey); v != nil {
		return v.(*Session)
	}
	return nil
}

// RequireStaff creates middleware that rejects non-staff sessions.
func RequireStaff() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := GetSession(r.Context())
			if session == nil || !session.IsStaff {
				http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
