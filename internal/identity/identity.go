// Package identity verifies Google credentials, issues bearer sessions and
// authenticates API requests.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/store"
)

// DefaultSessionTTL is the bearer session lifetime when none is configured.
const DefaultSessionTTL = 24 * time.Hour

// ErrInvalidCredential is returned when an identity credential cannot be verified.
var ErrInvalidCredential = errors.New("invalid credential")

type contextKey int

const (
	userIDKey contextKey = iota
	userKey
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UserFromContext extracts the authenticated user from the request context.
func UserFromContext(ctx context.Context) *domain.User {
	if v, ok := ctx.Value(userKey).(*domain.User); ok {
		return v
	}
	return nil
}

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	ctx = context.WithValue(ctx, userIDKey, user.UserID)
	return context.WithValue(ctx, userKey, user)
}

// Authenticator turns verified credentials into accounts and bearer sessions.
type Authenticator struct {
	verifier Verifier
	repo     store.Repository
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewAuthenticator creates an authenticator. A zero ttl uses DefaultSessionTTL.
func NewAuthenticator(verifier Verifier, repo store.Repository, ttl time.Duration, logger *slog.Logger) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{verifier: verifier, repo: repo, ttl: ttl, now: time.Now, logger: logger}
}

// Login verifies credential and creates or refreshes the matching account.
func (a *Authenticator) Login(ctx context.Context, credential string) (*domain.User, error) {
	if a.verifier == nil {
		return nil, fmt.Errorf("login: %w: no verifier configured", ErrInvalidCredential)
	}
	claims, err := a.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}

	user, err := a.repo.UpsertUserProfile(ctx, claims.Subject, claims.Profile(), a.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	a.logger.Info("User logged in", "user_id", user.UserID, "email_verified", claims.EmailVerified)
	return user, nil
}

// IssueSession creates a bearer session for userID.
func (a *Authenticator) IssueSession(ctx context.Context, userID string) (*domain.AuthSession, error) {
	now := a.now().UTC()
	session := &domain.AuthSession{
		Token:     uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}
	if err := a.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return session, nil
}

// Resolve returns the user owning token, or nil when the token is unknown,
// expired or its user is gone.
func (a *Authenticator) Resolve(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, nil
	}
	session, err := a.repo.GetSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	if session == nil || session.Expired(a.now()) {
		return nil, nil
	}
	user, err := a.repo.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve session user: %w", err)
	}
	return user, nil
}

// Logout revokes token.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	return a.repo.DeleteSession(ctx, token)
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the "token" query parameter for websocket upgrades.
func TokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a live session with 401 and stores the
// authenticated user in the request context.
func Middleware(auth *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				writeUnauthorized(w, "Access token required")
				return
			}

			user, err := auth.Resolve(r.Context(), token)
			if err != nil {
				auth.logger.Error("Failed to resolve session", "error", err)
				http.Error(w, `{"error":"failed to resolve session"}`, http.StatusInternalServerError)
				return
			}
			if user == nil {
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, msg)
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
