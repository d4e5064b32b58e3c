package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"

	"github.com/ashureev/testcraft/internal/store"
)

func newAuth(t *testing.T) (*Authenticator, *store.SQLiteStore) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	verifier := VerifierFunc(func(_ context.Context, credential string) (Claims, error) {
		if credential != "good" {
			return Claims{}, ErrInvalidCredential
		}
		return Claims{Subject: "g-123", Email: "dev@example.com", Name: "Dev", EmailVerified: true}, nil
	})
	return NewAuthenticator(verifier, repo, time.Hour, nil), repo
}

func TestLoginAndResolve(t *testing.T) {
	t.Parallel()
	auth, _ := newAuth(t)
	ctx := context.Background()

	user, err := auth.Login(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "g-123", user.UserID)
	assert.Equal(t, "dev@example.com", user.Profile.Email)

	session, err := auth.IssueSession(ctx, user.UserID)
	require.NoError(t, err)

	resolved, err := auth.Resolve(ctx, session.Token)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "g-123", resolved.UserID)

	require.NoError(t, auth.Logout(ctx, session.Token))
	resolved, err = auth.Resolve(ctx, session.Token)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestLoginRejectsBadCredential(t *testing.T) {
	t.Parallel()
	auth, _ := newAuth(t)

	_, err := auth.Login(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestExpiredSessionDoesNotResolve(t *testing.T) {
	t.Parallel()
	auth, _ := newAuth(t)
	ctx := context.Background()

	user, err := auth.Login(ctx, "good")
	require.NoError(t, err)
	session, err := auth.IssueSession(ctx, user.UserID)
	require.NoError(t, err)

	auth.now = func() time.Time { return session.ExpiresAt }
	resolved, err := auth.Resolve(ctx, session.Token)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	auth, _ := newAuth(t)
	ctx := context.Background()

	user, err := auth.Login(ctx, "good")
	require.NoError(t, err)
	session, err := auth.IssueSession(ctx, user.UserID)
	require.NoError(t, err)

	var seen string
	h := Middleware(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		assert.NotNil(t, UserFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"unknown", "Bearer nope", "", http.StatusUnauthorized},
		{"header", "Bearer " + session.Token, "", http.StatusNoContent},
		{"lowercase scheme", "bearer " + session.Token, "", http.StatusNoContent},
		{"query", "", "?token=" + session.Token, http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/me"+tt.query, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.status, rec.Code, tt.name)
	}
	assert.Equal(t, "g-123", seen)
}

func TestGoogleVerifierMapsClaims(t *testing.T) {
	t.Parallel()

	v := NewGoogleVerifier("client-1")
	v.validate = func(_ context.Context, token, audience string) (*idtoken.Payload, error) {
		assert.Equal(t, "client-1", audience)
		if token == "expired" {
			return nil, errors.New("idtoken: token expired")
		}
		return &idtoken.Payload{
			Subject: "sub-1",
			Claims: map[string]interface{}{
				"email":          "a@example.com",
				"name":           "A",
				"picture":        "https://example.com/a.png",
				"email_verified": true,
			},
		}, nil
	}

	claims, err := v.Verify(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, Claims{Subject: "sub-1", Email: "a@example.com", Name: "A", Picture: "https://example.com/a.png", EmailVerified: true}, claims)

	_, err = v.Verify(context.Background(), "expired")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
