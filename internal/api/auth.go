package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/identity"
)

// BlockChecker reports the current block status of a user.
type BlockChecker interface {
	CheckBlockStatus(ctx context.Context, userID string) (domain.BlockStatus, error)
}

// RequireUnblocked rejects blocked users with 403 before any handler runs.
// It must run after identity.Middleware.
func RequireUnblocked(blocks BlockChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := identity.UserIDFromContext(r.Context())
			status, err := blocks.CheckBlockStatus(r.Context(), userID)
			if err != nil {
				logger.Error("Failed to check block status", "user_id", userID, "error", err)
				Error(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if status.IsBlocked {
				writeBlocked(w, status)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthHandler handles login and logout.
type AuthHandler struct {
	auth   *identity.Authenticator
	blocks BlockChecker
	logger *slog.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(auth *identity.Authenticator, blocks BlockChecker, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, blocks: blocks, logger: logger}
}

// RegisterRoutes registers the public auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/auth/google", h.GoogleLogin)
}

// RegisterProtectedRoutes registers auth routes that need a session.
func (h *AuthHandler) RegisterProtectedRoutes(r chi.Router) {
	r.Post("/api/auth/logout", h.Logout)
	r.Get("/api/me", h.Me)
}

type googleLoginRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

type userResponse struct {
	GoogleID       string `json:"googleId"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Picture        string `json:"picture"`
	ViolationCount int    `json:"violationCount"`
}

type loginResponse struct {
	Success   bool         `json:"success"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
}

func newUserResponse(u *domain.User) userResponse {
	return userResponse{
		GoogleID:       u.UserID,
		Email:          u.Profile.Email,
		Name:           u.Profile.Name,
		Picture:        u.Profile.PictureURL,
		ViolationCount: u.ViolationCount(),
	}
}

// GoogleLogin verifies a Google ID token and issues a bearer session.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorBody{Error: "ID token is required", Details: err.Error()})
		return
	}

	user, err := h.auth.Login(r.Context(), req.IDToken)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			JSON(w, http.StatusUnauthorized, ErrorBody{Error: "Authentication failed", Details: "Invalid Google token"})
			return
		}
		h.logger.Error("Login failed", "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status, err := h.blocks.CheckBlockStatus(r.Context(), user.UserID)
	if err != nil {
		h.logger.Error("Failed to check block status", "user_id", user.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if status.IsBlocked {
		writeBlocked(w, status)
		return
	}

	session, err := h.auth.IssueSession(r.Context(), user.UserID)
	if err != nil {
		h.logger.Error("Failed to issue session", "user_id", user.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	JSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      newUserResponse(user),
	})
}

// Logout revokes the caller's bearer session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), identity.TokenFromRequest(r)); err != nil {
		h.logger.Error("Logout failed", "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	Success(w, nil, "Logged out")
}

type meResponse struct {
	User        userResponse `json:"user"`
	BlockStatus *BlockInfo   `json:"blockStatus"`
}

// Me returns the caller's profile and current block status. It is served
// to blocked users too so clients can show when the block ends.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	status, err := h.blocks.CheckBlockStatus(r.Context(), user.UserID)
	if err != nil {
		h.logger.Error("Failed to check block status", "user_id", user.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp := meResponse{User: newUserResponse(user), BlockStatus: newBlockInfo(status)}
	resp.User.ViolationCount = status.ViolationCount
	Success(w, resp, "")
}
