package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db      Pinger
	timeout time.Duration
	now     func() time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db Pinger, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{db: db, timeout: timeout, now: time.Now}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func (h *HealthHandler) check(w http.ResponseWriter, r *http.Request, message string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{
		Status:    "OK",
		Message:   message,
		Timestamp: h.now().UTC(),
		Checks:    map[string]string{"api": "ok", "database": "ok"},
	}
	statusCode := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		resp.Status = "DEGRADED"
		resp.Checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	}
	JSON(w, statusCode, resp)
}

// Health reports liveness of the server process.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, "Backend server is running")
}

// APIHealth reports liveness of the test case API.
func (h *HealthHandler) APIHealth(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, "Test Cases Generation API is running")
}

// RegisterHealth registers the health check routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/api/health", h.APIHealth)
}
