package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/testcraft/internal/identity"
	"github.com/ashureev/testcraft/internal/metrics"
	"github.com/ashureev/testcraft/internal/middleware"
)

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	Auth      *AuthHandler
	TestCases *TestCaseHandler
	Progress  *ProgressHandler
	Health    *HealthHandler

	Authenticator *identity.Authenticator
	Blocks        BlockChecker
	Limiter       *middleware.RateLimiter
	Origins       []string
	Logger        *slog.Logger
}

// NewRouter builds the chi router with global middleware, public routes
// and the authenticated flow routes.
func NewRouter(c RouterConfig) http.Handler {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(c.Origins))

	// Public routes.
	c.Health.RegisterHealth(r)
	r.Handle("/metrics", metrics.Handler())
	c.Auth.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(c.Authenticator))
		c.Auth.RegisterProtectedRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(RequireUnblocked(c.Blocks, logger))
			if c.Limiter != nil {
				r.Use(middleware.RateLimit(c.Limiter, func(r *http.Request) string {
					return identity.UserIDFromContext(r.Context())
				}))
			}
			c.TestCases.RegisterRoutes(r)
			r.Get("/ws/generate", c.Progress.ServeHTTP)
		})
	})

	return r
}
