// Package sweeper runs the background TTL worker that removes expired
// sessions, lapsed blocks, orphaned uploads and idle rate-limit entries.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultInterval    = 5 * time.Minute
	DefaultBlobMaxAge  = time.Hour
	DefaultLimiterIdle = 10 * time.Minute
)

// Store is the persistence the sweeper cleans.
type Store interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	ClearAllExpiredBlocks(ctx context.Context, now time.Time) (int64, error)
}

// Blobs removes stale uploads.
type Blobs interface {
	RemoveOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Limiter drops idle rate-limit entries.
type Limiter interface {
	Evict(idle time.Duration) int
}

// Config controls the sweep cadence and ages. Zero values use the defaults.
type Config struct {
	Interval    time.Duration
	BlobMaxAge  time.Duration
	LimiterIdle time.Duration
}

// Sweeper performs periodic cleanup. Blobs and Limiter are optional.
type Sweeper struct {
	store   Store
	blobs   Blobs
	limiter Limiter
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a sweeper.
func New(store Store, blobs Blobs, limiter Limiter, cfg Config, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BlobMaxAge <= 0 {
		cfg.BlobMaxAge = DefaultBlobMaxAge
	}
	if cfg.LimiterIdle <= 0 {
		cfg.LimiterIdle = DefaultLimiterIdle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, blobs: blobs, limiter: limiter, cfg: cfg, now: time.Now, logger: logger}
}

// Start runs a background goroutine that sweeps every interval until ctx ends.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("TTL worker started", "interval", s.cfg.Interval, "blob_max_age", s.cfg.BlobMaxAge)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				s.logger.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Result counts what one sweep removed.
type Result struct {
	Sessions int64
	Blocks   int64
	Blobs    int
	Limiters int
}

// Sweep runs one cleanup pass. Failures are logged and do not stop the
// remaining steps.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	now := s.now().UTC()
	var res Result

	if n, err := s.store.DeleteExpiredSessions(ctx, now); err != nil {
		s.logger.Error("TTL worker failed to delete expired sessions", "error", err)
	} else {
		res.Sessions = n
	}

	if n, err := s.store.ClearAllExpiredBlocks(ctx, now); err != nil {
		s.logger.Error("TTL worker failed to clear expired blocks", "error", err)
	} else {
		res.Blocks = n
	}

	if s.blobs != nil {
		if n, err := s.blobs.RemoveOlderThan(ctx, now.Add(-s.cfg.BlobMaxAge)); err != nil {
			s.logger.Error("TTL worker failed to remove stale uploads", "error", err)
		} else {
			res.Blobs = n
		}
	}

	if s.limiter != nil {
		res.Limiters = s.limiter.Evict(s.cfg.LimiterIdle)
	}

	if res != (Result{}) {
		s.logger.Info("TTL worker cleanup completed",
			"sessions", res.Sessions,
			"blocks", res.Blocks,
			"blobs", res.Blobs,
			"limiters", res.Limiters)
	}
	return res
}
