// Package abuse records policy violations and derives account block status.
package abuse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/metrics"
	"github.com/ashureev/testcraft/internal/store"
)

// Policy defaults.
const (
	DefaultThreshold   = 2
	DefaultDuration    = 48 * time.Hour
	DefaultSampleLimit = 500
)

// Policy configures when accounts are blocked.
type Policy struct {
	Threshold   int
	Duration    time.Duration
	SampleLimit int
}

// DefaultPolicy returns the standard abuse policy.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, Duration: DefaultDuration, SampleLimit: DefaultSampleLimit}
}

// Tracker records violations and answers block status queries.
type Tracker struct {
	repo   store.Repository
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker. Zero policy fields fall back to defaults.
func NewTracker(repo store.Repository, policy Policy, logger *slog.Logger) *Tracker {
	if policy.Threshold <= 0 {
		policy.Threshold = DefaultThreshold
	}
	if policy.Duration <= 0 {
		policy.Duration = DefaultDuration
	}
	if policy.SampleLimit <= 0 {
		policy.SampleLimit = DefaultSampleLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{repo: repo, policy: policy, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Policy returns the active policy.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// RecordViolation appends a violation with a truncated content sample and
// returns the resulting block status. Crossing the threshold blocks the
// account in the same write.
func (t *Tracker) RecordViolation(ctx context.Context, userID string, kind domain.ViolationKind, content string) (domain.BlockStatus, error) {
	now := t.now().UTC()
	v := domain.Violation{
		Kind:      kind,
		Content:   domain.TruncateSample(content, t.policy.SampleLimit),
		Timestamp: now,
	}

	res, err := t.repo.AppendViolation(ctx, userID, v, t.policy.Threshold, now.Add(t.policy.Duration))
	if err != nil {
		return domain.BlockStatus{}, fmt.Errorf("record violation: %w", err)
	}

	metrics.ViolationRecorded(string(kind))
	t.logger.Warn("Violation recorded",
		"user_id", userID,
		"kind", kind,
		"violation_count", res.ViolationCount,
	)
	if res.NewlyBlocked {
		metrics.BlockApplied()
		t.logger.Warn("User blocked",
			"user_id", userID,
			"violation_count", res.ViolationCount,
			"block_expires_at", res.BlockExpiresAt,
		)
	}

	status := domain.BlockStatus{
		IsBlocked:      res.IsBlocked,
		BlockExpiresAt: res.BlockExpiresAt,
		ViolationCount: res.ViolationCount,
	}
	if res.IsBlocked && res.BlockExpiresAt != nil {
		status.RemainingTime = res.BlockExpiresAt.Sub(now)
	}
	return status, nil
}

// CheckBlockStatus returns the current block status. An expired block is
// cleared as a side effect. Unknown users are reported as not blocked.
func (t *Tracker) CheckBlockStatus(ctx context.Context, userID string) (domain.BlockStatus, error) {
	user, err := t.repo.GetUser(ctx, userID)
	if err != nil {
		return domain.BlockStatus{}, fmt.Errorf("check block status: %w", err)
	}
	if user == nil {
		return domain.BlockStatus{}, nil
	}

	status := domain.BlockStatus{ViolationCount: user.ViolationCount()}
	if !user.IsBlocked || user.BlockExpiresAt == nil {
		return status, nil
	}

	now := t.now().UTC()
	if !now.Before(*user.BlockExpiresAt) {
		cleared, err := t.repo.ClearExpiredBlock(ctx, userID, now)
		if err != nil {
			return domain.BlockStatus{}, fmt.Errorf("clear expired block: %w", err)
		}
		if cleared {
			metrics.BlockExpired()
			t.logger.Info("User block expired", "user_id", userID)
		}
		return status, nil
	}

	status.IsBlocked = true
	status.BlockExpiresAt = user.BlockExpiresAt
	status.RemainingTime = user.BlockRemaining(now)
	return status, nil
}

// BlockedError carries the block status of a rejected identity. It wraps
// the failure that caused the block, if any.
type BlockedError struct {
	Status domain.BlockStatus
	Cause  error
}

func (e *BlockedError) Error() string {
	msg := fmt.Sprintf("account blocked for %d more hours", e.Status.RemainingHours())
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *BlockedError) Unwrap() error {
	return e.Cause
}
