package domain

import (
	"time"
)

// ViolationKind categorizes a recorded violation.
type ViolationKind string

const (
	// ViolationHarmfulContent is recorded when the safety gate flags input.
	ViolationHarmfulContent ViolationKind = "HARMFUL_CONTENT"
	// ViolationInvalidIntent exists for completeness; current policy never records it.
	ViolationInvalidIntent ViolationKind = "INVALID_INTENT"
)

// Violation is an append-only record of flagged user content.
type Violation struct {
	Kind      ViolationKind `json:"type"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
}

// TruncateSample bounds content to at most limit runes.
func TruncateSample(content string, limit int) string {
	if limit <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit])
}

// BlockStatus is the derived block state of an account at a point in time.
type BlockStatus struct {
	IsBlocked      bool          `json:"isBlocked"`
	RemainingTime  time.Duration `json:"-"`
	BlockExpiresAt *time.Time    `json:"blockExpiresAt,omitempty"`
	ViolationCount int           `json:"violationCount"`
}

// RemainingMillis returns the remaining block time in milliseconds.
func (s BlockStatus) RemainingMillis() int64 {
	return s.RemainingTime.Milliseconds()
}

// RemainingHours returns the remaining block time rounded up to whole hours.
func (s BlockStatus) RemainingHours() int64 {
	if s.RemainingTime <= 0 {
		return 0
	}
	hours := s.RemainingTime / time.Hour
	if s.RemainingTime%time.Hour != 0 {
		hours++
	}
	return int64(hours)
}
