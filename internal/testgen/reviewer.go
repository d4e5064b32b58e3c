package testgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/llm"
)

// Reviewer evaluates a test case list against the writing criteria.
type Reviewer struct {
	completer llm.Completer
	cfg       Config
	logger    *slog.Logger
}

// NewReviewer creates a reviewer.
func NewReviewer(c llm.Completer, cfg Config, logger *slog.Logger) *Reviewer {
	return &Reviewer{completer: c, cfg: cfg, logger: loggerOrDefault(logger)}
}

type reviewResponse struct {
	ChangesRequired *bool                `json:"changesRequired"`
	Issues          []domain.ReviewIssue `json:"issues"`
}

// Review returns the issues found in list. The returned flag is derived
// from the issues and never taken from the provider.
func (r *Reviewer) Review(ctx context.Context, list domain.TestCaseList) (domain.ReviewResult, error) {
	body, err := json.Marshal(list.Normalize())
	if err != nil {
		return domain.ReviewResult{}, fmt.Errorf("encode test cases: %w", err)
	}

	var resp reviewResponse
	err = llm.CompleteJSON(ctx, r.completer, llm.Request{
		Op:     OpReview,
		Model:  r.cfg.Model,
		System: reviewInstruction,
		Parts: []llm.Part{llm.TextPart(fmt.Sprintf(
			"Test Cases to Review: %s\n\nReview the test cases above and identify any issues or improvements.", body))},
		Schema:  llm.ReviewSchema(),
		Timeout: r.cfg.ReviewTimeout,
	}, &resp)
	if err != nil {
		return domain.ReviewResult{}, err
	}

	result := domain.NewReviewResult(resp.Issues)
	if resp.ChangesRequired != nil && *resp.ChangesRequired != result.ChangesRequired {
		r.logger.Warn("Review flag disagrees with issues, using issues",
			"changes_required", *resp.ChangesRequired,
			"issue_count", len(result.Issues),
		)
	}
	return result, nil
}
