package testgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/llm"
	"github.com/ashureev/testcraft/internal/metrics"
)

// Merger revises only the test cases a review flagged and merges the
// corrections back into the original list.
type Merger struct {
	completer llm.Completer
	cfg       Config
	logger    *slog.Logger
}

// NewMerger creates a merger.
func NewMerger(c llm.Completer, cfg Config, logger *slog.Logger) *Merger {
	return &Merger{completer: c, cfg: cfg, logger: loggerOrDefault(logger)}
}

// Merge returns list with flagged items replaced by their revisions. The
// result always has the identifiers of list in the same order. When no
// issue references an item of list no completion call is made.
func (m *Merger) Merge(ctx context.Context, list domain.TestCaseList, review domain.ReviewResult) (domain.TestCaseList, error) {
	flagged := review.FlaggedIDs()

	subset := make([]domain.TestCase, 0, len(flagged))
	present := make(map[string]struct{}, len(flagged))
	for _, tc := range list.TestCases {
		if _, ok := flagged[tc.ID]; ok {
			subset = append(subset, tc)
			present[tc.ID] = struct{}{}
		}
	}
	if len(subset) == 0 {
		return list, nil
	}

	issues := make([]domain.ReviewIssue, 0, len(review.Issues))
	for _, issue := range review.Issues {
		if _, ok := present[issue.TestCaseID]; ok {
			issues = append(issues, issue)
		}
	}

	subsetJSON, err := json.Marshal(domain.TestCaseList{TestCases: subset}.Normalize())
	if err != nil {
		return domain.TestCaseList{}, fmt.Errorf("encode flagged test cases: %w", err)
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return domain.TestCaseList{}, fmt.Errorf("encode review issues: %w", err)
	}

	var revised domain.TestCaseList
	err = llm.CompleteJSON(ctx, m.completer, llm.Request{
		Op:     OpRevise,
		Model:  m.cfg.Model,
		System: reviseInstruction,
		Parts: []llm.Part{llm.TextPart(fmt.Sprintf(
			"Test Cases with Issues Only:\n%s\n\nReview Points to Address:\n%s\n\nUpdate ONLY the test cases above and return them in the same format.",
			subsetJSON, issuesJSON))},
		Schema:  llm.TestCaseListSchema(),
		Timeout: m.cfg.GenerateTimeout,
	}, &revised)
	if err != nil {
		return domain.TestCaseList{}, err
	}

	merged, changed := mergeByID(list.TestCases, revised.TestCases, present)
	if changed < len(subset) {
		m.logger.Warn("Revision omitted flagged test cases, keeping originals",
			"flagged", len(subset),
			"revised", changed,
		)
	}
	metrics.TestCasesMerged(OpRevise, changed)
	m.logger.Info("Review corrections merged", "total", len(merged), "revised", changed)

	return domain.TestCaseList{TestCases: merged}.Normalize(), nil
}
