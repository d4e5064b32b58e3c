package testgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/testcraft/internal/apperr"
	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/llm"
	"github.com/ashureev/testcraft/internal/metrics"
)

// FeedbackReviser applies free-text human feedback to a test case list.
type FeedbackReviser struct {
	completer llm.Completer
	cfg       Config
	logger    *slog.Logger
}

// NewFeedbackReviser creates a feedback reviser.
func NewFeedbackReviser(c llm.Completer, cfg Config, logger *slog.Logger) *FeedbackReviser {
	return &FeedbackReviser{completer: c, cfg: cfg, logger: loggerOrDefault(logger)}
}

// Apply sends the whole list with the feedback and reconciles the answer
// against list by identifier: the result keeps the length and order of
// list, unknown identifiers are dropped and missing ones keep their original.
// Identifiers in list must be unique.
func (f *FeedbackReviser) Apply(ctx context.Context, list domain.TestCaseList, feedback string) (domain.TestCaseList, error) {
	if err := validate.Var(list.TestCases, "unique=ID"); err != nil {
		return domain.TestCaseList{}, apperr.Wrap(apperr.KindGeneration, OpFeedback+": duplicate test case ids", err)
	}
	body, err := json.Marshal(list.Normalize())
	if err != nil {
		return domain.TestCaseList{}, fmt.Errorf("encode test cases: %w", err)
	}

	var revised domain.TestCaseList
	err = llm.CompleteJSON(ctx, f.completer, llm.Request{
		Op:     OpFeedback,
		Model:  f.cfg.Model,
		System: feedbackInstruction,
		Parts: []llm.Part{llm.TextPart(fmt.Sprintf(
			"Original Test Cases:\n%s\n\nHuman Review Points/Feedback:\n%s\n\nUpdate the test cases based on the feedback.",
			body, feedback))},
		Schema:  llm.TestCaseListSchema(),
		Timeout: f.cfg.GenerateTimeout,
	}, &revised)
	if err != nil {
		return domain.TestCaseList{}, err
	}

	all := make(map[string]struct{}, len(list.TestCases))
	for _, id := range list.IDs() {
		all[id] = struct{}{}
	}
	merged, changed := mergeByID(list.TestCases, revised.TestCases, all)

	if len(revised.TestCases) != len(list.TestCases) {
		f.logger.Warn("Feedback revision changed list length, reconciled by id",
			"original", len(list.TestCases),
			"returned", len(revised.TestCases),
		)
	}
	metrics.TestCasesMerged(OpFeedback, changed)

	return domain.TestCaseList{TestCases: merged}.Normalize(), nil
}
