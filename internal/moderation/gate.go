// Package moderation implements the sequential validation gates run before any flow action.
package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/testcraft/internal/apperr"
	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/llm"
)

// Completion ops issued by the gates.
const (
	OpLanguage       = "gate_language"
	OpSafety         = "gate_safety"
	OpIntent         = "gate_intent"
	OpFeedbackIntent = "gate_feedback_intent"
)

// Gate names.
const (
	GateLanguage       = "language"
	GateSafety         = "safety"
	GateIntent         = "intent"
	GateFeedbackIntent = "feedback_intent"
)

const notRequired = "Not Required"

// Input is the content under review.
type Input struct {
	// Text is the concatenated free text checked by the language and safety gates.
	Text           string
	Background     string
	Requirements   string
	AdditionalInfo string
	Feedback       string
	TestCases      []domain.TestCase
}

// RequestInput builds gate input for a generation or enhancement request.
func RequestInput(background, requirements, additionalInfo string) Input {
	return Input{
		Text:           strings.Join([]string{background, requirements, additionalInfo}, " "),
		Background:     background,
		Requirements:   requirements,
		AdditionalInfo: additionalInfo,
	}
}

// FeedbackInput builds gate input for human feedback on existing test cases.
func FeedbackInput(cases []domain.TestCase, feedback string) Input {
	return Input{
		Text:      feedback,
		Feedback:  feedback,
		TestCases: cases,
	}
}

// Gate is a single pass/fail content check. Check returns nil on pass,
// a policy *apperr.Error on failure, and any other error when the check
// itself could not be completed.
type Gate interface {
	Name() string
	Check(ctx context.Context, in Input) error
}

// Config holds model settings shared by the gates.
type Config struct {
	Model       string
	SafetyModel string
	Timeout     time.Duration
}

// askVerdict runs a single-field yes/no completion. Anything other than a
// JSON object carrying "yes" or "no" in field is a hard failure.
func askVerdict(ctx context.Context, c llm.Completer, req llm.Request, field string) (bool, error) {
	req.Schema = llm.VerdictSchema(field)

	var raw map[string]json.RawMessage
	if err := llm.CompleteJSON(ctx, c, req, &raw); err != nil {
		return false, err
	}
	value, ok := raw[field]
	if !ok {
		return false, apperr.New(apperr.KindGeneration, fmt.Sprintf("%s: verdict field %q missing", req.Op, field))
	}
	var verdict string
	if err := json.Unmarshal(value, &verdict); err != nil {
		return false, apperr.Wrap(apperr.KindGeneration, fmt.Sprintf("%s: verdict field %q is not a string", req.Op, field), err)
	}
	switch strings.ToLower(strings.TrimSpace(verdict)) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, apperr.New(apperr.KindGeneration, fmt.Sprintf("%s: unexpected verdict %q", req.Op, verdict))
	}
}

// LanguageGate fails with LANGUAGE_ERROR when the text is not English.
type LanguageGate struct {
	completer llm.Completer
	cfg       Config
}

// NewLanguageGate creates a language gate.
func NewLanguageGate(c llm.Completer, cfg Config) *LanguageGate {
	return &LanguageGate{completer: c, cfg: cfg}
}

// Name returns the gate name.
func (g *LanguageGate) Name() string { return GateLanguage }

// Check runs the language check.
func (g *LanguageGate) Check(ctx context.Context, in Input) error {
	english, err := askVerdict(ctx, g.completer, llm.Request{
		Op:          OpLanguage,
		Model:       g.cfg.Model,
		System:      languageInstruction,
		Parts:       []llm.Part{llm.TextPart("Please analyze the following text for language quality: " + in.Text)},
		Temperature: llm.Temperature(0.2),
		Timeout:     g.cfg.Timeout,
	}, "isEnglish")
	if err != nil {
		return err
	}
	if !english {
		return apperr.New(apperr.KindLanguage, "the provided content is not in English")
	}
	return nil
}

// SafetyGate fails with HARMFUL_CONTENT when the text is flagged. A
// provider-side safety block counts as a harmful verdict.
type SafetyGate struct {
	completer llm.Completer
	cfg       Config
}

// NewSafetyGate creates a harmful-content gate.
func NewSafetyGate(c llm.Completer, cfg Config) *SafetyGate {
	return &SafetyGate{completer: c, cfg: cfg}
}

// Name returns the gate name.
func (g *SafetyGate) Name() string { return GateSafety }

// Check runs the harmful-content check.
func (g *SafetyGate) Check(ctx context.Context, in Input) error {
	model := g.cfg.SafetyModel
	if model == "" {
		model = g.cfg.Model
	}
	harmful, err := askVerdict(ctx, g.completer, llm.Request{
		Op:            OpSafety,
		Model:         model,
		System:        safetyInstruction,
		Parts:         []llm.Part{llm.TextPart(fmt.Sprintf("%q", in.Text))},
		Temperature:   llm.Temperature(0.1),
		SafetyFilters: true,
		Timeout:       g.cfg.Timeout,
	}, "harmful")
	if err != nil {
		if isContentBlocked(err) {
			return apperr.Wrap(apperr.KindHarmfulContent, "content blocked by provider safety filters", err)
		}
		return err
	}
	if harmful {
		return apperr.New(apperr.KindHarmfulContent, "the provided content has been flagged as harmful or inappropriate")
	}
	return nil
}

// IntentGate fails with INVALID_INTENT when the request is not about software testing.
type IntentGate struct {
	completer llm.Completer
	cfg       Config
}

// NewIntentGate creates the test-generation intent gate.
func NewIntentGate(c llm.Completer, cfg Config) *IntentGate {
	return &IntentGate{completer: c, cfg: cfg}
}

// Name returns the gate name.
func (g *IntentGate) Name() string { return GateIntent }

// Check runs the intent check.
func (g *IntentGate) Check(ctx context.Context, in Input) error {
	additional := in.AdditionalInfo
	if strings.TrimSpace(additional) == "" {
		additional = notRequired
	}
	prompt := fmt.Sprintf("Application Overview: %s\n\nRequirements: %s\nAdditional Information: %s",
		in.Background, in.Requirements, additional)

	valid, err := askVerdict(ctx, g.completer, llm.Request{
		Op:          OpIntent,
		Model:       g.cfg.Model,
		System:      intentInstruction,
		Parts:       []llm.Part{llm.TextPart(prompt)},
		Temperature: llm.Temperature(0.1),
		Timeout:     g.cfg.Timeout,
	}, "validIntent")
	if err != nil {
		return err
	}
	if !valid {
		return apperr.New(apperr.KindInvalidIntent, "the provided requirements do not describe a software testing request")
	}
	return nil
}

// FeedbackIntentGate fails with INVALID_INTENT when feedback is unrelated to the test cases.
type FeedbackIntentGate struct {
	completer llm.Completer
	cfg       Config
}

// NewFeedbackIntentGate creates the feedback-relevance intent gate.
func NewFeedbackIntentGate(c llm.Completer, cfg Config) *FeedbackIntentGate {
	return &FeedbackIntentGate{completer: c, cfg: cfg}
}

// Name returns the gate name.
func (g *FeedbackIntentGate) Name() string { return GateFeedbackIntent }

// Check runs the feedback relevance check.
func (g *FeedbackIntentGate) Check(ctx context.Context, in Input) error {
	cases, err := json.Marshal(domain.TestCaseList{TestCases: in.TestCases}.Normalize())
	if err != nil {
		return fmt.Errorf("encode test cases: %w", err)
	}
	prompt := fmt.Sprintf("Human Feedback: %s\nTest Cases: %s", in.Feedback, cases)

	valid, err := askVerdict(ctx, g.completer, llm.Request{
		Op:          OpFeedbackIntent,
		Model:       g.cfg.Model,
		System:      feedbackIntentInstruction,
		Parts:       []llm.Part{llm.TextPart(prompt)},
		Temperature: llm.Temperature(0.1),
		Timeout:     g.cfg.Timeout,
	}, "validIntent")
	if err != nil {
		return err
	}
	if !valid {
		return apperr.New(apperr.KindInvalidIntent, "the provided feedback is not related to the test cases")
	}
	return nil
}
