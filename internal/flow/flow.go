// Package flow orchestrates block checks, moderation gates and the test case engines.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/testcraft/internal/abuse"
	"github.com/ashureev/testcraft/internal/apperr"
	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/llm"
	"github.com/ashureev/testcraft/internal/metrics"
	"github.com/ashureev/testcraft/internal/moderation"
	"github.com/ashureev/testcraft/internal/testgen"
)

// Stage is a step of a flow.
type Stage string

const (
	StageBlockCheck   Stage = "BLOCK_CHECK"
	StageGateLanguage Stage = "GATE_LANGUAGE"
	StageGateSafety   Stage = "GATE_SAFETY"
	StageGateIntent   Stage = "GATE_INTENT"
	StageGenerate     Stage = "GENERATE"
	StageReview       Stage = "REVIEW"
	StageMerge        Stage = "MERGE"
	StageRevise       Stage = "REVISE"
	StageEnhance      Stage = "ENHANCE"
	StageDone         Stage = "DONE"
)

// Flow names used in logs and metrics.
const (
	FlowGenerate = "generate"
	FlowFeedback = "feedback"
	FlowEnhance  = "enhance"
)

// ProgressFunc observes stage transitions. It runs on the flow goroutine, so
// implementations should hand off slow work instead of blocking.
type ProgressFunc func(Stage)

func (p ProgressFunc) emit(s Stage) {
	if p != nil {
		p(s)
	}
}

func gateStage(gate string) Stage {
	switch gate {
	case moderation.GateLanguage:
		return StageGateLanguage
	case moderation.GateSafety:
		return StageGateSafety
	default:
		return StageGateIntent
	}
}

// ImageReleaser deletes consumed uploads.
type ImageReleaser interface {
	RemoveAll(names []string)
}

// Deps are the collaborators of a Service.
type Deps struct {
	RequestGates  *moderation.Chain
	FeedbackGates *moderation.Chain
	Tracker       *abuse.Tracker
	Generator     *testgen.Generator
	Reviewer      *testgen.Reviewer
	Merger        *testgen.Merger
	Feedback      *testgen.FeedbackReviser
	Enhancer      *testgen.Enhancer
	// Images releases uploads after a generate flow. Optional.
	Images ImageReleaser
	Logger *slog.Logger
}

// Service runs the generate, feedback and enhance flows.
type Service struct {
	Deps
}

// NewService creates a flow service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{Deps: d}
}

// Settings configures the engines built by New.
type Settings struct {
	Gates      moderation.Config
	Generation testgen.Config
}

// Images reads uploaded images for generation and releases them afterwards.
type Images interface {
	testgen.ImageSource
	ImageReleaser
}

// New wires every gate and engine to one completion service.
// images may be nil when no uploads are accepted.
func New(c llm.Completer, tracker *abuse.Tracker, images Images, s Settings, logger *slog.Logger) *Service {
	d := Deps{
		RequestGates:  moderation.NewRequestChain(c, s.Gates, logger),
		FeedbackGates: moderation.NewFeedbackChain(c, s.Gates, logger),
		Tracker:       tracker,
		Generator:     testgen.NewGenerator(c, images, s.Generation, logger),
		Reviewer:      testgen.NewReviewer(c, s.Generation, logger),
		Merger:        testgen.NewMerger(c, s.Generation, logger),
		Feedback:      testgen.NewFeedbackReviser(c, s.Generation, logger),
		Enhancer:      testgen.NewEnhancer(c, s.Generation, logger),
		Logger:        logger,
	}
	if images != nil {
		d.Images = images
	}
	return NewService(d)
}

// GenerateRequest starts a generate flow.
type GenerateRequest struct {
	UserID         string
	Background     string
	Requirements   string
	AdditionalInfo string
	// Images names uploaded blobs. They are released when the flow returns.
	Images   []string
	Progress ProgressFunc
}

// GenerateResult is the outcome of a generate flow.
type GenerateResult struct {
	TestCases domain.TestCaseList `json:"testCases"`
	Review    domain.ReviewResult `json:"review"`
}

// FeedbackRequest starts a feedback flow.
type FeedbackRequest struct {
	UserID    string
	TestCases domain.TestCaseList
	Feedback  string
	Progress  ProgressFunc
}

// EnhanceRequest starts an enhance flow.
type EnhanceRequest struct {
	UserID         string
	Background     string
	Requirements   string
	AdditionalInfo string
	Progress       ProgressFunc
}

// CombineAdditionalInfo joins custom instructions and mock instructions
// into a single additional information string.
func CombineAdditionalInfo(custom, mock string) string {
	custom = strings.TrimSpace(custom)
	mock = strings.TrimSpace(mock)
	switch {
	case mock == "":
		return custom
	case custom == "":
		return "Mock Instructions: " + mock
	default:
		return custom + " Mock Instructions: " + mock
	}
}

// Generate runs gates, generation, review and the partial merge.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (res GenerateResult, err error) {
	start := time.Now()
	defer func() { err = s.observe(ctx, FlowGenerate, req.UserID, start, err) }()
	if len(req.Images) > 0 && s.Images != nil {
		defer s.Images.RemoveAll(req.Images)
	}

	in := moderation.RequestInput(req.Background, req.Requirements, req.AdditionalInfo)
	sample := req.Background + " " + req.Requirements
	if err := s.admit(ctx, req.UserID, s.RequestGates, in, sample, req.Progress); err != nil {
		return GenerateResult{}, err
	}

	req.Progress.emit(StageGenerate)
	list, err := s.Generator.Generate(ctx, testgen.GenerateInput{
		Background:     req.Background,
		Requirements:   req.Requirements,
		AdditionalInfo: req.AdditionalInfo,
		Images:         req.Images,
	})
	if err != nil {
		return GenerateResult{}, err
	}

	req.Progress.emit(StageReview)
	review, err := s.Reviewer.Review(ctx, list)
	if err != nil {
		return GenerateResult{}, err
	}

	if review.ChangesRequired {
		req.Progress.emit(StageMerge)
		list, err = s.Merger.Merge(ctx, list, review)
		if err != nil {
			return GenerateResult{}, err
		}
	}

	req.Progress.emit(StageDone)
	return GenerateResult{TestCases: list, Review: review}, nil
}

// ApplyFeedback runs the feedback gates and revises the list.
func (s *Service) ApplyFeedback(ctx context.Context, req FeedbackRequest) (list domain.TestCaseList, err error) {
	start := time.Now()
	defer func() { err = s.observe(ctx, FlowFeedback, req.UserID, start, err) }()

	in := moderation.FeedbackInput(req.TestCases.TestCases, req.Feedback)
	if err := s.admit(ctx, req.UserID, s.FeedbackGates, in, "Feedback: "+req.Feedback, req.Progress); err != nil {
		return domain.TestCaseList{}, err
	}

	req.Progress.emit(StageRevise)
	list, err = s.Feedback.Apply(ctx, req.TestCases, req.Feedback)
	if err != nil {
		return domain.TestCaseList{}, err
	}

	req.Progress.emit(StageDone)
	return list, nil
}

// Enhance runs the request gates and rewrites the request.
func (s *Service) Enhance(ctx context.Context, req EnhanceRequest) (q domain.EnhancedQuery, err error) {
	start := time.Now()
	defer func() { err = s.observe(ctx, FlowEnhance, req.UserID, start, err) }()

	in := moderation.RequestInput(req.Background, req.Requirements, req.AdditionalInfo)
	sample := req.Background + " " + req.Requirements
	if err := s.admit(ctx, req.UserID, s.RequestGates, in, sample, req.Progress); err != nil {
		return domain.EnhancedQuery{}, err
	}

	req.Progress.emit(StageEnhance)
	q, err = s.Enhancer.Enhance(ctx, testgen.EnhanceInput{
		Background:     req.Background,
		Requirements:   req.Requirements,
		AdditionalInfo: req.AdditionalInfo,
	})
	if err != nil {
		return domain.EnhancedQuery{}, err
	}

	req.Progress.emit(StageDone)
	return q, nil
}

// CheckBlockStatus reports the current block status of userID.
func (s *Service) CheckBlockStatus(ctx context.Context, userID string) (domain.BlockStatus, error) {
	return s.Tracker.CheckBlockStatus(ctx, userID)
}

// admit rejects blocked identities, then runs the gate chain. A harmful
// content failure records a violation and may itself block the identity.
func (s *Service) admit(ctx context.Context, userID string, chain *moderation.Chain, in moderation.Input, sample string, progress ProgressFunc) error {
	progress.emit(StageBlockCheck)
	status, err := s.Tracker.CheckBlockStatus(ctx, userID)
	if err != nil {
		return fmt.Errorf("check block status: %w", err)
	}
	if status.IsBlocked {
		return Blocked(status, nil)
	}

	err = chain.Run(ctx, in, func(gate string) { progress.emit(gateStage(gate)) })
	if err == nil {
		return nil
	}
	if !apperr.Is(err, apperr.KindHarmfulContent) || userID == "" {
		return err
	}

	// Recorded even if the caller went away mid-flow.
	status, recErr := s.Tracker.RecordViolation(context.WithoutCancel(ctx), userID, domain.ViolationHarmfulContent, sample)
	if recErr != nil {
		s.Logger.Error("Failed to record violation", "user_id", userID, "error", recErr)
		return err
	}
	if status.IsBlocked {
		return Blocked(status, err)
	}
	return err
}

// Blocked builds the USER_BLOCKED failure for status.
func Blocked(status domain.BlockStatus, cause error) error {
	detail := fmt.Sprintf("%s Block expires in %d hours.", apperr.KindUserBlocked.Message(), status.RemainingHours())
	return apperr.Wrap(apperr.KindUserBlocked, detail, &abuse.BlockedError{Status: status, Cause: cause})
}

// observe records the flow outcome. A context error that escaped without a
// failure kind is tagged here so callers always see TIMEOUT or PROVIDER_ERROR.
func (s *Service) observe(ctx context.Context, flowName, userID string, start time.Time, err error) error {
	if _, tagged := apperr.KindOf(err); err != nil && !tagged &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = llm.Classify(ctx, flowName, err)
	}

	result := "ok"
	if err != nil {
		if kind, ok := apperr.KindOf(err); ok {
			result = string(kind)
		} else {
			result = "internal"
		}
	}
	elapsed := time.Since(start)
	metrics.ObserveFlow(flowName, result, elapsed)

	if err != nil {
		s.Logger.Info("Flow failed", "flow", flowName, "user_id", userID, "result", result, "duration_ms", elapsed.Milliseconds(), "error", err)
		return err
	}
	s.Logger.Info("Flow completed", "flow", flowName, "user_id", userID, "duration_ms", elapsed.Milliseconds())
	return nil
}
