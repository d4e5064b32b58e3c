package testgen

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/llm"
)

// EnhanceInput is the request to rewrite.
type EnhanceInput struct {
	Background     string
	Requirements   string
	AdditionalInfo string
}

// Enhancer rewrites a generation request for clarity without adding facts.
type Enhancer struct {
	completer llm.Completer
	cfg       Config
	logger    *slog.Logger
}

// NewEnhancer creates an enhancer.
func NewEnhancer(c llm.Completer, cfg Config, logger *slog.Logger) *Enhancer {
	return &Enhancer{completer: c, cfg: cfg, logger: loggerOrDefault(logger)}
}

// Enhance returns the rewritten request.
func (e *Enhancer) Enhance(ctx context.Context, in EnhanceInput) (domain.EnhancedQuery, error) {
	var out domain.EnhancedQuery
	err := llm.CompleteJSON(ctx, e.completer, llm.Request{
		Op:     OpEnhance,
		Model:  e.cfg.Model,
		System: enhanceInstruction,
		Parts: []llm.Part{llm.TextPart(fmt.Sprintf("Application Overview: %s\nRequirements: %s\nAdditional Information: %s",
			in.Background, in.Requirements, orDefault(in.AdditionalInfo, notMandatory)))},
		Schema:      llm.EnhancedQuerySchema(),
		Temperature: llm.Temperature(0.1),
		Timeout:     e.cfg.ReviewTimeout,
	}, &out)
	if err != nil {
		return domain.EnhancedQuery{}, err
	}
	return out, nil
}
