package moderation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ashureev/testcraft/internal/apperr"
	"github.com/ashureev/testcraft/internal/llm"
	"github.com/ashureev/testcraft/internal/metrics"
)

// Chain runs gates in order and stops at the first failure.
type Chain struct {
	gates  []Gate
	logger *slog.Logger
}

// NewChain creates a chain from gates in evaluation order.
func NewChain(logger *slog.Logger, gates ...Gate) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{gates: gates, logger: logger}
}

// NewRequestChain builds language -> safety -> intent for generate and enhance.
func NewRequestChain(c llm.Completer, cfg Config, logger *slog.Logger) *Chain {
	return NewChain(logger,
		NewLanguageGate(c, cfg),
		NewSafetyGate(c, cfg),
		NewIntentGate(c, cfg),
	)
}

// NewFeedbackChain builds language -> safety -> feedback intent for human feedback.
func NewFeedbackChain(c llm.Completer, cfg Config, logger *slog.Logger) *Chain {
	return NewChain(logger,
		NewLanguageGate(c, cfg),
		NewSafetyGate(c, cfg),
		NewFeedbackIntentGate(c, cfg),
	)
}

// Gates returns the gate names in evaluation order.
func (c *Chain) Gates() []string {
	names := make([]string, len(c.gates))
	for i, g := range c.gates {
		names[i] = g.Name()
	}
	return names
}

// Run evaluates every gate in order. before, if non-nil, is called with the
// gate name just before that gate runs. Later gates never run after a failure.
func (c *Chain) Run(ctx context.Context, in Input, before func(gate string)) error {
	for _, g := range c.gates {
		if err := ctx.Err(); err != nil {
			return llm.Classify(ctx, "gate_"+g.Name(), err)
		}
		if before != nil {
			before(g.Name())
		}

		err := g.Check(ctx, in)
		if err == nil {
			metrics.GateResult(g.Name(), "pass")
			continue
		}

		if kind, ok := apperr.KindOf(err); ok && kind.IsPolicy() {
			metrics.GateResult(g.Name(), "fail")
			c.logger.Info("Gate rejected input", "gate", g.Name(), "kind", kind, "text_length", len(in.Text))
		} else {
			metrics.GateResult(g.Name(), "error")
			c.logger.Warn("Gate could not complete", "gate", g.Name(), "error", err)
		}
		return err
	}
	return nil
}

func isContentBlocked(err error) bool {
	return errors.Is(err, llm.ErrContentBlocked)
}
