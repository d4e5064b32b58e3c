package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/testcraft/internal/apperr"
	"github.com/ashureev/testcraft/internal/metrics"
)

// StripFence removes a surrounding markdown code fence from model output.
func StripFence(text string) string {
	s := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = strings.TrimPrefix(s, "```json")
	case strings.HasPrefix(s, "```JSON"):
		s = strings.TrimPrefix(s, "```JSON")
	case strings.HasPrefix(s, "```"):
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// DecodeJSON strips a code fence and decodes the remaining JSON into out.
func DecodeJSON(text string, out any) error {
	body := StripFence(text)
	if body == "" {
		return fmt.Errorf("empty response")
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Complete performs one call with the request timeout applied and
// classifies failures into the flow taxonomy. It never retries.
func Complete(ctx context.Context, c Completer, req Request) (string, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.Complete(ctx, req)
	if err != nil {
		classified := Classify(ctx, req.Op, err)
		kind, _ := apperr.KindOf(classified)
		metrics.ObserveLLMCall(req.Op, string(kind), time.Since(start))
		return "", classified
	}
	metrics.ObserveLLMCall(req.Op, "ok", time.Since(start))
	return text, nil
}

// CompleteJSON performs a structured completion and decodes it into out.
// A response that cannot be decoded is a GENERATION_ERROR.
func CompleteJSON(ctx context.Context, c Completer, req Request, out any) error {
	text, err := Complete(ctx, c, req)
	if err != nil {
		return err
	}
	if err := DecodeJSON(text, out); err != nil {
		return apperr.Wrap(apperr.KindGeneration, req.Op+": malformed response", err)
	}
	return nil
}

// Classify tags err with a failure kind. Already tagged errors pass through,
// deadline expiry becomes TIMEOUT and anything else, cancellation included,
// becomes PROVIDER_ERROR.
func Classify(ctx context.Context, op string, err error) error {
	var tagged *apperr.Error
	if errors.As(err, &tagged) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, op+": deadline exceeded", err)
	}
	return apperr.Wrap(apperr.KindProvider, op+": completion failed", err)
}
