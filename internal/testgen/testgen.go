// Package testgen generates, reviews and revises manual test cases through the completion service.
package testgen

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ashureev/testcraft/internal/apperr"
	"github.com/ashureev/testcraft/internal/domain"
)

// Completion ops issued by this package.
const (
	OpGenerate       = "generate"
	OpGenerateImages = "generate_images"
	OpReview         = "review"
	OpRevise         = "revise"
	OpFeedback       = "feedback"
	OpEnhance        = "enhance"
)

const (
	notRequired  = "Not Required"
	notMandatory = "Not Mandatory"
)

// Config holds model settings for the engines in this package.
type Config struct {
	Model           string
	GenerateTimeout time.Duration
	ReviewTimeout   time.Duration
}

var validate = validator.New()

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// checkList rejects provider output that cannot be used as a test case list.
func checkList(op string, list domain.TestCaseList) error {
	if err := validate.Var(list.TestCases, "min=1,unique=ID,dive"); err != nil {
		return apperr.Wrap(apperr.KindGeneration, fmt.Sprintf("%s: invalid test case list", op), err)
	}
	return nil
}

// mergeByID maps over original in order and substitutes the revised item
// for every identifier in allowed that the revision returned. Items the
// revision dropped, and revisions for identifiers outside allowed, are ignored.
func mergeByID(original, revised []domain.TestCase, allowed map[string]struct{}) ([]domain.TestCase, int) {
	byID := make(map[string]domain.TestCase, len(revised))
	for _, tc := range revised {
		if _, ok := allowed[tc.ID]; !ok {
			continue
		}
		if strings.TrimSpace(tc.Description) == "" {
			continue
		}
		if _, seen := byID[tc.ID]; seen {
			continue
		}
		byID[tc.ID] = tc
	}

	out := make([]domain.TestCase, len(original))
	changed := 0
	for i, tc := range original {
		if updated, ok := byID[tc.ID]; ok {
			if updated.Steps == nil {
				updated.Steps = []string{}
			}
			out[i] = updated
			changed++
			continue
		}
		out[i] = tc
	}
	return out, changed
}
