// Package apperr defines the closed set of failure kinds a flow can end with.
package apperr

import (
	"errors"
	"fmt"
)

// Kind tags a flow failure. Callers switch on Kind, never on message text.
type Kind string

const (
	KindLanguage       Kind = "LANGUAGE_ERROR"
	KindHarmfulContent Kind = "HARMFUL_CONTENT"
	KindInvalidIntent  Kind = "INVALID_INTENT"
	KindGeneration     Kind = "GENERATION_ERROR"
	KindProvider       Kind = "PROVIDER_ERROR"
	KindTimeout        Kind = "TIMEOUT"
	KindUserBlocked    Kind = "USER_BLOCKED"
)

// Kinds lists every kind in the taxonomy.
var Kinds = []Kind{
	KindLanguage,
	KindHarmfulContent,
	KindInvalidIntent,
	KindGeneration,
	KindProvider,
	KindTimeout,
	KindUserBlocked,
}

// Title returns a short user-facing heading for the kind.
func (k Kind) Title() string {
	switch k {
	case KindLanguage:
		return "Language Not Supported"
	case KindHarmfulContent:
		return "Content Safety Violation"
	case KindInvalidIntent:
		return "Invalid Request Scope"
	case KindGeneration:
		return "Failed to generate test cases"
	case KindProvider:
		return "Model provider unavailable"
	case KindTimeout:
		return "Model request timed out"
	case KindUserBlocked:
		return "Account Blocked"
	default:
		return "Internal error"
	}
}

// Message returns the remediation text shown to the user.
func (k Kind) Message() string {
	switch k {
	case KindLanguage:
		return "The provided content is not in English. Please provide your input in English."
	case KindHarmfulContent:
		return "The provided content has been flagged as harmful or inappropriate. Please revise your input and try again."
	case KindInvalidIntent:
		return "Your request does not appear to be related to software test case generation. Please ensure your background describes a software application, requirements mention software features, and additional information relates to testing."
	case KindGeneration:
		return "The model returned a response that could not be used. Please try again."
	case KindProvider:
		return "The model provider could not be reached. Please try again later."
	case KindTimeout:
		return "The model did not respond in time. Please try again."
	case KindUserBlocked:
		return "Your account is temporarily blocked due to community guideline violations."
	default:
		return "An unexpected error occurred."
	}
}

// Error is a tagged flow failure.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// New creates a tagged error with a detail string.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap creates a tagged error around a cause.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost tagged error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsPolicy reports whether the kind is a user-input policy failure.
func (k Kind) IsPolicy() bool {
	return k == KindLanguage || k == KindHarmfulContent || k == KindInvalidIntent
}
