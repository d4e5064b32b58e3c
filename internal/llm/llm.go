// Package llm is the boundary to the hosted completion service.
package llm

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"
)

// ErrContentBlocked is returned when the provider refuses to answer on safety grounds.
var ErrContentBlocked = errors.New("provider blocked content")

// Part is one segment of request content: text or an inline binary image.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// TextPart creates a text segment.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart creates an inline binary segment.
func ImagePart(data []byte, mimeType string) Part {
	return Part{Data: data, MIMEType: mimeType}
}

// IsImage reports whether the part carries binary data.
func (p Part) IsImage() bool {
	return len(p.Data) > 0
}

// Request is a single completion call.
type Request struct {
	// Op names the call for logs and metrics, e.g. "gate_language".
	Op          string
	Model       string
	System      string
	Parts       []Part
	Schema      *genai.Schema
	Temperature *float32
	// SafetyFilters enables provider-side harassment and hate-speech filtering.
	SafetyFilters bool
	Timeout       time.Duration
}

// Completer performs a completion call and returns the raw response text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Temperature returns a pointer suitable for Request.Temperature.
func Temperature(t float32) *float32 {
	return &t
}

// ImageCount returns how many image parts the request carries.
func (r Request) ImageCount() int {
	n := 0
	for _, p := range r.Parts {
		if p.IsImage() {
			n++
		}
	}
	return n
}
