// Package llmtest provides a scripted Completer for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashureev/testcraft/internal/llm"
)

// Handler answers one request.
type Handler func(req llm.Request) (string, error)

// Stub is a Completer that answers by request Op and records every call.
type Stub struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []llm.Request
}

// New creates an empty stub. Calls for unscripted ops fail.
func New() *Stub {
	return &Stub{handlers: make(map[string]Handler)}
}

// On scripts a handler for op.
func (s *Stub) On(op string, h Handler) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[op] = h
	return s
}

// Reply scripts a fixed response text for op.
func (s *Stub) Reply(op, text string) *Stub {
	return s.On(op, func(llm.Request) (string, error) { return text, nil })
}

// Fail scripts a fixed error for op.
func (s *Stub) Fail(op string, err error) *Stub {
	return s.On(op, func(llm.Request) (string, error) { return "", err })
}

// Hang scripts op to block until the call context ends.
func (s *Stub) Hang(op string) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[op] = nil
	return s
}

// Complete implements llm.Completer.
func (s *Stub) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	h, ok := s.handlers[req.Op]
	s.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("llmtest: unexpected op %q", req.Op)
	}
	if h == nil {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return h(req)
}

// Calls returns a copy of all recorded requests in call order.
func (s *Stub) Calls() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// Ops returns the ops of all recorded requests in call order.
func (s *Stub) Ops() []string {
	calls := s.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// CallCount returns how many times op was called.
func (s *Stub) CallCount(op string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}
