// Package llm defines the generative worker boundary: role instructions plus a
// conversation in, free text out.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrEmptyReply is returned by generators that got a response with no text.
var ErrEmptyReply = errors.New("llm: empty reply")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role Role
	Text string
}

// Request is one call to a generative worker.
type Request struct {
	// System carries the fixed role instructions.
	System   string
	Messages []Message
	// JSON asks the backend for a JSON-only reply where it supports that.
	JSON bool
	// Grounded enables the backend's web search tool where it has one.
	Grounded bool
}

// Prompt builds a single-turn request.
func Prompt(system, user string) Request {
	return Request{System: system, Messages: []Message{{Role: RoleUser, Text: user}}}
}

// Generator is an unreliable oracle: callers must validate what it returns.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// LastUser returns the text of the last user message.
func (r Request) LastUser() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Text
		}
	}
	return ""
}

// Transcript renders the request as plain text; used by backends without native
// multi-turn support and for logging.
func (r Request) Transcript() string {
	var sb strings.Builder
	for i, m := range r.Messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.ToUpper(string(m.Role)))
		sb.WriteString(": ")
		sb.WriteString(m.Text)
	}
	return sb.String()
}

// Scripted replays canned replies in order. It records every request it sees.
// Dry runs and tests use it in place of a model.
type Scripted struct {
	mu      sync.Mutex
	replies []string
	calls   []Request
}

func NewScripted(replies ...string) *Scripted {
	return &Scripted{replies: replies}
}

func (s *Scripted) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if len(s.replies) == 0 {
		return "", fmt.Errorf("scripted generator: no reply left for call %d", len(s.calls))
	}
	next := s.replies[0]
	s.replies = s.replies[1:]
	return next, nil
}

// Calls returns the requests received so far.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}
