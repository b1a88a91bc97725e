// Package agent implements the stage contract every pipeline step follows: check
// inputs, make one model call, decode the reply, forward usable text.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/internal/reply"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

// FallbackText replaces an empty model reply.
const FallbackText = "I apologize, but I couldn't generate a response."

type Status int

const (
	StatusOK Status = iota
	// StatusDegraded means the reply was forwarded as raw text.
	StatusDegraded
	// StatusMissingInput means the model was never called.
	StatusMissingInput
	// StatusFailed means the generator returned an error.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDegraded:
		return "degraded"
	case StatusMissingInput:
		return "missing_input"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Output is what a stage hands to the next one. Text is always set.
type Output struct {
	Stage  string
	Status Status
	Text   string
	Reply  reply.Result
}

// Usable reports whether Text is validated JSON.
func (o Output) Usable() bool { return o.Status == StatusOK }

// Complete reports the structural "complete" flag of a validated reply.
func (o Output) Complete() bool { return o.Usable() && o.Reply.Bool("complete") }

// Stage is a stateless unit of work. One value is built at startup and shared by
// every session.
type Stage struct {
	Name         string
	Instructions string
	// Inputs labels each positional input of Run.
	Inputs []string
	// Required lists the top-level keys a usable reply must carry.
	Required []string
	// Grounded asks the backend to enable web search for this stage.
	Grounded bool
	Logger   *zap.Logger
}

func (s Stage) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Run executes the stage once. Generator errors are returned alongside an Output
// whose Text describes the failure, so callers that continue still have something
// to forward.
func (s Stage) Run(ctx context.Context, gen llm.Generator, inputs ...string) (Output, error) {
	out := Output{Stage: s.Name}
	if len(inputs) != len(s.Inputs) {
		return out, fmt.Errorf("stage %s: got %d inputs, want %d", s.Name, len(inputs), len(s.Inputs))
	}
	for i, in := range inputs {
		if strings.TrimSpace(in) == "" {
			out.Status = StatusMissingInput
			out.Text = fmt.Sprintf("No %s available", s.Inputs[i])
			s.logger().Warn("stage input missing", zap.String("stage", s.Name), zap.String("input", s.Inputs[i]))
			return out, nil
		}
	}

	req := llm.Prompt(s.Instructions, s.message(inputs))
	req.JSON = len(s.Required) > 0
	req.Grounded = s.Grounded
	raw, err := gen.Generate(ctx, req)
	if err != nil {
		out.Status = StatusFailed
		out.Text = fmt.Sprintf("%s failed: %s", s.Name, redact.Secrets(err.Error()))
		return out, fmt.Errorf("stage %s: %w", s.Name, err)
	}
	if strings.TrimSpace(raw) == "" {
		out.Status = StatusDegraded
		out.Text = FallbackText
		s.logger().Warn("stage reply empty", zap.String("stage", s.Name))
		return out, nil
	}

	res := reply.Decode(raw, s.Required...)
	out.Reply = res
	out.Text = res.Text
	if res.OK() {
		out.Status = StatusOK
		return out, nil
	}
	out.Status = StatusDegraded
	s.logger().Warn("stage reply degraded",
		zap.String("stage", s.Name),
		zap.Strings("missing", res.Missing),
		zap.Error(res.Err),
	)
	return out, nil
}

func (s Stage) message(inputs []string) string {
	if len(inputs) == 1 {
		return inputs[0]
	}
	parts := make([]string, 0, len(inputs))
	for i, in := range inputs {
		parts = append(parts, s.Inputs[i]+":\n"+in)
	}
	return strings.Join(parts, "\n\n")
}
