package llm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
	"go.uber.org/zap"
)

type traced struct {
	next   Generator
	logger *zap.Logger
	calls  atomic.Int64
}

// Traced logs every call to next: sizes, duration, and error classification.
func Traced(next Generator, logger *zap.Logger) Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &traced{next: next, logger: logger}
}

func (t *traced) Generate(ctx context.Context, req Request) (string, error) {
	call := t.calls.Add(1)
	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Debug("generate request",
		zap.Int64("call", call),
		zap.Int("messages", len(req.Messages)),
		zap.Int("systemChars", len(req.System)),
		zap.Int("promptChars", len(req.Transcript())),
		zap.Bool("json", req.JSON),
		zap.Bool("grounded", req.Grounded),
		zap.String("deadlineIn", deadlineIn),
	)

	start := time.Now()
	out, err := t.next.Generate(ctx, req)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		t.logger.Warn("generate response",
			zap.Int64("call", call),
			zap.Duration("duration", elapsed),
			zap.String("status", "error"),
			zap.Bool("retryable", core.IsTransient(err)),
			zap.String("error", redact.Secrets(err.Error())),
		)
		return out, err
	}
	t.logger.Debug("generate response",
		zap.Int64("call", call),
		zap.Duration("duration", elapsed),
		zap.String("status", "ok"),
		zap.Int("replyChars", len(out)),
	)
	return out, nil
}
