package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestScripted_ReplaysInOrder(t *testing.T) {
	s := llm.NewScripted("one", "two")
	ctx := context.Background()

	got, err := s.Generate(ctx, llm.Prompt("sys", "a"))
	require.NoError(t, err)
	assert.Equal(t, "one", got)
	got, err = s.Generate(ctx, llm.Prompt("sys", "b"))
	require.NoError(t, err)
	assert.Equal(t, "two", got)

	_, err = s.Generate(ctx, llm.Prompt("sys", "c"))
	require.Error(t, err)
	require.Len(t, s.Calls(), 3)
	assert.Equal(t, "b", s.Calls()[1].LastUser())
}

func TestRequest_Transcript(t *testing.T) {
	req := llm.Request{Messages: []llm.Message{
		{Role: llm.RoleUser, Text: "hi"},
		{Role: llm.RoleAssistant, Text: "hello"},
	}}
	assert.Equal(t, "USER: hi\n\nASSISTANT: hello", req.Transcript())
	assert.Equal(t, "hi", req.LastUser())
}

func TestThrottle_PassesThroughAndHonorsContext(t *testing.T) {
	gen := llm.Throttle(llm.Func(func(context.Context, llm.Request) (string, error) {
		return "ok", nil
	}), 1, 1)

	got, err := gen.Generate(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	// The single token is spent; a second call must wait about a second.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = gen.Generate(ctx, llm.Request{})
	require.Error(t, err)
}

func TestTraced_LogsErrorsWithRedaction(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	gen := llm.Traced(llm.Func(func(context.Context, llm.Request) (string, error) {
		return "", errors.New("bad request api_key=sk-live")
	}), zap.New(core))

	_, err := gen.Generate(context.Background(), llm.Prompt("s", "u"))
	require.Error(t, err)

	warn := logs.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warn, 1)
	assert.NotContains(t, warn[0].ContextMap()["error"], "sk-live")
	assert.Equal(t, "error", warn[0].ContextMap()["status"])
}
