package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shpitdev/leadgen-pipeline/internal/llm"
)

func TestStageRun_MissingInputSkipsModel(t *testing.T) {
	t.Parallel()

	gen := llm.NewScripted()
	out, err := PeopleDiscovery(nil).Run(context.Background(), gen, `{"ICP":{}}`, "  ")
	require.NoError(t, err)
	assert.Equal(t, StatusMissingInput, out.Status)
	assert.Equal(t, "No company list available", out.Text)
	assert.Empty(t, gen.Calls())
}

func TestStageRun_TrimsPreamble(t *testing.T) {
	t.Parallel()

	gen := llm.NewScripted(`Sure! {"company_list": []}`)
	out, err := CompanyDiscovery(nil).Run(context.Background(), gen, `{"company_info":{"name":"Acme"}}`)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, `{"company_list": []}`, out.Text)

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].JSON)
	assert.True(t, calls[0].Grounded)
	assert.Equal(t, `{"company_info":{"name":"Acme"}}`, calls[0].LastUser())
}

func TestStageRun_DegradedKeepsRawAndWarns(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	stage := CompanyDiscovery(zap.New(core))
	raw := "I could not find any companies."
	out, err := stage.Run(context.Background(), llm.NewScripted(raw), "{}")
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, out.Status)
	assert.Equal(t, raw, out.Text)
	assert.Equal(t, 1, logs.FilterMessage("stage reply degraded").Len())
}

func TestStageRun_EmptyReplyFallsBack(t *testing.T) {
	t.Parallel()

	out, err := CompanyDiscovery(nil).Run(context.Background(), llm.NewScripted("   "), "{}")
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, out.Status)
	assert.Equal(t, FallbackText, out.Text)
}

func TestStageRun_GeneratorErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend down api_key=abc123")
	gen := llm.Func(func(context.Context, llm.Request) (string, error) { return "", boom })
	out, err := LeadScoring(nil).Run(context.Background(), gen, "{}", "{}")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, out.Status)
	assert.NotContains(t, out.Text, "abc123")
}

func TestStageRun_LabelsMultipleInputs(t *testing.T) {
	t.Parallel()

	gen := llm.NewScripted(`{"complete": false, "leads_list": []}`)
	out, err := LeadScoring(nil).Run(context.Background(), gen, `{"ICP":{}}`, `{"company_list":[]}`)
	require.NoError(t, err)
	assert.True(t, out.Usable())
	assert.False(t, out.Complete())

	msg := gen.Calls()[0].LastUser()
	assert.True(t, strings.HasPrefix(msg, InputIntake+":\n"))
	assert.Contains(t, msg, InputCompanies+":\n{\"company_list\":[]}")
}

func TestStageRun_WrongArity(t *testing.T) {
	t.Parallel()

	_, err := LeadScoring(nil).Run(context.Background(), llm.NewScripted(), "{}")
	require.Error(t, err)
}

func TestIntake_CompletesOnFullPayload(t *testing.T) {
	t.Parallel()

	history, err := NewHistory(8)
	require.NoError(t, err)
	gen := llm.NewScripted(
		`{"response": "What does your product do?", "complete": false}`,
		`Great, here it is: {"company_info":{"name":"Acme"},"product_info":{"name":"Widget"},"ICP":{"target_titles":["CFO"]}}`,
	)
	intake := NewIntake(gen, history, nil)
	ctx := context.Background()

	turn, err := intake.Handle(ctx, "s1", "We are Acme")
	require.NoError(t, err)
	assert.False(t, turn.Complete)
	assert.Equal(t, "What does your product do?", turn.Response)

	turn, err = intake.Handle(ctx, "s1", "We sell widgets to CFOs")
	require.NoError(t, err)
	assert.True(t, turn.Complete)
	assert.Equal(t, IntakeDone, turn.Response)
	assert.True(t, strings.HasPrefix(turn.Payload, `{"company_info"`))

	calls := gen.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].Messages, 3, "second call sees user, assistant, user")
	assert.Len(t, history.Messages("s1"), 4)
}

func TestIntake_SessionsAreIsolated(t *testing.T) {
	t.Parallel()

	history, err := NewHistory(8)
	require.NoError(t, err)
	gen := llm.NewScripted("hi a", "hi b")
	intake := NewIntake(gen, history, nil)

	_, err = intake.Handle(context.Background(), "a", "one")
	require.NoError(t, err)
	_, err = intake.Handle(context.Background(), "b", "two")
	require.NoError(t, err)

	assert.Len(t, gen.Calls()[1].Messages, 1)
	intake.Reset("a")
	assert.Empty(t, history.Messages("a"))
	assert.Len(t, history.Messages("b"), 2)
}
