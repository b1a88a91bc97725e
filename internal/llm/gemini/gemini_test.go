package gemini

import (
	"errors"
	"testing"

	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/core"
	"google.golang.org/genai"
)

type tempNetErr struct{}

func (tempNetErr) Error() string   { return "temp net err" }
func (tempNetErr) Timeout() bool   { return false }
func (tempNetErr) Temporary() bool { return true }

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name          string
		in            error
		wantTransient bool
	}{
		{name: "nil", in: nil, wantTransient: false},
		{name: "api_429", in: genai.APIError{Code: 429}, wantTransient: true},
		{name: "api_503", in: genai.APIError{Code: 503}, wantTransient: true},
		{name: "api_400", in: genai.APIError{Code: 400}, wantTransient: false},
		{name: "net_temporary", in: tempNetErr{}, wantTransient: true},
		{name: "flattened_api_429", in: errors.New(genai.APIError{Code: 429}.Error()), wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			var te *core.TransientError
			isTransient := errors.As(got, &te)
			if isTransient != tt.wantTransient {
				t.Fatalf("transient=%v want=%v (err=%T %v)", isTransient, tt.wantTransient, got, got)
			}
		})
	}
}

func TestToContents_MapsRolesAndSkipsBlank(t *testing.T) {
	got := toContents([]llm.Message{
		{Role: llm.RoleUser, Text: "find companies"},
		{Role: llm.RoleAssistant, Text: `{"queries": []}`},
		{Role: llm.RoleUser, Text: "   "},
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "model" {
		t.Fatalf("unexpected roles: %q %q", got[0].Role, got[1].Role)
	}
	if got[1].Parts[0].Text != `{"queries": []}` {
		t.Fatalf("unexpected text: %q", got[1].Parts[0].Text)
	}
}

func TestBuildConfig(t *testing.T) {
	cfg := buildConfig(llm.Request{System: "be terse", JSON: true, Grounded: true})
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "be terse" {
		t.Fatalf("missing system instruction: %#v", cfg.SystemInstruction)
	}
	if cfg.ResponseMIMEType != "application/json" {
		t.Fatalf("ResponseMIMEType=%q", cfg.ResponseMIMEType)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].GoogleSearch == nil {
		t.Fatalf("expected google search tool, got %#v", cfg.Tools)
	}

	plain := buildConfig(llm.Request{})
	if plain.SystemInstruction != nil || len(plain.Tools) != 0 || plain.ResponseMIMEType != "" {
		t.Fatalf("unexpected plain config: %#v", plain)
	}
}
