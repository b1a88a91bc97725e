package redact_test

import (
	"strings"
	"testing"

	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

func TestSecrets(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		leak    string
		wantSub string
	}{
		{name: "bearer", in: "auth failed: Bearer pplx-abc123", leak: "pplx-abc123", wantSub: "Bearer <redacted>"},
		{name: "query key", in: `Get "https://www.googleapis.com/customsearch/v1?key=AIzaSECRET&cx=c0ffee&q=cfo"`, leak: "AIzaSECRET", wantSub: "key=<redacted>"},
		{name: "query cx", in: "customsearch/v1?q=x&cx=c0ffee", leak: "c0ffee", wantSub: "cx=<redacted>"},
		{name: "json header", in: `{"x-api-key": "apollo-secret"}`, leak: "apollo-secret", wantSub: "<redacted_kv>"},
		{name: "env style", in: "GEMINI_API_KEY=g-secret missing model", leak: "g-secret", wantSub: "<redacted_kv>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := redact.Secrets(tt.in)
			if strings.Contains(got, tt.leak) {
				t.Fatalf("Secrets(%q)=%q still contains %q", tt.in, got, tt.leak)
			}
			if !strings.Contains(got, tt.wantSub) {
				t.Fatalf("Secrets(%q)=%q want substring %q", tt.in, got, tt.wantSub)
			}
		})
	}
}

func TestSecrets_LeavesPlainTextAlone(t *testing.T) {
	in := "no new URLs left to scrape for acme_google_research_agent"
	if got := redact.Secrets(in); got != in {
		t.Fatalf("Secrets(%q)=%q", in, got)
	}
}
