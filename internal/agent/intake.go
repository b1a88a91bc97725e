package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/internal/reply"
)

// Intake payload keys. All three must be present for intake to complete.
const (
	KeyCompanyInfo = "company_info"
	KeyProductInfo = "product_info"
	KeyICP         = "ICP"
)

// IntakeDone is the chat response once the intake payload is frozen.
const IntakeDone = "Intake data acquired successfully, please wait while I find leads for you"

const intakeInstructions = `You collect what a sales rep needs before lead research starts:
- company_info: name, website, description, industry, location, employee_count, annual_revenue
- product_info: name, description, key_features, competitive_advantages
- ICP: target_titles, company_industry, employee_range, revenue_range_million_usd, target_regions, additional_notes

Ask for missing details in at most four sentences. If the user has nothing more to add,
make reasonable guesses, confirm them, and use empty strings for anything still unknown.
When you have everything, reply with ONLY a JSON object holding company_info, product_info
and ICP. No markdown fences.`

// History keeps per-session conversations outside the agent so one Intake value can
// serve every session. The oldest sessions are evicted past the size bound.
type History struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []llm.Message]
}

func NewHistory(size int) (*History, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, []llm.Message](size)
	if err != nil {
		return nil, fmt.Errorf("history cache: %w", err)
	}
	return &History{cache: c}, nil
}

// Append adds msgs to the session and returns a copy of the full conversation.
func (h *History) Append(session string, msgs ...llm.Message) []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, _ := h.cache.Get(session)
	next := make([]llm.Message, 0, len(cur)+len(msgs))
	next = append(next, cur...)
	next = append(next, msgs...)
	h.cache.Add(session, next)
	return append([]llm.Message(nil), next...)
}

func (h *History) Messages(session string) []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, _ := h.cache.Get(session)
	return append([]llm.Message(nil), cur...)
}

func (h *History) Reset(session string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache.Remove(session)
}

// Turn is one chat exchange as returned to the caller.
type Turn struct {
	Response string `json:"response"`
	Complete bool   `json:"complete"`
	// Payload is the frozen intake JSON once Complete is set.
	Payload string `json:"-"`
}

// Intake drives the multi-turn conversation that produces the intake payload.
type Intake struct {
	Gen          llm.Generator
	History      *History
	Instructions string
	Logger       *zap.Logger
}

func NewIntake(gen llm.Generator, history *History, logger *zap.Logger) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Intake{Gen: gen, History: history, Instructions: intakeInstructions, Logger: logger}
}

// Handle records message, asks the model for the next turn and reports whether the
// intake payload is complete.
func (a *Intake) Handle(ctx context.Context, session, message string) (Turn, error) {
	msgs := a.History.Append(session, llm.Message{Role: llm.RoleUser, Text: message})
	raw, err := a.Gen.Generate(ctx, llm.Request{System: a.Instructions, Messages: msgs})
	if err != nil {
		return Turn{Response: FallbackText}, fmt.Errorf("intake: %w", err)
	}
	a.History.Append(session, llm.Message{Role: llm.RoleAssistant, Text: raw})

	if strings.TrimSpace(raw) == "" {
		return Turn{Response: FallbackText}, nil
	}
	res := reply.Decode(raw, KeyCompanyInfo, KeyProductInfo, KeyICP)
	if res.OK() {
		a.Logger.Info("intake complete", zap.String("session", session))
		return Turn{Response: IntakeDone, Complete: true, Payload: res.Text}, nil
	}
	// A model that answers in the {response, complete} shape still gets its text shown.
	if s := res.String("response"); s != "" {
		return Turn{Response: s}, nil
	}
	return Turn{Response: raw}, nil
}

// Reset forgets the session's conversation.
func (a *Intake) Reset(session string) {
	a.History.Reset(session)
}
