package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/internal/reply"
)

// FinalAnswerPrefix lets a model confirm in plain text: everything after the prefix
// is taken as the page content.
const FinalAnswerPrefix = "FINAL_ANSWER:"

// DefaultMaxRounds bounds the read conversation for one URL.
const DefaultMaxRounds = 8

// ErrNoConfirm is returned when the model never confirmed within the round limit.
var ErrNoConfirm = errors.New("crawl: no confirm within round limit")

// Confirmation is the content the model extracted for a URL.
type Confirmation struct {
	URL     string
	Content string
	Rounds  int
}

const readerInstructions = `You read a web page for a sales research team and extract what matters for
the research goal: company facts, people with their titles, and any contact details.

The page arrives in chunks. After each chunk reply with exactly one JSON object:
- {"action": "next"} to see the next chunk
- {"action": "confirm", "url": "<the page URL>", "content": "<everything relevant you found>"}

You must finish with confirm, using the page URL you were given. If nothing on the page
is relevant, confirm with content describing that.`

// Reader runs the chunked read-and-confirm conversation for one URL.
type Reader struct {
	Fetcher      Fetcher
	Gen          llm.Generator
	MaxRounds    int
	ChunkTokens  int
	ChunkOverlap float64
	Logger       *zap.Logger
}

type action struct {
	Action  string `json:"action"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Read fetches url and converses with the model until it confirms. confirm runs
// with the accepted content before Read returns; its error is returned as-is.
func (r *Reader) Read(ctx context.Context, url, goal string, confirm func(Confirmation) error) (Confirmation, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRounds := r.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	page, err := r.Fetcher.Fetch(ctx, url)
	if err != nil {
		return Confirmation{}, err
	}
	chunks := Chunk(page.Text, r.ChunkTokens, r.ChunkOverlap)
	if len(chunks) == 0 {
		return Confirmation{}, fmt.Errorf("crawl %s: no text extracted", url)
	}

	next := 0
	msgs := []llm.Message{{Role: llm.RoleUser, Text: chunkMessage(url, page.Title, goal, chunks, next)}}
	next++

	for round := 1; round <= maxRounds; round++ {
		raw, err := r.Gen.Generate(ctx, llm.Request{System: readerInstructions, Messages: msgs, JSON: true})
		if err != nil {
			return Confirmation{}, fmt.Errorf("crawl %s round %d: %w", url, round, err)
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Text: raw})

		got, feedback := r.interpret(url, raw)
		if got != nil {
			got.Rounds = round
			if confirm != nil {
				if err := confirm(*got); err != nil {
					return Confirmation{}, err
				}
			}
			logger.Debug("crawl confirmed", zap.String("url", url), zap.Int("rounds", round))
			return *got, nil
		}
		if feedback == "" {
			if next < len(chunks) {
				feedback = chunkMessage(url, page.Title, goal, chunks, next)
				next++
			} else {
				feedback = "There are no more chunks. Confirm now with what you have found."
			}
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Text: feedback})
	}
	logger.Warn("crawl hit round limit", zap.String("url", url), zap.Int("rounds", maxRounds))
	return Confirmation{}, fmt.Errorf("crawl %s: %w", url, ErrNoConfirm)
}

// interpret returns a confirmation, or the feedback for the next round. Empty
// feedback means "advance to the next chunk".
func (r *Reader) interpret(url, raw string) (*Confirmation, string) {
	trimmed := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(trimmed, FinalAnswerPrefix); ok {
		if content := strings.TrimSpace(rest); content != "" {
			return &Confirmation{URL: url, Content: content}, ""
		}
		return nil, "Your final answer was empty. Confirm with the content you found."
	}

	res := reply.Decode(raw, "action")
	if !res.OK() {
		return nil, `Reply with one JSON object: {"action": "next"} or {"action": "confirm", "url": ..., "content": ...}.`
	}
	var a action
	if err := res.Into(&a, false); err != nil {
		return nil, "Your action could not be read: " + err.Error()
	}
	switch strings.ToLower(strings.TrimSpace(a.Action)) {
	case "next":
		return nil, ""
	case "confirm":
		if !sameURL(a.URL, url) {
			return nil, fmt.Sprintf("Confirm must use the page URL %s.", url)
		}
		if strings.TrimSpace(a.Content) == "" {
			return nil, "Confirm needs non-empty content."
		}
		return &Confirmation{URL: url, Content: strings.TrimSpace(a.Content)}, ""
	default:
		return nil, fmt.Sprintf("Unknown action %q. Use next or confirm.", a.Action)
	}
}

func sameURL(a, b string) bool {
	norm := func(s string) string {
		return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), "/")
	}
	return norm(a) == norm(b)
}

func chunkMessage(url, title, goal string, chunks []string, i int) string {
	var sb strings.Builder
	if i == 0 {
		fmt.Fprintf(&sb, "URL: %s\n", url)
		if title != "" {
			fmt.Fprintf(&sb, "Title: %s\n", title)
		}
		if goal != "" {
			fmt.Fprintf(&sb, "Research goal: %s\n", goal)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Chunk %d of %d:\n%s", i+1, len(chunks), chunks[i])
	return sb.String()
}
