// Package app wires stages, enrichment and research into the lead pipeline and
// runs it per chat session.
package app

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/agent"
	"github.com/shpitdev/leadgen-pipeline/internal/enrich"
	"github.com/shpitdev/leadgen-pipeline/internal/leads"
	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
	"github.com/shpitdev/leadgen-pipeline/internal/reply"
	"github.com/shpitdev/leadgen-pipeline/internal/research"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/schema"
)

// Orchard entry holding every stage's forwarded text for a run.
const (
	PipelineAgent     = "lead_pipeline"
	EntryStageOutputs = "stage-outputs"
	keyOutputs        = "outputs"
	keyRounds         = "rounds"
)

// Mode selects how the stage sequence is driven.
type Mode string

const (
	// ModeSequential runs each stage exactly once.
	ModeSequential Mode = "sequential"
	// ModeGroupChat lets scoring repeat until it reports complete, up to MaxRounds.
	ModeGroupChat Mode = "group_chat"
)

const DefaultGroupChatMaxRounds = 20

type Options struct {
	Mode      Mode
	MaxRounds int

	// DropZeroScores removes scored leads below MinScore after scoring.
	DropZeroScores bool
	MinScore       int

	// EmitDelimited renders the final leads as CSV or TSV in Result.Delimited.
	EmitDelimited bool
	Format        schema.Format

	Enrich enrich.Options
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeSequential
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultGroupChatMaxRounds
	}
	if o.Mode == ModeSequential {
		o.MaxRounds = len(stageOrder)
	}
	if o.DropZeroScores && o.MinScore <= 0 {
		o.MinScore = 1
	}
	if o.Format == "" {
		o.Format = schema.FormatCSV
	}
	return o
}

// Generators holds one backend per stage. Stages can share a backend.
type Generators struct {
	Company    llm.Generator
	People     llm.Generator
	Enrichment llm.Generator
	Scoring    llm.Generator
}

// Single uses gen for every stage.
func Single(gen llm.Generator) Generators {
	return Generators{Company: gen, People: gen, Enrichment: gen, Scoring: gen}
}

// Pipeline is stateless across runs; one value serves every session.
type Pipeline struct {
	Company    agent.Stage
	People     agent.Stage
	Enrichment agent.Stage
	Scoring    agent.Stage
	Gens       Generators

	// Enricher, when set, fills contact details between people discovery and the
	// enrichment stage.
	Enricher enrich.Enricher
	// Researchers run before company discovery; their scraped pages are appended to
	// the intake profile the first stages see.
	Researchers []*research.Researcher

	Opts   Options
	Logger *zap.Logger
}

// NewPipeline builds the standard four-stage pipeline.
func NewPipeline(gens Generators, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Company:    agent.CompanyDiscovery(logger),
		People:     agent.PeopleDiscovery(logger),
		Enrichment: agent.ContactEnrichment(logger),
		Scoring:    agent.LeadScoring(logger),
		Gens:       gens,
		Opts:       opts,
		Logger:     logger,
	}
}

// Result is the outcome of one run.
type Result struct {
	RunID   string
	Outputs []agent.Output
	Rounds  int
	// Text is the final leads JSON, or the last scoring text when it could not be parsed.
	Text      string
	Leads     []leads.Lead
	Complete  bool
	Delimited string

	EnrichStats enrich.Stats
	Research    []research.Report
}

// Run drives the stages for one intake payload. Stage failures do not stop the
// run: the failure text is forwarded and the next stage copes. Run only returns an
// error when ctx is done or the orchard rejects a write.
func (p *Pipeline) Run(ctx context.Context, store *orchard.Store, intake string) (Result, error) {
	opts := p.Opts.withDefaults()
	res := Result{RunID: "run-" + uuid.NewString()[:8]}
	logger := p.logger().With(zap.String("run", res.RunID), zap.String("session", store.SessionID()))
	runStart := time.Now()
	logger.Info("pipeline run start",
		zap.String("mode", string(opts.Mode)),
		zap.Int("maxRounds", opts.MaxRounds),
		zap.Bool("enricher", p.Enricher != nil),
		zap.Int("researchers", len(p.Researchers)),
	)

	if err := store.Provision(PipelineAgent, orchard.Entry{
		TechnicalName: EntryStageOutputs,
		Description:   "Text each pipeline stage forwarded to the next, keyed by stage name.",
		Kinds:         map[string]orchard.Kind{keyOutputs: orchard.KindMap, keyRounds: orchard.KindNumber},
		Data:          map[string]any{keyOutputs: map[string]any{}, keyRounds: 0},
	}); err != nil {
		return res, err
	}

	profile := intake
	if len(p.Researchers) > 0 {
		reports, err := research.RunPhased(ctx, store, p.Researchers...)
		res.Research = reports
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			logger.Warn("research failed", zap.String("error", redact.Secrets(err.Error())))
		}
		if notes := researchNotes(store, p.Researchers); notes != "" {
			profile = intake + "\n\nweb research notes:\n" + notes
		}
	}

	texts := make(map[State]string, len(stageOrder))
	state := StateCompany
	for state != StateDone {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		stageStart := time.Now()
		out := p.step(ctx, logger, state, profile, texts, &res, opts)
		res.Outputs = append(res.Outputs, out)
		res.Rounds++
		texts[state] = out.Text
		logger.Info("stage done",
			zap.String("stage", string(state)),
			zap.String("status", out.Status.String()),
			zap.Int("round", res.Rounds),
			zap.Duration("duration", time.Since(stageStart).Round(time.Millisecond)),
		)
		if err := store.Update(PipelineAgent, EntryStageOutputs, keyOutputs, map[string]any{string(state): out.Text}, false); err != nil {
			return res, err
		}
		if err := store.Update(PipelineAgent, EntryStageOutputs, keyRounds, res.Rounds, true); err != nil {
			return res, err
		}

		next := Next(state, out)
		if next != StateDone && res.Rounds >= opts.MaxRounds {
			if opts.Mode == ModeGroupChat {
				logger.Warn("group chat hit round limit", zap.Int("rounds", res.Rounds))
			}
			next = StateDone
		}
		state = next
	}

	p.finish(logger, texts[StateScoring], &res, opts)
	logger.Info("pipeline run complete",
		zap.Int("leads", len(res.Leads)),
		zap.Bool("complete", res.Complete),
		zap.Int("rounds", res.Rounds),
		zap.Duration("duration", time.Since(runStart).Round(time.Millisecond)),
	)
	return res, nil
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// step runs the stage for state. Scoring reruns on its own previous output.
func (p *Pipeline) step(ctx context.Context, logger *zap.Logger, state State, intake string, texts map[State]string, res *Result, opts Options) agent.Output {
	var (
		out agent.Output
		err error
	)
	switch state {
	case StateCompany:
		out, err = p.Company.Run(ctx, p.Gens.Company, intake)
	case StatePeople:
		out, err = p.People.Run(ctx, p.Gens.People, intake, texts[StateCompany])
		if err == nil && out.Usable() {
			out = p.cleanPeople(ctx, logger, out, ownCompany(intake), res, opts)
		}
	case StateEnrichment:
		out, err = p.Enrichment.Run(ctx, p.Gens.Enrichment, texts[StatePeople])
	case StateScoring:
		prev := texts[StateScoring]
		if prev == "" {
			prev = texts[StateEnrichment]
		}
		out, err = p.Scoring.Run(ctx, p.Gens.Scoring, intake, prev)
	default:
		err = fmt.Errorf("no stage for state %q", state)
		out = agent.Output{Stage: string(state), Status: agent.StatusFailed, Text: err.Error()}
	}
	if err != nil {
		logger.Warn("stage failed", zap.String("stage", string(state)), zap.String("error", redact.Secrets(err.Error())))
	}
	return out
}

// cleanPeople dedups people, drops the rep's own company and, with an enricher set,
// fills contact details. The stage output text is replaced by the cleaned payload.
func (p *Pipeline) cleanPeople(ctx context.Context, logger *zap.Logger, out agent.Output, own string, res *Result, opts Options) agent.Output {
	payload, err := leads.ParseCompanies(out.Text)
	if err != nil {
		logger.Warn("people payload not decodable; forwarding as is", zap.Error(err))
		return out
	}
	companies := leads.CleanCompanies(payload.Companies, own)
	if p.Enricher != nil {
		enricher := newTracedEnricher(p.Enricher, logger, opts.Enrich)
		enriched, stats, err := enrich.EnrichPeople(ctx, companies, enricher, opts.Enrich)
		res.EnrichStats = stats
		if err != nil {
			logger.Warn("contact lookup aborted", zap.String("error", redact.Secrets(err.Error())))
		} else {
			companies = enriched
			logger.Info("contact lookup complete",
				zap.Int("attempted", stats.Attempted),
				zap.Int("enriched", stats.Enriched),
				zap.Int("failed", stats.Failed),
			)
		}
	}
	text, err := leads.Encode(leads.CompanyPayload{Companies: companies})
	if err != nil {
		logger.Warn("encode cleaned people", zap.Error(err))
		return out
	}
	out.Text = text
	return out
}

// finish parses the last scoring text into leads and applies the score filter.
func (p *Pipeline) finish(logger *zap.Logger, scoring string, res *Result, opts Options) {
	res.Text = scoring
	payload, err := leads.ParseLeads(scoring)
	if err != nil {
		logger.Warn("scoring payload not decodable; returning raw text", zap.Error(err))
		return
	}
	ls := leads.DedupLeads(payload.Leads)
	if opts.DropZeroScores {
		ls = leads.FilterScores(ls, opts.MinScore)
	}
	res.Leads = ls
	res.Complete = payload.Complete
	if text, err := leads.Encode(leads.LeadsPayload{Complete: payload.Complete, Leads: ls}); err == nil {
		res.Text = text
	}
	if opts.EmitDelimited {
		d, err := leads.FormatDelimited(ls, opts.Format)
		if err != nil {
			logger.Warn("render leads table", zap.Error(err))
			return
		}
		res.Delimited = d
	}
}

// ownCompany reads company_info.name from the intake payload.
func ownCompany(intake string) string {
	var in struct {
		CompanyInfo struct {
			Name string `json:"name"`
		} `json:"company_info"`
	}
	if err := reply.Decode(intake).Into(&in, false); err != nil {
		return ""
	}
	return strings.TrimSpace(in.CompanyInfo.Name)
}

// maxNoteChars bounds each scraped page in the research notes.
const maxNoteChars = 1500

// researchNotes collects the scraped page summaries of every researcher's target.
func researchNotes(store *orchard.Store, researchers []*research.Researcher) string {
	var sb strings.Builder
	for _, r := range researchers {
		if r.Mode() != research.ModeScrape {
			continue
		}
		data, err := store.Get(r.Name(), research.EntryScraped, research.KeyScrapedResults)
		if err != nil {
			continue
		}
		perAgent := orchard.AsMap(data[research.KeyScrapedResults])
		for _, target := range slices.Sorted(maps.Keys(perAgent)) {
			pages := orchard.AsMap(perAgent[target])
			for _, url := range slices.Sorted(maps.Keys(pages)) {
				content := strings.TrimSpace(orchard.AsString(orchard.AsMap(pages[url])["page_content"]))
				if content == "" {
					continue
				}
				content = clip(content, maxNoteChars)
				fmt.Fprintf(&sb, "- %s: %s\n", url, content)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// clip cuts s to at most n bytes on a rune boundary and marks the cut.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
