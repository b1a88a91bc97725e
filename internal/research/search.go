package research

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
	"github.com/shpitdev/leadgen-pipeline/internal/reply"
	"github.com/shpitdev/leadgen-pipeline/internal/search"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

// ConfirmPrefix opens a critic reply that accepts the proposed queries.
const ConfirmPrefix = "ANSWER_CONFIRMED:"

func writerInstructions(n int) string {
	return fmt.Sprintf(`You turn a sales research goal into web search queries.

Propose exactly %d distinct search queries that together best cover the goal. Mix
company-level queries (industry, region, size) with people-level ones (titles, teams).

Reply with one JSON object and nothing else: {"queries": ["...", "..."]}.
When you receive feedback, reply with the full revised list.`, n)
}

func criticInstructions(n int) string {
	return fmt.Sprintf(`You review web search queries written for a sales research goal.

Check that there are exactly %d queries, that none duplicates another, and that each
one helps the goal. If the list is acceptable, reply with a line starting with %s
followed by the list. Otherwise explain exactly what to change.`, n, ConfirmPrefix)
}

type queryProposal struct {
	Queries []string `json:"queries"`
}

func (r *Researcher) runSearch(ctx context.Context, store *orchard.Store) (Report, error) {
	name := r.opts.Name
	rep := Report{Agent: name, Mode: ModeSearch}

	profile, err := store.Get(name, EntryProfile, KeyGoal, KeyCompleted, KeyWebsites)
	if err != nil {
		return rep, err
	}
	if orchard.AsBool(profile[KeyCompleted]) {
		rep.Skipped = true
		rep.Message = fmt.Sprintf("Research for %q is already complete.", name)
		r.logger.Info("research already complete")
		return rep, nil
	}
	goal := r.opts.Goal
	if strings.TrimSpace(goal) == "" {
		goal = orchard.AsString(profile[KeyGoal])
	}
	if strings.TrimSpace(goal) == "" {
		return rep, fmt.Errorf("%w: %s has no research goal", ErrConfig, name)
	}
	if err := r.restoreMetrics(store); err != nil {
		return rep, err
	}

	queries, err := r.planQueries(ctx, goal)
	if err != nil {
		return rep, err
	}
	if err := store.Update(name, EntryProfile, KeyQueries, queries, false); err != nil {
		return rep, err
	}
	rep.Queries = len(queries)
	r.logger.Info("search queries confirmed", zap.Int("queries", len(queries)))

	seen := search.NewSeen(websiteURLs(profile[KeyWebsites])...)
	guarded := &search.Guarded{
		Next:  r.deps.Searcher,
		Quota: r.deps.Quota,
		OnAcquire: func(m search.Metrics) error {
			return persistMetrics(store, name, m)
		},
	}
	for _, q := range queries {
		results, err := guarded.Search(ctx, q, r.opts.ResultsPerQuery)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			msg := redact.Secrets(err.Error())
			r.logger.Warn("search failed", zap.String("query", q), zap.String("error", msg))
			rep.FailedSearches++
			if err := store.Update(name, EntryProfile, KeyWebsites, map[string]any{"query": q, "error": msg}, false); err != nil {
				return rep, err
			}
			continue
		}
		fresh := seen.Filter(results)
		rep.Searches++
		rep.NewURLs += len(fresh)
		if err := store.Update(name, EntryProfile, KeyWebsites, map[string]any{"query": q, "results": fresh}, false); err != nil {
			return rep, err
		}
	}

	if err := store.Update(name, EntryProfile, KeyCompleted, true, false); err != nil {
		return rep, err
	}
	rep.Message = fmt.Sprintf("Searched %d queries for %q: %d new URLs, %d failed searches.",
		rep.Queries, name, rep.NewURLs, rep.FailedSearches)
	r.logger.Info("research complete",
		zap.Int("searches", rep.Searches),
		zap.Int("failed", rep.FailedSearches),
		zap.Int("new_urls", rep.NewURLs))
	return rep, nil
}

// planQueries negotiates the query list between writer and critic. A proposal must
// pass the local checks before the critic sees it.
func (r *Researcher) planQueries(ctx context.Context, goal string) ([]string, error) {
	n := r.opts.QueriesPerSearch
	msgs := []llm.Message{{
		Role: llm.RoleUser,
		Text: fmt.Sprintf("Research goal:\n%s\n\nPropose exactly %d search queries.", goal, n),
	}}
	for round := 1; round <= r.opts.MaxNegotiationRounds; round++ {
		raw, err := r.deps.Writer.Generate(ctx, llm.Request{System: writerInstructions(n), Messages: msgs, JSON: true})
		if err != nil {
			return nil, fmt.Errorf("query writer round %d: %w", round, err)
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Text: raw})

		queries, feedback := proposal(raw, n)
		if feedback == "" && r.deps.Critic != nil {
			verdict, err := r.deps.Critic.Generate(ctx, llm.Prompt(criticInstructions(n), criticMessage(goal, queries)))
			if err != nil {
				return nil, fmt.Errorf("query critic round %d: %w", round, err)
			}
			if !strings.HasPrefix(strings.TrimSpace(verdict), ConfirmPrefix) {
				feedback = "The reviewer asked for changes:\n" + strings.TrimSpace(verdict)
			}
		}
		if feedback == "" {
			return queries, nil
		}
		r.logger.Debug("query proposal rejected", zap.Int("round", round), zap.String("feedback", feedback))
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Text: feedback})
	}
	return nil, fmt.Errorf("%w after %d rounds", ErrNegotiation, r.opts.MaxNegotiationRounds)
}

// proposal decodes a writer reply. Non-empty feedback means the proposal was rejected.
func proposal(raw string, n int) ([]string, string) {
	res := reply.Decode(raw, "queries")
	if !res.OK() {
		return nil, `Reply with one JSON object: {"queries": ["...", "..."]}.`
	}
	var p queryProposal
	if err := res.Into(&p, false); err != nil {
		return nil, "The queries field must be a list of strings."
	}
	queries, problem := acceptQueries(p.Queries, n)
	if problem != "" {
		return nil, problem
	}
	return queries, ""
}

// acceptQueries trims the proposal and checks it has exactly n non-empty queries
// with no duplicates ignoring case.
func acceptQueries(in []string, n int) ([]string, string) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	var dups []string
	for _, q := range in {
		q = strings.Join(strings.Fields(q), " ")
		if q == "" {
			return nil, "Remove the empty queries."
		}
		key := strings.ToLower(q)
		if _, ok := seen[key]; ok {
			dups = append(dups, q)
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	if len(dups) > 0 {
		return nil, fmt.Sprintf("These queries are duplicates: %s. Replace them with distinct ones.", strings.Join(dups, "; "))
	}
	if len(out) != n {
		return nil, fmt.Sprintf("You proposed %d queries; exactly %d are required.", len(out), n)
	}
	return out, ""
}

func criticMessage(goal string, queries []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research goal:\n%s\n\nProposed queries:\n", goal)
	for i, q := range queries {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, q)
	}
	return sb.String()
}

func (r *Researcher) restoreMetrics(store *orchard.Store) error {
	data, err := store.Get(r.opts.Name, EntryMetrics, KeyRequests)
	if err != nil {
		return err
	}
	var made map[string]int
	if err := orchard.Decode(data[KeyRequests], &made); err != nil {
		return fmt.Errorf("read search metrics: %w", err)
	}
	if len(made) > 0 {
		r.deps.Quota.Restore(search.Metrics{RequestsMade: made})
	}
	return nil
}

func persistMetrics(store *orchard.Store, agent string, m search.Metrics) error {
	if err := store.Update(agent, EntryMetrics, KeyRateLimit, m.RateLimitPerMinute, true); err != nil {
		return err
	}
	if err := store.Update(agent, EntryMetrics, KeyRequests, m.RequestsMade, true); err != nil {
		return err
	}
	return store.Update(agent, EntryMetrics, KeyAvailable, m.AvailableNow, true)
}

// websiteURLs lists the result URLs of a researched_websites value in stored order.
func websiteURLs(v any) []string {
	var out []string
	for _, item := range orchard.AsList(v) {
		for _, res := range orchard.AsList(orchard.AsMap(item)["results"]) {
			if u := strings.TrimSpace(orchard.AsString(orchard.AsMap(res)["url"])); u != "" {
				out = append(out, u)
			}
		}
	}
	return out
}
