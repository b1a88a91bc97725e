package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/agent"
	"github.com/shpitdev/leadgen-pipeline/internal/app"
	"github.com/shpitdev/leadgen-pipeline/internal/config"
	"github.com/shpitdev/leadgen-pipeline/internal/crawl"
	"github.com/shpitdev/leadgen-pipeline/internal/enrich"
	"github.com/shpitdev/leadgen-pipeline/internal/enrich/apollo"
	enrichgemini "github.com/shpitdev/leadgen-pipeline/internal/enrich/gemini"
	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/internal/llm/gemini"
	"github.com/shpitdev/leadgen-pipeline/internal/llm/perplexity"
	"github.com/shpitdev/leadgen-pipeline/internal/research"
	"github.com/shpitdev/leadgen-pipeline/internal/search"
)

// generators builds one backend per (backend, model) pair and shares it between
// stages that use the same pair.
type generators struct {
	cfg    config.Config
	logger *zap.Logger
	built  map[config.Stage]llm.Generator
}

func newGenerators(c config.Config, logger *zap.Logger) *generators {
	return &generators{cfg: c, logger: logger, built: make(map[config.Stage]llm.Generator)}
}

func (g *generators) For(ctx context.Context, stage string) (llm.Generator, error) {
	if g.cfg.DryRun {
		return llm.Traced(dryRunGenerator(stage), g.logger.With(zap.String("stage", stage))), nil
	}
	sc := g.cfg.StageFor(stage)
	if gen, ok := g.built[sc]; ok {
		return gen, nil
	}

	var gen llm.Generator
	switch sc.Backend {
	case config.BackendGemini:
		gg, err := gemini.New(ctx, gemini.Config{APIKey: g.cfg.Gemini.APIKey, Model: sc.Model, BaseURL: g.cfg.Gemini.BaseURL})
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage, err)
		}
		gen = gg
	case config.BackendPerplexity:
		pg, err := perplexity.New(perplexity.Config{APIKey: g.cfg.Perplexity.APIKey, Model: sc.Model, BaseURL: g.cfg.Perplexity.BaseURL})
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage, err)
		}
		gen = pg
	default:
		return nil, fmt.Errorf("stage %s: unknown backend %q", stage, sc.Backend)
	}
	if rps := g.cfg.Pipeline.LLMRateLimitRPS; rps > 0 {
		gen = llm.Throttle(gen, rps, g.cfg.Pipeline.LLMBurst)
	}
	gen = llm.Traced(gen, g.logger.With(zap.String("backend", sc.Backend), zap.String("model", sc.Model)))
	g.built[sc] = gen
	return gen, nil
}

func buildPipeline(ctx context.Context, c config.Config, gens *generators, logger *zap.Logger) (*app.Pipeline, func(), error) {
	var stages app.Generators
	for _, s := range []struct {
		name string
		dst  *llm.Generator
	}{
		{agent.NameCompanyDiscovery, &stages.Company},
		{agent.NamePeopleDiscovery, &stages.People},
		{agent.NameContactEnrichment, &stages.Enrichment},
		{agent.NameLeadScoring, &stages.Scoring},
	} {
		gen, err := gens.For(ctx, s.name)
		if err != nil {
			return nil, nil, err
		}
		*s.dst = gen
	}

	p := app.NewPipeline(stages, app.Options{
		Mode:           app.Mode(c.Pipeline.Mode),
		MaxRounds:      c.Pipeline.GroupChatMaxRounds,
		DropZeroScores: c.Pipeline.DropZeroScores,
		EmitDelimited:  c.Pipeline.EmitCSV,
		Format:         c.Format(),
		Enrich: enrich.Options{
			Workers:        c.Enrich.Workers,
			MaxRetries:     c.Enrich.MaxRetries,
			RequestTimeout: c.Enrich.RequestTimeout,
			RateLimitRPS:   c.Enrich.RateLimitRPS,
			FailFast:       c.Enrich.FailFast,
		},
	}, logger)

	enricher, err := buildEnricher(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	p.Enricher = enricher

	researchers, cleanup, err := buildResearchers(ctx, c, gens, logger)
	if err != nil {
		return nil, nil, err
	}
	p.Researchers = researchers
	return p, cleanup, nil
}

func buildEnricher(ctx context.Context, c config.Config) (enrich.Enricher, error) {
	if c.DryRun {
		return nil, nil
	}
	switch c.Pipeline.Enricher {
	case config.EnricherApollo:
		return apollo.New(apollo.Config{APIKey: c.Apollo.APIKey, BaseURL: c.Apollo.BaseURL, MaxRetries: c.Enrich.MaxRetries})
	case config.EnricherGemini:
		return enrichgemini.New(ctx, enrichgemini.Config{APIKey: c.Gemini.APIKey, Model: c.Gemini.Model, BaseURL: c.Gemini.BaseURL})
	default:
		return nil, nil
	}
}

// buildResearchers creates one search-mode researcher per configured agent plus its
// scraper. The returned cleanup closes the browser when one was started.
func buildResearchers(ctx context.Context, c config.Config, gens *generators, logger *zap.Logger) ([]*research.Researcher, func(), error) {
	noop := func() {}
	if len(c.Research) == 0 {
		return nil, noop, nil
	}
	if c.DryRun {
		logger.Info("dry run: research agents disabled", zap.Int("agents", len(c.Research)))
		return nil, noop, nil
	}

	gen, err := gens.For(ctx, config.StageResearch)
	if err != nil {
		return nil, nil, err
	}
	searcher, err := buildSearcher(c)
	if err != nil {
		return nil, nil, err
	}

	var (
		fetcher crawl.Fetcher
		cleanup = noop
	)
	switch c.Crawl.Fetcher {
	case config.FetcherBrowser:
		bf := crawl.NewBrowserFetcher(c.Crawl.BrowserURL, time.Minute)
		fetcher = bf
		cleanup = func() {
			if err := bf.Close(); err != nil {
				logger.Warn("close browser", zap.Error(err))
			}
		}
	default:
		hf, err := crawl.NewHTTPFetcher(30 * time.Second)
		if err != nil {
			return nil, nil, err
		}
		fetcher = hf
	}
	reader := &crawl.Reader{
		Fetcher:      fetcher,
		Gen:          gen,
		MaxRounds:    c.Crawl.MaxRounds,
		ChunkTokens:  c.Crawl.ChunkTokens,
		ChunkOverlap: c.Crawl.ChunkOverlap,
		Logger:       logger.Named("crawl"),
	}

	var out []*research.Researcher
	for _, ra := range c.Research {
		r, err := research.New(research.Options{
			Name:                 ra.Name,
			Goal:                 ra.Goal,
			SearchMode:           true,
			QueriesPerSearch:     ra.QueriesPerSearch,
			ResultsPerQuery:      c.Search.ResultsPerQuery,
			MaxNegotiationRounds: ra.MaxNegotiationRounds,
		}, research.Deps{
			Writer:   gen,
			Critic:   gen,
			Searcher: searcher,
			Quota:    search.NewQuota(c.Search.RateLimitPerMinute, nil),
			Logger:   logger.Named("research"),
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		out = append(out, r)
		if ra.SkipScrape {
			continue
		}
		s, err := research.New(research.Options{
			ScrapeMode:   true,
			Target:       ra.Name,
			BatchSize:    c.Crawl.BatchSize,
			CrawlTimeout: c.Crawl.Timeout,
		}, research.Deps{Reader: reader, Logger: logger.Named("research")})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		out = append(out, s)
	}
	return out, cleanup, nil
}

// buildSearcher returns the configured backend behind a shared result cache.
func buildSearcher(c config.Config) (search.Searcher, error) {
	var next search.Searcher
	switch c.Search.Provider {
	case config.ProviderNews:
		next = &search.News{}
	default:
		g, err := search.NewGoogle(search.GoogleConfig{
			APIKey:  c.GoogleSearch.APIKey,
			CX:      c.GoogleSearch.CX,
			BaseURL: c.GoogleSearch.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		next = g
	}
	return search.NewCache(next, c.Search.CacheSize, c.Search.CacheTTL), nil
}
