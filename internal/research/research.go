// Package research runs research agents against the shared orchard: search-mode
// agents plan and execute web queries, scrape-mode agents crawl what a search-mode
// agent found.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shpitdev/leadgen-pipeline/internal/crawl"
	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
	"github.com/shpitdev/leadgen-pipeline/internal/search"
)

var (
	ErrConfig      = errors.New("research: invalid configuration")
	ErrNegotiation = errors.New("research: query negotiation did not converge")
)

// Orchard entries owned by research agents.
const (
	EntryProfile = "research-profile"
	EntryMetrics = "google-search-metrics"
	EntryScraped = "scraping-results"
)

// Data keys of the entries above.
const (
	KeyGoal      = "research_goal"
	KeyQueries   = "search_queries"
	KeyWebsites  = "researched_websites"
	KeyCompleted = "research_completed"

	KeyRateLimit = "rate_limit_per_minute"
	KeyRequests  = "search_requests_made"
	KeyAvailable = "available_searches_now_per_minute"

	KeyScrapedResults = "scraped_results_per_agent"
	KeyScrapedStatus  = "scraped_status_per_agent"
)

const (
	DefaultQueriesPerSearch     = 24
	DefaultResultsPerQuery      = 4
	DefaultMaxNegotiationRounds = 6
	DefaultBatchSize            = 20
	DefaultCrawlTimeout         = 5 * time.Minute
)

// Mode selects what a Researcher does on Run.
type Mode string

const (
	ModeSearch Mode = "search"
	ModeScrape Mode = "scrape"
)

// ScraperName is the orchard agent that stores crawl output for target. Agents
// sharing a name prefix (up to the first underscore) share one scraper.
func ScraperName(target string) string {
	prefix, _, _ := strings.Cut(target, "_")
	return prefix + "_crawl4ai_scraping_agent"
}

type Options struct {
	// Name is the orchard agent this researcher writes under. Scrape mode defaults
	// it to ScraperName(Target).
	Name string
	Goal string

	SearchMode bool
	ScrapeMode bool
	// Target is the search-mode agent whose results a scrape-mode agent crawls.
	Target string

	QueriesPerSearch     int
	ResultsPerQuery      int
	MaxNegotiationRounds int

	BatchSize    int
	CrawlTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueriesPerSearch <= 0 {
		o.QueriesPerSearch = DefaultQueriesPerSearch
	}
	if o.ResultsPerQuery <= 0 {
		o.ResultsPerQuery = DefaultResultsPerQuery
	}
	o.ResultsPerQuery = search.ClampResults(o.ResultsPerQuery)
	if o.MaxNegotiationRounds <= 0 {
		o.MaxNegotiationRounds = DefaultMaxNegotiationRounds
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.CrawlTimeout <= 0 {
		o.CrawlTimeout = DefaultCrawlTimeout
	}
	if o.ScrapeMode && strings.TrimSpace(o.Name) == "" {
		o.Name = ScraperName(o.Target)
	}
	return o
}

// Deps are the workers a researcher drives. Search mode needs Writer and Searcher;
// Critic is optional. Scrape mode needs Reader.
type Deps struct {
	Writer   llm.Generator
	Critic   llm.Generator
	Searcher search.Searcher
	// Quota is this agent's per-minute search budget. It outlives a single Run so
	// repeated runs in one minute share it.
	Quota  *search.Quota
	Reader *crawl.Reader
	Logger *zap.Logger
}

// Researcher is one research agent. It is safe to Run repeatedly; completed work
// is skipped.
type Researcher struct {
	opts   Options
	deps   Deps
	logger *zap.Logger
}

// Report summarizes one Run.
type Report struct {
	Agent   string `json:"agent"`
	Mode    Mode   `json:"mode"`
	Skipped bool   `json:"skipped,omitempty"`
	Message string `json:"message"`

	Queries        int `json:"queries,omitempty"`
	Searches       int `json:"searches,omitempty"`
	FailedSearches int `json:"failed_searches,omitempty"`
	NewURLs        int `json:"new_urls,omitempty"`

	Scraped    int `json:"scraped,omitempty"`
	FailedURLs int `json:"failed_urls,omitempty"`
}

func New(opts Options, deps Deps) (*Researcher, error) {
	if opts.SearchMode == opts.ScrapeMode {
		return nil, fmt.Errorf("%w: exactly one of search mode or scrape mode must be set", ErrConfig)
	}
	opts = opts.withDefaults()

	var problems []string
	if strings.TrimSpace(opts.Name) == "" {
		problems = append(problems, "name is required")
	}
	if opts.SearchMode {
		if deps.Writer == nil {
			problems = append(problems, "search mode needs a query writer")
		}
		if deps.Searcher == nil {
			problems = append(problems, "search mode needs a searcher")
		}
	}
	if opts.ScrapeMode {
		if strings.TrimSpace(opts.Target) == "" {
			problems = append(problems, "scrape mode needs a target agent")
		}
		if deps.Reader == nil {
			problems = append(problems, "scrape mode needs a crawl reader")
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrConfig, opts.Name, strings.Join(problems, "; "))
	}

	if deps.Quota == nil {
		deps.Quota = search.NewQuota(search.DefaultPerMinute, nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Researcher{
		opts:   opts,
		deps:   deps,
		logger: logger.With(zap.String("agent", opts.Name), zap.String("mode", string(opts.mode()))),
	}, nil
}

func (o Options) mode() Mode {
	if o.ScrapeMode {
		return ModeScrape
	}
	return ModeSearch
}

func (r *Researcher) Name() string { return r.opts.Name }

func (r *Researcher) Mode() Mode { return r.opts.mode() }

// Provision creates the orchard entries this researcher touches. It is idempotent.
func (r *Researcher) Provision(store *orchard.Store) error {
	if r.opts.SearchMode {
		if err := provisionSearch(store, r.opts.Name, r.opts.Goal, r.deps.Quota.Snapshot()); err != nil {
			return err
		}
		return provisionScraper(store, ScraperName(r.opts.Name))
	}
	// The target may be provisioned later by its own researcher; the existing entry wins.
	if err := provisionSearch(store, r.opts.Target, r.opts.Goal, search.NewQuota(0, nil).Snapshot()); err != nil {
		return err
	}
	return provisionScraper(store, r.opts.Name)
}

func provisionSearch(store *orchard.Store, agent, goal string, m search.Metrics) error {
	if m.RequestsMade == nil {
		m.RequestsMade = map[string]int{}
	}
	return store.Provision(agent,
		orchard.Entry{
			TechnicalName: EntryProfile,
			Description:   "Research goal, planned search queries and the websites they returned.",
			Kinds: map[string]orchard.Kind{
				KeyGoal:      orchard.KindString,
				KeyQueries:   orchard.KindList,
				KeyWebsites:  orchard.KindList,
				KeyCompleted: orchard.KindBool,
			},
			Data: map[string]any{
				KeyGoal:      goal,
				KeyQueries:   []any{},
				KeyWebsites:  []any{},
				KeyCompleted: false,
			},
		},
		orchard.Entry{
			TechnicalName: EntryMetrics,
			Description:   "Per-minute search quota and requests made per UTC minute.",
			Kinds: map[string]orchard.Kind{
				KeyRateLimit: orchard.KindNumber,
				KeyRequests:  orchard.KindMap,
				KeyAvailable: orchard.KindNumber,
			},
			Data: map[string]any{
				KeyRateLimit: m.RateLimitPerMinute,
				KeyRequests:  m.RequestsMade,
				KeyAvailable: m.AvailableNow,
			},
		},
	)
}

func provisionScraper(store *orchard.Store, scraper string) error {
	return store.Provision(scraper, orchard.Entry{
		TechnicalName: EntryScraped,
		Description:   "Crawled page content and crawl status, keyed by the research agent that found the URLs.",
		Kinds: map[string]orchard.Kind{
			KeyScrapedResults: orchard.KindMap,
			KeyScrapedStatus:  orchard.KindMap,
		},
		Data: map[string]any{
			KeyScrapedResults: map[string]any{},
			KeyScrapedStatus:  map[string]any{},
		},
	})
}

// Run executes the configured mode against store. The store must hold this
// researcher's entries (see Provision).
func (r *Researcher) Run(ctx context.Context, store *orchard.Store) (Report, error) {
	if r.opts.ScrapeMode {
		return r.runScrape(ctx, store)
	}
	return r.runSearch(ctx, store)
}

// RunAll provisions and runs researchers concurrently. A failing researcher does
// not stop its siblings; only cancelling ctx does. Reports come back in argument
// order and the per-researcher errors are joined.
func RunAll(ctx context.Context, store *orchard.Store, researchers ...*Researcher) ([]Report, error) {
	for _, r := range researchers {
		if err := r.Provision(store); err != nil {
			return nil, fmt.Errorf("provision %s: %w", r.Name(), err)
		}
	}
	reports := make([]Report, len(researchers))
	errs := make([]error, len(researchers))
	var g errgroup.Group
	for i, r := range researchers {
		g.Go(func() error {
			rep, err := r.Run(ctx, store)
			reports[i] = rep
			if err != nil {
				errs[i] = fmt.Errorf("research %s: %w", r.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

// RunPhased runs every search-mode researcher, then every scrape-mode one, each
// phase through RunAll. Scrapers read the websites searchers recorded. A failed
// phase does not stop the next one unless ctx is done; phase errors are joined.
func RunPhased(ctx context.Context, store *orchard.Store, researchers ...*Researcher) ([]Report, error) {
	var (
		reports []Report
		errs    []error
	)
	for _, mode := range []Mode{ModeSearch, ModeScrape} {
		var batch []*Researcher
		for _, r := range researchers {
			if r.Mode() == mode {
				batch = append(batch, r)
			}
		}
		if len(batch) == 0 {
			continue
		}
		reps, err := RunAll(ctx, store, batch...)
		for _, rep := range reps {
			if rep.Agent != "" {
				reports = append(reports, rep)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s phase: %w", mode, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return reports, errors.Join(errs...)
}
