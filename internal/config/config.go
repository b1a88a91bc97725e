// Package config assembles runtime configuration from defaults, an optional YAML
// pipeline file, the environment (including a local .env) and CLI flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/leadgen-pipeline/internal/agent"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/schema"
)

const (
	ProviderGoogle = "google"
	ProviderNews   = "news"

	FetcherHTTP    = "http"
	FetcherBrowser = "browser"

	BackendGemini     = "gemini"
	BackendPerplexity = "perplexity"

	EnricherNone   = "none"
	EnricherApollo = "apollo"
	EnricherGemini = "gemini"

	ModeSequential = "sequential"
	ModeGroupChat  = "group_chat"
)

// StageResearch configures the generator used by research agents (query writer,
// critic and page reader).
const StageResearch = "research"

var stageNames = []string{
	agent.NameIntake,
	agent.NameCompanyDiscovery,
	agent.NamePeopleDiscovery,
	agent.NameContactEnrichment,
	agent.NameLeadScoring,
	StageResearch,
}

type Gemini struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GoogleSearch struct {
	APIKey  string
	CX      string
	BaseURL string
}

type Perplexity struct {
	APIKey  string
	Model   string
	BaseURL string
}

type Apollo struct {
	APIKey  string
	BaseURL string
}

// Workers tunes the contact-enrichment worker pool.
type Workers struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitRPS   float64
	FailFast       bool
}

type Search struct {
	Provider           string        `yaml:"provider"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	ResultsPerQuery    int           `yaml:"results_per_query"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	CacheSize          int           `yaml:"cache_size"`
}

// ResearchAgent declares one search-mode research agent. Unless SkipScrape is set
// a scraper for it is created as well.
type ResearchAgent struct {
	Name                 string `yaml:"name"`
	Goal                 string `yaml:"goal"`
	QueriesPerSearch     int    `yaml:"queries_per_search"`
	MaxNegotiationRounds int    `yaml:"max_negotiation_rounds"`
	SkipScrape           bool   `yaml:"skip_scrape"`
}

type Crawl struct {
	Fetcher string `yaml:"fetcher"`
	// BrowserURL connects the browser fetcher to a running Chrome. Empty launches one.
	BrowserURL   string        `yaml:"browser_url"`
	BatchSize    int           `yaml:"batch_size"`
	MaxRounds    int           `yaml:"max_rounds"`
	ChunkTokens  int           `yaml:"chunk_tokens"`
	ChunkOverlap float64       `yaml:"chunk_overlap"`
	Timeout      time.Duration `yaml:"timeout"`
}

type Stage struct {
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
}

type Pipeline struct {
	Mode               string  `yaml:"mode"`
	EmitCSV            bool    `yaml:"emit_csv"`
	CSVDelimiter       string  `yaml:"csv_delimiter"`
	DropZeroScores     bool    `yaml:"drop_zero_scores"`
	GroupChatMaxRounds int     `yaml:"group_chat_max_rounds"`
	SessionCacheSize   int     `yaml:"session_cache_size"`
	Enricher           string  `yaml:"enricher"`
	LLMRateLimitRPS    float64 `yaml:"llm_rate_limit_rps"`
	LLMBurst           int     `yaml:"llm_burst"`
}

// File is the YAML pipeline file.
type File struct {
	Search   Search           `yaml:"search"`
	Research []ResearchAgent  `yaml:"research"`
	Crawl    Crawl            `yaml:"crawl"`
	Stages   map[string]Stage `yaml:"stages"`
	Pipeline Pipeline         `yaml:"pipeline"`
}

type Config struct {
	File

	Addr string
	// DryRun swaps every model for canned replies; credentials are not required.
	DryRun bool

	Gemini       Gemini
	GoogleSearch GoogleSearch
	Perplexity   Perplexity
	Apollo       Apollo
	Enrich       Workers
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Addr:   ":8000",
		Gemini: Gemini{Model: "gemini-2.5-flash"},
		Enrich: Workers{
			Workers:        10,
			MaxRetries:     3,
			RequestTimeout: 30 * time.Second,
		},
		File: File{
			Search: Search{
				Provider:           ProviderGoogle,
				RateLimitPerMinute: 100,
				ResultsPerQuery:    4,
				CacheTTL:           time.Hour,
				CacheSize:          512,
			},
			Crawl: Crawl{
				Fetcher:      FetcherHTTP,
				BatchSize:    20,
				MaxRounds:    8,
				ChunkTokens:  2000,
				ChunkOverlap: 0.1,
				Timeout:      5 * time.Minute,
			},
			Pipeline: Pipeline{
				Mode:               ModeSequential,
				CSVDelimiter:       ",",
				DropZeroScores:     true,
				GroupChatMaxRounds: 20,
				SessionCacheSize:   1024,
				Enricher:           EnricherNone,
				LLMBurst:           1,
			},
		},
	}
}

type LoadOptions struct {
	// File is the optional YAML pipeline file.
	File string
	// DotEnv defaults to ".env" in the working directory. A missing file is fine.
	DotEnv string
}

// Load reads .env, the pipeline file and the environment. Flags are applied by
// the caller afterwards; call Validate once they are.
func Load(opts LoadOptions) (Config, error) {
	if err := loadDotEnv(opts.DotEnv); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if p := strings.TrimSpace(opts.File); p != "" {
		if err := cfg.readFile(p); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	// Variables already set in the environment win over the file.
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pipeline file: %w", err)
	}
	if err := yaml.Unmarshal(b, &c.File); err != nil {
		return fmt.Errorf("parse pipeline file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Addr = envString("LEADGEN_ADDR", c.Addr)

	c.Gemini.APIKey = envString("GEMINI_API_KEY", c.Gemini.APIKey)
	c.Gemini.Model = envString("GEMINI_MODEL", c.Gemini.Model)
	c.Gemini.BaseURL = envString("GEMINI_BASE_URL", c.Gemini.BaseURL)

	c.GoogleSearch.APIKey = envString("GOOGLE_SEARCH_API_KEY", c.GoogleSearch.APIKey)
	c.GoogleSearch.CX = envString("GOOGLE_SEARCH_CX", c.GoogleSearch.CX)
	c.GoogleSearch.BaseURL = envString("GOOGLE_SEARCH_BASE_URL", c.GoogleSearch.BaseURL)

	c.Perplexity.APIKey = envString("PERPLEXITY_API_KEY", c.Perplexity.APIKey)
	c.Perplexity.Model = envString("PERPLEXITY_MODEL", c.Perplexity.Model)
	c.Perplexity.BaseURL = envString("PERPLEXITY_BASE_URL", c.Perplexity.BaseURL)

	c.Apollo.APIKey = envString("APOLLO_API_KEY", c.Apollo.APIKey)
	c.Apollo.BaseURL = envString("APOLLO_BASE_URL", c.Apollo.BaseURL)

	c.Search.Provider = envString("SEARCH_PROVIDER", c.Search.Provider)
	c.Crawl.Fetcher = envString("CRAWL_FETCHER", c.Crawl.Fetcher)
	c.Crawl.BrowserURL = envString("BROWSER_URL", c.Crawl.BrowserURL)
	c.Pipeline.Mode = envString("PIPELINE_MODE", c.Pipeline.Mode)
	c.Pipeline.Enricher = envString("ENRICHER", c.Pipeline.Enricher)

	var err error
	if c.Search.RateLimitPerMinute, err = envInt("SEARCH_RATE_LIMIT_PER_MINUTE", c.Search.RateLimitPerMinute); err != nil {
		return err
	}
	if c.Enrich.Workers, err = envInt("WORKERS", c.Enrich.Workers); err != nil {
		return err
	}
	if c.Enrich.MaxRetries, err = envInt("MAX_RETRIES", c.Enrich.MaxRetries); err != nil {
		return err
	}
	if c.Enrich.RequestTimeout, err = envDuration("REQUEST_TIMEOUT", c.Enrich.RequestTimeout); err != nil {
		return err
	}
	if c.Enrich.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", c.Enrich.RateLimitRPS); err != nil {
		return err
	}
	if c.Enrich.FailFast, err = envBool("FAIL_FAST", c.Enrich.FailFast); err != nil {
		return err
	}
	if c.Pipeline.LLMRateLimitRPS, err = envFloat("LLM_RATE_LIMIT_RPS", c.Pipeline.LLMRateLimitRPS); err != nil {
		return err
	}
	if c.DryRun, err = envBool("DRY_RUN", c.DryRun); err != nil {
		return err
	}
	return nil
}

// normalize fills per-agent defaults and clamps values with hard upper bounds.
func (c *Config) normalize() {
	c.Search.Provider = strings.ToLower(strings.TrimSpace(c.Search.Provider))
	c.Crawl.Fetcher = strings.ToLower(strings.TrimSpace(c.Crawl.Fetcher))
	c.Pipeline.Mode = strings.ToLower(strings.TrimSpace(c.Pipeline.Mode))
	c.Pipeline.Enricher = strings.ToLower(strings.TrimSpace(c.Pipeline.Enricher))
	if c.Pipeline.Enricher == "" {
		c.Pipeline.Enricher = EnricherNone
	}
	if c.Search.ResultsPerQuery > 10 {
		c.Search.ResultsPerQuery = 10
	}
	if c.Pipeline.CSVDelimiter == `\t` || strings.EqualFold(c.Pipeline.CSVDelimiter, "tab") {
		c.Pipeline.CSVDelimiter = "\t"
	}
	for i := range c.Research {
		r := &c.Research[i]
		r.Name = strings.TrimSpace(r.Name)
		if r.QueriesPerSearch <= 0 {
			r.QueriesPerSearch = 24
		}
		if r.MaxNegotiationRounds <= 0 {
			r.MaxNegotiationRounds = 6
		}
	}
}

// Format is the delimited output format implied by pipeline.csv_delimiter.
func (c Config) Format() schema.Format {
	if c.Pipeline.CSVDelimiter == "\t" {
		return schema.FormatTSV
	}
	return schema.FormatCSV
}

// StageFor returns the backend and model for a stage. Unset values fall back to
// Gemini and the backend's configured model.
func (c Config) StageFor(name string) Stage {
	s := c.Stages[name]
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = BackendGemini
	}
	if strings.TrimSpace(s.Model) == "" {
		switch s.Backend {
		case BackendGemini:
			s.Model = c.Gemini.Model
		case BackendPerplexity:
			s.Model = c.Perplexity.Model
		}
	}
	return s
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Addr) == "" {
		add("addr is required")
	}

	switch c.Search.Provider {
	case ProviderGoogle, ProviderNews:
	default:
		add("search.provider must be %q or %q, got %q", ProviderGoogle, ProviderNews, c.Search.Provider)
	}
	if c.Search.RateLimitPerMinute <= 0 {
		add("search.rate_limit_per_minute must be positive")
	}
	if c.Search.ResultsPerQuery <= 0 {
		add("search.results_per_query must be positive")
	}

	seen := make(map[string]bool, len(c.Research))
	for i, r := range c.Research {
		if r.Name == "" {
			add("research[%d]: name is required", i)
			continue
		}
		if seen[r.Name] {
			add("research[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
		if strings.TrimSpace(r.Goal) == "" {
			add("research[%d] %q: goal is required", i, r.Name)
		}
	}

	switch c.Crawl.Fetcher {
	case FetcherHTTP, FetcherBrowser:
	default:
		add("crawl.fetcher must be %q or %q, got %q", FetcherHTTP, FetcherBrowser, c.Crawl.Fetcher)
	}
	if c.Crawl.BatchSize <= 0 {
		add("crawl.batch_size must be positive")
	}
	if c.Crawl.ChunkOverlap < 0 || c.Crawl.ChunkOverlap >= 1 {
		add("crawl.chunk_overlap must be in [0, 1), got %v", c.Crawl.ChunkOverlap)
	}

	for name := range c.Stages {
		if !slices.Contains(stageNames, name) {
			add("stages: unknown stage %q", name)
		}
	}

	switch c.Pipeline.Mode {
	case ModeSequential, ModeGroupChat:
	default:
		add("pipeline.mode must be %q or %q, got %q", ModeSequential, ModeGroupChat, c.Pipeline.Mode)
	}
	if c.Pipeline.CSVDelimiter != "," && c.Pipeline.CSVDelimiter != "\t" {
		add("pipeline.csv_delimiter must be \",\" or a tab, got %q", c.Pipeline.CSVDelimiter)
	}
	switch c.Pipeline.Enricher {
	case EnricherNone, EnricherApollo, EnricherGemini:
	default:
		add("pipeline.enricher must be one of none, apollo, gemini; got %q", c.Pipeline.Enricher)
	}
	if c.Pipeline.LLMRateLimitRPS < 0 {
		add("pipeline.llm_rate_limit_rps must not be negative")
	}
	if c.Enrich.Workers <= 0 {
		add("WORKERS must be positive")
	}
	if c.Enrich.MaxRetries < 0 {
		add("MAX_RETRIES must not be negative")
	}

	if !c.DryRun {
		errs = append(errs, c.credentialErrors()...)
	}
	return errors.Join(errs...)
}

func (c Config) credentialErrors() []error {
	var errs []error
	backends := map[string]bool{}
	for _, name := range stageNames {
		backends[c.StageFor(name).Backend] = true
	}
	for b := range backends {
		switch b {
		case BackendGemini:
			if c.Gemini.APIKey == "" {
				errs = append(errs, errors.New("GEMINI_API_KEY is required"))
			}
			if c.Gemini.Model == "" {
				errs = append(errs, errors.New("GEMINI_MODEL is required"))
			}
		case BackendPerplexity:
			if c.Perplexity.APIKey == "" {
				errs = append(errs, errors.New("PERPLEXITY_API_KEY is required"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown stage backend %q", b))
		}
	}
	if len(c.Research) > 0 && c.Search.Provider == ProviderGoogle {
		if c.GoogleSearch.APIKey == "" {
			errs = append(errs, errors.New("GOOGLE_SEARCH_API_KEY is required for research agents"))
		}
		if c.GoogleSearch.CX == "" {
			errs = append(errs, errors.New("GOOGLE_SEARCH_CX is required for research agents"))
		}
	}
	switch c.Pipeline.Enricher {
	case EnricherApollo:
		if c.Apollo.APIKey == "" {
			errs = append(errs, errors.New("APOLLO_API_KEY is required for the apollo enricher"))
		}
	case EnricherGemini:
		if c.Gemini.APIKey == "" && !backends[BackendGemini] {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini enricher"))
		}
	}
	return errs
}

