package research_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shpitdev/leadgen-pipeline/internal/crawl"
	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
	"github.com/shpitdev/leadgen-pipeline/internal/research"
	"github.com/shpitdev/leadgen-pipeline/internal/search"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const agent = "company_google_research_agent"

var resultsByQuery = map[string][]search.Result{
	"fintech cfo boston": {
		{Title: "Acme", URL: "https://acme.example/team"},
		{Title: "Globex", URL: "https://globex.example/about"},
	},
	"fintech vp finance": {
		{Title: "Globex", URL: "https://globex.example/about"},
		{Title: "Initech", URL: "https://initech.example/people"},
	},
	"fintech controller": {
		{Title: "Hooli", URL: "https://hooli.example/leadership"},
	},
}

func fakeSearcher(calls *atomic.Int32) search.Searcher {
	return search.Func(func(_ context.Context, query string, max int) ([]search.Result, error) {
		calls.Add(1)
		res := resultsByQuery[query]
		if len(res) > max {
			res = res[:max]
		}
		return res, nil
	})
}

func searchResearcher(t *testing.T, writer, critic llm.Generator, s search.Searcher) *research.Researcher {
	t.Helper()
	r, err := research.New(research.Options{
		Name:             agent,
		Goal:             "fintech finance leaders in Boston",
		SearchMode:       true,
		QueriesPerSearch: 3,
	}, research.Deps{Writer: writer, Critic: critic, Searcher: s})
	require.NoError(t, err)
	return r
}

func TestNew_ModeValidation(t *testing.T) {
	t.Parallel()

	writer := llm.NewScripted()
	s := search.Func(func(context.Context, string, int) ([]search.Result, error) { return nil, nil })

	_, err := research.New(research.Options{Name: agent}, research.Deps{Writer: writer, Searcher: s})
	require.ErrorIs(t, err, research.ErrConfig)

	_, err = research.New(research.Options{Name: agent, SearchMode: true, ScrapeMode: true}, research.Deps{Writer: writer, Searcher: s})
	require.ErrorIs(t, err, research.ErrConfig)

	_, err = research.New(research.Options{Name: agent, SearchMode: true}, research.Deps{Searcher: s})
	require.ErrorIs(t, err, research.ErrConfig)

	_, err = research.New(research.Options{ScrapeMode: true}, research.Deps{Reader: &crawl.Reader{}})
	require.ErrorIs(t, err, research.ErrConfig)

	r, err := research.New(research.Options{ScrapeMode: true, Target: agent}, research.Deps{Reader: &crawl.Reader{}})
	require.NoError(t, err)
	assert.Equal(t, "company_crawl4ai_scraping_agent", r.Name())
	assert.Equal(t, research.ModeScrape, r.Mode())
}

func TestScraperName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "company_crawl4ai_scraping_agent", research.ScraperName("company_google_research_agent"))
	assert.Equal(t, "people_crawl4ai_scraping_agent", research.ScraperName("people_google_research_agent"))
	assert.Equal(t, "solo_crawl4ai_scraping_agent", research.ScraperName("solo"))
}

func TestSearch_NegotiatesThenExecutesInOrder(t *testing.T) {
	t.Parallel()

	writer := llm.NewScripted(
		`{"queries": ["fintech cfo boston", "Fintech CFO Boston", "fintech controller"]}`,
		`{"queries": ["fintech cfo boston", "fintech vp finance", "fintech treasurer"]}`,
		"Revised:\n```json\n{\"queries\": [\"fintech cfo boston\", \"fintech vp finance\", \"fintech controller\"]}\n```",
	)
	critic := llm.NewScripted(
		"Swap treasurer for controller, treasurers rarely buy.",
		research.ConfirmPrefix+" looks good",
	)
	var calls atomic.Int32
	r := searchResearcher(t, writer, critic, fakeSearcher(&calls))

	store := orchard.New("s1")
	require.NoError(t, r.Provision(store))
	rep, err := r.Run(context.Background(), store)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Queries)
	assert.Equal(t, 3, rep.Searches)
	assert.Equal(t, 4, rep.NewURLs)
	assert.EqualValues(t, 3, calls.Load())

	// The duplicate feedback reached the writer before the critic was consulted.
	wcalls := writer.Calls()
	require.Len(t, wcalls, 3)
	assert.Contains(t, wcalls[1].LastUser(), "duplicates")
	assert.Contains(t, wcalls[2].LastUser(), "treasurer")
	assert.Len(t, critic.Calls(), 2)

	profile, err := store.Get(agent, research.EntryProfile)
	require.NoError(t, err)
	assert.Equal(t, []any{"fintech cfo boston", "fintech vp finance", "fintech controller"}, profile[research.KeyQueries])
	assert.Equal(t, true, profile[research.KeyCompleted])

	websites := orchard.AsList(profile[research.KeyWebsites])
	require.Len(t, websites, 3)
	second := orchard.AsMap(websites[1])
	assert.Equal(t, "fintech vp finance", second["query"])
	secondResults := orchard.AsList(second["results"])
	require.Len(t, secondResults, 1, "globex was already seen in the first query")
	assert.Equal(t, "https://initech.example/people", orchard.AsMap(secondResults[0])["url"])

	metrics, err := store.Get(agent, research.EntryMetrics)
	require.NoError(t, err)
	assert.EqualValues(t, search.DefaultPerMinute, metrics[research.KeyRateLimit])
	made := 0
	for _, v := range orchard.AsMap(metrics[research.KeyRequests]) {
		made += orchard.AsInt(v)
	}
	assert.Equal(t, 3, made)
}

func TestSearch_CompletedRunIsSkipped(t *testing.T) {
	t.Parallel()

	writer := llm.NewScripted(`{"queries": ["fintech cfo boston", "fintech vp finance", "fintech controller"]}`)
	var calls atomic.Int32
	r := searchResearcher(t, writer, nil, fakeSearcher(&calls))

	store := orchard.New("s1")
	require.NoError(t, r.Provision(store))
	_, err := r.Run(context.Background(), store)
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Len(t, writer.Calls(), 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestSearch_FailedQueryIsRecordedAndSkipped(t *testing.T) {
	t.Parallel()

	writer := llm.NewScripted(`{"queries": ["fintech cfo boston", "fintech vp finance", "fintech controller"]}`)
	var calls atomic.Int32
	inner := fakeSearcher(&calls)
	flaky := search.Func(func(ctx context.Context, query string, max int) ([]search.Result, error) {
		if query == "fintech vp finance" {
			return nil, errors.New("GET customsearch/v1?key=SECRET123: status 500")
		}
		return inner.Search(ctx, query, max)
	})
	r := searchResearcher(t, writer, nil, flaky)

	store := orchard.New("s1")
	require.NoError(t, r.Provision(store))
	rep, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.FailedSearches)
	assert.Equal(t, 2, rep.Searches)

	profile, err := store.Get(agent, research.EntryProfile)
	require.NoError(t, err)
	websites := orchard.AsList(profile[research.KeyWebsites])
	require.Len(t, websites, 3)
	failed := orchard.AsMap(websites[1])
	assert.Equal(t, "fintech vp finance", failed["query"])
	assert.NotContains(t, failed["error"], "SECRET123")
	assert.Equal(t, true, profile[research.KeyCompleted])
}

func TestSearch_NegotiationGivesUp(t *testing.T) {
	t.Parallel()

	writer := llm.Func(func(context.Context, llm.Request) (string, error) {
		return `{"queries": ["only one"]}`, nil
	})
	r, err := research.New(research.Options{
		Name:                 agent,
		Goal:                 "anything",
		SearchMode:           true,
		QueriesPerSearch:     3,
		MaxNegotiationRounds: 2,
	}, research.Deps{Writer: writer, Searcher: search.Func(func(context.Context, string, int) ([]search.Result, error) {
		t.Fatal("search must not run without confirmed queries")
		return nil, nil
	})})
	require.NoError(t, err)

	store := orchard.New("s1")
	require.NoError(t, r.Provision(store))
	_, err = r.Run(context.Background(), store)
	require.ErrorIs(t, err, research.ErrNegotiation)

	profile, err := store.Get(agent, research.EntryProfile, research.KeyCompleted, research.KeyQueries)
	require.NoError(t, err)
	assert.Equal(t, false, profile[research.KeyCompleted])
	assert.Empty(t, profile[research.KeyQueries])
}

type fetchFunc func(ctx context.Context, url string) (crawl.Page, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) (crawl.Page, error) { return f(ctx, url) }

// confirmingReader confirms every page on the first chunk.
func confirmingReader(failURL string) *crawl.Reader {
	return &crawl.Reader{
		Fetcher: fetchFunc(func(_ context.Context, url string) (crawl.Page, error) {
			if url == failURL {
				return crawl.Page{}, fmt.Errorf("fetch %s: connection refused", url)
			}
			return crawl.Page{URL: url, Title: "page", Text: "Leadership team of " + url}, nil
		}),
		Gen: llm.Func(func(_ context.Context, req llm.Request) (string, error) {
			first := strings.SplitN(req.Messages[0].Text, "\n", 2)[0]
			url := strings.TrimPrefix(first, "URL: ")
			return fmt.Sprintf(`{"action": "confirm", "url": %q, "content": "people at %s"}`, url, url), nil
		}),
	}
}

func seedResearch(t *testing.T, store *orchard.Store) {
	t.Helper()
	entries := []map[string]any{
		{"query": "q1", "results": []any{
			map[string]any{"url": "https://acme.example/team"},
			map[string]any{"url": "https://globex.example/about"},
		}},
		{"query": "q2", "error": "status 500"},
		{"query": "q3", "results": []any{
			map[string]any{"url": "https://acme.example/team"},
			map[string]any{"url": "https://initech.example/people"},
		}},
	}
	for _, e := range entries {
		require.NoError(t, store.Update(agent, research.EntryProfile, research.KeyWebsites, e, false))
	}
}

func TestScrape_PartialFailureIsTracked(t *testing.T) {
	t.Parallel()

	r, err := research.New(research.Options{ScrapeMode: true, Target: agent, BatchSize: 2},
		research.Deps{Reader: confirmingReader("https://globex.example/about")})
	require.NoError(t, err)

	store := orchard.New("s1")
	require.NoError(t, r.Provision(store))
	seedResearch(t, store)

	rep, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scraped)
	assert.Equal(t, 1, rep.FailedURLs)

	data, err := store.Get(research.ScraperName(agent), research.EntryScraped)
	require.NoError(t, err)

	results := orchard.AsMap(orchard.AsMap(data[research.KeyScrapedResults])[agent])
	require.Len(t, results, 2)
	acme := orchard.AsMap(results["https://acme.example/team"])
	assert.Equal(t, "people at https://acme.example/team", acme["page_content"])
	assert.NotEmpty(t, acme["fetched_at"])
	assert.NotContains(t, results, "https://globex.example/about")

	status := orchard.AsMap(orchard.AsMap(data[research.KeyScrapedStatus])[agent])
	assert.Equal(t, true, status["scraping_complete"])
	assert.EqualValues(t, 2, status["total_urls_scraped"])
	failed := orchard.AsMap(status["failed_urls"])
	require.Len(t, failed, 1)
	assert.Contains(t, failed["https://globex.example/about"], "connection refused")

	// A re-run has nothing left: successes and failures are both skipped.
	again, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, `No new URLs left to scrape for "company_google_research_agent".`, again.Message)
}

func TestScrape_NewURLsAddToTotal(t *testing.T) {
	t.Parallel()

	r, err := research.New(research.Options{ScrapeMode: true, Target: agent},
		research.Deps{Reader: confirmingReader("")})
	require.NoError(t, err)

	store := orchard.New("s1")
	require.NoError(t, r.Provision(store))
	seedResearch(t, store)

	_, err = r.Run(context.Background(), store)
	require.NoError(t, err)

	require.NoError(t, store.Update(agent, research.EntryProfile, research.KeyWebsites, map[string]any{
		"query":   "q4",
		"results": []any{map[string]any{"url": "https://hooli.example/leadership"}},
	}, false))
	rep, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Scraped)

	data, err := store.Get(research.ScraperName(agent), research.EntryScraped, research.KeyScrapedStatus)
	require.NoError(t, err)
	status := orchard.AsMap(orchard.AsMap(data[research.KeyScrapedStatus])[agent])
	assert.EqualValues(t, 4, status["total_urls_scraped"])
}

func TestRunAll(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mk := func(name string) *research.Researcher {
		r, err := research.New(research.Options{
			Name:             name,
			Goal:             "fintech finance leaders",
			SearchMode:       true,
			QueriesPerSearch: 3,
		}, research.Deps{
			Writer:   llm.NewScripted(`{"queries": ["fintech cfo boston", "fintech vp finance", "fintech controller"]}`),
			Searcher: fakeSearcher(&calls),
		})
		require.NoError(t, err)
		return r
	}

	store := orchard.New("s1")
	reports, err := research.RunAll(context.Background(), store, mk("company_google_research_agent"), mk("people_google_research_agent"))
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "company_google_research_agent", reports[0].Agent)
	assert.Equal(t, "people_google_research_agent", reports[1].Agent)
	assert.EqualValues(t, 6, calls.Load())
	assert.Contains(t, store.Agents(), "people_crawl4ai_scraping_agent")

	failing, err := research.New(research.Options{Name: "broken_agent", Goal: "x", SearchMode: true, QueriesPerSearch: 1},
		research.Deps{
			Writer:   llm.Func(func(context.Context, llm.Request) (string, error) { return "", llm.ErrEmptyReply }),
			Searcher: fakeSearcher(&calls),
		})
	require.NoError(t, err)
	_, err = research.RunAll(context.Background(), store, failing)
	require.ErrorIs(t, err, llm.ErrEmptyReply)
}

func TestRunPhased_SearchBeforeScrape(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	scraper, err := research.New(research.Options{ScrapeMode: true, Target: agent},
		research.Deps{Reader: confirmingReader("")})
	require.NoError(t, err)
	searcher, err := research.New(research.Options{
		Name:             agent,
		Goal:             "fintech finance leaders",
		SearchMode:       true,
		QueriesPerSearch: 3,
	}, research.Deps{
		Writer:   llm.NewScripted(`{"queries": ["fintech cfo boston", "fintech vp finance", "fintech controller"]}`),
		Searcher: fakeSearcher(&calls),
	})
	require.NoError(t, err)

	store := orchard.New("s1")
	reports, err := research.RunPhased(context.Background(), store, scraper, searcher)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, research.ModeSearch, reports[0].Mode)
	assert.Equal(t, research.ModeScrape, reports[1].Mode)
	assert.Equal(t, 4, reports[1].Scraped)
}

func TestRunAll_FailureDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	slow := search.Func(func(ctx context.Context, query string, max int) ([]search.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
		return fakeSearcher(&calls).Search(ctx, query, max)
	})
	healthy, err := research.New(research.Options{
		Name:             agent,
		Goal:             "fintech finance leaders",
		SearchMode:       true,
		QueriesPerSearch: 3,
	}, research.Deps{
		Writer:   llm.NewScripted(`{"queries": ["fintech cfo boston", "fintech vp finance", "fintech controller"]}`),
		Searcher: slow,
	})
	require.NoError(t, err)
	broken, err := research.New(research.Options{Name: "broken_agent", Goal: "x", SearchMode: true, QueriesPerSearch: 1},
		research.Deps{
			Writer:   llm.Func(func(context.Context, llm.Request) (string, error) { return "", llm.ErrEmptyReply }),
			Searcher: fakeSearcher(&calls),
		})
	require.NoError(t, err)

	store := orchard.New("s1")
	reports, err := research.RunAll(context.Background(), store, healthy, broken)
	require.ErrorIs(t, err, llm.ErrEmptyReply)
	require.Len(t, reports, 2)
	assert.Equal(t, 3, reports[0].Searches)

	data, err := store.Get(agent, research.EntryProfile, research.KeyCompleted, research.KeyWebsites)
	require.NoError(t, err)
	assert.Equal(t, true, data[research.KeyCompleted])
	assert.Len(t, data[research.KeyWebsites], 3)
}
