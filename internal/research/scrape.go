package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/crawl"
	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/worker"
)

// Status keys under scraped_status_per_agent[target].
const (
	keyScrapingComplete = "scraping_complete"
	keyFailedURLs       = "failed_urls"
	keyTotalScraped     = "total_urls_scraped"
)

func (r *Researcher) runScrape(ctx context.Context, store *orchard.Store) (Report, error) {
	target := r.opts.Target
	scraper := r.opts.Name
	rep := Report{Agent: scraper, Mode: ModeScrape}

	profile, err := store.Get(target, EntryProfile, KeyGoal, KeyWebsites)
	if err != nil {
		return rep, err
	}
	goal := r.opts.Goal
	if strings.TrimSpace(goal) == "" {
		goal = orchard.AsString(profile[KeyGoal])
	}

	data, err := store.Get(scraper, EntryScraped)
	if err != nil {
		return rep, err
	}
	done := orchard.AsMap(orchard.AsMap(data[KeyScrapedResults])[target])
	status := orchard.AsMap(orchard.AsMap(data[KeyScrapedStatus])[target])
	if status == nil {
		status = map[string]any{
			keyScrapingComplete: false,
			keyFailedURLs:       map[string]any{},
			keyTotalScraped:     0,
		}
		if err := store.Update(scraper, EntryScraped, KeyScrapedStatus, map[string]any{target: status}, false); err != nil {
			return rep, err
		}
	}
	failed := orchard.AsMap(status[keyFailedURLs])

	var pending []string
	seen := make(map[string]struct{})
	for _, u := range websiteURLs(profile[KeyWebsites]) {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		_, ok := done[u]
		_, bad := failed[u]
		if !ok && !bad {
			pending = append(pending, u)
		}
	}
	if len(pending) == 0 {
		rep.Skipped = true
		rep.Message = fmt.Sprintf("No new URLs left to scrape for %q.", target)
		r.logger.Info("nothing to scrape", zap.String("target", target))
		return rep, nil
	}
	r.logger.Info("scraping", zap.String("target", target), zap.Int("pending", len(pending)))

	read := func(ctx context.Context, url string) (crawl.Confirmation, error) {
		return r.deps.Reader.Read(ctx, url, goal, func(c crawl.Confirmation) error {
			page := map[string]any{
				"fetched_at":   time.Now().UTC().Format(time.RFC3339),
				"page_content": c.Content,
			}
			return store.Update(scraper, EntryScraped, KeyScrapedResults,
				map[string]any{target: map[string]any{url: page}}, false)
		})
	}
	onBatch := func(batch int, results []worker.Result[string, crawl.Confirmation]) error {
		failures := make(map[string]any)
		for _, res := range results {
			if res.Err == nil {
				rep.Scraped++
				continue
			}
			msg := redact.Secrets(res.Err.Error())
			failures[res.Input] = msg
			rep.FailedURLs++
			r.logger.Warn("crawl failed", zap.String("url", res.Input), zap.String("error", msg))
		}
		r.logger.Debug("crawl batch done", zap.Int("batch", batch), zap.Int("urls", len(results)))
		if len(failures) == 0 {
			return nil
		}
		return store.Update(scraper, EntryScraped, KeyScrapedStatus,
			map[string]any{target: map[string]any{keyFailedURLs: failures}}, false)
	}
	_, err = worker.ProcessBatches(ctx, pending, r.opts.BatchSize, read, onBatch, worker.Options{
		RequestTimeout: r.opts.CrawlTimeout,
		FailurePolicy:  worker.FailurePolicyPartialOutput,
	})
	if err != nil {
		return rep, err
	}

	total := orchard.AsInt(status[keyTotalScraped]) + rep.Scraped
	update := map[string]any{target: map[string]any{
		keyScrapingComplete: true,
		keyTotalScraped:     total,
	}}
	if err := store.Update(scraper, EntryScraped, KeyScrapedStatus, update, false); err != nil {
		return rep, err
	}
	rep.Message = fmt.Sprintf("Scraping done for %q. Success: %d, failures: %d.", target, rep.Scraped, rep.FailedURLs)
	r.logger.Info("scraping complete",
		zap.String("target", target),
		zap.Int("scraped", rep.Scraped),
		zap.Int("failed", rep.FailedURLs))
	return rep, nil
}
