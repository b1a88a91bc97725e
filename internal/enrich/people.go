package enrich

import (
	"context"
	"time"

	"github.com/shpitdev/leadgen-pipeline/internal/leads"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/worker"
)

type Options struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitRPS   float64
	FailFast       bool
}

// Stats summarizes one EnrichPeople run.
type Stats struct {
	Attempted int `json:"attempted"`
	Enriched  int `json:"enriched"`
	Failed    int `json:"failed"`
}

type target struct {
	company, person int
	query           Query
}

// EnrichPeople looks up every valid person in companies and fills contact fields
// that are still empty. Lookup errors are recorded in the person's notes and do
// not fail the run. The input slice is not modified.
func EnrichPeople(ctx context.Context, companies []leads.Company, enricher Enricher, opts Options) ([]leads.Company, Stats, error) {
	out := make([]leads.Company, len(companies))
	var targets []target
	for ci, c := range companies {
		out[ci] = c
		out[ci].People = append([]leads.Person(nil), c.People...)
		for pi, p := range c.People {
			if !leads.ValidPerson(p) {
				continue
			}
			company := p.Company
			if company == "" {
				company = c.Name
			}
			targets = append(targets, target{
				company: ci,
				person:  pi,
				query:   Query{Name: p.Name, Title: p.Title, Company: company},
			})
		}
	}
	var stats Stats
	if len(targets) == 0 {
		return out, stats, nil
	}

	policy := worker.FailurePolicyPartialOutput
	if opts.FailFast {
		policy = worker.FailurePolicyFailFast
	}
	processor := func(reqCtx context.Context, t target) (Profile, error) {
		return enricher.Enrich(reqCtx, t.query)
	}
	results, err := worker.ProcessAll(ctx, targets, processor, worker.Options{
		Workers:           opts.Workers,
		MaxRetries:        opts.MaxRetries,
		RequestTimeout:    opts.RequestTimeout,
		RateLimitRPS:      opts.RateLimitRPS,
		FailurePolicy:     policy,
		BackoffInitial:    200 * time.Millisecond,
		BackoffMax:        2 * time.Second,
		BackoffJitterFrac: 0.2,
	})
	if err != nil {
		return nil, stats, err
	}

	for _, r := range results {
		stats.Attempted++
		p := &out[r.Input.company].People[r.Input.person]
		if r.Err != nil {
			stats.Failed++
			p.Notes = leads.AppendNotes(p.Notes, "contact lookup failed: "+redact.Secrets(r.Err.Error()))
			continue
		}
		if r.Output.Empty() {
			continue
		}
		stats.Enriched++
		Apply(p, r.Output)
	}
	return out, stats, nil
}

// Apply fills p's empty contact fields from prof and records provenance.
func Apply(p *leads.Person, prof Profile) {
	if p.Email.Empty() {
		p.Email = p.Email.With(prof.Email)
	}
	if p.Phone.Empty() {
		for _, ph := range prof.Phone {
			p.Phone = p.Phone.With(ph)
		}
	}
	if p.LinkedIn.Empty() {
		p.LinkedIn = p.LinkedIn.With(prof.LinkedIn)
	}
	if p.Twitter == "" {
		p.Twitter = prof.Twitter
	}
	if p.GitHub == "" {
		p.GitHub = prof.GitHub
	}
	if p.Facebook == "" {
		p.Facebook = prof.Facebook
	}
	if p.EmailStatus == "" {
		p.EmailStatus = prof.EmailStatus
	}
	if p.LikelyToEngage == nil {
		p.LikelyToEngage = prof.LikelyToEngage
	}
	p.SourceURLs = []string(leads.Multi(p.SourceURLs).Union(prof.Sources))
	if prof.Backend != "" {
		p.Notes = leads.AppendNotes(p.Notes, "contact details from "+prof.Backend)
	}
}
