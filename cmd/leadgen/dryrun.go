package main

import (
	"context"

	"github.com/shpitdev/leadgen-pipeline/internal/agent"
	"github.com/shpitdev/leadgen-pipeline/internal/llm"
)

// Canned replies for --dry-run. Intake completes on the first message.
var dryRunReplies = map[string]string{
	agent.NameIntake: `{"company_info": {"name": "Example Ledger Co", "website": "https://example.com"},
"product_info": {"name": "Example Ledger", "description": "Cloud bookkeeping for mid-size firms"},
"ICP": {"industries": ["logistics"], "target_titles": ["CFO", "Controller"], "regions": ["US"]}}`,

	agent.NameCompanyDiscovery: `{"company_list": [
{"name": "Northwind Freight", "website": "https://northwind.example", "industry": "logistics", "relevance_score": 80},
{"name": "Blue Harbor Shipping", "website": "https://blueharbor.example", "industry": "logistics", "relevance_score": 60}]}`,

	agent.NamePeopleDiscovery: `{"company_list": [
{"name": "Northwind Freight", "people_list": [
  {"name": "Avery Stone", "title": "CFO", "linkedin": "https://linkedin.example/averystone", "relevance_score": 85}]},
{"name": "Blue Harbor Shipping", "people_list": [
  {"name": "Jordan Lee", "title": "Controller", "relevance_score": 55},
  {"name": "Sam Ortiz", "title": "Office Manager", "relevance_score": 0}]}]}`,

	agent.NameContactEnrichment: `{"company_list": [
{"name": "Northwind Freight", "people_list": [
  {"name": "Avery Stone", "title": "CFO", "email": "avery@northwind.example", "linkedin": "https://linkedin.example/averystone"}]},
{"name": "Blue Harbor Shipping", "people_list": [
  {"name": "Jordan Lee", "title": "Controller", "email": "jordan@blueharbor.example"},
  {"name": "Sam Ortiz", "title": "Office Manager"}]}]}`,

	agent.NameLeadScoring: `{"complete": true, "leads_list": [
{"name": "Avery Stone", "title": "CFO", "company": "Northwind Freight", "email": "avery@northwind.example", "relevance_score": 90,
 "approach_recommendation": "Lead with month-end close time savings."},
{"name": "Jordan Lee", "title": "Controller", "company": "Blue Harbor Shipping", "email": "jordan@blueharbor.example", "relevance_score": 60},
{"name": "Sam Ortiz", "title": "Office Manager", "company": "Blue Harbor Shipping", "relevance_score": 0}]}`,
}

func dryRunGenerator(stage string) llm.Generator {
	reply, ok := dryRunReplies[stage]
	if !ok {
		reply = `{"response": "dry run", "complete": false}`
	}
	return llm.Func(func(ctx context.Context, _ llm.Request) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return reply, nil
	})
}
