package agent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/leads"
)

// Stage names, also used as group-chat states.
const (
	NameIntake            = "intake"
	NameCompanyDiscovery  = "company_discovery"
	NamePeopleDiscovery   = "people_discovery"
	NameContactEnrichment = "contact_enrichment"
	NameLeadScoring       = "lead_scoring"
)

// Input labels.
const (
	InputIntake    = "intake profile"
	InputCompanies = "company list"
	InputPeople    = "company and people list"
)

var rubric = fmt.Sprintf(`Score relevance as an integer from 0 to 100:
- %d: not relevant, remove it
- %d: weak match
- %d: fair match, consider contacting
- %d: good match
- %d or more: excellent match, definitely contact
- %d: perfect match, contact first`,
	leads.ScoreRemove, leads.ScoreWeak, leads.ScoreFair, leads.ScoreGood, leads.ScoreExcellent, leads.ScorePerfect)

const jsonRules = `Rules:
- Reply with a single JSON object and nothing else. No markdown fences.
- Never overwrite a notes field; append new observations to it.
- Keep every source URL you used in source_urls.`

func CompanyDiscovery(logger *zap.Logger) Stage {
	return Stage{
		Name: NameCompanyDiscovery,
		Instructions: `You find companies a sales rep should sell to.
The input holds the rep's company_info, product_info and ICP.
Find companies that match the ICP. Never include the rep's own company.
For each company give name, website, description, industry, location, employee_count,
annual_revenue, relevant_info and relevance_score.
Reply as {"company_list": [...]}.

` + rubric + "\n\n" + jsonRules,
		Inputs:   []string{InputIntake},
		Required: []string{leads.KeyCompanyList},
		Grounded: true,
		Logger:   logger,
	}
}

func PeopleDiscovery(logger *zap.Logger) Stage {
	return Stage{
		Name: NamePeopleDiscovery,
		Instructions: `You find the people a sales rep should contact at each company.
Use the ICP target titles. Add a people_list to every company in the company list; each
person has name, title, email, phone, linkedin, relevant_info, relevance_score,
approach_recommendation, notes and source_urls. Contact fields may be lists when the
right value is ambiguous. Skip anyone whose name you could not find.
Reply as {"company_list": [...]}.

` + rubric + "\n\n" + jsonRules,
		Inputs:   []string{InputIntake, InputCompanies},
		Required: []string{leads.KeyCompanyList},
		Grounded: true,
		Logger:   logger,
	}
}

func ContactEnrichment(logger *zap.Logger) Stage {
	return Stage{
		Name: NameContactEnrichment,
		Instructions: `You verify and complete contact details for every person in the company list.
Fill missing email, phone and linkedin values. Keep values that are already present
unless you can show they are wrong, and say so in notes.
Reply as {"company_list": [...]} with the same structure as the input.

` + jsonRules,
		Inputs:   []string{InputPeople},
		Required: []string{leads.KeyCompanyList},
		Grounded: true,
		Logger:   logger,
	}
}

func LeadScoring(logger *zap.Logger) Stage {
	return Stage{
		Name: NameLeadScoring,
		Instructions: `You score and rank leads for a sales rep.
Weigh functional role, seniority, department, region, title keywords and how well the
lead's company matches the ICP. Replace each relevance_score with your new score,
refine relevant_info and approach_recommendation, and add the company name to each lead.
Combine every people_list into one leads_list.
Set complete to true only when every lead has been scored.
Reply as {"complete": true, "leads_list": [...]}.

` + rubric + "\n\n" + jsonRules,
		Inputs:   []string{InputIntake, InputCompanies},
		Required: []string{leads.KeyLeadsList, leads.KeyComplete},
		Logger:   logger,
	}
}
