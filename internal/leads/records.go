// Package leads holds the payload records stages exchange (companies, people,
// leads) and the deterministic clean-up applied between model calls.
package leads

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payload keys.
const (
	KeyCompanyList = "company_list"
	KeyPeopleList  = "people_list"
	KeyLeadsList   = "leads_list"
	KeyComplete    = "complete"
)

// Person is one contact. Unknown keys returned by a model are kept in Extra and
// written back on encode.
type Person struct {
	Name                   string
	Title                  string
	Company                string
	Email                  Multi
	Phone                  Multi
	LinkedIn               Multi
	Twitter                string
	GitHub                 string
	Facebook               string
	EmailStatus            string
	LikelyToEngage         *bool
	RelevanceScore         Score
	RelevantInfo           string
	ApproachRecommendation string
	Notes                  string
	SourceURLs             []string

	Extra map[string]json.RawMessage
}

// Lead is a scored person as emitted by the scoring stage.
type Lead = Person

func (p *Person) UnmarshalJSON(b []byte) error {
	var raw rawFields
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Person{RelevanceScore: Unscored}
	raw.take("name", &p.Name)
	raw.take("title", &p.Title)
	raw.take("company", &p.Company)
	raw.take("email", &p.Email)
	raw.take("phone", &p.Phone)
	raw.take("linkedin", &p.LinkedIn)
	raw.take("twitter_url", &p.Twitter)
	raw.take("github_url", &p.GitHub)
	raw.take("facebook_url", &p.Facebook)
	raw.take("email_status", &p.EmailStatus)
	raw.take("is_likely_to_engage", &p.LikelyToEngage)
	raw.take("relevance_score", &p.RelevanceScore)
	raw.take("relevant_info", (*Text)(&p.RelevantInfo))
	raw.take("approach_recommendation", (*Text)(&p.ApproachRecommendation))
	if p.ApproachRecommendation == "" {
		raw.take("approach_reccomendation", (*Text)(&p.ApproachRecommendation))
	}
	raw.take("notes", (*Text)(&p.Notes))

	var urls Multi
	raw.take("source_urls", &urls)
	var legacy Multi
	raw.take("source_url", &legacy)
	p.SourceURLs = urls.Union(legacy)

	p.Name = strings.TrimSpace(p.Name)
	p.Title = strings.TrimSpace(p.Title)
	p.Extra = raw.extra()
	return nil
}

func (p Person) MarshalJSON() ([]byte, error) {
	known := map[string]any{
		"name":                    p.Name,
		"title":                   p.Title,
		"email":                   p.Email,
		"phone":                   p.Phone,
		"linkedin":                p.LinkedIn,
		"relevant_info":           p.RelevantInfo,
		"approach_recommendation": p.ApproachRecommendation,
		"notes":                   p.Notes,
		"source_urls":             nonNil(p.SourceURLs),
	}
	if p.RelevanceScore.Scored() {
		known["relevance_score"] = p.RelevanceScore
	}
	optional := map[string]string{
		"company":      p.Company,
		"twitter_url":  p.Twitter,
		"github_url":   p.GitHub,
		"facebook_url": p.Facebook,
		"email_status": p.EmailStatus,
	}
	for k, v := range optional {
		if v != "" {
			known[k] = v
		}
	}
	if p.LikelyToEngage != nil {
		known["is_likely_to_engage"] = *p.LikelyToEngage
	}
	return encodeWithExtra(known, p.Extra)
}

// Company is a candidate target account.
type Company struct {
	Name           string
	Website        string
	Description    string
	Industry       string
	Location       string
	EmployeeCount  string
	AnnualRevenue  string
	RelevanceScore Score
	RelevantInfo   string
	People         []Person

	Extra map[string]json.RawMessage
}

func (c *Company) UnmarshalJSON(b []byte) error {
	var raw rawFields
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Company{RelevanceScore: Unscored}
	raw.take("name", &c.Name)
	raw.take("website", &c.Website)
	raw.take("description", &c.Description)
	raw.take("industry", &c.Industry)
	raw.take("location", &c.Location)
	raw.take("employee_count", (*looseString)(&c.EmployeeCount))
	raw.take("annual_revenue", (*looseString)(&c.AnnualRevenue))
	raw.take("relevance_score", &c.RelevanceScore)
	raw.take("relevant_info", (*Text)(&c.RelevantInfo))
	raw.take(KeyPeopleList, &c.People)
	if c.People == nil {
		raw.take("people", &c.People)
	}
	c.Name = strings.TrimSpace(c.Name)
	c.Extra = raw.extra()
	return nil
}

func (c Company) MarshalJSON() ([]byte, error) {
	known := map[string]any{
		"name":          c.Name,
		"website":       c.Website,
		"description":   c.Description,
		"industry":      c.Industry,
		"location":      c.Location,
		"relevant_info": c.RelevantInfo,
	}
	if c.EmployeeCount != "" {
		known["employee_count"] = c.EmployeeCount
	}
	if c.AnnualRevenue != "" {
		known["annual_revenue"] = c.AnnualRevenue
	}
	if c.RelevanceScore.Scored() {
		known["relevance_score"] = c.RelevanceScore
	}
	if c.People != nil {
		known[KeyPeopleList] = c.People
	}
	return encodeWithExtra(known, c.Extra)
}

// looseString accepts a JSON string or number ("500", 500, "1-10").
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*s = looseString(strings.TrimSpace(t))
	case float64:
		*s = looseString(strconv.FormatFloat(t, 'f', -1, 64))
	default:
		return fmt.Errorf("want string or number, got %s", b)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
