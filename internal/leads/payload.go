package leads

import (
	"encoding/json"
	"fmt"

	"github.com/shpitdev/leadgen-pipeline/internal/reply"
)

// CompanyPayload is the company_list document emitted by discovery and enrichment.
type CompanyPayload struct {
	Companies []Company `json:"company_list"`
}

// LeadsPayload is the scoring stage document.
type LeadsPayload struct {
	Complete bool   `json:"complete"`
	Leads    []Lead `json:"leads_list"`
}

// ParseCompanies decodes a stage reply carrying company_list.
func ParseCompanies(text string) (CompanyPayload, error) {
	var out CompanyPayload
	res := reply.Decode(text, KeyCompanyList)
	if !res.OK() {
		return out, fmt.Errorf("company payload: %w", res.Err)
	}
	if err := res.Into(&out, false); err != nil {
		return out, fmt.Errorf("company payload: %w", err)
	}
	return out, nil
}

// ParseLeads decodes a stage reply carrying leads_list and complete.
func ParseLeads(text string) (LeadsPayload, error) {
	var out LeadsPayload
	res := reply.Decode(text, KeyLeadsList, KeyComplete)
	if !res.OK() {
		return out, fmt.Errorf("leads payload: %w", res.Err)
	}
	if err := res.Into(&out, false); err != nil {
		return out, fmt.Errorf("leads payload: %w", err)
	}
	return out, nil
}

// Encode renders a payload as compact JSON text for the next stage.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
