package leads

import (
	"cmp"
	"encoding/json"
	"slices"
	"strings"
)

// ValidPerson reports whether p names a real person: a non-empty name that is not
// just the title repeated as a placeholder.
func ValidPerson(p Person) bool {
	name := foldKey(p.Name)
	if name == "" || isPlaceholder(name) {
		return false
	}
	return name != foldKey(p.Title)
}

type personKey struct {
	company, name, title string
}

func keyOf(company string, p Person) personKey {
	if p.Company != "" {
		company = p.Company
	}
	return personKey{company: foldKey(company), name: foldKey(p.Name), title: foldKey(p.Title)}
}

// foldKey lowercases s and collapses runs of whitespace.
func foldKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// MergePeople drops invalid people and collapses duplicates sharing (company, name,
// title). The first occurrence keeps its position; later ones fill its empty fields.
func MergePeople(company string, people []Person) []Person {
	out := make([]Person, 0, len(people))
	index := make(map[personKey]int, len(people))
	for _, p := range people {
		if !ValidPerson(p) {
			continue
		}
		k := keyOf(company, p)
		if i, ok := index[k]; ok {
			out[i] = Merge(out[i], p)
			continue
		}
		index[k] = len(out)
		out = append(out, p)
	}
	return out
}

// Merge folds b into a. Non-empty values in a win, contact fields and provenance are
// unioned and notes are appended.
func Merge(a, b Person) Person {
	a.Name = prefer(a.Name, b.Name)
	a.Title = prefer(a.Title, b.Title)
	a.Company = prefer(a.Company, b.Company)
	a.Email = a.Email.Union(b.Email)
	a.Phone = a.Phone.Union(b.Phone)
	a.LinkedIn = a.LinkedIn.Union(b.LinkedIn)
	a.Twitter = prefer(a.Twitter, b.Twitter)
	a.GitHub = prefer(a.GitHub, b.GitHub)
	a.Facebook = prefer(a.Facebook, b.Facebook)
	a.EmailStatus = prefer(a.EmailStatus, b.EmailStatus)
	if a.LikelyToEngage == nil {
		a.LikelyToEngage = b.LikelyToEngage
	}
	if !a.RelevanceScore.Scored() {
		a.RelevanceScore = b.RelevanceScore
	}
	a.RelevantInfo = prefer(a.RelevantInfo, b.RelevantInfo)
	a.ApproachRecommendation = prefer(a.ApproachRecommendation, b.ApproachRecommendation)
	a.Notes = AppendNotes(a.Notes, b.Notes)
	a.SourceURLs = []string(Multi(a.SourceURLs).Union(b.SourceURLs))
	for k, v := range b.Extra {
		if _, ok := a.Extra[k]; ok {
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]json.RawMessage, len(b.Extra))
		}
		a.Extra[k] = v
	}
	return a
}

func prefer(a, b string) string {
	if strings.TrimSpace(a) == "" {
		return b
	}
	return a
}

// CleanCompanies removes the rep's own company, merges duplicate companies by name
// and dedups the people inside each.
func CleanCompanies(companies []Company, ownName string) []Company {
	companies = ExcludeCompany(companies, ownName)
	out := make([]Company, 0, len(companies))
	index := make(map[string]int, len(companies))
	for _, c := range companies {
		k := foldKey(c.Name)
		if k == "" {
			continue
		}
		if i, ok := index[k]; ok {
			out[i].People = append(out[i].People, c.People...)
			out[i].Website = prefer(out[i].Website, c.Website)
			out[i].Description = prefer(out[i].Description, c.Description)
			continue
		}
		index[k] = len(out)
		out = append(out, c)
	}
	for i := range out {
		if out[i].People != nil {
			out[i].People = MergePeople(out[i].Name, out[i].People)
		}
	}
	return out
}

// ExcludeCompany drops every company whose name matches ownName.
func ExcludeCompany(companies []Company, ownName string) []Company {
	own := foldKey(ownName)
	if own == "" {
		return companies
	}
	return slices.DeleteFunc(slices.Clone(companies), func(c Company) bool {
		return foldKey(c.Name) == own
	})
}

// DedupLeads collapses leads sharing (company, name, title) and drops invalid ones.
func DedupLeads(leads []Lead) []Lead {
	return MergePeople("", leads)
}

// FilterScores drops scored leads below minScore (score 0 is always dropped when
// minScore is at least 1) and orders the rest by score, highest first. Unscored
// leads are kept and sorted last. The sort is stable.
func FilterScores(leads []Lead, minScore int) []Lead {
	out := slices.DeleteFunc(slices.Clone(leads), func(l Lead) bool {
		return l.RelevanceScore.Scored() && int(l.RelevanceScore) < minScore
	})
	slices.SortStableFunc(out, func(a, b Lead) int {
		return cmp.Compare(b.RelevanceScore, a.RelevanceScore)
	})
	return out
}
