// Package enrich is the contact-enrichment boundary: name, title and company in,
// contact profile out.
package enrich

import (
	"context"
	"strings"
)

// Query identifies one person to look up.
type Query struct {
	Name    string
	Title   string
	Company string
}

func (q Query) String() string {
	parts := []string{strings.TrimSpace(q.Name)}
	if t := strings.TrimSpace(q.Title); t != "" {
		parts = append(parts, t)
	}
	if c := strings.TrimSpace(q.Company); c != "" {
		parts = append(parts, "@ "+c)
	}
	return strings.Join(parts, " ")
}

// Profile is the contact data an enricher found. Empty fields mean "not found".
type Profile struct {
	Email          string
	Phone          []string
	LinkedIn       string
	Twitter        string
	GitHub         string
	Facebook       string
	EmailStatus    string
	LikelyToEngage *bool

	// Sources lists URLs the data came from, when the backend reports them.
	Sources []string
	// Backend names the enricher that produced the profile.
	Backend string
}

// Empty reports whether no contact field was found.
func (p Profile) Empty() bool {
	return p.Email == "" && len(p.Phone) == 0 && p.LinkedIn == "" &&
		p.Twitter == "" && p.GitHub == "" && p.Facebook == ""
}

// Enricher looks up one person.
type Enricher interface {
	Enrich(ctx context.Context, q Query) (Profile, error)
}
