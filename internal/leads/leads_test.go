package leads

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/schema"
)

func TestScoreDecode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Score
	}{
		{`85`, 85},
		{`"70"`, 70},
		{`"90%"`, 90},
		{`74.6`, 75},
		{`150`, 100},
		{`-5`, 0},
		{`"high"`, Unscored},
	}
	for _, tc := range cases {
		var s Score
		require.NoError(t, json.Unmarshal([]byte(tc.in), &s), tc.in)
		assert.Equal(t, tc.want, s, tc.in)
	}
}

func TestPersonDecodeAcceptsLegacyKeys(t *testing.T) {
	t.Parallel()

	raw := `{
		"name": " Dana Ruiz ",
		"title": "CFO",
		"email": ["dana@acme.io", "d.ruiz@acme.io"],
		"phone": 5551234,
		"linkedin": "n/a",
		"relevance_score": "80",
		"approach_reccomendation": "lead with cost savings",
		"source_url": "https://acme.io/team",
		"seniority": "c_suite"
	}`
	var p Person
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	assert.Equal(t, "Dana Ruiz", p.Name)
	assert.Equal(t, Multi{"dana@acme.io", "d.ruiz@acme.io"}, p.Email)
	assert.Equal(t, Multi{"5551234"}, p.Phone)
	assert.True(t, p.LinkedIn.Empty())
	assert.Equal(t, Score(80), p.RelevanceScore)
	assert.Equal(t, "lead with cost savings", p.ApproachRecommendation)
	assert.Equal(t, []string{"https://acme.io/team"}, p.SourceURLs)
	require.Contains(t, p.Extra, "seniority")

	out, err := json.Marshal(p)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "lead with cost savings", back["approach_recommendation"])
	assert.Equal(t, "c_suite", back["seniority"])
	assert.Equal(t, "5551234", back["phone"])
	assert.Equal(t, float64(80), back["relevance_score"])
}

func TestPersonEncodeOmitsUnsetScore(t *testing.T) {
	t.Parallel()

	var p Person
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Lee","title":"CTO"}`), &p))
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "relevance_score")
}

func TestValidPerson(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidPerson(Person{Name: "Dana", Title: "CFO"}))
	assert.False(t, ValidPerson(Person{Name: "  ", Title: "CFO"}))
	assert.False(t, ValidPerson(Person{Name: "CFO", Title: "cfo"}))
	assert.False(t, ValidPerson(Person{Name: "Unknown", Title: "CFO"}))
}

func TestMergePeoplePrefersNonEmpty(t *testing.T) {
	t.Parallel()

	people := []Person{
		{Name: "Dana Ruiz", Title: "CFO", Notes: "found on team page", RelevanceScore: Unscored},
		{Name: "Title Only", Title: "title only"},
		{Name: "dana  ruiz", Title: "cfo", Email: Multi{"dana@acme.io"}, Notes: "email guessed",
			RelevanceScore: 75, SourceURLs: []string{"https://acme.io"}},
		{Name: "Lee", Title: "CTO", RelevanceScore: Unscored},
	}

	got := MergePeople("Acme", people)
	require.Len(t, got, 2)
	assert.Equal(t, "Dana Ruiz", got[0].Name)
	assert.Equal(t, Multi{"dana@acme.io"}, got[0].Email)
	assert.Equal(t, Score(75), got[0].RelevanceScore)
	assert.Equal(t, "found on team page; email guessed", got[0].Notes)
	assert.Equal(t, []string{"https://acme.io"}, got[0].SourceURLs)
	assert.Equal(t, "Lee", got[1].Name)
}

func TestAppendNotesNeverDrops(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a", AppendNotes("a", ""))
	assert.Equal(t, "b", AppendNotes("", "b"))
	assert.Equal(t, "a; b", AppendNotes("a", "b"))
	assert.Equal(t, "a; b", AppendNotes("a; b", "b"))
}

func TestCleanCompaniesExcludesOwnCompany(t *testing.T) {
	t.Parallel()

	payload, err := ParseCompanies(`Here you go: {"company_list": [
		{"name": "ACME ", "website": "acme.io"},
		{"name": "Globex", "people_list": [{"name": "Hank", "title": "CFO"}]},
		{"name": "globex", "website": "globex.com", "people_list": [{"name": "hank", "title": "cfo", "email": "hank@globex.com"}]}
	]}`)
	require.NoError(t, err)

	got := CleanCompanies(payload.Companies, "Acme")
	require.Len(t, got, 1)
	assert.Equal(t, "Globex", got[0].Name)
	assert.Equal(t, "globex.com", got[0].Website)
	require.Len(t, got[0].People, 1)
	assert.Equal(t, Multi{"hank@globex.com"}, got[0].People[0].Email)
}

func TestParseCompaniesDegraded(t *testing.T) {
	t.Parallel()

	_, err := ParseCompanies("I could not find any companies.")
	require.Error(t, err)
}

func TestFilterScores(t *testing.T) {
	t.Parallel()

	in := []Lead{
		{Name: "a", RelevanceScore: 50},
		{Name: "b", RelevanceScore: 0},
		{Name: "c", RelevanceScore: Unscored},
		{Name: "d", RelevanceScore: 90},
	}
	got := FilterScores(in, 1)

	names := make([]string, 0, len(got))
	for _, l := range got {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"d", "a", "c"}, names)
	assert.Len(t, in, 4, "input must not be modified")
}

func TestParseLeadsRequiresComplete(t *testing.T) {
	t.Parallel()

	_, err := ParseLeads(`{"leads_list": []}`)
	require.Error(t, err)

	p, err := ParseLeads(`{"complete": true, "leads_list": [{"name": "Dana", "relevance_score": 90}]}`)
	require.NoError(t, err)
	assert.True(t, p.Complete)
	require.Len(t, p.Leads, 1)
	assert.Equal(t, Score(90), p.Leads[0].RelevanceScore)
}

func TestDelimitedRoundTrip(t *testing.T) {
	t.Parallel()

	leads := []Lead{{
		Name:           "Dana Ruiz",
		Title:          "CFO",
		Company:        "Globex",
		Email:          Multi{"dana@globex.com", "d@globex.com"},
		RelevanceScore: 90,
		Notes:          "says \"hi\", often",
		SourceURLs:     []string{"https://globex.com/team"},
	}}

	text, err := FormatDelimited(leads, schema.FormatTSV)
	require.NoError(t, err)
	first := strings.SplitN(text, "\n", 2)[0]
	assert.Equal(t, strings.Join(Contract(schema.FormatTSV).Header(), "\t"), first)

	back, err := ReadDelimited(strings.NewReader(text), schema.FormatTSV)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, leads[0].Email, back[0].Email)
	assert.Equal(t, leads[0].Notes, back[0].Notes)
	assert.Equal(t, Score(90), back[0].RelevanceScore)
	assert.True(t, back[0].Phone.Empty())
}

func TestCleanupKeepsNonStringFields(t *testing.T) {
	t.Parallel()

	payload, err := ParseCompanies(`{"company_list": [{"name": "Globex", "people_list": [{
		"name": "Hank Scorpio",
		"title": ["CEO", "Founder"],
		"email": {"work": "hank@globex.com"},
		"notes": ["email unverified", "met at expo"],
		"relevant_info": ["expanding to Europe"]
	}]}]}`)
	require.NoError(t, err)

	cleaned := CleanCompanies(payload.Companies, "Acme")
	require.Len(t, cleaned, 1)
	require.Len(t, cleaned[0].People, 1)
	p := cleaned[0].People[0]
	assert.Equal(t, "email unverified; met at expo", p.Notes)
	assert.Equal(t, "expanding to Europe", p.RelevantInfo)

	text, err := Encode(CompanyPayload{Companies: cleaned})
	require.NoError(t, err)
	var back struct {
		Companies []struct {
			People []map[string]any `json:"people_list"`
		} `json:"company_list"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &back))
	person := back.Companies[0].People[0]
	assert.Equal(t, "email unverified; met at expo", person["notes"])
	assert.Equal(t, []any{"CEO", "Founder"}, person["title"])
	assert.Equal(t, map[string]any{"work": "hank@globex.com"}, person["email"])
}

func TestMultiRejectsObjects(t *testing.T) {
	t.Parallel()

	var m Multi
	require.Error(t, json.Unmarshal([]byte(`{"work": "a@b.co"}`), &m))
	assert.Nil(t, m)
	require.NoError(t, json.Unmarshal([]byte(`["a@b.co", null, 42]`), &m))
	assert.Equal(t, Multi{"a@b.co", "42"}, m)
}
