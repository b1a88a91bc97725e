package orchard_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agent = "company_google_research_agent"

func provisioned(t *testing.T) *orchard.Store {
	t.Helper()
	s := orchard.New("session-1")
	require.NoError(t, s.Provision(agent, orchard.Entry{
		TechnicalName: "research-profile",
		Description:   "search-mode research state",
		Kinds: map[string]orchard.Kind{
			"search_queries":     orchard.KindList,
			"research_completed": orchard.KindBool,
		},
		Data: map[string]any{
			"research_goal":       "find fintech companies",
			"search_queries":      []string{"q1"},
			"researched_websites": []any{},
			"research_completed":  false,
			"meta":                map[string]any{"owner": "a", "nested": map[string]any{"x": 1}},
		},
	}))
	return s
}

func TestStore_ReservedKeyRejectsNonContext(t *testing.T) {
	s := provisioned(t)
	before := s.Context()

	err := s.Set(orchard.ReservedKey, map[string]any{"agents": map[string]any{}})
	require.ErrorIs(t, err, orchard.ErrNotContext)

	err = s.Set(orchard.ReservedKey, (*orchard.Context)(nil))
	require.ErrorIs(t, err, orchard.ErrNotContext)

	err = s.Set(orchard.ReservedKey, &orchard.Context{})
	require.ErrorIs(t, err, orchard.ErrInvalidContext)

	assert.Equal(t, before, s.Context())
}

func TestStore_ReservedKeyCannotBeDeleted(t *testing.T) {
	s := provisioned(t)
	before := s.Context()

	require.ErrorIs(t, s.Delete(orchard.ReservedKey), orchard.ErrReservedKey)
	assert.Equal(t, before, s.Context())

	require.NoError(t, s.Set("scratch", 1))
	require.NoError(t, s.Delete("scratch"))
	_, ok := s.Lookup("scratch")
	assert.False(t, ok)
}

func TestStore_FindEntryDistinguishesErrors(t *testing.T) {
	s := provisioned(t)

	root, entries, e, err := s.FindEntry(agent, "research-profile")
	require.NoError(t, err)
	assert.Equal(t, "session-1", root.Session.ID)
	assert.Len(t, entries, 1)
	assert.Equal(t, "search-mode research state", e.Description)

	_, _, _, err = s.FindEntry("nobody", "research-profile")
	assert.ErrorIs(t, err, orchard.ErrUnknownAgent)
	assert.NotErrorIs(t, err, orchard.ErrUnknownEntry)

	_, _, _, err = s.FindEntry(agent, "nothing-here")
	assert.ErrorIs(t, err, orchard.ErrUnknownEntry)
	assert.NotErrorIs(t, err, orchard.ErrUnknownAgent)
}

func TestStore_UpdateMergeSemantics(t *testing.T) {
	t.Run("list plus scalar appends one", func(t *testing.T) {
		s := provisioned(t)
		require.NoError(t, s.Update(agent, "research-profile", "search_queries", "q2", false))
		got, err := s.Get(agent, "research-profile", "search_queries")
		require.NoError(t, err)
		assert.Equal(t, []any{"q1", "q2"}, got["search_queries"])
	})

	t.Run("list plus list extends", func(t *testing.T) {
		s := provisioned(t)
		require.NoError(t, s.Update(agent, "research-profile", "search_queries", []string{"q2", "q3"}, false))
		got, _ := s.Get(agent, "research-profile", "search_queries")
		assert.Len(t, got["search_queries"], 3)
	})

	t.Run("list plus map appends the map", func(t *testing.T) {
		s := provisioned(t)
		visit := map[string]any{"query": "q1", "results": []any{}}
		require.NoError(t, s.Update(agent, "research-profile", "researched_websites", visit, false))
		got, _ := s.Get(agent, "research-profile", "researched_websites")
		assert.Equal(t, []any{visit}, got["researched_websites"])
	})

	t.Run("map merges only given keys", func(t *testing.T) {
		s := provisioned(t)
		require.NoError(t, s.Update(agent, "research-profile", "meta", map[string]any{
			"added":  true,
			"nested": map[string]any{"y": 2},
		}, false))
		got, _ := s.Get(agent, "research-profile", "meta")
		assert.Equal(t, map[string]any{
			"owner":  "a",
			"added":  true,
			"nested": map[string]any{"x": float64(1), "y": float64(2)},
		}, got["meta"])
	})

	t.Run("map rejects non-map", func(t *testing.T) {
		s := provisioned(t)
		err := s.Update(agent, "research-profile", "meta", "oops", false)
		require.ErrorIs(t, err, orchard.ErrTypeMismatch)
	})

	t.Run("scalar mismatch leaves value", func(t *testing.T) {
		s := provisioned(t)
		err := s.Update(agent, "research-profile", "research_completed", "yes", false)
		require.ErrorIs(t, err, orchard.ErrTypeMismatch)
		got, _ := s.Get(agent, "research-profile", "research_completed")
		assert.Equal(t, false, got["research_completed"])
	})

	t.Run("scalar match replaces", func(t *testing.T) {
		s := provisioned(t)
		require.NoError(t, s.Update(agent, "research-profile", "research_completed", true, false))
		got, _ := s.Get(agent, "research-profile", "research_completed")
		assert.Equal(t, true, got["research_completed"])
	})

	t.Run("replace overwrites regardless of kind", func(t *testing.T) {
		s := provisioned(t)
		require.NoError(t, s.Update(agent, "research-profile", "search_queries", "only", true))
		got, _ := s.Get(agent, "research-profile", "search_queries")
		assert.Equal(t, "only", got["search_queries"])
		// The new kind sticks: scalar rules now apply.
		require.ErrorIs(t, s.Update(agent, "research-profile", "search_queries", 3, false), orchard.ErrTypeMismatch)
	})

	t.Run("absent key is set", func(t *testing.T) {
		s := provisioned(t)
		require.NoError(t, s.Update(agent, "research-profile", "total", 2, false))
		require.NoError(t, s.Update(agent, "research-profile", "total", 5, false))
		got, _ := s.Get(agent, "research-profile", "total")
		assert.Equal(t, 5, orchard.AsInt(got["total"]))
	})

	t.Run("unknown entry", func(t *testing.T) {
		s := provisioned(t)
		require.ErrorIs(t, s.Update(agent, "missing", "k", 1, false), orchard.ErrUnknownEntry)
		require.ErrorIs(t, s.Update("nobody", "missing", "k", 1, false), orchard.ErrUnknownAgent)
	})
}

func TestStore_UpdateFuzzLengths(t *testing.T) {
	s := provisioned(t)
	want := 1
	for i := 0; i < 25; i++ {
		var v any = fmt.Sprintf("q-%d", i)
		n := 1
		if i%3 == 0 {
			v = []string{"a", "b"}
			n = 2
		}
		require.NoError(t, s.Update(agent, "research-profile", "search_queries", v, false))
		want += n
		got, _ := s.Get(agent, "research-profile", "search_queries")
		require.Len(t, got["search_queries"], want)
	}
}

func TestStore_GetReturnsCopies(t *testing.T) {
	s := provisioned(t)
	got, err := s.Get(agent, "research-profile")
	require.NoError(t, err)
	got["meta"].(map[string]any)["owner"] = "mutated"

	again, _ := s.Get(agent, "research-profile", "meta", "not-there")
	assert.Equal(t, "a", again["meta"].(map[string]any)["owner"])
	assert.NotContains(t, again, "not-there")
}

func TestStore_ListAll(t *testing.T) {
	s := provisioned(t)
	require.NoError(t, s.Provision("scraper", orchard.Entry{TechnicalName: "scraping-results"}))

	all := s.ListAll()
	require.Len(t, all[agent], 1)
	assert.Equal(t, "research-profile", all[agent][0].TechnicalName)
	assert.Equal(t, map[string]string{
		"research_goal":       "string",
		"search_queries":      "list",
		"researched_websites": "list",
		"research_completed":  "bool",
		"meta":                "map",
	}, all[agent][0].DataTypes)
	assert.Equal(t, []string{agent, "scraper"}, s.Agents())
}

func TestStore_ProvisionIsIdempotent(t *testing.T) {
	s := provisioned(t)
	require.NoError(t, s.Update(agent, "research-profile", "search_queries", "q2", false))
	require.NoError(t, s.Provision(agent, orchard.Entry{
		TechnicalName: "research-profile",
		Data:          map[string]any{"search_queries": []any{}},
	}))
	got, _ := s.Get(agent, "research-profile", "search_queries")
	assert.Len(t, got["search_queries"], 2)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := provisioned(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Update(agent, "research-profile", "meta", map[string]any{fmt.Sprintf("u%d", i): "ok"}, false))
		}(i)
	}
	wg.Wait()
	got, _ := s.Get(agent, "research-profile", "meta")
	assert.Len(t, got["meta"], 22)
}

func TestStore_MarshalJSON(t *testing.T) {
	s := provisioned(t)
	b, err := json.Marshal(s)
	require.NoError(t, err)

	var dump struct {
		Session struct {
			ID string `json:"session_id"`
		} `json:"session_details"`
		Agents map[string][]struct {
			TechnicalName string         `json:"technical_name"`
			Data          map[string]any `json:"data"`
		} `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(b, &dump))
	assert.Equal(t, "session-1", dump.Session.ID)
	assert.Equal(t, "research-profile", dump.Agents[agent][0].TechnicalName)
}

func TestFromContext_Validates(t *testing.T) {
	c := orchard.NewContext("", orchardNow())
	assert.NotEmpty(t, c.Session.ID)
	c.Agents["a"] = []*orchard.Entry{{TechnicalName: "x"}, {TechnicalName: "x"}}
	_, err := orchard.FromContext(c)
	require.ErrorIs(t, err, orchard.ErrInvalidContext)
}
