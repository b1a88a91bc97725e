// Package mockapi fakes the third-party HTTP APIs the pipeline calls (Google Custom
// Search, Perplexity chat completions, Apollo people match) for tests and offline runs.
package mockapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

const (
	PathSearch      = "/customsearch/v1"
	PathChat        = "/chat/completions"
	PathPeopleMatch = "/api/v1/people/match"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
	Query  string
}

// SearchItem is one Custom Search result.
type SearchItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Person is the subset of an Apollo person record the mock returns.
type Person struct {
	Email          string   `json:"email,omitempty"`
	LinkedInURL    string   `json:"linkedin_url,omitempty"`
	TwitterURL     string   `json:"twitter_url,omitempty"`
	GitHubURL      string   `json:"github_url,omitempty"`
	FacebookURL    string   `json:"facebook_url,omitempty"`
	EmailStatus    string   `json:"email_status,omitempty"`
	LikelyToEngage *bool    `json:"is_likely_to_engage,omitempty"`
	Phones         []string `json:"-"`
}

type failure struct {
	status int
	left   int
}

// Server serves canned responses and records every call.
type Server struct {
	mu    sync.Mutex
	calls []Call

	apiKey string

	search        map[string][]SearchItem
	defaultSearch []SearchItem
	chat          []string
	defaultChat   string
	people        map[string]Person
	failures      map[string]*failure
}

func New() *Server {
	return &Server{
		search:      make(map[string][]SearchItem),
		people:      make(map[string]Person),
		failures:    make(map[string]*failure),
		defaultChat: `{"response": "mock reply", "complete": false}`,
	}
}

// RequireKey enforces the credential each API expects: ?key= for search, a bearer
// token for chat and x-api-key for Apollo. An empty key disables the check.
func (s *Server) RequireKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(key)
}

// SetSearchResults registers results for an exact query. A query with no entry gets
// the default results.
func (s *Server) SetSearchResults(query string, items ...SearchItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search[query] = items
}

func (s *Server) SetDefaultSearchResults(items ...SearchItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultSearch = items
}

// QueueChat appends replies returned by successive chat completions. Once drained
// the default reply is used.
func (s *Server) QueueChat(replies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = append(s.chat, replies...)
}

func (s *Server) SetDefaultChat(reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultChat = reply
}

// AddPerson registers an Apollo match for name (case-insensitive).
func (s *Server) AddPerson(name string, p Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.people[strings.ToLower(strings.TrimSpace(name))] = p
}

// FailNext makes the next n requests to path answer with status.
func (s *Server) FailNext(path string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = &failure{status: status, left: n}
}

// Handler returns an http.Handler that serves the mock APIs.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PathSearch, s.handleSearch)
	mux.HandleFunc(PathChat, s.handleChat)
	mux.HandleFunc(PathPeopleMatch, s.handlePeopleMatch)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo counts calls made to path.
func (s *Server) CallsTo(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Path == path {
			n++
		}
	}
	return n
}

// begin records the call and reports whether the handler should continue.
func (s *Server) begin(w http.ResponseWriter, r *http.Request, method string, credential func(*http.Request) string) bool {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})
	key := s.apiKey
	f := s.failures[r.URL.Path]
	var failStatus int
	if f != nil && f.left > 0 {
		f.left--
		failStatus = f.status
	}
	s.mu.Unlock()

	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if key != "" && credential(r) != key {
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return false
	}
	if failStatus != 0 {
		writeError(w, failStatus, "injected failure")
		return false
	}
	return true
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, http.MethodGet, func(r *http.Request) string { return r.URL.Query().Get("key") }) {
		return
	}
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeError(w, http.StatusBadRequest, "missing q")
		return
	}
	num := 10
	if v := r.URL.Query().Get("num"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid num %q", v))
			return
		}
		num = n
	}

	s.mu.Lock()
	items, ok := s.search[q]
	if !ok {
		items = s.defaultSearch
	}
	items = append([]SearchItem(nil), items...)
	s.mu.Unlock()
	if len(items) > num {
		items = items[:num]
	}
	writeJSON(w, map[string]any{"items": items})
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, http.MethodPost, func(r *http.Request) string {
		return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}) {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid chat request")
		return
	}

	s.mu.Lock()
	content := s.defaultChat
	if len(s.chat) > 0 {
		content = s.chat[0]
		s.chat = s.chat[1:]
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"model": req.Model,
		"choices": []any{
			map[string]any{
				"index":   0,
				"message": map[string]string{"role": "assistant", "content": content},
			},
		},
	})
}

func (s *Server) handlePeopleMatch(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, http.MethodPost, func(r *http.Request) string { return r.Header.Get("x-api-key") }) {
		return
	}
	name := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("name")))
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}

	s.mu.Lock()
	p, ok := s.people[name]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, map[string]any{"person": nil})
		return
	}

	phones := make([]map[string]string, 0, len(p.Phones))
	for _, ph := range p.Phones {
		phones = append(phones, map[string]string{"sanitized_number": ph})
	}
	body, _ := json.Marshal(p)
	var person map[string]any
	_ = json.Unmarshal(body, &person)
	person["phone_numbers"] = phones
	writeJSON(w, map[string]any{"person": person})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError uses the Google-style error envelope, which every client here parses.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": msg,
			"status":  http.StatusText(status),
		},
	})
}
