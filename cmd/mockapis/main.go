package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/leadgen-pipeline/internal/mockapi"
)

// fixtures is the optional JSON file that seeds the fake APIs.
type fixtures struct {
	Search      map[string][]mockapi.SearchItem `json:"search"`
	DefaultHits []mockapi.SearchItem            `json:"default_search"`
	Chat        []string                        `json:"chat"`
	DefaultChat string                          `json:"default_chat"`
	People      map[string]mockapi.Person       `json:"people"`
}

func main() {
	addr := defaultString("MOCK_APIS_ADDR", ":8090")
	key := defaultString("MOCK_APIS_KEY", "")
	fixturePath := defaultString("MOCK_APIS_FIXTURES", "")

	fs := flag.NewFlagSet("mockapis", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&key, "key", key, "Require this API key on every request (empty disables the check)")
	fs.StringVar(&fixturePath, "fixtures", fixturePath, "JSON file with canned search results, chat replies and people")
	_ = fs.Parse(os.Args[1:])

	srv := mockapi.New()
	srv.RequireKey(key)
	if fixturePath != "" {
		if err := load(srv, fixturePath); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "fixtures error: %v\n", err)
			os.Exit(2)
		}
	}

	_, _ = fmt.Fprintf(os.Stdout, "mockapis listening on %s (search=%s chat=%s apollo=%s)\n",
		addr, mockapi.PathSearch, mockapi.PathChat, mockapi.PathPeopleMatch)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func load(srv *mockapi.Server, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fx fixtures
	if err := json.Unmarshal(b, &fx); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for q, items := range fx.Search {
		srv.SetSearchResults(q, items...)
	}
	if len(fx.DefaultHits) > 0 {
		srv.SetDefaultSearchResults(fx.DefaultHits...)
	}
	srv.QueueChat(fx.Chat...)
	if fx.DefaultChat != "" {
		srv.SetDefaultChat(fx.DefaultChat)
	}
	for name, p := range fx.People {
		srv.AddPerson(name, p)
	}
	return nil
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
