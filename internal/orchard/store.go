// Package orchard is the validated, session-scoped context store shared by
// pipeline stages and research agents.
//
// The root Context lives under a reserved key of a small variable store. Every
// mutation works on a copy of the root and is written back through Set, so a
// failed update or a failed validation leaves the previous root in place.
package orchard

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ReservedKey holds the orchestration context in the variable store.
const ReservedKey = "orchestration_context"

var (
	ErrUnknownAgent   = errors.New("orchard: unknown agent")
	ErrUnknownEntry   = errors.New("orchard: unknown technical name")
	ErrReservedKey    = errors.New("orchard: reserved key cannot be deleted")
	ErrNotContext     = errors.New("orchard: value is not an orchestration context")
	ErrTypeMismatch   = errors.New("orchard: type mismatch")
	ErrInvalidContext = errors.New("orchard: invalid orchestration context")
)

// Store is a concurrency-safe variable store whose reserved key always holds a
// valid *Context.
type Store struct {
	mu   sync.RWMutex
	vars map[string]any
}

// New creates a store holding a fresh context for sessionID.
func New(sessionID string) *Store {
	s := &Store{vars: make(map[string]any)}
	s.vars[ReservedKey] = NewContext(sessionID, time.Now())
	return s
}

// FromContext creates a store around an existing context after validating it.
func FromContext(c *Context) (*Store, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Store{vars: map[string]any{ReservedKey: c.clone()}}, nil
}

// Set assigns a variable. The reserved key only accepts a valid *Context.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(key, value)
}

func (s *Store) setLocked(key string, value any) error {
	if key == ReservedKey {
		c, ok := value.(*Context)
		if !ok || c == nil {
			return fmt.Errorf("%w: got %T", ErrNotContext, value)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	s.vars[key] = value
	return nil
}

// Lookup reads a variable.
func (s *Store) Lookup(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[key]
	return v, ok
}

// Delete removes a variable. The reserved key cannot be removed.
func (s *Store) Delete(key string) error {
	if key == ReservedKey {
		return ErrReservedKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars, key)
	return nil
}

func (s *Store) root() *Context {
	return s.vars[ReservedKey].(*Context)
}

// Context returns a deep copy of the current root.
func (s *Store) Context() *Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root().clone()
}

// SessionID returns the owning session.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root().Session.ID
}

// MarshalJSON dumps the current root.
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Context())
}

// Provision creates entries under agent. Entries whose technical name already exists
// are left untouched, so provisioning is idempotent.
func (s *Store) Provision(agent string, entries ...Entry) error {
	return s.mutate(func(c *Context) error {
		list := c.Agents[agent]
		for _, e := range entries {
			if _, existing, _ := c.find(agent, e.TechnicalName); existing != nil {
				continue
			}
			ne := &Entry{
				TechnicalName: e.TechnicalName,
				Description:   e.Description,
				Kinds:         make(map[string]Kind, len(e.Kinds)+len(e.Data)),
				Data:          make(map[string]any, len(e.Data)),
			}
			for k, kind := range e.Kinds {
				ne.Kinds[k] = kind
			}
			for k, v := range e.Data {
				cv, err := canonical(v)
				if err != nil {
					return fmt.Errorf("provision %s/%s key %q: %w", agent, e.TechnicalName, k, err)
				}
				ne.Data[k] = cv
				if _, declared := ne.Kinds[k]; !declared && cv != nil {
					ne.Kinds[k] = KindOf(cv)
				}
			}
			list = append(list, ne)
			c.Agents[agent] = list
		}
		if _, ok := c.Agents[agent]; !ok {
			c.Agents[agent] = []*Entry{}
		}
		return nil
	})
}

// FindEntry locates an entry. It returns copies of the root, the agent's entries and
// the entry itself. Unknown agents and unknown technical names are distinct errors.
func (s *Store) FindEntry(agent, technicalName string) (*Context, []*Entry, *Entry, error) {
	root := s.Context()
	entries, e, err := root.find(agent, technicalName)
	if err != nil {
		return nil, nil, nil, err
	}
	return root, entries, e, nil
}

// Summary describes one entry without its data.
type Summary struct {
	TechnicalName string            `json:"technical_name"`
	Description   string            `json:"description"`
	DataTypes     map[string]string `json:"data_types"`
}

// ListAll reports, per agent, every entry and the types of its data keys.
func (s *Store) ListAll() map[string][]Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Summary, len(s.root().Agents))
	for agent, entries := range s.root().Agents {
		sums := make([]Summary, 0, len(entries))
		for _, e := range entries {
			types := make(map[string]string, len(e.Data))
			for k, v := range e.Data {
				kind := e.Kinds[k]
				if kind == KindUnknown {
					kind = KindOf(v)
				}
				types[k] = kind.String()
			}
			sums = append(sums, Summary{TechnicalName: e.TechnicalName, Description: e.Description, DataTypes: types})
		}
		out[agent] = sums
	}
	return out
}

// Agents returns agent names in sorted order.
func (s *Store) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.root().Agents))
	for a := range s.root().Agents {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Get returns a copy of the requested keys of an entry's data. With no keys it
// returns all data. Keys that are not present are omitted.
func (s *Store) Get(agent, technicalName string, keys ...string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, e, err := s.root().find(agent, technicalName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		out := make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			out[k] = clone(v)
		}
		return out, nil
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := e.Data[k]; ok {
			out[k] = clone(v)
		}
	}
	return out, nil
}

// Update merges value into an entry's key:
//   - list: a list value is concatenated, anything else is appended
//   - map: value must be a map; keys are merged, recursing into nested maps
//   - scalar: value replaces the old one only if the kinds match
//
// An absent or nil current value, or replace, overwrites unconditionally.
func (s *Store) Update(agent, technicalName, key string, value any, replace bool) error {
	nv, err := canonical(value)
	if err != nil {
		return err
	}
	return s.mutate(func(c *Context) error {
		_, e, err := c.find(agent, technicalName)
		if err != nil {
			return err
		}
		cur, exists := e.Data[key]
		kind := e.Kinds[key]
		if kind == KindUnknown {
			kind = KindOf(cur)
		}

		nk := KindOf(nv)
		if replace {
			e.Data[key] = nv
			if nk != KindUnknown {
				e.Kinds[key] = nk
			}
			return nil
		}
		if !exists || cur == nil {
			declared := e.Kinds[key]
			switch {
			case declared == KindUnknown:
				e.Data[key] = nv
				if nk != KindUnknown {
					e.Kinds[key] = nk
				}
			case declared == KindList && nk != KindList:
				e.Data[key] = []any{nv}
			case nk == declared || nk == KindUnknown:
				e.Data[key] = nv
			default:
				return fmt.Errorf("%w: %s/%s key %q declared %s, got %s", ErrTypeMismatch, agent, technicalName, key, declared, nk)
			}
			return nil
		}

		switch kind {
		case KindList:
			list := AsList(cur)
			if more, ok := nv.([]any); ok {
				list = append(list, more...)
			} else {
				list = append(list, nv)
			}
			e.Data[key] = list
		case KindMap:
			src, ok := nv.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: %s/%s key %q is a map, got %s", ErrTypeMismatch, agent, technicalName, key, KindOf(nv))
			}
			dst := AsMap(cur)
			mergeMaps(dst, src)
			e.Data[key] = dst
		default:
			if nk != kind {
				return fmt.Errorf("%w: %s/%s key %q is %s, got %s", ErrTypeMismatch, agent, technicalName, key, kind, nk)
			}
			e.Data[key] = nv
		}
		return nil
	})
}

// mutate applies fn to a copy of the root and writes the copy back, which re-runs
// validation. On any error the stored root is unchanged.
func (s *Store) mutate(fn func(*Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.root().clone()
	if err := fn(next); err != nil {
		return err
	}
	return s.setLocked(ReservedKey, next)
}
