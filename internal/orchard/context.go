package orchard

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionDetails identifies the session that owns a context.
type SessionDetails struct {
	ID      string    `json:"session_id"`
	Started time.Time `json:"session_started"`
}

// Entry is one named slot of data under an agent.
type Entry struct {
	TechnicalName string          `json:"technical_name"`
	Description   string          `json:"description"`
	Kinds         map[string]Kind `json:"-"`
	Data          map[string]any  `json:"data"`
}

// Context is the session-scoped root shared by every stage and research agent.
type Context struct {
	Session SessionDetails      `json:"session_details"`
	Agents  map[string][]*Entry `json:"agents"`
}

// NewContext builds an empty context. An empty id gets a random UUID.
func NewContext(sessionID string, started time.Time) *Context {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}
	return &Context{
		Session: SessionDetails{ID: sessionID, Started: started.UTC()},
		Agents:  make(map[string][]*Entry),
	}
}

// Validate checks the structural invariants every stored context must hold.
func (c *Context) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil context", ErrInvalidContext)
	}
	if strings.TrimSpace(c.Session.ID) == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidContext)
	}
	if c.Agents == nil {
		return fmt.Errorf("%w: nil agents map", ErrInvalidContext)
	}
	for agent, entries := range c.Agents {
		if strings.TrimSpace(agent) == "" {
			return fmt.Errorf("%w: empty agent name", ErrInvalidContext)
		}
		names := make(map[string]struct{}, len(entries))
		for i, e := range entries {
			if e == nil {
				return fmt.Errorf("%w: agent %q entry %d is nil", ErrInvalidContext, agent, i)
			}
			if strings.TrimSpace(e.TechnicalName) == "" {
				return fmt.Errorf("%w: agent %q entry %d has no technical name", ErrInvalidContext, agent, i)
			}
			if _, dup := names[e.TechnicalName]; dup {
				return fmt.Errorf("%w: agent %q has duplicate technical name %q", ErrInvalidContext, agent, e.TechnicalName)
			}
			names[e.TechnicalName] = struct{}{}
			for key, kind := range e.Kinds {
				v, ok := e.Data[key]
				if !ok || v == nil {
					continue
				}
				if got := KindOf(v); got != kind {
					return fmt.Errorf("%w: %s/%s key %q holds %s, declared %s", ErrInvalidContext, agent, e.TechnicalName, key, got, kind)
				}
			}
		}
	}
	return nil
}

func (c *Context) clone() *Context {
	out := &Context{Session: c.Session, Agents: make(map[string][]*Entry, len(c.Agents))}
	for agent, entries := range c.Agents {
		cp := make([]*Entry, len(entries))
		for i, e := range entries {
			cp[i] = e.clone()
		}
		out.Agents[agent] = cp
	}
	return out
}

func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	out := &Entry{
		TechnicalName: e.TechnicalName,
		Description:   e.Description,
		Kinds:         make(map[string]Kind, len(e.Kinds)),
		Data:          make(map[string]any, len(e.Data)),
	}
	for k, v := range e.Kinds {
		out.Kinds[k] = v
	}
	for k, v := range e.Data {
		out.Data[k] = clone(v)
	}
	return out
}

func (c *Context) find(agent, technicalName string) ([]*Entry, *Entry, error) {
	entries, ok := c.Agents[agent]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agent)
	}
	for _, e := range entries {
		if e.TechnicalName == technicalName {
			return entries, e, nil
		}
	}
	return entries, nil, fmt.Errorf("%w: %q under agent %q", ErrUnknownEntry, technicalName, agent)
}
