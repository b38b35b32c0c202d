package domain

import (
	"time"
)

// Entry roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Entry is a single record in a session history.
type Entry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	AgentID   string    `json:"agent_id,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session holds the participating agents and the shared history of a conversation.
type Session struct {
	ID        string    `json:"id"`
	Agents    []Profile `json:"agents"`
	History   []Entry   `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() Session {
	out := *s
	out.Agents = make([]Profile, len(s.Agents))
	for i, a := range s.Agents {
		out.Agents[i] = a.Clone()
	}
	out.History = append([]Entry(nil), s.History...)
	return out
}

// AgentIDs returns the ids of the participating agents in membership order.
func (s *Session) AgentIDs() []string {
	ids := make([]string, len(s.Agents))
	for i, a := range s.Agents {
		ids[i] = a.ID
	}
	return ids
}

// IdleFor reports how long the session has been inactive at now.
// Returns 0 if the session was touched after now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(s.UpdatedAt)
	if idle < 0 {
		return 0
	}
	return idle
}
