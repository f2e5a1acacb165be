package session

import (
	"fmt"
	"time"

	"github.com/creastat/voiceflow"
)

// Key identifies a conversation's history. Histories never cross tenants
// or agents, even when session IDs collide.
type Key struct {
	TenantID  string `json:"tenant_id"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
}

// String renders the key as used for storage.
func (k Key) String() string {
	return fmt.Sprintf("history:%s:%s:%s", k.TenantID, k.AgentID, k.SessionID)
}

// Valid reports whether every component of the key is set.
func (k Key) Valid() bool {
	return k.TenantID != "" && k.AgentID != "" && k.SessionID != ""
}

// Record is the persisted conversation history of one session.
type Record struct {
	Key       Key              `json:"key"`
	Turns     []voiceflow.Turn `json:"turns"`
	Version   int64            `json:"version"` // monotonically increasing for optimistic locking
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (r *Record) clone() *Record {
	c := *r
	c.Turns = append([]voiceflow.Turn(nil), r.Turns...)
	return &c
}
