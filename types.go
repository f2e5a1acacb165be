package voiceflow

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn represents a single conversation turn.
// Turns are never mutated after they are appended to a history.
type Turn struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"` // Estimated tokens
	Timestamp  time.Time `json:"timestamp"`
}

// Passage is a retrieved excerpt from the agent's document corpus.
// Score is the retrieval-time similarity and is not persisted.
type Passage struct {
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
	DocumentID string  `json:"document_id,omitempty"`
}
