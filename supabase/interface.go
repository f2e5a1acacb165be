package supabase

import (
	"context"
	"time"
)

// Store provides access to the agent directory kept in Supabase.
type Store interface {
	// GetAgent retrieves an agent scoped to its tenant.
	// Returns voiceflow.ErrAgentNotFound when no such agent exists.
	GetAgent(ctx context.Context, tenantID, agentID string) (*Agent, error)

	// GetTenant retrieves a tenant by ID
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)

	// Close closes the Supabase client and releases resources
	Close() error
}

// Agent is a configured voice agent of a tenant.
type Agent struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	Name              string    `json:"name"`
	SystemPrompt      string    `json:"system_prompt"`
	Voice             string    `json:"voice"`
	VoiceModel        string    `json:"voice_model"`
	VoiceSpeed        float64   `json:"voice_speed"`
	TokenLimit        int       `json:"token_limit"`
	MaxResponseTokens int       `json:"max_response_tokens"`
	TopK              int       `json:"top_k"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Tenant represents a tenant from the database
type Tenant struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	IsTemporary bool       `json:"is_temporary"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Expired reports whether a temporary tenant has passed its expiry.
func (t *Tenant) Expired(now time.Time) bool {
	return t.IsTemporary && t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}
