package conversation

import (
	"context"

	"github.com/creastat/voiceflow"
	"github.com/creastat/voiceflow/rag"
	"github.com/creastat/voiceflow/synth"
)

// DefaultMaxResponseTokens bounds reply length when an agent sets none.
const DefaultMaxResponseTokens = 300

// Profile is the per-agent configuration a session runs with.
type Profile struct {
	AgentName         string
	SystemPrompt      string
	Voice             synth.VoiceProfile
	TokenLimit        int
	MaxResponseTokens int
	TopK              int
}

// DefaultProfile returns the profile used when an agent configures nothing.
func DefaultProfile() Profile {
	return Profile{
		SystemPrompt:      "You are a helpful voice assistant. Answer briefly using the provided context.",
		TokenLimit:        voiceflow.DefaultTokenLimit,
		MaxResponseTokens: DefaultMaxResponseTokens,
		TopK:              rag.DefaultTopK,
	}
}

// WithDefaults fills zero fields of p from d.
func (p Profile) WithDefaults(d Profile) Profile {
	if p.SystemPrompt == "" {
		p.SystemPrompt = d.SystemPrompt
	}
	if p.Voice.Voice == "" {
		p.Voice.Voice = d.Voice.Voice
	}
	if p.Voice.Model == "" {
		p.Voice.Model = d.Voice.Model
	}
	if p.Voice.Speed == 0 {
		p.Voice.Speed = d.Voice.Speed
	}
	if p.TokenLimit <= 0 {
		p.TokenLimit = d.TokenLimit
	}
	if p.MaxResponseTokens <= 0 {
		p.MaxResponseTokens = d.MaxResponseTokens
	}
	if p.TopK <= 0 {
		p.TopK = d.TopK
	}
	return p
}

// ProfileSource resolves the profile of an agent. Implementations return
// voiceflow.ErrAgentNotFound for agents that do not exist or are disabled.
type ProfileSource interface {
	Profile(ctx context.Context, tenantID, agentID string) (Profile, error)
}
