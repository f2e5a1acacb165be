package supabase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/creastat/voiceflow"
	"github.com/creastat/voiceflow/conversation"
	"github.com/creastat/voiceflow/synth"
)

// Profile converts the agent row into a conversation profile. Unset fields
// stay zero and are filled from defaults by the registry.
func (a *Agent) Profile() conversation.Profile {
	return conversation.Profile{
		AgentName:    a.Name,
		SystemPrompt: a.SystemPrompt,
		Voice: synth.VoiceProfile{
			Voice: a.Voice,
			Model: a.VoiceModel,
			Speed: a.VoiceSpeed,
		},
		TokenLimit:        a.TokenLimit,
		MaxResponseTokens: a.MaxResponseTokens,
		TopK:              a.TopK,
	}
}

// Directory resolves conversation profiles from the agent store.
type Directory struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewDirectory creates a Directory over store.
func NewDirectory(store Store, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		store:  store,
		logger: logger.With(zap.String("component", "agent_directory")),
		now:    time.Now,
	}
}

// Profile implements conversation.ProfileSource. Missing or inactive
// agents, and agents of expired tenants, are reported as
// voiceflow.ErrAgentNotFound.
func (d *Directory) Profile(ctx context.Context, tenantID, agentID string) (conversation.Profile, error) {
	agent, err := d.store.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return conversation.Profile{}, err
	}
	if !agent.IsActive || agent.TenantID != tenantID {
		return conversation.Profile{}, voiceflow.ErrAgentNotFound
	}

	tenant, err := d.store.GetTenant(ctx, tenantID)
	switch {
	case errors.Is(err, voiceflow.ErrNotFound):
		return conversation.Profile{}, voiceflow.ErrAgentNotFound
	case err != nil:
		d.logger.Warn("tenant lookup failed", zap.String("tenant_id", tenantID), zap.Error(err))
	case tenant.Expired(d.now()):
		return conversation.Profile{}, voiceflow.ErrAgentNotFound
	}

	return agent.Profile(), nil
}

var _ conversation.ProfileSource = (*Directory)(nil)
