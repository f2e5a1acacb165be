package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/creastat/voiceflow"
)

type mockStore struct {
	getAgentFn  func(ctx context.Context, tenantID, agentID string) (*Agent, error)
	getTenantFn func(ctx context.Context, tenantID string) (*Tenant, error)
}

func (m *mockStore) GetAgent(ctx context.Context, tenantID, agentID string) (*Agent, error) {
	return m.getAgentFn(ctx, tenantID, agentID)
}

func (m *mockStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	if m.getTenantFn != nil {
		return m.getTenantFn(ctx, tenantID)
	}
	return &Tenant{ID: tenantID}, nil
}

func (m *mockStore) Close() error { return nil }

func activeAgent(tenantID, agentID string) *Agent {
	return &Agent{
		ID:                agentID,
		TenantID:          tenantID,
		Name:              "Support",
		SystemPrompt:      "Answer refund questions.",
		Voice:             "nova",
		TokenLimit:        2000,
		MaxResponseTokens: 120,
		TopK:              3,
		IsActive:          true,
	}
}

func TestAgent_Profile(t *testing.T) {
	p := activeAgent("t1", "a1").Profile()
	assert.Equal(t, "Support", p.AgentName)
	assert.Equal(t, "Answer refund questions.", p.SystemPrompt)
	assert.Equal(t, "nova", p.Voice.Voice)
	assert.Equal(t, 2000, p.TokenLimit)
	assert.Equal(t, 120, p.MaxResponseTokens)
	assert.Equal(t, 3, p.TopK)
}

func TestDirectory_Profile(t *testing.T) {
	expired := time.Now().Add(-time.Hour)

	tests := []struct {
		name    string
		store   *mockStore
		wantErr error
	}{
		{
			name: "active agent",
			store: &mockStore{getAgentFn: func(ctx context.Context, tenantID, agentID string) (*Agent, error) {
				return activeAgent(tenantID, agentID), nil
			}},
		},
		{
			name: "inactive agent",
			store: &mockStore{getAgentFn: func(ctx context.Context, tenantID, agentID string) (*Agent, error) {
				a := activeAgent(tenantID, agentID)
				a.IsActive = false
				return a, nil
			}},
			wantErr: voiceflow.ErrAgentNotFound,
		},
		{
			name: "agent of another tenant",
			store: &mockStore{getAgentFn: func(ctx context.Context, tenantID, agentID string) (*Agent, error) {
				return activeAgent("other", agentID), nil
			}},
			wantErr: voiceflow.ErrAgentNotFound,
		},
		{
			name: "missing agent",
			store: &mockStore{getAgentFn: func(ctx context.Context, tenantID, agentID string) (*Agent, error) {
				return nil, voiceflow.ErrAgentNotFound
			}},
			wantErr: voiceflow.ErrAgentNotFound,
		},
		{
			name: "expired temporary tenant",
			store: &mockStore{
				getAgentFn: func(ctx context.Context, tenantID, agentID string) (*Agent, error) {
					return activeAgent(tenantID, agentID), nil
				},
				getTenantFn: func(ctx context.Context, tenantID string) (*Tenant, error) {
					return &Tenant{ID: tenantID, IsTemporary: true, ExpiresAt: &expired}, nil
				},
			},
			wantErr: voiceflow.ErrAgentNotFound,
		},
		{
			name: "tenant lookup failure is tolerated",
			store: &mockStore{
				getAgentFn: func(ctx context.Context, tenantID, agentID string) (*Agent, error) {
					return activeAgent(tenantID, agentID), nil
				},
				getTenantFn: func(ctx context.Context, tenantID string) (*Tenant, error) {
					return nil, errors.New("timeout")
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDirectory(tt.store, zaptest.NewLogger(t))
			p, err := d.Profile(context.Background(), "t1", "a1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Support", p.AgentName)
		})
	}
}

func TestClient_GetAgent(t *testing.T) {
	var agentRequests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/v1/agents":
			agentRequests.Add(1)
			q := r.URL.Query()
			if q.Get("tenant_id") == "eq.t1" && q.Get("id") == "eq.a1" {
				_, _ = w.Write([]byte(`[{"id":"a1","tenant_id":"t1","name":"Support","voice":"nova","top_k":4,"is_active":true}]`))
				return
			}
			_, _ = w.Write([]byte(`[]`))
		case "/rest/v1/tenants":
			_, _ = w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, APIKey: "service-key"})
	require.NoError(t, err)

	agent, err := c.GetAgent(context.Background(), "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "Support", agent.Name)
	assert.Equal(t, 4, agent.TopK)
	assert.True(t, agent.IsActive)

	_, err = c.GetAgent(context.Background(), "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), agentRequests.Load(), "second lookup served from cache")

	_, err = c.GetAgent(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, voiceflow.ErrAgentNotFound)

	_, err = c.GetTenant(context.Background(), "t1")
	assert.ErrorIs(t, err, voiceflow.ErrNotFound)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://localhost"})
	assert.Error(t, err)
}
