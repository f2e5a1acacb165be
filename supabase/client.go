// Package supabase reads agent and tenant configuration from Supabase.
package supabase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/creastat/voiceflow"
)

// Config holds Supabase connection configuration
type Config struct {
	URL      string
	APIKey   string
	CacheTTL time.Duration // Default: 5 minutes
}

// Client implements the Store interface using Supabase
type Client struct {
	client   *supabase.Client
	cache    *cache
	cacheTTL time.Duration
}

// cache provides thread-safe caching for frequently accessed rows
type cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// New creates a new Supabase client
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client:   client,
		cacheTTL: cfg.CacheTTL,
		cache:    &cache{entries: make(map[string]cacheEntry)},
	}, nil
}

// GetAgent retrieves an agent by tenant and ID
func (c *Client) GetAgent(ctx context.Context, tenantID, agentID string) (*Agent, error) {
	key := "agent:" + tenantID + ":" + agentID
	if cached, ok := c.get(key).(*Agent); ok {
		return cached, nil
	}

	var agents []Agent
	_, err := c.client.From("agents").
		Select("*", "", false).
		Eq("tenant_id", tenantID).
		Eq("id", agentID).
		ExecuteTo(&agents)

	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	if len(agents) == 0 {
		return nil, voiceflow.ErrAgentNotFound
	}

	agent := &agents[0]
	c.put(key, agent)

	return agent, nil
}

// GetTenant retrieves a tenant by ID
func (c *Client) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	key := "tenant:" + tenantID
	if cached, ok := c.get(key).(*Tenant); ok {
		return cached, nil
	}

	var tenants []Tenant
	_, err := c.client.From("tenants").
		Select("*", "", false).
		Eq("id", tenantID).
		ExecuteTo(&tenants)

	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if len(tenants) == 0 {
		return nil, voiceflow.ErrNotFound
	}

	tenant := &tenants[0]
	c.put(key, tenant)

	return tenant, nil
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

func (c *Client) get(key string) any {
	c.cache.mu.RLock()
	defer c.cache.mu.RUnlock()

	if e, ok := c.cache.entries[key]; ok && time.Now().Before(e.expiresAt) {
		return e.value
	}
	return nil
}

func (c *Client) put(key string, value any) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	c.cache.entries[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(c.cacheTTL),
	}
}

// Compile-time check that Client implements Store
var _ Store = (*Client)(nil)
