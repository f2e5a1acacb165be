// Package rag retrieves tenant- and agent-scoped context passages for a query.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/creastat/voiceflow"
	"github.com/creastat/voiceflow/vectorstore"
)

// DefaultTopK is the number of passages requested when none is given.
const DefaultTopK = 5

// Embedder turns query text into a search vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is the outcome of one retrieval. A degraded result carries no
// passages and the cause; callers continue with empty context.
type Result struct {
	Passages []voiceflow.Passage
	Degraded bool
	Err      error
}

// Retriever performs similarity search against the agent's document index.
type Retriever struct {
	embedder Embedder
	store    vectorstore.VectorStore
	minScore float32
	logger   *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithMinScore drops results scoring below min.
func WithMinScore(min float32) Option {
	return func(r *Retriever) {
		r.minScore = min
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder Embedder, store vectorstore.VectorStore, opts ...Option) *Retriever {
	r := &Retriever{embedder: embedder, store: store}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.With(zap.String("component", "retriever"))
	return r
}

// Retrieve returns up to topK passages ranked by similarity. Failures of the
// embedder or the store yield an empty, degraded result rather than an error.
func (r *Retriever) Retrieve(ctx context.Context, tenantID, agentID, query string, topK int) Result {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if strings.TrimSpace(query) == "" {
		return Result{}
	}

	passages, err := r.search(ctx, tenantID, agentID, query, topK)
	if err != nil {
		r.logger.Warn("retrieval degraded to empty context",
			zap.String("tenant_id", tenantID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		return Result{Degraded: true, Err: err}
	}
	return Result{Passages: passages}
}

func (r *Retriever) search(ctx context.Context, tenantID, agentID, query string, topK int) ([]voiceflow.Passage, error) {
	if r.embedder == nil || r.store == nil {
		return nil, errors.New("retrieval store not configured")
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := r.store.Search(ctx, vector, vectorstore.SearchFilter{
		TenantID: tenantID,
		AgentID:  agentID,
		MinScore: r.minScore,
	}, topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	passages := make([]voiceflow.Passage, 0, len(results))
	for _, res := range results {
		if strings.TrimSpace(res.Content) == "" {
			continue
		}
		passages = append(passages, voiceflow.Passage{
			Text:       res.Content,
			Score:      res.Score,
			DocumentID: res.DocumentID,
		})
		if len(passages) == topK {
			break
		}
	}
	return passages, nil
}

// JoinPassages renders passages as the context block of a prompt.
func JoinPassages(passages []voiceflow.Passage) string {
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, strings.TrimSpace(p.Text))
	}
	return strings.Join(texts, "\n\n")
}
