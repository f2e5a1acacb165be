// Package conversation runs voice and text conversations: one actor per
// session driving audio through recognition, retrieval, generation and
// synthesis, and a registry that owns the actors' lifecycles.
package conversation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/creastat/voiceflow"
	"github.com/creastat/voiceflow/audio"
	"github.com/creastat/voiceflow/generator"
	"github.com/creastat/voiceflow/internal/metrics"
	"github.com/creastat/voiceflow/rag"
	"github.com/creastat/voiceflow/recognizer"
	"github.com/creastat/voiceflow/session"
	"github.com/creastat/voiceflow/synth"
)

const (
	// DefaultFlushThreshold is one second of 16 kHz mono PCM16.
	DefaultFlushThreshold = 32000
	DefaultIdleTimeout    = 60 * time.Second
	DefaultMailboxSize    = 256
	// DefaultPersistTokenLimit bounds the stored history record.
	DefaultPersistTokenLimit = 8000
)

// Config tunes session behaviour.
type Config struct {
	FlushThreshold    int
	HistoryCap        int
	PersistTokenLimit int
	IdleTimeout       time.Duration
	MailboxSize       int
	Defaults          Profile
}

func (c Config) withDefaults() Config {
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = DefaultFlushThreshold
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = voiceflow.DefaultHistoryCap
	}
	if c.PersistTokenLimit <= 0 {
		c.PersistTokenLimit = DefaultPersistTokenLimit
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = DefaultMailboxSize
	}
	c.Defaults = c.Defaults.WithDefaults(DefaultProfile())
	return c
}

// Retriever finds context passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID, agentID, query string, topK int) rag.Result
}

// Responder generates the assistant reply.
type Responder interface {
	Respond(ctx context.Context, p generator.Prompt) generator.Result
}

// Speaker synthesizes reply audio.
type Speaker interface {
	Synthesize(ctx context.Context, text string, profile synth.VoiceProfile) synth.Result
}

// RecognizerFactory allocates per-session recognizers.
type RecognizerFactory interface {
	New(ctx context.Context, sessionID string) (*recognizer.Recognizer, error)
}

// Pipeline bundles the collaborators shared by every session. Collaborators
// are stateless or per-call; per-session state lives in Session.
type Pipeline struct {
	Config      Config
	Transcoder  audio.Transcoder
	Recognizers RecognizerFactory
	Retriever   Retriever
	Generator   Responder
	Synthesizer Speaker
	History     session.Store
	Profiles    ProfileSource
	Metrics     *metrics.Collector
	Logger      *zap.Logger
}

func (p *Pipeline) init() {
	p.Config = p.Config.withDefaults()
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	// Without an engine the adapters still answer with their fallbacks.
	if p.Generator == nil {
		p.Generator = generator.New(nil, generator.WithLogger(p.Logger))
	}
	if p.Synthesizer == nil {
		p.Synthesizer = synth.New(nil, p.Logger)
	}
}
