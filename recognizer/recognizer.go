// Package recognizer adapts speech-to-text engines to the per-session
// "accept bytes, maybe produce a transcript" contract.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Kind classifies a recognition outcome.
type Kind int

const (
	KindEmpty Kind = iota
	KindPartial
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	default:
		return "empty"
	}
}

// Outcome is the result of handing audio to a recognizer.
type Outcome struct {
	Kind Kind
	Text string
}

// Empty returns an outcome carrying no transcript.
func Empty() Outcome { return Outcome{Kind: KindEmpty} }

// Partial returns an incremental hypothesis.
func Partial(text string) Outcome { return Outcome{Kind: KindPartial, Text: text} }

// Final returns a transcript judged complete at an utterance boundary.
func Final(text string) Outcome { return Outcome{Kind: KindFinal, Text: text} }

// Actionable reports whether the outcome should advance the pipeline:
// only final transcripts with non-blank text do.
func (o Outcome) Actionable() bool {
	return o.Kind == KindFinal && strings.TrimSpace(o.Text) != ""
}

// Stream is one engine-side recognition context. Streams keep internal
// state and must not be shared between sessions.
type Stream interface {
	Accept(ctx context.Context, pcm []byte) (Outcome, error)
	Close() error
}

// Engine opens recognition streams.
type Engine interface {
	Open(ctx context.Context, sessionID string) (Stream, error)
	Name() string
}

// Recognizer is the exclusively-owned recognition handle of one session.
// It is not safe for concurrent use; the owning session's event loop is its
// only caller.
type Recognizer struct {
	sessionID string
	stream    Stream
	logger    *zap.Logger
	closed    bool
}

// Accept hands PCM to the engine. Engine failures are logged and reported
// as an empty outcome so the session loop never sees an error.
func (r *Recognizer) Accept(ctx context.Context, pcm []byte) Outcome {
	if r.closed {
		r.logger.Error("accept on closed recognizer")
		return Empty()
	}
	if len(pcm) == 0 {
		return Empty()
	}

	out, err := r.stream.Accept(ctx, pcm)
	if err != nil {
		r.logger.Warn("recognition failed", zap.Int("bytes", len(pcm)), zap.Error(err))
		return Empty()
	}
	return out
}

// Close releases the engine stream. Subsequent calls are no-ops.
func (r *Recognizer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.stream.Close(); err != nil {
		return fmt.Errorf("close recognizer stream: %w", err)
	}
	return nil
}

// Closed reports whether Close has been called.
func (r *Recognizer) Closed() bool { return r.closed }

// Factory allocates per-session recognizers.
type Factory struct {
	engine Engine
	logger *zap.Logger
}

// NewFactory creates a factory over engine.
func NewFactory(engine Engine, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		engine: engine,
		logger: logger.With(zap.String("component", "recognizer")),
	}
}

// New opens a recognizer for sessionID.
func (f *Factory) New(ctx context.Context, sessionID string) (*Recognizer, error) {
	if f == nil || f.engine == nil {
		return nil, errors.New("recognizer engine not configured")
	}
	stream, err := f.engine.Open(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("open %s stream: %w", f.engine.Name(), err)
	}
	return &Recognizer{
		sessionID: sessionID,
		stream:    stream,
		logger: f.logger.With(
			zap.String("session_id", sessionID),
			zap.String("engine", f.engine.Name())),
	}, nil
}
