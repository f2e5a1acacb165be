package recognizer

import (
	"context"

	"github.com/creastat/voiceflow/audio"
)

// Transcriber converts one complete WAV utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
	Name() string
}

// BatchEngine runs a Transcriber over every flushed buffer, treating each
// flush as a complete utterance. It never emits partials.
type BatchEngine struct {
	Transcriber Transcriber
	SampleRate  int
}

// NewBatchEngine wraps t for 16 kHz canonical audio.
func NewBatchEngine(t Transcriber) *BatchEngine {
	return &BatchEngine{Transcriber: t, SampleRate: audio.SampleRate}
}

// Name implements Engine.
func (e *BatchEngine) Name() string { return e.Transcriber.Name() }

// Open implements Engine.
func (e *BatchEngine) Open(ctx context.Context, sessionID string) (Stream, error) {
	return &batchStream{engine: e}, nil
}

type batchStream struct {
	engine *BatchEngine
}

func (s *batchStream) Accept(ctx context.Context, pcm []byte) (Outcome, error) {
	text, err := s.engine.Transcriber.Transcribe(ctx, audio.WrapWAV(pcm, s.engine.SampleRate))
	if err != nil {
		return Empty(), err
	}
	return Final(text), nil
}

func (s *batchStream) Close() error { return nil }

var _ Engine = (*BatchEngine)(nil)
