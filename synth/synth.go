// Package synth turns reply text into speech audio, substituting a short
// tone whenever the engine cannot.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/creastat/voiceflow/audio"
)

const (
	toneFrequency = 440.0
	toneDuration  = 0.4
	toneAmplitude = 0.3
)

// VoiceProfile selects how an agent sounds.
type VoiceProfile struct {
	Voice string
	Model string
	Speed float64
}

// Engine synthesizes text to PCM16 mono at audio.SampleRate.
type Engine interface {
	Synthesize(ctx context.Context, text string, profile VoiceProfile) ([]byte, error)
}

// Result is the outcome of one synthesis. Degraded results carry the
// fallback tone and the cause.
type Result struct {
	Audio    []byte
	Degraded bool
	Err      error
}

var (
	toneOnce sync.Once
	tone     []byte
)

// FallbackTone returns the audio played when synthesis fails: a 400 ms
// 440 Hz sine at 16 kHz mono PCM16. Callers must not modify the slice.
func FallbackTone() []byte {
	toneOnce.Do(func() {
		n := int(audio.SampleRate * toneDuration)
		samples := make([]int16, n)
		for i := range samples {
			v := toneAmplitude * math.Sin(2*math.Pi*toneFrequency*float64(i)/audio.SampleRate)
			samples[i] = int16(v * math.MaxInt16)
		}
		tone = audio.Bytes(samples)
	})
	return tone
}

// Synthesizer wraps an Engine with the fallback tone.
type Synthesizer struct {
	engine Engine
	logger *zap.Logger
}

// New creates a Synthesizer. A nil logger disables logging.
func New(engine Engine, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		engine: engine,
		logger: logger.With(zap.String("component", "synthesizer")),
	}
}

// Synthesize never fails: blank text, engine errors and empty audio all
// yield FallbackTone.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, profile VoiceProfile) Result {
	pcm, err := s.synthesize(ctx, text, profile)
	if err != nil {
		s.logger.Warn("synthesis fell back to tone", zap.Error(err))
		return Result{Audio: FallbackTone(), Degraded: true, Err: err}
	}
	return Result{Audio: pcm}
}

func (s *Synthesizer) synthesize(ctx context.Context, text string, profile VoiceProfile) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("synthesis: empty text")
	}
	if s.engine == nil {
		return nil, errors.New("synthesis: no engine configured")
	}
	pcm, err := s.engine.Synthesize(ctx, text, profile)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	if len(pcm) < audio.BytesPerSample {
		return nil, errors.New("synthesis: engine returned no audio")
	}
	return pcm, nil
}
