package synth

import (
	"context"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/creastat/voiceflow/audio"
)

// openAIPCMRate is the sample rate of the speech API's raw pcm format.
const openAIPCMRate = 24000

// OpenAIEngine synthesizes with an OpenAI-compatible speech API.
type OpenAIEngine struct {
	client   *openai.Client
	defaults VoiceProfile
}

// NewOpenAIEngine creates an engine. Fields left empty in a request's
// profile are taken from defaults.
func NewOpenAIEngine(client *openai.Client, defaults VoiceProfile) *OpenAIEngine {
	if defaults.Model == "" {
		defaults.Model = string(openai.TTSModel1)
	}
	if defaults.Voice == "" {
		defaults.Voice = string(openai.VoiceAlloy)
	}
	return &OpenAIEngine{client: client, defaults: defaults}
}

// Synthesize implements Engine.
func (e *OpenAIEngine) Synthesize(ctx context.Context, text string, profile VoiceProfile) ([]byte, error) {
	if profile.Model == "" {
		profile.Model = e.defaults.Model
	}
	if profile.Voice == "" {
		profile.Voice = e.defaults.Voice
	}
	if profile.Speed == 0 {
		profile.Speed = e.defaults.Speed
	}

	resp, err := e.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(profile.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(profile.Voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          profile.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("create speech failed: %w", err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	if len(pcm)%2 == 1 {
		pcm = pcm[:len(pcm)-1]
	}
	return audio.Resample(pcm, openAIPCMRate, audio.SampleRate), nil
}

var _ Engine = (*OpenAIEngine)(nil)
