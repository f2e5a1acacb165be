package conversation

// Stage names a pipeline stage that can degrade.
type Stage string

const (
	StageRecognition Stage = "recognition"
	StageRetrieval   Stage = "retrieval"
	StageGeneration  Stage = "generation"
	StageSynthesis   Stage = "synthesis"
	StageHistory     Stage = "history"
)

// Response is the outcome of one completed turn.
type Response struct {
	SessionID  string
	Transcript string
	Text       string
	// Audio is 16 kHz mono PCM16; empty only for text turns that did not ask for speech.
	Audio    []byte
	Degraded []Stage
}

// DegradedAt reports whether stage substituted its fallback in this turn.
func (r Response) DegradedAt(stage Stage) bool {
	for _, s := range r.Degraded {
		if s == stage {
			return true
		}
	}
	return false
}

// Emitter delivers responses of voice turns to the transport.
type Emitter func(Response)
