// Package transport exposes conversations over a WebSocket media stream
// and a JSON text-chat endpoint.
package transport

import (
	"github.com/creastat/voiceflow/audio"
)

// Inbound media stream events.
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
)

// Outbound media stream events.
const (
	EventResponse = "response"
	EventError    = "error"
)

// Error codes sent in error frames.
const (
	CodeBadRequest      = "bad_request"
	CodeSessionNotFound = "session_not_found"
	CodeSessionExists   = "session_exists"
	CodeAgentNotFound   = "agent_not_found"
	CodeUnavailable     = "unavailable"
)

// InboundFrame is any client frame of the media stream. Fields not used by
// an event are empty.
type InboundFrame struct {
	Event      string `json:"event"`
	SessionID  string `json:"sessionId"`
	TenantID   string `json:"tenantId,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Payload    string `json:"payload,omitempty"`
}

// ResponseFrame carries the reply of one turn. Audio is base64 in the
// stream's declared encoding.
type ResponseFrame struct {
	Event      string   `json:"event"`
	SessionID  string   `json:"sessionId"`
	Transcript string   `json:"transcript,omitempty"`
	Text       string   `json:"text"`
	Audio      string   `json:"audio"`
	Degraded   []string `json:"degraded,omitempty"`
}

// ErrorFrame reports a rejected client frame.
type ErrorFrame struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	TenantID  string `json:"tenantId"`
	AgentID   string `json:"agentId"`
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text"`
	Speak     bool   `json:"speak,omitempty"`
}

// ChatResponse is the reply of POST /v1/chat. Audio is base64 WAV.
type ChatResponse struct {
	SessionID string   `json:"sessionId"`
	Text      string   `json:"text"`
	Audio     string   `json:"audio,omitempty"`
	Degraded  []string `json:"degraded,omitempty"`
}

// parseEncoding maps a declared stream encoding to an audio format.
// Unknown or empty encodings leave detection to the normalizer.
func parseEncoding(enc string) audio.Format {
	switch enc {
	case "mulaw", "ulaw", "audio/x-mulaw", "pcmu":
		return audio.FormatMulaw
	case "pcm16", "pcm_s16le", "linear16", "l16":
		return audio.FormatPCM16
	default:
		return ""
	}
}
