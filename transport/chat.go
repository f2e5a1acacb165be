package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/creastat/voiceflow"
	"github.com/creastat/voiceflow/audio"
	"github.com/creastat/voiceflow/conversation"
)

const maxChatBody = 64 << 10

// ChatHandler serves POST /v1/chat text turns.
type ChatHandler struct {
	Registry *conversation.Registry
	Logger   *zap.Logger
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
		return
	}

	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" || req.AgentID == "" || strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, CodeBadRequest, "tenantId, agentId and text are required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp, err := h.Registry.Say(r.Context(), conversation.SayRequest{
		SessionID: req.SessionID,
		TenantID:  req.TenantID,
		AgentID:   req.AgentID,
		Text:      req.Text,
		Speak:     req.Speak,
	})
	if err != nil {
		status := http.StatusServiceUnavailable
		switch {
		case errors.Is(err, voiceflow.ErrAgentNotFound):
			status = http.StatusNotFound
		case errors.Is(err, voiceflow.ErrSessionExists):
			status = http.StatusConflict
		case errors.Is(err, voiceflow.ErrInvalidConfig):
			status = http.StatusBadRequest
		}
		if h.Logger != nil {
			h.Logger.Info("chat turn rejected", zap.String("session_id", req.SessionID), zap.Error(err))
		}
		writeJSONError(w, status, errorCode(err), err.Error())
		return
	}

	out := ChatResponse{
		SessionID: req.SessionID,
		Text:      resp.Text,
		Degraded:  stageNames(resp.Degraded),
	}
	if len(resp.Audio) > 0 {
		out.Audio = base64.StdEncoding.EncodeToString(audio.WrapWAV(resp.Audio, audio.SampleRate))
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorFrame{Event: EventError, Code: code, Message: message})
}
