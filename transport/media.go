package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/creastat/voiceflow"
	"github.com/creastat/voiceflow/audio"
	"github.com/creastat/voiceflow/conversation"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1 << 20
)

// MediaHandler serves the /v1/media WebSocket stream.
type MediaHandler struct {
	Registry     *conversation.Registry
	Logger       *zap.Logger
	WriteTimeout time.Duration
	ReadLimit    int64
	CheckOrigin  func(*http.Request) bool
}

func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	checkOrigin := h.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	readLimit := h.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	ws.SetReadLimit(readLimit)

	writeTimeout := h.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	c := &mediaConn{
		ws:           ws,
		registry:     h.Registry,
		logger:       logger.With(zap.String("component", "media_stream"), zap.String("remote", r.RemoteAddr)),
		writeTimeout: writeTimeout,
		streams:      make(map[string]streamFormat),
	}
	c.serve(r.Context())
}

type streamFormat struct {
	format audio.Format
	rate   int
}

// mediaConn is one WebSocket connection. Frames are read by a single
// goroutine; writes come from session actors and are serialized.
type mediaConn struct {
	ws           *websocket.Conn
	registry     *conversation.Registry
	logger       *zap.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  bool

	mu      sync.Mutex
	streams map[string]streamFormat
}

func (c *mediaConn) serve(ctx context.Context) {
	defer c.close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("media stream read ended", zap.Error(err))
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("malformed frame dropped", zap.Error(err))
			c.writeError("", CodeBadRequest, "malformed frame")
			continue
		}
		c.dispatch(ctx, frame)
	}
}

func (c *mediaConn) dispatch(ctx context.Context, frame InboundFrame) {
	switch frame.Event {
	case EventStart:
		c.start(ctx, frame)
	case EventMedia:
		c.media(ctx, frame)
	case EventStop:
		c.stop(frame.SessionID, conversation.ReasonStop)
	default:
		c.writeError(frame.SessionID, CodeBadRequest, "unknown event "+frame.Event)
	}
}

func (c *mediaConn) start(ctx context.Context, frame InboundFrame) {
	format := parseEncoding(strings.ToLower(frame.Encoding))
	rate := frame.SampleRate
	if rate <= 0 {
		rate = audio.SampleRate
		if format == audio.FormatMulaw {
			rate = 8000
		}
	}

	_, err := c.registry.Start(ctx, conversation.StartRequest{
		SessionID:  frame.SessionID,
		TenantID:   frame.TenantID,
		AgentID:    frame.AgentID,
		Format:     format,
		SampleRate: rate,
	}, c.emitter(frame.SessionID))
	if err != nil {
		c.logger.Info("start rejected", zap.String("session_id", frame.SessionID), zap.Error(err))
		c.writeError(frame.SessionID, errorCode(err), err.Error())
		return
	}

	c.mu.Lock()
	c.streams[frame.SessionID] = streamFormat{format: format, rate: rate}
	c.mu.Unlock()
}

func (c *mediaConn) media(ctx context.Context, frame InboundFrame) {
	if !c.owns(frame.SessionID) {
		c.writeError(frame.SessionID, CodeSessionNotFound, voiceflow.ErrSessionNotFound.Error())
		return
	}

	chunk, err := base64.StdEncoding.DecodeString(frame.Payload)
	if err != nil {
		c.logger.Warn("undecodable media payload dropped",
			zap.String("session_id", frame.SessionID),
			zap.Error(err))
		return
	}

	if err := c.registry.Media(ctx, frame.SessionID, chunk); err != nil {
		c.writeError(frame.SessionID, errorCode(err), err.Error())
	}
}

func (c *mediaConn) owns(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[sessionID]
	return ok
}

func (c *mediaConn) stop(sessionID, reason string) {
	c.mu.Lock()
	_, ok := c.streams[sessionID]
	delete(c.streams, sessionID)
	c.mu.Unlock()

	if ok {
		c.registry.Stop(sessionID, reason)
	}
}

// emitter converts turn responses into response frames in the stream's
// declared encoding. Responses for streams no longer owned by the
// connection are dropped.
func (c *mediaConn) emitter(sessionID string) conversation.Emitter {
	return func(resp conversation.Response) {
		c.mu.Lock()
		sf, ok := c.streams[sessionID]
		c.mu.Unlock()
		if !ok {
			// stopped between the turn finishing and this emit
			c.logger.Debug("discarding response of stopped stream", zap.String("session_id", sessionID))
			return
		}

		format := sf.format
		if format == "" {
			format = audio.FormatPCM16
		}
		payload := audio.ToTransport(resp.Audio, format, sf.rate)

		frame := ResponseFrame{
			Event:      EventResponse,
			SessionID:  resp.SessionID,
			Transcript: resp.Transcript,
			Text:       resp.Text,
			Audio:      base64.StdEncoding.EncodeToString(payload),
			Degraded:   stageNames(resp.Degraded),
		}
		if err := c.writeJSON(frame); err != nil {
			c.logger.Debug("response not delivered", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

func (c *mediaConn) writeError(sessionID, code, message string) {
	_ = c.writeJSON(ErrorFrame{Event: EventError, SessionID: sessionID, Code: code, Message: message})
}

func (c *mediaConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return voiceflow.ErrTransportClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(v)
}

// close ends every session started on this connection and closes it.
func (c *mediaConn) close() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	c.streams = make(map[string]streamFormat)
	c.mu.Unlock()

	for _, id := range ids {
		c.registry.Stop(id, conversation.ReasonClosed)
	}

	c.writeMu.Lock()
	c.closed = true
	c.writeMu.Unlock()
	_ = c.ws.Close()
}

func stageNames(stages []conversation.Stage) []string {
	if len(stages) == 0 {
		return nil
	}
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, voiceflow.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, voiceflow.ErrSessionExists):
		return CodeSessionExists
	case errors.Is(err, voiceflow.ErrAgentNotFound):
		return CodeAgentNotFound
	case errors.Is(err, voiceflow.ErrInvalidConfig):
		return CodeBadRequest
	default:
		return CodeUnavailable
	}
}
