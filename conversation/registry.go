package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/creastat/voiceflow"
	"github.com/creastat/voiceflow/audio"
)

// StartRequest opens a session.
type StartRequest struct {
	SessionID string
	TenantID  string
	AgentID   string
	// Format and SampleRate declare the inbound audio encoding when it
	// cannot be sniffed, such as 8 kHz μ-law telephony audio.
	Format     audio.Format
	SampleRate int
}

// SayRequest is one text utterance.
type SayRequest struct {
	SessionID string
	TenantID  string
	AgentID   string
	Text      string
	Speak     bool
}

// Registry maps session IDs to running sessions. It is the only state
// shared between sessions.
type Registry struct {
	p      *Pipeline
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates a registry whose sessions run on p.
func NewRegistry(p *Pipeline) *Registry {
	p.init()
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		p:        p,
		logger:   p.Logger.With(zap.String("component", "registry")),
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers a session and starts its event loop. emit receives the
// responses of voice turns.
func (r *Registry) Start(ctx context.Context, req StartRequest, emit Emitter) (*Session, error) {
	if strings.TrimSpace(req.SessionID) == "" || req.TenantID == "" || req.AgentID == "" {
		return nil, fmt.Errorf("%w: session, tenant and agent ids are required", voiceflow.ErrInvalidConfig)
	}

	profile, err := r.resolveProfile(ctx, req.TenantID, req.AgentID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, voiceflow.ErrSessionTerminated
	}
	if _, exists := r.sessions[req.SessionID]; exists {
		return nil, voiceflow.ErrSessionExists
	}

	s := newSession(r.p, req, profile, emit)
	s.onExit = r.remove
	r.sessions[req.SessionID] = s
	r.p.Metrics.SessionStarted()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.run(r.ctx)
	}()

	s.logger.Info("session started")
	return s, nil
}

func (r *Registry) resolveProfile(ctx context.Context, tenantID, agentID string) (Profile, error) {
	defaults := r.p.Config.Defaults
	if r.p.Profiles == nil {
		return defaults, nil
	}
	profile, err := r.p.Profiles.Profile(ctx, tenantID, agentID)
	if errors.Is(err, voiceflow.ErrAgentNotFound) {
		return Profile{}, err
	}
	if err != nil {
		r.logger.Warn("agent lookup failed, using default profile",
			zap.String("tenant_id", tenantID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		return defaults, nil
	}
	return profile.WithDefaults(defaults), nil
}

// Media queues an audio chunk for a running session. Chunks for unknown
// sessions are rejected and never create one.
func (r *Registry) Media(ctx context.Context, sessionID string, chunk []byte) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return voiceflow.ErrSessionNotFound
	}
	return s.send(ctx, event{kind: eventMedia, audio: chunk})
}

// Say runs a text turn and waits for its response. The session is started
// on first use.
func (r *Registry) Say(ctx context.Context, req SayRequest) (Response, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Response{}, fmt.Errorf("%w: text is required", voiceflow.ErrInvalidConfig)
	}

	s, ok := r.Get(req.SessionID)
	if !ok {
		var err error
		s, err = r.Start(ctx, StartRequest{
			SessionID: req.SessionID,
			TenantID:  req.TenantID,
			AgentID:   req.AgentID,
		}, nil)
		if errors.Is(err, voiceflow.ErrSessionExists) {
			s, ok = r.Get(req.SessionID)
			if !ok {
				return Response{}, voiceflow.ErrSessionTerminated
			}
		} else if err != nil {
			return Response{}, err
		}
	}
	if s.tenantID != req.TenantID || s.agentID != req.AgentID {
		return Response{}, voiceflow.ErrSessionExists
	}

	reply := make(chan Response, 1)
	if err := s.send(ctx, event{kind: eventUtterance, text: req.Text, speak: req.Speak, reply: reply}); err != nil {
		return Response{}, err
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return Response{}, voiceflow.ErrSessionTerminated
		}
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Stop terminates a session. Stopping an unknown or already stopped
// session is a no-op. It reports whether a session was stopped.
func (r *Registry) Stop(sessionID, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if reason == "" {
		reason = ReasonStop
	}
	s.stop(reason)
	return true
}

// Get returns the running session with the given ID.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	return s, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// remove drops s from the map when its event loop exits, unless a newer
// session has taken the ID.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.id]; ok && cur == s {
		delete(r.sessions, s.id)
	}
	r.mu.Unlock()
	r.p.Metrics.SessionEnded(s.reason)
}

// Shutdown stops every session and waits for their event loops to release
// resources. In-flight turns are cancelled if ctx expires first.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.stop(ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
