package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/creastat/voiceflow"
	"github.com/creastat/voiceflow/audio"
	"github.com/creastat/voiceflow/generator"
	"github.com/creastat/voiceflow/rag"
	"github.com/creastat/voiceflow/recognizer"
	"github.com/creastat/voiceflow/session"
)

// Termination reasons.
const (
	ReasonStop     = "stop"
	ReasonIdle     = "idle"
	ReasonShutdown = "shutdown"
	ReasonClosed   = "transport_closed"
)

type eventKind int

const (
	eventMedia eventKind = iota
	eventUtterance
)

type event struct {
	kind  eventKind
	audio []byte
	text  string
	speak bool
	reply chan Response
}

// Session is the actor of one conversation. Its buffer, recognizer and
// history are touched only by its own event loop; other goroutines talk to
// it through the mailbox and stop.
type Session struct {
	id       string
	tenantID string
	agentID  string
	profile  Profile

	p          *Pipeline
	normalizer *audio.Normalizer
	emit       Emitter
	logger     *zap.Logger

	mailbox  chan event
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	reason   string
	stopped  atomic.Bool
	state    atomic.Int32
	onExit   func(*Session)

	// owned by the event loop
	buffer        []byte
	rec           *recognizer.Recognizer
	history       []voiceflow.Turn
	historyLoaded bool
}

func newSession(p *Pipeline, req StartRequest, profile Profile, emit Emitter) *Session {
	logger := p.Logger.With(
		zap.String("component", "session"),
		zap.String("session_id", req.SessionID),
		zap.String("tenant_id", req.TenantID),
		zap.String("agent_id", req.AgentID))

	normOpts := []audio.Option{audio.WithLogger(logger)}
	if p.Transcoder != nil {
		normOpts = append(normOpts, audio.WithTranscoder(p.Transcoder))
	}
	if req.Format != "" {
		rate := req.SampleRate
		if rate <= 0 {
			rate = audio.SampleRate
			if req.Format == audio.FormatMulaw {
				rate = 8000
			}
		}
		normOpts = append(normOpts, audio.WithInputFormat(req.Format, rate))
	}

	return &Session{
		id:         req.SessionID,
		tenantID:   req.TenantID,
		agentID:    req.AgentID,
		profile:    profile,
		p:          p,
		normalizer: audio.NewNormalizer(normOpts...),
		emit:       emit,
		logger:     logger,
		mailbox:    make(chan event, p.Config.MailboxSize),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// TenantID returns the owning tenant.
func (s *Session) TenantID() string { return s.tenantID }

// AgentID returns the agent the session talks to.
func (s *Session) AgentID() string { return s.agentID }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session has released its resources.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason returns why the session terminated. Valid after Done is closed.
func (s *Session) Reason() string {
	<-s.done
	return s.reason
}

func (s *Session) historyKey() session.Key {
	return session.Key{TenantID: s.tenantID, AgentID: s.agentID, SessionID: s.id}
}

// stop asks the actor to terminate. Safe to call any number of times from
// any goroutine; only the first call has an effect.
func (s *Session) stop(reason string) {
	s.stopOnce.Do(func() {
		s.reason = reason
		s.stopped.Store(true)
		close(s.stopCh)
	})
}

func (s *Session) send(ctx context.Context, ev event) error {
	if s.stopped.Load() {
		return voiceflow.ErrSessionTerminated
	}
	select {
	case s.mailbox <- ev:
		return nil
	case <-s.stopCh:
		return voiceflow.ErrSessionTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the event loop. It exits on stop or after IdleTimeout without
// events, and always releases the recognizer on the way out.
func (s *Session) run(ctx context.Context) {
	defer s.teardown()

	idle := time.NewTimer(s.p.Config.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-idle.C:
			s.logger.Info("session idle timeout", zap.Duration("idle_timeout", s.p.Config.IdleTimeout))
			s.stop(ReasonIdle)
			return
		case ev := <-s.mailbox:
			if s.stopped.Load() {
				return
			}
			s.handle(ctx, ev)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.p.Config.IdleTimeout)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev event) {
	if ev.reply != nil {
		defer close(ev.reply)
	}

	var (
		resp Response
		ok   bool
	)
	switch ev.kind {
	case eventMedia:
		resp, ok = s.onMedia(ctx, ev.audio)
	case eventUtterance:
		resp, ok = s.onUtterance(ctx, ev.text, ev.speak)
	}
	if !ok {
		return
	}
	if s.stopped.Load() {
		s.logger.Debug("discarding response of terminated session")
		return
	}
	if ev.reply != nil {
		ev.reply <- resp
		return
	}
	if s.emit != nil {
		s.emit(resp)
	}
}

func (s *Session) transition(to State) error {
	from := s.State()
	if err := checkTransition(from, to); err != nil {
		s.logger.Error("rejected state transition", zap.Error(err))
		return err
	}
	s.state.Store(int32(to))
	s.p.Metrics.RecordTransition(from.String(), to.String())
	return nil
}

// onMedia normalizes and buffers a chunk, flushing to the recognizer once
// the buffer reaches the flush threshold. The buffer is empty afterwards
// whether or not a transcript resulted.
func (s *Session) onMedia(ctx context.Context, raw []byte) (Response, bool) {
	if s.State() == StateIdle {
		_ = s.transition(StateStreaming)
	}

	norm := s.normalizer.Normalize(ctx, raw)
	if norm.Empty() {
		return Response{}, false
	}
	s.ensureRecognizer(ctx)

	s.buffer = append(s.buffer, norm.PCM...)
	if len(s.buffer) < s.p.Config.FlushThreshold {
		return Response{}, false
	}
	return s.flush(ctx)
}

func (s *Session) ensureRecognizer(ctx context.Context) {
	if s.rec != nil || s.p.Recognizers == nil {
		return
	}
	rec, err := s.p.Recognizers.New(ctx, s.id)
	if err != nil {
		s.logger.Warn("recognizer allocation failed", zap.Error(err))
		return
	}
	s.rec = rec
}

func (s *Session) flush(ctx context.Context) (Response, bool) {
	if err := s.transition(StateRecognizing); err != nil {
		s.buffer = nil
		return Response{}, false
	}

	pcm := s.buffer
	s.buffer = nil

	outcome := recognizer.Empty()
	start := time.Now()
	if s.rec != nil {
		outcome = s.rec.Accept(ctx, pcm)
	}
	s.p.Metrics.ObserveStage(string(StageRecognition), time.Since(start))
	s.p.Metrics.RecordFlush(outcome.Kind.String())

	if !outcome.Actionable() {
		_ = s.transition(StateStreaming)
		return Response{}, false
	}
	return s.turn(ctx, outcome.Text, "voice", true)
}

func (s *Session) onUtterance(ctx context.Context, text string, speak bool) (Response, bool) {
	if text == "" {
		return Response{}, false
	}
	return s.turn(ctx, text, "text", speak)
}

// turn runs one query/response cycle. Every adapter returns a usable value,
// so a turn always yields reply text and, when speaking, audio.
func (s *Session) turn(ctx context.Context, text, source string, speak bool) (Response, bool) {
	if err := s.transition(StateQuerying); err != nil {
		return Response{}, false
	}

	resp := Response{SessionID: s.id, Transcript: text}
	s.loadHistory(ctx)

	prior := s.history
	s.history = voiceflow.AppendTurn(s.history, voiceflow.RoleUser, text)

	passages := s.retrieve(ctx, text, &resp)

	prompt := generator.Prompt{
		System:    s.profile.SystemPrompt,
		History:   prior,
		User:      text,
		MaxTokens: s.profile.MaxResponseTokens,
	}
	fit := voiceflow.Budget{TokenLimit: s.profile.TokenLimit}.Fit(passages, text, generator.PromptTokens(prompt))
	if fit.Condensed {
		s.p.Metrics.RecordCondensation()
		s.logger.Debug("condensed context",
			zap.Int("estimated_tokens", fit.EstimatedTokens),
			zap.Int("passages_in", len(passages)),
			zap.Int("passages_kept", len(fit.Passages)))
	}
	prompt.Context = rag.JoinPassages(fit.Passages)

	start := time.Now()
	gen := s.p.Generator.Respond(ctx, prompt)
	s.p.Metrics.ObserveStage(string(StageGeneration), time.Since(start))
	if gen.Degraded {
		s.degrade(&resp, StageGeneration)
	}
	resp.Text = gen.Text

	if err := s.transition(StateResponding); err != nil {
		return Response{}, false
	}

	s.history = voiceflow.AppendTurn(s.history, voiceflow.RoleAssistant, gen.Text)
	s.history = voiceflow.TruncateHistory(s.history, s.p.Config.HistoryCap)
	s.persist(ctx, &resp)

	if speak {
		start = time.Now()
		syn := s.p.Synthesizer.Synthesize(ctx, gen.Text, s.profile.Voice)
		s.p.Metrics.ObserveStage(string(StageSynthesis), time.Since(start))
		if syn.Degraded {
			s.degrade(&resp, StageSynthesis)
		}
		resp.Audio = syn.Audio
	}

	_ = s.transition(StateStreaming)
	s.p.Metrics.RecordTurn(source, len(resp.Degraded) > 0)
	return resp, true
}

func (s *Session) retrieve(ctx context.Context, query string, resp *Response) []voiceflow.Passage {
	if s.p.Retriever == nil {
		return nil
	}
	start := time.Now()
	res := s.p.Retriever.Retrieve(ctx, s.tenantID, s.agentID, query, s.profile.TopK)
	s.p.Metrics.ObserveStage(string(StageRetrieval), time.Since(start))
	if res.Degraded {
		s.degrade(resp, StageRetrieval)
	}
	return res.Passages
}

func (s *Session) degrade(resp *Response, stage Stage) {
	resp.Degraded = append(resp.Degraded, stage)
	s.p.Metrics.RecordFallback(string(stage))
}

// loadHistory resumes a stored conversation on the session's first query.
func (s *Session) loadHistory(ctx context.Context) {
	if s.historyLoaded || s.p.History == nil {
		return
	}
	s.historyLoaded = true

	turns, err := session.Load(ctx, s.p.History, s.historyKey())
	if err != nil {
		s.logger.Warn("history load failed, starting fresh", zap.Error(err))
		s.p.Metrics.RecordFallback(string(StageHistory))
		return
	}
	if len(turns) > 0 {
		s.history = voiceflow.TruncateHistory(append(turns, s.history...), s.p.Config.HistoryCap)
		s.logger.Debug("resumed history", zap.Int("turns", len(s.history)))
	}
}

func (s *Session) persist(ctx context.Context, resp *Response) {
	if s.p.History == nil {
		return
	}
	stored := voiceflow.TruncateHistoryTokens(s.history, s.p.Config.PersistTokenLimit, s.p.Config.HistoryCap)
	if err := session.Save(ctx, s.p.History, s.historyKey(), stored); err != nil {
		s.logger.Warn("history save failed", zap.Error(err))
		s.degrade(resp, StageHistory)
	}
}

// History returns a copy of the turns, for inspection after the session ends.
func (s *Session) History() []voiceflow.Turn {
	<-s.done
	return append([]voiceflow.Turn(nil), s.history...)
}

func (s *Session) teardown() {
	s.stop(ReasonClosed)
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			s.logger.Warn("recognizer release failed", zap.Error(err))
		}
	}
	s.buffer = nil
	s.p.Metrics.RecordTransition(s.State().String(), StateTerminated.String())
	s.state.Store(int32(StateTerminated))
	s.logger.Info("session terminated", zap.String("reason", s.reason))
	close(s.done)
	if s.onExit != nil {
		s.onExit(s)
	}
}
