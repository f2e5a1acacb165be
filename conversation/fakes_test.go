package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/creastat/voiceflow/generator"
	"github.com/creastat/voiceflow/rag"
	"github.com/creastat/voiceflow/recognizer"
	"github.com/creastat/voiceflow/session"
	"github.com/creastat/voiceflow/synth"
	"github.com/creastat/voiceflow/vectorstore"
)

const refundAnswer = "We offer refunds within 30 days."

var errOutage = errors.New("upstream unavailable")

type fakeStream struct {
	engine *fakeEngine
}

func (s *fakeStream) Accept(ctx context.Context, pcm []byte) (recognizer.Outcome, error) {
	s.engine.accepted.Add(int32(len(pcm)))
	if s.engine.acceptFn != nil {
		return s.engine.acceptFn(pcm)
	}
	return recognizer.Empty(), nil
}

func (s *fakeStream) Close() error {
	s.engine.closes.Add(1)
	return nil
}

type fakeEngine struct {
	acceptFn func(pcm []byte) (recognizer.Outcome, error)
	opens    atomic.Int32
	closes   atomic.Int32
	accepted atomic.Int32
}

func (e *fakeEngine) Open(ctx context.Context, sessionID string) (recognizer.Stream, error) {
	e.opens.Add(1)
	return &fakeStream{engine: e}, nil
}

func (e *fakeEngine) Name() string { return "fake-stt" }

func transcribing(text string) *fakeEngine {
	return &fakeEngine{acceptFn: func(pcm []byte) (recognizer.Outcome, error) {
		return recognizer.Final(text), nil
	}}
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeVectorStore struct {
	results []vectorstore.SearchResult
	err     error
}

func (s *fakeVectorStore) Search(ctx context.Context, vector []float32, filter vectorstore.SearchFilter, limit int) ([]vectorstore.SearchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func (s *fakeVectorStore) Close() error { return nil }

func refundPassages() []vectorstore.SearchResult {
	return []vectorstore.SearchResult{
		{ID: "1", Score: 0.91, Content: "Refunds are issued within 30 days of purchase.", DocumentID: "refunds"},
		{ID: "2", Score: 0.84, Content: "Refund requests require the original receipt.", DocumentID: "refunds"},
	}
}

type fakeCompleter struct {
	mu       sync.Mutex
	calls    [][]generator.Message
	reply    string
	err      error
	block    chan struct{}
	entered  chan struct{}
	enterOne sync.Once
}

func (c *fakeCompleter) Complete(ctx context.Context, messages []generator.Message, maxTokens int) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, messages)
	c.mu.Unlock()

	if c.entered != nil {
		c.enterOne.Do(func() { close(c.entered) })
	}
	if c.block != nil {
		<-c.block
	}
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func (c *fakeCompleter) lastCall() []generator.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

func (c *fakeCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeSynthEngine struct {
	err error
}

func (e *fakeSynthEngine) Synthesize(ctx context.Context, text string, profile synth.VoiceProfile) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []byte{0x10, 0x00, 0x20, 0x00, 0x30, 0x00}, nil
}

// testRig wires a pipeline of real adapters over fake engines.
type testRig struct {
	engine    *fakeEngine
	store     *fakeVectorStore
	completer *fakeCompleter
	synth     *fakeSynthEngine
	history   session.Store
	pipeline  *Pipeline
	registry  *Registry
	emitted   chan Response
}

type rigOption func(*testRig)

func withRetrievalError() rigOption {
	return func(r *testRig) { r.store.err = errOutage }
}

func withGenerationError() rigOption {
	return func(r *testRig) { r.completer.err = errOutage }
}

func withSynthesisError() rigOption {
	return func(r *testRig) { r.synth.err = errOutage }
}

func withReply(text string) rigOption {
	return func(r *testRig) { r.completer.reply = text }
}

func withEngine(e *fakeEngine) rigOption {
	return func(r *testRig) { r.engine = e }
}

func withConfig(fn func(*Config)) rigOption {
	return func(r *testRig) { fn(&r.pipeline.Config) }
}

func withHistory(store session.Store) rigOption {
	return func(r *testRig) { r.history = store }
}

func newRig(t *testing.T, opts ...rigOption) *testRig {
	t.Helper()
	logger := zaptest.NewLogger(t)

	r := &testRig{
		engine:    transcribing("what is your refund policy"),
		store:     &fakeVectorStore{results: refundPassages()},
		completer: &fakeCompleter{reply: refundAnswer},
		synth:     &fakeSynthEngine{},
		pipeline:  &Pipeline{Logger: logger},
		emitted:   make(chan Response, 16),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.pipeline.Recognizers = recognizer.NewFactory(r.engine, logger)
	r.pipeline.Retriever = rag.NewRetriever(fakeEmbedder{}, r.store, rag.WithLogger(logger))
	r.pipeline.Generator = generator.New(r.completer, generator.WithLogger(logger), generator.WithTimeout(time.Second))
	r.pipeline.Synthesizer = synth.New(r.synth, logger)
	r.pipeline.History = r.history
	r.registry = NewRegistry(r.pipeline)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.registry.Shutdown(ctx)
	})
	return r
}

func (r *testRig) start(t *testing.T, sessionID string) *Session {
	t.Helper()
	s, err := r.registry.Start(context.Background(), StartRequest{
		SessionID: sessionID,
		TenantID:  "acme",
		AgentID:   "support",
	}, func(resp Response) { r.emitted <- resp })
	require.NoError(t, err)
	return s
}

// speech is raw PCM that no format sniffer mistakes for a container.
func speech(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(0x11 + i%7)
	}
	return b
}

// speak sends one flush threshold of audio in 8000-byte chunks.
func (r *testRig) speak(t *testing.T, sessionID string) {
	t.Helper()
	for i := 0; i < DefaultFlushThreshold/8000; i++ {
		require.NoError(t, r.registry.Media(context.Background(), sessionID, speech(8000)))
	}
}

func (r *testRig) nextResponse(t *testing.T) Response {
	t.Helper()
	select {
	case resp := <-r.emitted:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("no response emitted")
		return Response{}
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate")
	}
}
