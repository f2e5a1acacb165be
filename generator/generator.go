// Package generator produces the assistant reply for a conversational turn.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/creastat/voiceflow"
)

const (
	// DefaultTimeout bounds a single generation.
	DefaultTimeout = 30 * time.Second

	// FallbackText is returned whenever generation does not produce a reply.
	FallbackText = "I'm sorry, I'm having trouble answering right now. Could you please repeat that?"
)

// Message is one chat message handed to a Completer.
type Message struct {
	Role    string
	Content string
}

// Completer is an engine that completes a chat conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message, maxTokens int) (string, error)
}

// Prompt is everything the generator conditions the reply on.
type Prompt struct {
	System    string
	Context   string
	History   []voiceflow.Turn
	User      string
	MaxTokens int
}

// ComposeMessages renders a prompt as chat messages: system instructions
// with the retrieved context, prior turns in order, then the user utterance.
func ComposeMessages(p Prompt) []Message {
	system := strings.TrimSpace(p.System)
	if ctxText := strings.TrimSpace(p.Context); ctxText != "" {
		if system != "" {
			system += "\n\n"
		}
		system += "Context:\n" + ctxText
	}

	messages := make([]Message, 0, len(p.History)+2)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	for _, turn := range p.History {
		messages = append(messages, Message{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, Message{Role: string(voiceflow.RoleUser), Content: p.User})
	return messages
}

// PromptTokens estimates the prompt cost excluding the context block.
func PromptTokens(p Prompt) int {
	return voiceflow.EstimateTokens(p.System) + voiceflow.HistoryTokens(p.History)
}

// Result is the outcome of one generation. Degraded results carry
// FallbackText and the cause.
type Result struct {
	Text     string
	Degraded bool
	Err      error
}

// Generator wraps a Completer with a timeout and a fallback reply.
type Generator struct {
	completer Completer
	timeout   time.Duration
	logger    *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// New creates a Generator.
func New(completer Completer, opts ...Option) *Generator {
	g := &Generator{completer: completer, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	g.logger = g.logger.With(zap.String("component", "generator"))
	return g
}

// Respond generates a reply. It never fails: timeouts, engine errors and
// blank output all produce FallbackText.
func (g *Generator) Respond(ctx context.Context, p Prompt) Result {
	text, err := g.complete(ctx, p)
	if err != nil {
		g.logger.Warn("generation fell back", zap.Error(err))
		return Result{Text: FallbackText, Degraded: true, Err: err}
	}
	return Result{Text: text}
}

func (g *Generator) complete(ctx context.Context, p Prompt) (string, error) {
	if g.completer == nil {
		return "", errors.New("no completer configured")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := g.completer.Complete(ctx, ComposeMessages(p), p.MaxTokens)
		done <- reply{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("generation: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("generation: %w", r.err)
		}
		text := strings.TrimSpace(r.text)
		if text == "" {
			return "", errors.New("generation: empty reply")
		}
		return text, nil
	}
}
