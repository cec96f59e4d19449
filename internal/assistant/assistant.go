// Package assistant turns a prompt plus optional conversation history into a
// reply. Every failure of the underlying backends is absorbed here and mapped
// to a fixed sentinel so callers always get natural-language text back.
package assistant

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"time"

	"jarvis/internal/memory"
)

const (
	UnavailableReply = "I'm sorry, but I'm currently unable to process AI requests. Please check your API configuration."
	FailureReply     = "I'm sorry, but I encountered an error while processing your request."
)

// ErrEmptyResponse is returned by backends when the model produced no text.
var ErrEmptyResponse = errors.New("empty response from model")

// Backend is the text generation capability.
type Backend interface {
	// Generate answers a single prompt with no prior context.
	Generate(ctx context.Context, prompt string, cfg GenerationConfig) (string, error)
	// Chat answers prompt as the next user message after history.
	Chat(ctx context.Context, history []memory.Turn, prompt string, cfg GenerationConfig) (string, error)
}

// Classifier scores text sentiment, one entry per label.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]Sentiment, error)
}

// GenerationConfig is fixed when the Generator is built.
type GenerationConfig struct {
	ModelName       string
	Temperature     float32
	MaxOutputTokens int32
}

type Reply struct {
	Text string
	Kind ErrorKind
	Err  error
}

func (r Reply) OK() bool {
	return r.Kind == KindNone
}

type Options struct {
	Config GenerationConfig
	// Backend and Classifier are nil when they failed to initialise; the
	// matching capability then stays in degraded mode.
	Backend    Backend
	Classifier Classifier
	// Timeout bounds a single generation call. Zero disables it.
	Timeout time.Duration
	Logger  *log.Logger
}

// Generator is safe for concurrent use: Generate reads only immutable state.
type Generator struct {
	cfg        GenerationConfig
	backend    Backend
	classifier Classifier
	timeout    time.Duration
	logger     *log.Logger
}

func New(opt Options) *Generator {
	logger := opt.Logger
	if logger == nil {
		logger = log.Default()
	}

	g := &Generator{
		cfg:        opt.Config,
		backend:    opt.Backend,
		classifier: opt.Classifier,
		timeout:    opt.Timeout,
		logger:     logger,
	}

	if g.backend == nil {
		logger.Error("AI generation unavailable, running degraded")
	} else {
		logger.Info("AI generation ready", "model", g.cfg.ModelName)
	}
	if g.classifier == nil {
		logger.Warn("Sentiment analysis unavailable")
	}

	return g
}

func (g *Generator) Config() GenerationConfig {
	return g.cfg
}

func (g *Generator) Available() bool {
	return g.backend != nil
}

func (g *Generator) SentimentAvailable() bool {
	return g.classifier != nil
}

// Generate returns the reply text for prompt. It never fails: degraded and
// error paths yield UnavailableReply or FailureReply.
func (g *Generator) Generate(ctx context.Context, prompt string, history []memory.Turn) string {
	return g.Respond(ctx, prompt, history).Text
}

// Respond is Generate with the failure kind kept.
func (g *Generator) Respond(ctx context.Context, prompt string, history []memory.Turn) Reply {
	if g.backend == nil {
		return Reply{Text: UnavailableReply, Kind: KindUnavailable}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()

	var (
		text string
		err  error
		mode = "single"
	)
	if len(history) > 0 {
		mode = "chat"
		text, err = g.backend.Chat(ctx, history, prompt, g.cfg)
	} else {
		text, err = g.backend.Generate(ctx, prompt, g.cfg)
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		kind := classify(ctx, err)
		g.logger.Error("Failed to generate AI response",
			"mode", mode,
			"kind", kind,
			"history", len(history),
			"elapsed", time.Since(start),
			"err", err,
		)
		return Reply{Text: FailureReply, Kind: kind, Err: err}
	}

	g.logger.Debug("Generated AI response", "mode", mode, "history", len(history), "elapsed", time.Since(start))
	return Reply{Text: text, Kind: KindNone}
}

// FormatResponse trims surrounding whitespace. It is idempotent.
func FormatResponse(text string) string {
	return strings.TrimSpace(text)
}
