package handlers

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/mindcare-mx/mindcare-web/internal/models"
)

// LLM represents a large language model interface that provides streaming
// chat functionality. It accepts a context and the conversation turns,
// returning an iterator that yields response fragments and potential errors.
// Implementations prepend their configured system instruction themselves.
type LLM interface {
	Chat(ctx context.Context, turns []models.Turn) iter.Seq2[string, error]
}

// Moderator is the safety hook consulted with the latest user message before
// any upstream call is made.
type Moderator interface {
	Flagged(ctx context.Context, input string) (bool, error)
}

// TokenVerifier validates a bearer identity token and returns the subject it
// was issued to.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// PlaceSource looks up support centres around a geographic point.
type PlaceSource interface {
	Nearby(ctx context.Context, lat, lon float64, radius int) ([]models.Place, error)
}

// PlaceCache holds previous nearby-lookup results.
type PlaceCache interface {
	Get(ctx context.Context, key string) ([]models.Place, bool)
	Put(ctx context.Context, key string, places []models.Place) error
}

const defaultLLMTimeout = 2 * time.Minute

const errLoggerKey = "err"

// MainConfig carries the collaborators and settings for a Main handler set.
type MainConfig struct {
	// LLM may be nil when no usable provider credential is configured;
	// the chat endpoint then answers with a configuration-error frame.
	LLM LLM
	// Moderator defaults to a hook that never flags anything.
	Moderator Moderator
	// Verifier may be nil, which disables identity checks entirely. That
	// is intended for local development only.
	Verifier   TokenVerifier
	Places     PlaceSource
	PlaceCache PlaceCache

	// Provider and Model describe the active LLM route for /api/health.
	Provider string
	Model    string

	// LLMTimeout bounds each upstream streaming call. Zero selects the
	// default of two minutes.
	LLMTimeout time.Duration

	Logger *slog.Logger
}

// Main handles the HTTP endpoints of the chat service: the streaming relay,
// the health report and the nearby support-centre proxy.
type Main struct {
	llm        LLM
	moderator  Moderator
	verifier   TokenVerifier
	places     PlaceSource
	placeCache PlaceCache

	provider   string
	model      string
	llmTimeout time.Duration

	logger *slog.Logger
}

type noopModerator struct{}

func (noopModerator) Flagged(context.Context, string) (bool, error) { return false, nil }

// NewMain creates a Main instance from the given configuration, filling in
// defaults for optional collaborators.
func NewMain(cfg MainConfig) Main {
	moderator := cfg.Moderator
	if moderator == nil {
		moderator = noopModerator{}
	}
	timeout := cfg.LLMTimeout
	if timeout == 0 {
		timeout = defaultLLMTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return Main{
		llm:        cfg.LLM,
		moderator:  moderator,
		verifier:   cfg.Verifier,
		places:     cfg.Places,
		placeCache: cfg.PlaceCache,
		provider:   cfg.Provider,
		model:      cfg.Model,
		llmTimeout: timeout,
		logger:     logger.With(slog.String("module", "handlers")),
	}
}
