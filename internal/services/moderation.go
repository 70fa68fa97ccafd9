package services

import (
	"context"
	"fmt"
	"log/slog"

	goopenai "github.com/sashabaranov/go-openai"
)

// NoopModerator implements the moderation hook without ever flagging
// anything. It is the default: switching moderation on only changes which
// branch the relay takes, never the response shape.
type NoopModerator struct{}

// Flagged always reports the input as clean.
func (NoopModerator) Flagged(context.Context, string) (bool, error) {
	return false, nil
}

// OpenAIModerator checks user input against the OpenAI moderation endpoint
// before a turn is forwarded to the language model.
type OpenAIModerator struct {
	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAIModerator creates a moderator using the given API key.
func NewOpenAIModerator(apiKey string, logger *slog.Logger) OpenAIModerator {
	return OpenAIModerator{
		client: goopenai.NewClient(apiKey),
		logger: logger.With(slog.String("module", "moderation")),
	}
}

// Flagged reports whether the moderation endpoint flags the input.
func (m OpenAIModerator) Flagged(ctx context.Context, input string) (bool, error) {
	if input == "" {
		return false, nil
	}

	res, err := m.client.Moderations(ctx, goopenai.ModerationRequest{
		Input: input,
	})
	if err != nil {
		return false, fmt.Errorf("moderation request failed: %w", err)
	}

	for _, r := range res.Results {
		if r.Flagged {
			m.logger.Info("Input flagged by moderation")
			return true, nil
		}
	}
	return false, nil
}
