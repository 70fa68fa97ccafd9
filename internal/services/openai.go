package services

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/url"
	"slices"

	"github.com/mindcare-mx/mindcare-web/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the LLM interface backed by the OpenAI
// chat completion API, or by an Azure OpenAI deployment when constructed with
// NewAzureOpenAI. Both routes share the same wire behaviour, so the relay
// never needs to know which one is active.
type OpenAI struct {
	model        string
	systemPrompt string

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates an OpenAI instance talking to the official API with the
// specified key, model name, and system prompt.
func NewOpenAI(apiKey, model, systemPrompt string, logger *slog.Logger) OpenAI {
	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		client:       goopenai.NewClient(apiKey),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

// NewAzureOpenAI creates an OpenAI instance routed to an Azure endpoint. The
// deployment name doubles as the model identifier on Azure.
func NewAzureOpenAI(apiKey, endpoint, deployment, systemPrompt string, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultAzureConfig(apiKey, endpoint)
	cfg.AzureModelMapperFunc = func(string) string {
		return deployment
	}

	return OpenAI{
		model:        deployment,
		systemPrompt: systemPrompt,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "azure-openai")),
	}
}

func openAIMessages(systemPrompt string, turns []models.Turn) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(turns)+1)
	for _, turn := range turns {
		// Role and content are copied verbatim; the relay contract
		// forbids rewriting the caller's history.
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	return slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
		Role:    string(models.RoleSystem),
		Content: systemPrompt,
	})
}

// Chat streams a completion for the given turns, prepending the configured
// system prompt. The returned iterator yields each non-empty content fragment
// exactly as received, in arrival order, or a single categorised error.
func (o OpenAI) Chat(ctx context.Context, turns []models.Turn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		req := goopenai.ChatCompletionRequest{
			Model:       o.model,
			Messages:    openAIMessages(o.systemPrompt, turns),
			Stream:      true,
			Temperature: 0.7,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield("", wrapUpstreamErr(err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", wrapUpstreamErr(err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			delta := response.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

// wrapUpstreamErr tags a provider error with the failure category the relay
// uses to pick a user-facing hint.
func wrapUpstreamErr(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return errors.Join(models.ErrUpstreamAuth, err)
		case 429:
			return errors.Join(models.ErrUpstreamRateLimited, err)
		}
	}

	var uerr *url.Error
	if errors.As(err, &uerr) {
		return errors.Join(models.ErrUpstreamNetwork, err)
	}

	return err
}
