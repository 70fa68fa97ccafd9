package services

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/url"
	"slices"

	"github.com/mindcare-mx/mindcare-web/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the LLM interface for a self-hosted
// Ollama server. It needs no credential, which makes it the provider of
// choice for local development and keyless deployments.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL and
// model name. The host parameter must be a valid URL pointing to an Ollama
// server; an invalid URL panics, as it is a deployment mistake.
func NewOllama(host, model, systemPrompt string) Ollama {
	u, err := url.Parse(host)
	if err != nil {
		panic(err)
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
	}
}

// Chat implements the LLM interface by streaming responses from the Ollama
// model. Turn roles and contents are forwarded verbatim, with the configured
// system prompt prepended.
func (o Ollama) Chat(ctx context.Context, turns []models.Turn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]api.Message, len(turns))
		for i, turn := range turns {
			msgs[i] = api.Message{
				Role:    string(turn.Role),
				Content: turn.Content,
			}
		}
		msgs = slices.Insert(msgs, 0, api.Message{
			Role:    string(models.RoleSystem),
			Content: o.systemPrompt,
		})

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				cancel()
			}
			return nil
		}); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", wrapUpstreamErr(err))
		}
	}
}
