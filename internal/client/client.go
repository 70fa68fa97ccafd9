// Package client implements the conversation side of the chat protocol: it
// owns the transcript, submits turns to the streaming relay and reconstructs
// the assistant reply incrementally from the event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/mindcare-mx/mindcare-web/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Fallback texts shown instead of an assistant reply. The client never
// surfaces a raw failure; the worst outcome is one of these messages.
const (
	pendingMarker = "..."

	signInMsg            = "Necesitas iniciar sesión para usar el chatbot."
	requestProblemMsg    = "Lo siento, hubo un problema. Intenta de nuevo."
	serviceProblemMsg    = "Lo siento, hubo un problema con el servicio."
	connectionProblemMsg = "Lo siento, hubo un problema de conexión."
)

// ErrTurnInFlight is returned by Submit while a previous turn is still
// streaming. Turns share the transcript, so only one may run at a time.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// TokenSource supplies the identity token attached to each relay request. A
// source that returns an empty token marks the user as signed out.
type TokenSource interface {
	IDToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to the TokenSource interface.
type TokenSourceFunc func(ctx context.Context) (string, error)

// IDToken calls f.
func (f TokenSourceFunc) IDToken(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken returns a TokenSource that always yields the given token.
func StaticToken(token string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		return token, nil
	})
}

// UpdateFunc observes the text to display for an in-flight turn. It is called
// with the pending marker when the turn starts, with the accumulated text
// after every delta, and with the final text when the turn settles.
type UpdateFunc func(turnID uint64, text string, pending bool)

// Conversation owns one chat transcript and drives the request/response
// lifecycle of each turn against the relay endpoint.
type Conversation struct {
	endpoint string
	hc       *http.Client
	tokens   TokenSource
	onUpdate UpdateFunc
	logger   *slog.Logger

	mu         sync.Mutex
	transcript []models.Turn
	busy       bool
	turnSeq    uint64
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Conversation) { c.hc = hc }
}

// WithTokenSource sets the identity token source. Without one, every
// submission short-circuits to the sign-in-required message.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Conversation) { c.tokens = ts }
}

// WithUpdateFunc registers the display callback.
func WithUpdateFunc(fn UpdateFunc) Option {
	return func(c *Conversation) { c.onUpdate = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) { c.logger = logger.With(slog.String("module", "client")) }
}

// New creates a Conversation posting to the given relay endpoint, typically
// ending in /api/chat.
func New(endpoint string, opts ...Option) *Conversation {
	c := &Conversation{
		endpoint: endpoint,
		hc:       &http.Client{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcript returns a copy of the conversation so far.
func (c *Conversation) Transcript() []models.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Turn, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Busy reports whether a turn is currently in flight.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Submit sends one user turn to the relay and blocks until the reply stream
// settles. Whitespace-only input is a no-op. A submission made while another
// turn is in flight is rejected with ErrTurnInFlight.
//
// The user turn is appended to the transcript before the network call.
// Whatever text ends up displayed, the streamed reply or a fallback message,
// is appended as the assistant turn afterwards, so the next call carries both
// as prior context. The returned id increases monotonically across accepted
// submissions.
func (c *Conversation) Submit(ctx context.Context, text string) (uint64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return 0, ErrTurnInFlight
	}
	c.busy = true
	c.turnSeq++
	id := c.turnSeq
	c.transcript = append(c.transcript, models.Turn{Role: models.RoleUser, Content: text})
	history := make([]models.Turn, len(c.transcript))
	copy(history, c.transcript)
	c.mu.Unlock()

	c.update(id, pendingMarker, true)
	final := c.runTurn(ctx, id, history)
	c.update(id, final, false)

	c.mu.Lock()
	c.transcript = append(c.transcript, models.Turn{Role: models.RoleAssistant, Content: final})
	c.busy = false
	c.mu.Unlock()

	return id, nil
}

// runTurn performs the streaming call and returns the text to display when
// the turn settles. It never returns an error: failures map to the fixed
// fallback messages.
func (c *Conversation) runTurn(ctx context.Context, id uint64, history []models.Turn) string {
	if c.tokens == nil {
		return signInMsg
	}
	token, err := c.tokens.IDToken(ctx)
	if err != nil || token == "" {
		return signInMsg
	}

	body, err := json.Marshal(models.ChatRequest{History: history})
	if err != nil {
		return connectionProblemMsg
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return connectionProblemMsg
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.hc.Do(req)
	if err != nil {
		c.logger.Debug("Chat request failed", slog.String("err", err.Error()))
		return connectionProblemMsg
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return requestProblemMsg
	}

	display := pendingMarker
	pending := true

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			// The connection dropped mid-stream; a truncated reply
			// must not pass for a complete one.
			display = connectionProblemMsg
			break
		}
		if ev.Data == models.DoneSentinel {
			break
		}

		var frame models.Frame
		if err := json.Unmarshal([]byte(ev.Data), &frame); err != nil {
			// Keep-alives and malformed records are skipped; the
			// stream goes on.
			continue
		}
		if frame.Error {
			display = serviceProblemMsg
			break
		}
		if frame.Delta != "" {
			// The placeholder is dropped on the first delta. Tracked
			// with a flag rather than by comparing text, since the
			// accumulated reply may itself pass through "...".
			if pending {
				pending = false
				display = ""
			}
			display += frame.Delta
			c.update(id, display, false)
		}
	}

	// Drain whatever remains so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return display
}

func (c *Conversation) update(id uint64, text string, pending bool) {
	if c.onUpdate != nil {
		c.onUpdate(id, text, pending)
	}
}
