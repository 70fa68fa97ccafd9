package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/mindcare-mx/mindcare-web/internal/models"
	"github.com/tmaxmax/go-sse"
)

// SystemPrompt is the fixed instruction prepended to every upstream call.
const SystemPrompt = `Eres MindCare, un asistente de apoyo emocional para jóvenes. Eres empático, claro y NO eres terapeuta.
- Valida emociones, ofrece psicoeducación ligera y sugiere hábitos saludables.
- Evita diagnósticos o tratamientos. No des consejos médicos/legales.
- Si surge riesgo (p. ej., ideas suicidas, autolesiones), responde de forma prioritaria,
  fomenta buscar ayuda humana inmediata y comparte recursos de crisis.
- Lenguaje: español de México, cálido y respetuoso.`

// User-facing texts written into the stream. The protocol has no error status
// channel once streaming begins, so every failure becomes one of these.
const (
	configErrorMsg = "Config error: falta credenciales de OpenAI o Azure en el servidor."

	crisisMsg = "Lamento que estés pasando por un momento tan duro. No estás solo/a.\n\n" +
		"Si corres riesgo inminente, llama a 911 o busca ayuda cercana.\n\n" +
		"En México, Línea de la Vida (24/7): 800 911 2000."

	hintBadKey    = "API key inválida o sin permisos."
	hintRateLimit = "Límite de uso alcanzado o billing pendiente."
	hintNetwork   = "Error de red al contactar el servicio."
	hintGeneric   = "Problema con el servicio."
)

// HandleChat relays one conversational turn to the configured language model
// and re-emits its token stream as `data: <json>` records terminated by a
// single `data: [DONE]` record.
//
// The request body carries the caller's full transcript; nothing is retained
// between calls. Identity is checked before any streaming byte is written,
// which is the only moment an error status can still be returned. After
// that, every failure is converted into a human-readable delta frame followed
// by the done sentinel, so the client always sees a well-formed stream on a
// 200 response. This covers missing credentials, flagged input, and provider
// or transport errors alike.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	logger := m.logger.With(slog.String("requestID", uuid.New().String()))

	if m.verifier != nil {
		token := bearerToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "No token provided")
			return
		}
		subject, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			logger.Warn("Rejected id token", slog.String(errLoggerKey, err.Error()))
			writeJSONError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		logger = logger.With(slog.String("subject", subject))
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")

	if m.llm == nil {
		m.writeDelta(w, configErrorMsg)
		m.writeDone(w)
		return
	}

	if len(req.History) == 0 {
		m.writeDone(w)
		return
	}

	flagged, err := m.moderator.Flagged(r.Context(), latestUserMessage(req.History))
	if err != nil {
		// The hook failing must not take the chat down with it.
		logger.Warn("Moderation check failed", slog.String(errLoggerKey, err.Error()))
		flagged = false
	}
	if flagged {
		m.writeDelta(w, crisisMsg)
		m.writeDone(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), m.llmTimeout)
	defer cancel()

	for fragment, err := range m.llm.Chat(ctx, req.History) {
		if err != nil {
			logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
			m.writeDelta(w, "Lo siento, "+upstreamHint(err))
			m.writeDone(w)
			return
		}
		if err := m.writeDelta(w, fragment); err != nil {
			// The browser went away; abandon the provider stream.
			logger.Debug("Client disconnected mid-stream")
			return
		}
	}

	m.writeDone(w)
}

// latestUserMessage returns the content of the newest user turn, which is
// what the moderation hook inspects.
func latestUserMessage(history []models.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func upstreamHint(err error) string {
	switch {
	case errors.Is(err, models.ErrUpstreamAuth):
		return hintBadKey
	case errors.Is(err, models.ErrUpstreamRateLimited):
		return hintRateLimit
	case errors.Is(err, models.ErrUpstreamNetwork):
		return hintNetwork
	}
	return hintGeneric
}

func (m Main) writeDelta(w http.ResponseWriter, text string) error {
	payload, err := json.Marshal(models.Frame{Delta: text})
	if err != nil {
		return err
	}
	return writeRecord(w, string(payload))
}

func (m Main) writeDone(w http.ResponseWriter) {
	if err := writeRecord(w, models.DoneSentinel); err != nil {
		m.logger.Debug("Failed to write done record", slog.String(errLoggerKey, err.Error()))
	}
}

// writeRecord emits one `data: <payload>` record followed by the blank-line
// delimiter, flushing so each frame reaches the client immediately.
func writeRecord(w http.ResponseWriter, payload string) error {
	msg := sse.Message{}
	msg.AppendData(payload)
	if _, err := msg.WriteTo(w); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func writeJSONError(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": text})
}
