package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindcare-mx/mindcare-web/internal/client"
	"github.com/mindcare-mx/mindcare-web/internal/models"
)

const testToken = "test-token"

// streamServer returns a relay stub that writes the given raw records as a
// chat stream, capturing the request history it received.
func streamServer(t *testing.T, records []string) (*httptest.Server, *atomic.Int32, *[]models.Turn) {
	t.Helper()

	var calls atomic.Int32
	var gotHistory []models.Turn

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))

		var req models.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotHistory = req.History

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		flusher := w.(http.Flusher)
		for _, rec := range records {
			_, _ = fmt.Fprint(w, rec)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)

	return srv, &calls, &gotHistory
}

func deltaRecord(t *testing.T, text string) string {
	t.Helper()
	payload, err := json.Marshal(models.Frame{Delta: text})
	require.NoError(t, err)
	return "data: " + string(payload) + "\n\n"
}

func newConversation(url string, opts ...client.Option) *client.Conversation {
	opts = append([]client.Option{client.WithTokenSource(client.StaticToken(testToken))}, opts...)
	return client.New(url+"/api/chat", opts...)
}

func TestSubmitScenario(t *testing.T) {
	srv, _, gotHistory := streamServer(t, []string{
		deltaRecord(t, "Hola"),
		deltaRecord(t, ", ¿cómo estás?"),
		"data: [DONE]\n\n",
	})

	c := newConversation(srv.URL)
	id, err := c.Submit(context.Background(), "Hola")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	require.Equal(t, []models.Turn{
		{Role: models.RoleUser, Content: "Hola"},
	}, *gotHistory, "request must carry the transcript with the new user turn appended")

	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Content: "Hola"},
		{Role: models.RoleAssistant, Content: "Hola, ¿cómo estás?"},
	}, c.Transcript())
}

func TestSubmitReconstructsRandomSplits(t *testing.T) {
	const full = "Hola, ¿cómo estás? Estoy aquí para escucharte. Todo va a estar bien."

	rng := rand.New(rand.NewSource(42))
	runes := []rune(full)

	for i := 0; i < 25; i++ {
		var records []string
		start := 0
		for start < len(runes) {
			n := 1 + rng.Intn(len(runes)-start)
			records = append(records, deltaRecord(t, string(runes[start:start+n])))
			start += n
		}
		records = append(records, "data: [DONE]\n\n")

		srv, _, _ := streamServer(t, records)
		c := newConversation(srv.URL)

		_, err := c.Submit(context.Background(), "hola")
		require.NoError(t, err)

		transcript := c.Transcript()
		require.Len(t, transcript, 2)
		assert.Equal(t, full, transcript[1].Content,
			"reconstruction must not depend on how the text was split")
	}
}

func TestSubmitReplyStartingWithEllipsis(t *testing.T) {
	// The accumulated text passes through "..." here, which must not be
	// confused with the pending placeholder: clearing the placeholder may
	// happen exactly once, on the first delta.
	srv, _, _ := streamServer(t, []string{
		deltaRecord(t, "."),
		deltaRecord(t, ".."),
		deltaRecord(t, " hola"),
		"data: [DONE]\n\n",
	})
	c := newConversation(srv.URL)

	_, err := c.Submit(context.Background(), "hola")
	require.NoError(t, err)

	transcript := c.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "... hola", transcript[1].Content,
		"deltas must concatenate exactly, whatever the split points")
}

func TestSubmitSkipsMalformedRecords(t *testing.T) {
	records := []string{
		deltaRecord(t, "Hola"),
		"data: {this is not json}\n\n",
		": keep-alive\n\n",
		"event: ping\ndata: \n\n",
		deltaRecord(t, ", ¿cómo estás?"),
		"data: 12345\n\n",
		"data: [DONE]\n\n",
	}
	srv, _, _ := streamServer(t, records)
	c := newConversation(srv.URL)

	_, err := c.Submit(context.Background(), "hola")
	require.NoError(t, err)

	transcript := c.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "Hola, ¿cómo estás?", transcript[1].Content,
		"malformed records must not change the reconstructed text")
}

func TestSubmitStopsAccumulatingAfterDone(t *testing.T) {
	records := []string{
		deltaRecord(t, "Hola"),
		"data: [DONE]\n\n",
		deltaRecord(t, " esto sobra"),
	}
	srv, _, _ := streamServer(t, records)
	c := newConversation(srv.URL)

	_, err := c.Submit(context.Background(), "hola")
	require.NoError(t, err)

	assert.Equal(t, "Hola", c.Transcript()[1].Content)
}

func TestSubmitStreamEndWithoutDone(t *testing.T) {
	srv, _, _ := streamServer(t, []string{
		deltaRecord(t, "Hola"),
	})
	c := newConversation(srv.URL)

	_, err := c.Submit(context.Background(), "hola")
	require.NoError(t, err)

	assert.Equal(t, "Hola", c.Transcript()[1].Content,
		"a completed body without the sentinel is not an error")
}

func TestSubmitEmptyInput(t *testing.T) {
	srv, calls, _ := streamServer(t, []string{"data: [DONE]\n\n"})
	c := newConversation(srv.URL)

	for _, input := range []string{"", "   ", "\n\t "} {
		id, err := c.Submit(context.Background(), input)
		require.NoError(t, err)
		assert.Zero(t, id)
	}

	assert.Empty(t, c.Transcript(), "empty input must not change the transcript")
	assert.Zero(t, calls.Load(), "empty input must not reach the network")
}

func TestSubmitSignedOut(t *testing.T) {
	srv, calls, _ := streamServer(t, []string{"data: [DONE]\n\n"})

	c := client.New(srv.URL+"/api/chat",
		client.WithTokenSource(client.StaticToken("")))

	_, err := c.Submit(context.Background(), "hola")
	require.NoError(t, err)

	assert.Zero(t, calls.Load(), "signed-out submissions must not reach the network")
	transcript := c.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "Necesitas iniciar sesión para usar el chatbot.", transcript[1].Content)
}

func TestSubmitErrorFrame(t *testing.T) {
	payload, err := json.Marshal(models.Frame{Error: true})
	require.NoError(t, err)

	srv, _, _ := streamServer(t, []string{
		deltaRecord(t, "Ho"),
		"data: " + string(payload) + "\n\n",
		deltaRecord(t, "la"),
		"data: [DONE]\n\n",
	})
	c := newConversation(srv.URL)

	_, err = c.Submit(context.Background(), "hola")
	require.NoError(t, err)

	assert.Equal(t, "Lo siento, hubo un problema con el servicio.", c.Transcript()[1].Content,
		"an error frame replaces the accumulator and stops accumulation")
}

func TestSubmitBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := newConversation(srv.URL)
	_, err := c.Submit(context.Background(), "hola")
	require.NoError(t, err)

	assert.Equal(t, "Lo siento, hubo un problema. Intenta de nuevo.", c.Transcript()[1].Content)
}

func TestSubmitConnectionFailure(t *testing.T) {
	// A server that is immediately closed leaves a port nothing listens on.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newConversation(url)
	_, err := c.Submit(context.Background(), "hola")
	require.NoError(t, err)

	assert.Equal(t, "Lo siento, hubo un problema de conexión.", c.Transcript()[1].Content)
}

func TestSubmitRejectsConcurrentTurn(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprint(w, "data: {\"delta\":\"Hola\"}\n\n")
		flusher.Flush()
		<-release
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	c := newConversation(srv.URL)

	firstDone := make(chan uint64, 1)
	go func() {
		id, err := c.Submit(context.Background(), "hola")
		assert.NoError(t, err)
		firstDone <- id
	}()

	require.Eventually(t, c.Busy, time.Second, 5*time.Millisecond,
		"first turn should be in flight")

	_, err := c.Submit(context.Background(), "otra")
	assert.ErrorIs(t, err, client.ErrTurnInFlight)

	close(release)

	select {
	case id := <-firstDone:
		assert.Equal(t, uint64(1), id)
	case <-time.After(2 * time.Second):
		t.Fatal("first turn did not settle")
	}

	// With the slot free again, the next turn gets the next monotonic id.
	id, err := c.Submit(context.Background(), "sigo aquí")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)
}

func TestUpdateCallback(t *testing.T) {
	srv, _, _ := streamServer(t, []string{
		deltaRecord(t, "Ho"),
		deltaRecord(t, "la"),
		"data: [DONE]\n\n",
	})

	var updates []string
	var pendings []bool
	c := newConversation(srv.URL, client.WithUpdateFunc(func(_ uint64, text string, pending bool) {
		updates = append(updates, text)
		pendings = append(pendings, pending)
	}))

	_, err := c.Submit(context.Background(), "hola")
	require.NoError(t, err)

	require.Equal(t, []string{"...", "Ho", "Hola", "Hola"}, updates)
	assert.Equal(t, []bool{true, false, false, false}, pendings,
		"the pending marker clears when the first real text arrives")
}
