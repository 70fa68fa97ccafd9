package handlers

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	OK       bool   `json:"ok"`
	Provider string `json:"provider"`
	HasKey   bool   `json:"hasKey"`
	Model    string `json:"model"`
}

// HandleHealth reports whether a provider credential is configured and which
// model the relay would use. It has no side effects.
func (m Main) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		OK:       true,
		Provider: m.provider,
		HasKey:   m.llm != nil,
		Model:    m.model,
	})
}
