package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/idtoken"
)

// GoogleVerifier validates Google-issued ID tokens against a configured
// audience (the OAuth client ID of the web app).
type GoogleVerifier struct {
	audience string
}

// NewGoogleVerifier creates a verifier for the given audience.
func NewGoogleVerifier(audience string) GoogleVerifier {
	return GoogleVerifier{audience: audience}
}

// Verify checks the token signature, expiry and audience, returning the
// subject claim on success.
func (g GoogleVerifier) Verify(ctx context.Context, token string) (string, error) {
	payload, err := idtoken.Validate(ctx, token, g.audience)
	if err != nil {
		return "", fmt.Errorf("invalid id token: %w", err)
	}
	return payload.Subject, nil
}

// bearerToken extracts the token from an Authorization header, or returns an
// empty string when the header is absent or malformed.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
