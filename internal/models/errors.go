package models

import "errors"

// Category errors for failures raised by a provider during a streaming call.
// Providers wrap the underlying error with one of these so the relay can pick
// a user-facing hint without knowing provider internals.
var (
	// ErrUpstreamAuth marks a credential rejected by the provider.
	ErrUpstreamAuth = errors.New("upstream rejected credentials")
	// ErrUpstreamRateLimited marks a rate or billing limit response.
	ErrUpstreamRateLimited = errors.New("upstream rate or billing limit")
	// ErrUpstreamNetwork marks a transport failure reaching the provider.
	ErrUpstreamNetwork = errors.New("upstream network failure")
)
