package models

// Turn represents a single message in a conversation, tagged with the role of
// its speaker. Once a turn is appended to a transcript it is never mutated;
// the in-progress assistant reply lives outside the transcript until the
// stream for that turn settles.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role represents the role of a conversation participant.
type Role string

const (
	// RoleUser represents a message typed by the person using the chat.
	RoleUser Role = "user"
	// RoleAssistant represents a reply produced by the language model.
	RoleAssistant Role = "assistant"
	// RoleSystem represents the fixed instruction prepended to every
	// upstream call. It never appears in a client transcript.
	RoleSystem Role = "system"
)

// ChatRequest is the body of POST /api/chat. History carries the caller's
// transcript in conversational order, with the newest user turn last.
type ChatRequest struct {
	History []Turn `json:"history"`
}
