package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	// RoleHuman marks messages sent by the client.
	RoleHuman Role = "human"
	// RoleAssistant marks replies produced by the assistant.
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single entry in a session's chat history.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
