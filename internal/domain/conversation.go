package domain

import "time"

// Conversation threads the messages of one chat session.
type Conversation struct {
	ID        string
	SessionID string
	CreatedAt time.Time
}

// Message is a single persisted conversation turn. Messages are append-only.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time
}
