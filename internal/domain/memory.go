package domain

import (
	"context"
	"time"
)

// Conversation groups the message history of one chat.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageRecord is one persisted conversation message.
type MessageRecord struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // user | assistant
	SenderName     string    `json:"sender_name,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MemoryEntry is one long-term memory.
type MemoryEntry struct {
	ID         int64      `json:"id"`
	ChannelID  string     `json:"channel_id"`
	Category   string     `json:"category"` // fact | preference | summary | instruction
	Content    string     `json:"content"`
	Source     string     `json:"source"` // conversation ID that generated this
	Importance int        `json:"importance"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// ScoredMemory is a memory with its relevance score for a query, in [0,1].
type ScoredMemory struct {
	Entry MemoryEntry `json:"entry"`
	Score float64     `json:"score"`
}

// MemoryStore handles persistent storage of conversations, messages and
// long-term memories.
type MemoryStore interface {
	GetOrCreateConversation(ctx context.Context, channel, chatID string) (string, error)
	AddMessage(ctx context.Context, convID string, msg MessageRecord) error
	GetHistory(ctx context.Context, convID string, limit int) ([]MessageRecord, error)

	SaveMemory(ctx context.Context, mem MemoryEntry) error
	// RelevantMemories returns the topK memories for the channel scored for
	// relevance against the query, highest score first.
	RelevantMemories(ctx context.Context, channelID, query string, topK int) ([]ScoredMemory, error)

	Close() error
}
