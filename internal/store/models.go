package store

import "time"

const (
	SenderUser  = "user"
	SenderModel = "model"
)

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type Chat struct {
	ID        string    `json:"id"` // Using UUID for external ID
	UserID    int64     `json:"-"`
	Title     *string   `json:"title"` // Nullable until the background title job runs
	CreatedAt time.Time `json:"created_at"`
}

// Message is one turn of a chat transcript. Turns are append-only and
// ordered by TurnIndex.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	TurnIndex int       `json:"turn_index"`
	Sender    string    `json:"sender"` // "user" or "model"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type JournalEntry struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"-"`
	Content    string    `json:"content"`
	AIFeedback *string   `json:"ai_feedback"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
