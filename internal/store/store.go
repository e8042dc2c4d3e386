package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// DateLayout is the calendar-date key of usage records, always UTC.
const DateLayout = "2006-01-02"

type User struct {
	ID        string    `json:"id"`
	GoogleID  string    `json:"google_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (u *User) MarshalBinary() ([]byte, error) {
	return json.Marshal(u)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (u *User) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, u)
}

type Chat struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageRecord is one user's accumulated usage for one UTC calendar day.
// TotalTokens always equals InputTokens + OutputTokens.
type UsageRecord struct {
	UserID       string `json:"user_id"`
	Date         string `json:"date"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
	MessageCount int64  `json:"message_count"`
}

type Store interface {
	// UpsertUser creates or refreshes a user keyed by GoogleID and fills
	// in ID and timestamps.
	UpsertUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	CreateChat(ctx context.Context, userID, title string) (*Chat, error)
	// ListChats returns the user's chats, most recently updated first.
	ListChats(ctx context.Context, userID string) ([]*Chat, error)
	// GetChat returns ErrNotFound when the chat does not belong to userID.
	GetChat(ctx context.Context, chatID, userID string) (*Chat, error)
	DeleteChat(ctx context.Context, chatID, userID string) error

	// ListMessages returns every message of a chat in insertion order.
	ListMessages(ctx context.Context, chatID string) ([]*Message, error)
	// RecentMessages returns the newest limit messages, oldest first.
	RecentMessages(ctx context.Context, chatID string, limit int) ([]*Message, error)
	AddMessage(ctx context.Context, m *Message) error
	DeleteMessage(ctx context.Context, id string) error
	// CompleteTurn stores the assistant reply and bumps the chat's message
	// count by two. A non-empty title is applied only while the stored count
	// is still zero, so the first completed turn names the chat. All or
	// nothing.
	CompleteTurn(ctx context.Context, chatID string, reply *Message, title string) error

	// AddUsage atomically accumulates deltas into (userID, date) and
	// increments message_count, creating the record on first use.
	AddUsage(ctx context.Context, userID, date string, input, output int64) (*UsageRecord, error)
	GetUsage(ctx context.Context, userID, date string) (*UsageRecord, error)
	// ListUsage returns the user's records by ascending date.
	ListUsage(ctx context.Context, userID string) ([]*UsageRecord, error)

	Close() error
}
