package models

import "time"

// Session is a chat session directory owned by one username.
// CreatedAt and UpdatedAt are not tracked by the file layout and stay nil.
type Session struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	CreatedAt    *time.Time `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
	MessageCount int        `json:"message_count"`
}

// History is a session together with its messages in listing order.
type History struct {
	Session  Session          `json:"session"`
	Messages []HistoryMessage `json:"messages"`
}
