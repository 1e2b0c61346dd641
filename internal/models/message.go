package models

import "time"

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// MessageDescriptor is returned after a message has been persisted.
type MessageDescriptor struct {
	MessageID   string      `json:"message_id"`
	Username    string      `json:"username"`
	SessionID   string      `json:"session_id"`
	FilePath    string      `json:"file_path"`
	Timestamp   string      `json:"timestamp"`
	MessageType MessageType `json:"message_type"`
}

// HistoryMessage is one entry of a session history. Text content is inlined,
// images are referenced by path.
type HistoryMessage struct {
	Type      MessageType `json:"type"`
	File      string      `json:"file"`
	Content   *string     `json:"content,omitempty"`
	Path      string      `json:"path,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
