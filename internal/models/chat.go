package models

import "time"

// ChatType distinguishes one-to-one chats from named groups.
type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Chat is stored in MongoDB, one document per chat. Participants is the
// durable membership list the fan-out audience mirrors.
type Chat struct {
	ID           string          `bson:"id" json:"id"`
	Type         ChatType        `bson:"chat_type" json:"chat_type"`
	Name         string          `bson:"name,omitempty" json:"name,omitempty"`
	CreatedBy    string          `bson:"created_by" json:"created_by"`
	Participants []string        `bson:"participants" json:"participants"`
	Admins       []string        `bson:"admins,omitempty" json:"admins,omitempty"`
	CreatedAt    time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `bson:"updated_at" json:"updated_at"`
	LastMessage  *MessagePreview `bson:"last_message,omitempty" json:"last_message,omitempty"`
}

// MessagePreview is the denormalized tail of a chat, updated on every send
// so a poll-based chat list reflects what the push path delivered.
type MessagePreview struct {
	MessageID string    `bson:"message_id" json:"message_id"`
	SenderID  string    `bson:"sender_id" json:"sender_id"`
	Content   string    `bson:"content" json:"content"`
	SentAt    time.Time `bson:"sent_at" json:"sent_at"`
}

// Message is stored in MongoDB in a flat collection, one document per
// message. Reactions maps emoji to the user ids that set it.
type Message struct {
	ID        string              `bson:"id" json:"id"`
	ChatID    string              `bson:"chat_id" json:"chat_id"`
	SenderID  string              `bson:"sender_id" json:"sender_id"`
	Content   string              `bson:"content" json:"content"`
	Type      MessageType         `bson:"message_type" json:"message_type"`
	ReplyTo   string              `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	Reactions map[string][]string `bson:"reactions,omitempty" json:"reactions,omitempty"`
	ReadBy    []string            `bson:"read_by,omitempty" json:"read_by,omitempty"`
	Edited    bool                `bson:"edited" json:"edited"`
	Deleted   bool                `bson:"deleted" json:"deleted"`
	CreatedAt time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time           `bson:"updated_at" json:"updated_at"`
}

// ChatSummary is a Chat plus the requesting user's unread count, as returned
// by the chat list endpoint.
type ChatSummary struct {
	Chat
	UnreadCount int `json:"unread_count"`
}
