package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind enumerates the push event catalogue exposed to clients.
type Kind string

const (
	KindNewMessage            Kind = "new_message"
	KindMessageUpdated        Kind = "message_updated"
	KindMessageDeleted        Kind = "message_deleted"
	KindReactionChanged       Kind = "reaction_changed"
	KindTypingState           Kind = "typing_state"
	KindChatCreated           Kind = "chat_created"
	KindChatUpdated           Kind = "chat_updated"
	KindParticipantAdded      Kind = "participant_added"
	KindParticipantRemoved    Kind = "participant_removed"
	KindFriendRequestReceived Kind = "friend_request_received"
	KindFriendRequestResolved Kind = "friend_request_resolved"
)

var (
	// ErrNoTarget means an event carried neither a chat nor a user target.
	ErrNoTarget = errors.New("realtime: event has no target")
	// ErrSerialize means the payload could not be rendered to its wire form.
	// The underlying durable write is retained; callers surface this upward.
	ErrSerialize = errors.New("realtime: payload not serializable")
	// ErrConnClosed is returned for deliveries raced by a disconnect.
	ErrConnClosed = errors.New("realtime: connection closed")
	// ErrOutboxFull means a connection's reader stalled past the delivery
	// window. Counted as a delivery failure for that connection only.
	ErrOutboxFull = errors.New("realtime: connection outbox full")
)

// Event is one fan-out-worthy occurrence. ChatID targets the chat's current
// members, UserID targets one user on all of their connections; either or
// both may be set. SenderID exempts the author from unread accounting and
// DedupKey carries the id of the durable write behind the event so clients
// can collapse the live push with a poll of the same fact (empty for kinds
// with no durable backing, such as typing_state).
type Event struct {
	Kind     Kind
	ChatID   string
	UserID   string
	SenderID string
	DedupKey string
	SkipConn string // connection that must not receive the event (its own echo)
	Payload  interface{}
}

// envelope is the canonical wire form handed to the transport.
type envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	TS    string          `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

// Timestamp renders t in the canonical transport form: UTC RFC 3339 with
// nanoseconds. Every timestamp that crosses the wire goes through here.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// encode renders the event to its transport-safe canonical form. Payloads
// must marshal deterministically; a marshal failure aborts the publish so a
// half-serializable event is never handed to the transport.
func (e Event) encode(now time.Time) ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSerialize, e.Kind, err)
	}
	out, err := json.Marshal(envelope{
		Event: string(e.Kind),
		ID:    e.DedupKey,
		TS:    Timestamp(now),
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSerialize, e.Kind, err)
	}
	return out, nil
}
