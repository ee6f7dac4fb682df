// Package ws implements the real-time inbox channel: a per-user connection
// registry with typed fan-out events, and the WebSocket transport handler
// that bridges registry events onto live client sessions.
package ws

import (
	"encoding/json"

	"github.com/companion-labs/go-companion-backend/internal/domain"
)

// Event is one member of the closed set of real-time event types. Each event
// serializes to the wire envelope {"event": <name>, "data": {...}}.
type Event interface {
	// EventName returns the wire tag for the envelope's "event" field.
	EventName() string
}

// Wire tags for the event envelope.
const (
	EventNewMessage       = "new_message"
	EventConversationRead = "conversation_read"
	EventTypingStatus     = "typing_status"
)

// InfluencerSummary is the compact influencer payload embedded in
// new_message events so clients can render the sender without a second fetch.
type InfluencerSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	IsOnline    bool   `json:"is_online"`
}

// NewMessageEvent announces a freshly persisted assistant message to the
// owner's other live sessions.
type NewMessageEvent struct {
	ConversationID string            `json:"conversation_id"`
	Message        *domain.Message   `json:"message"`
	Influencer     InfluencerSummary `json:"influencer"`
	UnreadCount    int64             `json:"unread_count"`
}

// EventName implements Event.
func (NewMessageEvent) EventName() string { return EventNewMessage }

// ConversationReadEvent tells other sessions that a conversation's unread
// count was reset.
type ConversationReadEvent struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int64  `json:"unread_count"`
	ReadAt         string `json:"read_at"`
}

// EventName implements Event.
func (ConversationReadEvent) EventName() string { return EventConversationRead }

// TypingStatusEvent toggles the "influencer is responding" indicator around a
// generation round trip.
type TypingStatusEvent struct {
	ConversationID string `json:"conversation_id"`
	InfluencerID   string `json:"influencer_id"`
	IsTyping       bool   `json:"is_typing"`
}

// EventName implements Event.
func (TypingStatusEvent) EventName() string { return EventTypingStatus }

// envelope is the wire shape shared by all events.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Marshal serializes an event into its wire envelope.
func Marshal(ev Event) ([]byte, error) {
	return json.Marshal(envelope{Event: ev.EventName(), Data: ev})
}
