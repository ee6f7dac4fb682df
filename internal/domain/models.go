// Package domain defines the persistence models for conversations, messages,
// and AI influencer profiles. These types are mapped with GORM and form the
// core data layer of the companion-chat backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message types accepted on the send-message endpoint.
const (
	MessageTypeText       = "text"
	MessageTypeImage      = "image"
	MessageTypeMultimodal = "multimodal"
	MessageTypeAudio      = "audio"
)

// Influencer availability states.
const (
	InfluencerActive       = "active"
	InfluencerDiscontinued = "discontinued"
)

// Influencer represents an AI persona users can chat with.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - DisplayName: public name shown in conversation lists and notifications.
//   - AvatarURL: storage key or absolute URL of the avatar image.
//   - SystemInstructions: base system prompt for the generation backend.
//   - Greeting: optional first assistant message for new conversations.
//   - IsNSFW: routes generation to the alternate backend when configured.
//   - Status: "active" or "discontinued"; discontinued influencers can no
//     longer receive messages.
type Influencer struct {
	ID                 string         `json:"id"           gorm:"type:char(36);primaryKey"`
	DisplayName        string         `json:"display_name" gorm:"type:varchar(128);not null"`
	AvatarURL          string         `json:"avatar_url"   gorm:"type:text"`
	SystemInstructions string         `json:"-"            gorm:"type:text;not null"`
	Greeting           string         `json:"-"            gorm:"type:text"`
	IsNSFW             bool           `json:"is_nsfw"      gorm:"not null;default:false"`
	Status             string         `json:"status"       gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','discontinued')"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Influencer.
func (Influencer) TableName() string { return "influencers" }

// Conversation represents a chat thread between one user and one influencer.
//
// Metadata carries loosely structured per-conversation state; the only key the
// backend itself maintains is "memories", a map of free-form facts the
// generation backend has extracted about the user.
type Conversation struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	UserID       string         `json:"user_id"       gorm:"type:varchar(64);not null;index:idx_user_convs"`
	InfluencerID string         `json:"influencer_id" gorm:"type:char(36);not null;index"`
	Metadata     JSONMap        `json:"metadata"      gorm:"type:text"`
	LastReadAt   *time.Time     `json:"last_read_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-"             gorm:"index"`

	// Influencer is the persona this thread talks to. Conversations are
	// cascade-deleted if the influencer row is hard-removed.
	Influencer Influencer `json:"-" gorm:"foreignKey:InfluencerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Memories returns the free-form memories map stored in Metadata, or an empty
// map when none have been recorded yet.
func (c *Conversation) Memories() map[string]string {
	out := map[string]string{}
	if c.Metadata == nil {
		return out
	}
	raw, ok := c.Metadata["memories"].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Message represents a single utterance within a conversation, authored either
// by the "user" or the "assistant".
//
// ClientMessageID is a caller-supplied idempotency token, unique per
// conversation; retried sends carrying the same value are deduplicated by the
// orchestrator instead of producing additional rows.
type Message struct {
	ID                   string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID       string         `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	Role                 string         `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content              string         `json:"content"         gorm:"type:text;not null"`
	MessageType          string         `json:"message_type"    gorm:"type:varchar(16);not null;default:'text';check:message_type IN ('text','image','multimodal','audio')"`
	MediaURLs            StringList     `json:"media_urls"      gorm:"type:text"`
	AudioURL             *string        `json:"audio_url,omitempty"     gorm:"type:text"`
	AudioDurationSeconds *float64       `json:"audio_duration_seconds,omitempty"`
	TokenCount           *int           `json:"token_count,omitempty"`
	ClientMessageID      *string        `json:"client_message_id,omitempty" gorm:"type:varchar(200);index"`
	IsRead               bool           `json:"is_read"         gorm:"not null;default:false"`
	CreatedAt            time.Time      `json:"created_at"      gorm:"index:idx_conv_msgs,priority:2"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `json:"-"               gorm:"index"`

	// Conversation is the parent thread. Messages are cascade-deleted if
	// their conversation is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
