// Package services defines the business logic for conversations and message
// delivery. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

// Conversation-related errors.
var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNotYourConversation is returned when a user addresses a conversation
	// owned by someone else.
	ErrNotYourConversation = errors.New("not your conversation")

	// ErrInfluencerNotFound indicates that the referenced influencer does not
	// exist.
	ErrInfluencerNotFound = errors.New("influencer not found")

	// ErrInfluencerDiscontinued is returned when sending to an influencer that
	// has been retired and can no longer receive messages.
	ErrInfluencerDiscontinued = errors.New("influencer has been discontinued")
)

// Send-message validation errors.
var (
	// ErrInvalidMessageType is returned when the message type is not one of
	// text, image, multimodal, or audio.
	ErrInvalidMessageType = errors.New("invalid message type")

	// ErrContentRequired is returned when a text message carries no content.
	ErrContentRequired = errors.New("content is required for text messages")

	// ErrMediaRequired is returned when an image or multimodal message carries
	// no media URLs.
	ErrMediaRequired = errors.New("media_urls is required for this message type")

	// ErrTooManyMedia is returned when a message exceeds the attachment cap.
	ErrTooManyMedia = errors.New("too many media URLs (max 10)")

	// ErrAudioRequired is returned when an audio message carries no audio URL.
	ErrAudioRequired = errors.New("audio_url is required for audio messages")
)
