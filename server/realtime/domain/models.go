package domain

import (
	"encoding/json"
	"time"
)

// ConversationInfo is the store service's answer to a participant lookup.
type ConversationInfo struct {
	ParticipantIDs []string `json:"participant_ids"`
	IsGroup        bool     `json:"is_group"`
}

// DeliverInput is posted by the message service after a message has been
// persisted; the payload is the persisted record, relayed opaquely.
type DeliverInput struct {
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	Message        json.RawMessage `json:"message"`
}

// DeleteInput mirrors DeliverInput for message deletion broadcasts. The
// message service has already decided who the deletion applies to; this
// layer only relays the outcome to the conversation room.
type DeleteInput struct {
	ConversationID  string   `json:"conversation_id"`
	MessageID       string   `json:"message_id"`
	AffectedUserIDs []string `json:"affected_user_ids,omitempty"`
}

// MediaToken is a time-boxed join credential for the external media network.
type MediaToken struct {
	AppID     string    `json:"media_app_id"`
	Token     string    `json:"token"`
	Channel   string    `json:"channel"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CallState string

const (
	CallRinging CallState = "ringing"
	CallActive  CallState = "active"
)
