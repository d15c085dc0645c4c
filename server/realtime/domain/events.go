package domain

import "encoding/json"

type EventType string

// Inbound events arrive on the websocket; outbound events are written back.
// Dispatch is a single switch over this closed set.
const (
	EventSetup      EventType = "setup"
	EventJoinRoom   EventType = "join-room"
	EventLeaveRoom  EventType = "leave-room"
	EventTyping     EventType = "typing"
	EventStopTyping EventType = "stop-typing"

	EventUserReady           EventType = "user-ready"
	EventLiveMessage         EventType = "live-message"
	EventMessageNotification EventType = "message-notification"
	EventMessageDeleted      EventType = "message-deleted"

	EventCallInvite  EventType = "call-invite"
	EventCallAccept  EventType = "call-accept"
	EventCallDecline EventType = "call-decline"
	EventCallEnd     EventType = "call-end"

	EventError EventType = "error"
)

// Terminal call reasons carried on call-decline / call-end.
const (
	CallReasonManual    = "manual"
	CallReasonOffline   = "offline"
	CallReasonTimeLimit = "time-limit"
)

// Envelope is the single wire frame for every realtime event. Fields not
// meaningful for a given event type are omitted.
type Envelope struct {
	Type      EventType       `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	TargetID  string          `json:"target_id,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	CallKind  string          `json:"call_kind,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Token     *MediaToken     `json:"token,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}
