package service

import (
	"context"
	"errors"

	commonlog "rtc_server/server/common/log"
	"rtc_server/server/realtime/domain"
)

// Deliver fans out a message the store has already persisted. Recipients
// present in the conversation room are covered by a single room broadcast;
// every recipient with zero present connections additionally gets a
// message-notification on their personal channel so other tabs and devices
// learn of it. Delivery is at-most-once and unacknowledged.
func (c *Coordinator) Deliver(ctx context.Context, in domain.DeliverInput) error {
	if in.ConversationID == "" || in.SenderID == "" {
		return errors.New("conversation_id and sender_id are required")
	}
	info, err := c.directory.FindConversationParticipants(ctx, in.ConversationID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	roomTargets := c.roomClientsLocked(in.ConversationID, "")
	var absent []string
	for _, recipientID := range info.ParticipantIDs {
		if recipientID == in.SenderID {
			continue
		}
		if !c.isPresentLocked(in.ConversationID, recipientID) {
			absent = append(absent, recipientID)
		}
	}
	absentTargets := make(map[string][]*Client, len(absent))
	for _, recipientID := range absent {
		absentTargets[recipientID] = c.userClientsLocked(recipientID)
	}
	c.mu.Unlock()

	if len(roomTargets) > 0 {
		sendAll(roomTargets, domain.Envelope{
			Type:    domain.EventLiveMessage,
			RoomID:  in.ConversationID,
			UserID:  in.SenderID,
			Payload: in.Message,
		})
	}

	for _, recipientID := range absent {
		event := domain.Envelope{
			Type:     domain.EventMessageNotification,
			RoomID:   in.ConversationID,
			UserID:   in.SenderID,
			TargetID: recipientID,
			Payload:  in.Message,
		}
		sendAll(absentTargets[recipientID], event)
		if c.notifier != nil {
			if err := c.notifier.PublishNotification(ctx, recipientID, event); err != nil {
				commonlog.Warnf("event=notify_publish status=failed recipient_id=%s room_id=%s error=%v", recipientID, in.ConversationID, err)
			}
		}
	}
	return nil
}

// DeliverDeletion broadcasts an already-decided message deletion to the
// conversation room. This layer does not decide who the deletion applies
// to; it only relays the outcome.
func (c *Coordinator) DeliverDeletion(in domain.DeleteInput) error {
	if in.ConversationID == "" || in.MessageID == "" {
		return errors.New("conversation_id and message_id are required")
	}
	c.mu.Lock()
	targets := c.roomClientsLocked(in.ConversationID, "")
	c.mu.Unlock()
	sendAll(targets, domain.Envelope{
		Type:      domain.EventMessageDeleted,
		RoomID:    in.ConversationID,
		MessageID: in.MessageID,
	})
	return nil
}
