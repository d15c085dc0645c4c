package service

import (
	"context"

	commonlog "rtc_server/server/common/log"
	"rtc_server/server/realtime/domain"
)

// JoinRoom admits a connection into a conversation room after validating the
// user against the conversation's participant list. Refusals are silent:
// callers must treat a join as best-effort. Membership is never mutated
// before validation succeeds, and the connection is re-checked for liveness
// after the store lookup returns because it may have closed in the meantime.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID, connID, userID string) {
	if roomID == "" || userID == "" {
		return
	}
	c.mu.Lock()
	client, ok := c.mu.conns[connID]
	if !ok || client.userID != userID {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	info, err := c.directory.FindConversationParticipants(ctx, roomID)
	if err != nil {
		commonlog.Debugf("event=room_join status=refused room_id=%s user_id=%s error=%v", roomID, userID, err)
		return
	}
	if !containsString(info.ParticipantIDs, userID) {
		commonlog.Debugf("event=room_join status=refused room_id=%s user_id=%s reason=not_participant", roomID, userID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	client, ok = c.mu.conns[connID]
	if !ok || client.userID != userID {
		return
	}
	members, ok := c.mu.rooms[roomID]
	if !ok {
		members = map[string]*Client{}
		c.mu.rooms[roomID] = members
	}
	members[connID] = client
	client.rooms[roomID] = struct{}{}
}

// LeaveRoom removes a connection from a room's member set. No-op if absent.
func (c *Coordinator) LeaveRoom(roomID, connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.mu.conns[connID]; ok {
		delete(client.rooms, roomID)
	}
	members, ok := c.mu.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(c.mu.rooms, roomID)
	}
}

// IsPresent reports whether at least one of the user's connections is a
// member of the room. This is the authority the fan-out path queries to
// pick between live delivery and a notification.
func (c *Coordinator) IsPresent(roomID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPresentLocked(roomID, userID)
}

func (c *Coordinator) isPresentLocked(roomID, userID string) bool {
	for _, client := range c.mu.rooms[roomID] {
		if client.userID == userID {
			return true
		}
	}
	return false
}

// Typing relays transient typing state to the room's present members,
// excluding the originating connection. Nothing is retained; a missed
// stop-typing is recovered by the receiving client's own inactivity timer.
func (c *Coordinator) Typing(roomID, connID, userID string, started bool) {
	eventType := domain.EventTyping
	if !started {
		eventType = domain.EventStopTyping
	}
	c.mu.Lock()
	targets := c.roomClientsLocked(roomID, connID)
	c.mu.Unlock()
	sendAll(targets, domain.Envelope{Type: eventType, RoomID: roomID, UserID: userID})
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
