package service

import (
	"context"
	"sort"
	"sync"
	"time"

	commonlog "rtc_server/server/common/log"
	"rtc_server/server/realtime/domain"
)

// ConversationDirectory resolves conversation participants from the store
// service. Used for room-join validation and fan-out recipient resolution.
type ConversationDirectory interface {
	FindConversationParticipants(ctx context.Context, conversationID string) (domain.ConversationInfo, error)
}

// PresenceRecorder persists presence flips and last-seen timestamps. It is
// invoked off the realtime path and must absorb its own failures.
type PresenceRecorder interface {
	RecordOnline(ctx context.Context, userID string, online bool, at time.Time)
}

// NotificationPublisher hands message notifications to the offline push
// pipeline.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, recipientID string, event domain.Envelope) error
}

const defaultCallDurationLimit = 10 * time.Minute

type CoordinatorConfig struct {
	CallDurationLimit time.Duration
}

// Coordinator is the single in-process authority over connections, room
// membership and call sessions. All mutation goes through its methods; the
// maps are guarded by one mutex so every transition is atomic.
type Coordinator struct {
	mu      lockedState
	callGen uint64

	directory  ConversationDirectory
	presence   PresenceRecorder
	notifier   NotificationPublisher
	media      *MediaTokens
	callLimit  time.Duration
	presenceCh chan presenceFlip
	closeOnce  sync.Once
}

type presenceFlip struct {
	userID string
	online bool
	at     time.Time
}

func NewCoordinator(directory ConversationDirectory, presence PresenceRecorder, notifier NotificationPublisher, media *MediaTokens, cfg CoordinatorConfig) *Coordinator {
	limit := cfg.CallDurationLimit
	if limit <= 0 {
		limit = defaultCallDurationLimit
	}
	coord := &Coordinator{
		mu: lockedState{
			conns: map[string]*Client{},
			users: map[string]map[string]*Client{},
			rooms: map[string]map[string]*Client{},
			calls: map[string]*callSession{},
		},
		directory:  directory,
		presence:   presence,
		notifier:   notifier,
		media:      media,
		callLimit:  limit,
		presenceCh: make(chan presenceFlip, 256),
	}
	if presence != nil {
		go coord.presenceLoop()
	}
	return coord
}

// Close stops the presence recorder loop. Safe to call more than once.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.presenceCh) })
}

// Register creates a connection entry with no owning user yet.
func (c *Coordinator) Register(connID string, peer Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.conns[connID] = newClient(connID, peer)
}

// Identify binds a user identity to a connection. Idempotent per
// connection; the first live connection for a user flips them online.
// Rebinding to another user detaches the old identity first, flipping it
// offline when this was its last connection.
func (c *Coordinator) Identify(connID, userID string) {
	c.mu.Lock()
	client, ok := c.mu.conns[connID]
	if !ok || userID == "" {
		c.mu.Unlock()
		return
	}
	if client.userID == userID {
		c.mu.Unlock()
		return
	}
	previousID := client.userID
	previousWentOffline := false
	if previousID != "" {
		c.detachFromUserLocked(client)
		if len(c.mu.users[previousID]) == 0 {
			previousWentOffline = true
			c.enqueuePresenceLocked(previousID, false)
		}
	}
	client.userID = userID
	wasOnline := len(c.mu.users[userID]) > 0
	if !wasOnline {
		c.mu.users[userID] = map[string]*Client{}
		c.enqueuePresenceLocked(userID, true)
	}
	c.mu.users[userID][connID] = client
	c.mu.Unlock()

	if previousWentOffline {
		commonlog.Infof("event=presence action=offline user_id=%s reason=rebind", previousID)
	}
	if !wasOnline {
		commonlog.Infof("event=presence action=online user_id=%s", userID)
	}
}

// Unregister removes a connection, prunes it from every room it joined,
// and, when it was the user's last connection, flips presence offline and
// tears down any call the user was part of.
func (c *Coordinator) Unregister(connID string) {
	c.mu.Lock()
	client, ok := c.mu.conns[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.mu.conns, connID)
	for roomID := range client.rooms {
		if members, ok := c.mu.rooms[roomID]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(c.mu.rooms, roomID)
			}
		}
	}

	userID := client.userID
	lastConnection := false
	if userID != "" {
		c.detachFromUserLocked(client)
		lastConnection = len(c.mu.users[userID]) == 0
	}

	var teardowns []callTeardown
	if lastConnection {
		teardowns = c.dropCallsForUserLocked(userID)
		c.enqueuePresenceLocked(userID, false)
	}
	c.mu.Unlock()

	_ = client.peer.Close()

	for _, td := range teardowns {
		td.dispatch()
	}
	if lastConnection {
		commonlog.Infof("event=presence action=offline user_id=%s", userID)
	}
}

// ConnectionsFor returns the user's current connection ids, sorted for
// deterministic output.
func (c *Coordinator) ConnectionsFor(userID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	conns := c.mu.users[userID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OnlineUsers returns every user id with at least one live connection.
func (c *Coordinator) OnlineUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.mu.users))
	for userID := range c.mu.users {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) detachFromUserLocked(client *Client) {
	conns, ok := c.mu.users[client.userID]
	if !ok {
		return
	}
	delete(conns, client.ID)
	if len(conns) == 0 {
		delete(c.mu.users, client.userID)
	}
}

// userClientsLocked snapshots the user's connections so writes can happen
// outside the coordinator lock.
func (c *Coordinator) userClientsLocked(userID string) []*Client {
	conns := c.mu.users[userID]
	out := make([]*Client, 0, len(conns))
	for _, client := range conns {
		out = append(out, client)
	}
	return out
}

// roomClientsLocked snapshots a room's member connections, optionally
// excluding one connection id.
func (c *Coordinator) roomClientsLocked(roomID, exceptConnID string) []*Client {
	members := c.mu.rooms[roomID]
	out := make([]*Client, 0, len(members))
	for id, client := range members {
		if id == exceptConnID {
			continue
		}
		out = append(out, client)
	}
	return out
}

// SendTo writes one event to a single connection through its write lock.
// Unknown connection ids are ignored.
func (c *Coordinator) SendTo(connID string, event domain.Envelope) {
	c.mu.Lock()
	client, ok := c.mu.conns[connID]
	c.mu.Unlock()
	if !ok {
		return
	}
	client.send(event)
}

func sendAll(targets []*Client, event domain.Envelope) {
	for _, client := range targets {
		client.send(event)
	}
}

// enqueuePresenceLocked hands a flip to the recorder loop. Enqueueing under
// the state lock keeps the persisted order identical to the transition
// order; a quick connect then disconnect must never leave a stale online
// record behind.
func (c *Coordinator) enqueuePresenceLocked(userID string, online bool) {
	if c.presence == nil {
		return
	}
	select {
	case c.presenceCh <- presenceFlip{userID: userID, online: online, at: time.Now().UTC()}:
	default:
		commonlog.Warnf("event=presence_persist status=dropped user_id=%s online=%t", userID, online)
	}
}

// presenceLoop drains flips one at a time so a slow store write cannot be
// overtaken by a later flip.
func (c *Coordinator) presenceLoop() {
	for flip := range c.presenceCh {
		c.presence.RecordOnline(context.Background(), flip.userID, flip.online, flip.at)
	}
}

// lockedState bundles the guarded maps with their mutex so any access
// pattern that skips the lock stands out.
type lockedState struct {
	sync.Mutex
	conns map[string]*Client
	users map[string]map[string]*Client
	rooms map[string]map[string]*Client
	calls map[string]*callSession
}
