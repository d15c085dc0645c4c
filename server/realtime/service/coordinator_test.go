package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rtc_server/server/realtime/domain"
)

type fakePeer struct {
	mu     sync.Mutex
	events []domain.Envelope
	closed bool
}

func (p *fakePeer) WriteJSON(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event, ok := v.(domain.Envelope); ok {
		p.events = append(p.events, event)
	}
	return nil
}

func (p *fakePeer) SetWriteDeadline(time.Time) error { return nil }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) eventsOfType(t domain.EventType) []domain.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Envelope
	for _, event := range p.events {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}

type fakeDirectory struct {
	mu            sync.Mutex
	conversations map[string]domain.ConversationInfo
	onLookup      func()
	err           error
}

func (d *fakeDirectory) FindConversationParticipants(_ context.Context, conversationID string) (domain.ConversationInfo, error) {
	d.mu.Lock()
	onLookup := d.onLookup
	err := d.err
	info, ok := d.conversations[conversationID]
	d.mu.Unlock()
	if onLookup != nil {
		onLookup()
	}
	if err != nil {
		return domain.ConversationInfo{}, err
	}
	if !ok {
		return domain.ConversationInfo{}, errors.New("conversation not found")
	}
	return info, nil
}

type recordedFlip struct {
	userID string
	online bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	flips []recordedFlip
}

func (r *fakeRecorder) RecordOnline(_ context.Context, userID string, online bool, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flips = append(r.flips, recordedFlip{userID: userID, online: online})
}

func (r *fakeRecorder) onlineCount() int  { return r.count(true) }
func (r *fakeRecorder) offlineCount() int { return r.count(false) }

func (r *fakeRecorder) count(online bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, flip := range r.flips {
		if flip.online == online {
			n++
		}
	}
	return n
}

func (r *fakeRecorder) flipOrder() []recordedFlip {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedFlip, len(r.flips))
	copy(out, r.flips)
	return out
}

// slowOnlineRecorder stalls every online write; disconnect handling must
// still persist the flips in transition order.
type slowOnlineRecorder struct {
	fakeRecorder
	delay time.Duration
}

func (r *slowOnlineRecorder) RecordOnline(ctx context.Context, userID string, online bool, at time.Time) {
	if online {
		time.Sleep(r.delay)
	}
	r.fakeRecorder.RecordOnline(ctx, userID, online, at)
}

type fakeNotifier struct {
	mu         sync.Mutex
	recipients []string
	events     []domain.Envelope
	err        error
}

func (n *fakeNotifier) PublishNotification(_ context.Context, recipientID string, event domain.Envelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.recipients = append(n.recipients, recipientID)
	n.events = append(n.events, event)
	return nil
}

func newTestCoordinator(dir *fakeDirectory, rec *fakeRecorder, notifier NotificationPublisher, limit time.Duration) *Coordinator {
	if dir == nil {
		dir = &fakeDirectory{conversations: map[string]domain.ConversationInfo{}}
	}
	media := NewMediaTokens("app-test", "secret-test", time.Hour)
	var presence PresenceRecorder
	if rec != nil {
		presence = rec
	}
	return NewCoordinator(dir, presence, notifier, media, CoordinatorConfig{CallDurationLimit: limit})
}

func TestPresence_LastConnectionFlipsOffline(t *testing.T) {
	req := require.New(t)
	rec := &fakeRecorder{}
	coord := newTestCoordinator(nil, rec, nil, time.Minute)

	tab1, tab2 := &fakePeer{}, &fakePeer{}
	coord.Register("c1", tab1)
	coord.Register("c2", tab2)
	coord.Identify("c1", "alice")
	coord.Identify("c2", "alice")

	req.Eventually(func() bool { return rec.onlineCount() == 1 }, time.Second, 5*time.Millisecond,
		"presence must flip online exactly once for the first connection")
	req.Equal([]string{"c1", "c2"}, coord.ConnectionsFor("alice"))

	coord.Unregister("c1")
	req.Equal([]string{"c2"}, coord.ConnectionsFor("alice"))
	req.Equal(0, rec.offlineCount(), "user with a remaining tab stays online")
	req.Equal([]string{"alice"}, coord.OnlineUsers())

	coord.Unregister("c2")
	req.Eventually(func() bool { return rec.offlineCount() == 1 }, time.Second, 5*time.Millisecond)
	req.Equal(1, rec.onlineCount(), "no extra online flip may have happened")
	req.Empty(coord.ConnectionsFor("alice"))
	req.Empty(coord.OnlineUsers())
}

func TestIdentify_IdempotentPerConnection(t *testing.T) {
	req := require.New(t)
	rec := &fakeRecorder{}
	coord := newTestCoordinator(nil, rec, nil, time.Minute)

	coord.Register("c1", &fakePeer{})
	coord.Identify("c1", "alice")
	coord.Identify("c1", "alice")

	req.Equal([]string{"c1"}, coord.ConnectionsFor("alice"))
	req.Eventually(func() bool { return rec.onlineCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestIdentify_RebindMovesConnection(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(nil, nil, nil, time.Minute)

	coord.Register("c1", &fakePeer{})
	coord.Identify("c1", "alice")
	coord.Identify("c1", "bob")

	req.Empty(coord.ConnectionsFor("alice"))
	req.Equal([]string{"c1"}, coord.ConnectionsFor("bob"))
}

func TestIdentify_RebindFlipsPreviousUserOffline(t *testing.T) {
	req := require.New(t)
	rec := &fakeRecorder{}
	coord := newTestCoordinator(nil, rec, nil, time.Minute)

	coord.Register("c1", &fakePeer{})
	coord.Identify("c1", "alice")
	coord.Identify("c1", "bob")

	req.Eventually(func() bool { return len(rec.flipOrder()) == 3 }, time.Second, 5*time.Millisecond)
	req.Equal([]recordedFlip{
		{userID: "alice", online: true},
		{userID: "alice", online: false},
		{userID: "bob", online: true},
	}, rec.flipOrder(), "losing its last connection to a rebind must flip the previous user offline")
	req.Equal([]string{"bob"}, coord.OnlineUsers())
}

func TestPresence_PersistOrderSurvivesQuickDisconnect(t *testing.T) {
	req := require.New(t)
	rec := &slowOnlineRecorder{delay: 50 * time.Millisecond}
	dir := &fakeDirectory{conversations: map[string]domain.ConversationInfo{}}
	media := NewMediaTokens("app-test", "secret-test", time.Hour)
	coord := NewCoordinator(dir, rec, nil, media, CoordinatorConfig{CallDurationLimit: time.Minute})

	coord.Register("c1", &fakePeer{})
	coord.Identify("c1", "alice")
	coord.Unregister("c1")

	req.Eventually(func() bool { return rec.offlineCount() == 1 }, time.Second, 5*time.Millisecond)
	req.Equal([]recordedFlip{
		{userID: "alice", online: true},
		{userID: "alice", online: false},
	}, rec.flipOrder(), "a slow online write must never land after the offline write")
}

func TestUnregister_UnknownConnectionIsNoop(t *testing.T) {
	coord := newTestCoordinator(nil, nil, nil, time.Minute)
	coord.Unregister("missing")
	coord.SendTo("missing", domain.Envelope{Type: domain.EventError})
}

func TestUnregister_ClosesPeer(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(nil, nil, nil, time.Minute)

	peer := &fakePeer{}
	coord.Register("c1", peer)
	coord.Unregister("c1")

	peer.mu.Lock()
	defer peer.mu.Unlock()
	req.True(peer.closed)
}
