package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rtc_server/server/realtime/domain"
)

const testCallLimit = 40 * time.Millisecond

type callFixture struct {
	coord     *Coordinator
	alicePeer *fakePeer
	bobPhone  *fakePeer
	bobLaptop *fakePeer
}

// newCallFixture wires alice with one connection and bob with two, all
// identified, nobody in any room: call signaling is independent of rooms.
func newCallFixture(limit time.Duration) *callFixture {
	coord := newTestCoordinator(nil, nil, nil, limit)
	f := &callFixture{
		coord:     coord,
		alicePeer: &fakePeer{},
		bobPhone:  &fakePeer{},
		bobLaptop: &fakePeer{},
	}
	coord.Register("a1", f.alicePeer)
	coord.Register("b1", f.bobPhone)
	coord.Register("b2", f.bobLaptop)
	coord.Identify("a1", "alice")
	coord.Identify("b1", "bob")
	coord.Identify("b2", "bob")
	return f
}

func TestInvite_RingsAllCalleeDevices(t *testing.T) {
	req := require.New(t)
	f := newCallFixture(testCallLimit)

	f.coord.Invite("k1", "alice", "bob", "", "video")

	for _, peer := range []*fakePeer{f.bobPhone, f.bobLaptop} {
		invites := peer.eventsOfType(domain.EventCallInvite)
		req.Len(invites, 1)
		req.Equal("k1", invites[0].CallID)
		req.Equal("alice", invites[0].UserID)
		req.Equal("call_k1", invites[0].Channel, "channel defaults to the call id")
		req.Equal("video", invites[0].CallKind)
	}
	req.Empty(f.alicePeer.eventsOfType(domain.EventCallInvite))
}

func TestAccept_IssuesTokensAndEnforcesDuration(t *testing.T) {
	req := require.New(t)
	f := newCallFixture(testCallLimit)

	f.coord.Invite("k1", "alice", "bob", "", "audio")
	req.NoError(f.coord.Accept("k1"))

	accepts := f.alicePeer.eventsOfType(domain.EventCallAccept)
	req.Len(accepts, 1)
	req.NotNil(accepts[0].Token)
	req.Equal("alice", accepts[0].Token.Subject)
	req.Equal("call_k1", accepts[0].Token.Channel)

	bobAccepts := f.bobPhone.eventsOfType(domain.EventCallAccept)
	req.Len(bobAccepts, 1)
	req.Equal("bob", bobAccepts[0].Token.Subject)

	req.Eventually(func() bool {
		return len(f.alicePeer.eventsOfType(domain.EventCallEnd)) == 1 &&
			len(f.bobPhone.eventsOfType(domain.EventCallEnd)) == 1
	}, time.Second, 5*time.Millisecond, "duration timer must end the call for both parties")
	req.Equal(domain.CallReasonTimeLimit, f.alicePeer.eventsOfType(domain.EventCallEnd)[0].Reason)

	req.ErrorIs(f.coord.End("k1"), ErrUnknownCall, "expired session must be unqueryable")
}

func TestInvite_ReuseCancelsPriorTimer(t *testing.T) {
	req := require.New(t)
	f := newCallFixture(testCallLimit)

	f.coord.Invite("k1", "alice", "bob", "", "audio")
	req.NoError(f.coord.Accept("k1"))
	// Re-invite with the same id: session reuse replaces the record and
	// cancels the armed duration timer.
	f.coord.Invite("k1", "alice", "bob", "", "audio")

	time.Sleep(3 * testCallLimit)
	req.Empty(f.alicePeer.eventsOfType(domain.EventCallEnd), "only the latest timer may ever fire")
	req.Empty(f.bobPhone.eventsOfType(domain.EventCallEnd))

	req.NoError(f.coord.End("k1"), "the replacement session is still live")
}

func TestInvite_SelfCallIsRefused(t *testing.T) {
	req := require.New(t)
	f := newCallFixture(testCallLimit)

	f.coord.Invite("k1", "alice", "alice", "", "video")

	req.Empty(f.alicePeer.eventsOfType(domain.EventCallInvite))
	req.ErrorIs(f.coord.End("k1"), ErrUnknownCall, "no session may exist for a refused self-call")
}

func TestAccept_UnknownCallIsNoop(t *testing.T) {
	f := newCallFixture(testCallLimit)
	require.NoError(t, f.coord.Accept("nope"))
	require.Empty(t, f.alicePeer.eventsOfType(domain.EventCallAccept))
}

func TestAccept_MediaNotConfigured(t *testing.T) {
	req := require.New(t)
	coord := NewCoordinator(&fakeDirectory{}, nil, nil, NewMediaTokens("", "", 0), CoordinatorConfig{CallDurationLimit: testCallLimit})
	alicePeer, bobPeer := &fakePeer{}, &fakePeer{}
	coord.Register("a1", alicePeer)
	coord.Register("b1", bobPeer)
	coord.Identify("a1", "alice")
	coord.Identify("b1", "bob")

	coord.Invite("k1", "alice", "bob", "", "audio")
	req.ErrorIs(coord.Accept("k1"), ErrMediaNotConfigured)
	req.Empty(bobPeer.eventsOfType(domain.EventCallAccept))
	req.NoError(coord.End("k1"), "the session must still be ringing, not half-transitioned")
}

func TestDecline_NotifiesCallerOnce(t *testing.T) {
	req := require.New(t)
	f := newCallFixture(testCallLimit)

	f.coord.Invite("k1", "alice", "bob", "", "audio")
	f.coord.Decline("k1", "")
	f.coord.Decline("k1", "")

	declines := f.alicePeer.eventsOfType(domain.EventCallDecline)
	req.Len(declines, 1, "second decline must be silent")
	req.Equal(domain.CallReasonManual, declines[0].Reason)
	req.Equal("bob", declines[0].UserID)

	req.ErrorIs(f.coord.End("k1"), ErrUnknownCall)
}

func TestDecline_AfterEndIsSilent(t *testing.T) {
	req := require.New(t)
	f := newCallFixture(testCallLimit)

	f.coord.Invite("k1", "alice", "bob", "", "audio")
	req.NoError(f.coord.End("k1"))
	f.coord.Decline("k1", "")

	req.Empty(f.alicePeer.eventsOfType(domain.EventCallDecline))
}

func TestEnd_FromActiveCancelsTimer(t *testing.T) {
	req := require.New(t)
	f := newCallFixture(testCallLimit)

	f.coord.Invite("k1", "alice", "bob", "", "audio")
	req.NoError(f.coord.Accept("k1"))
	req.NoError(f.coord.End("k1"))

	ends := f.alicePeer.eventsOfType(domain.EventCallEnd)
	req.Len(ends, 1)
	req.Equal(domain.CallReasonManual, ends[0].Reason)
	req.Len(f.bobPhone.eventsOfType(domain.EventCallEnd), 1)

	time.Sleep(3 * testCallLimit)
	req.Len(f.alicePeer.eventsOfType(domain.EventCallEnd), 1, "cancelled timer must never fire")
}

func TestEnd_UnknownCallReportsDivergence(t *testing.T) {
	f := newCallFixture(testCallLimit)
	require.ErrorIs(t, f.coord.End("nope"), ErrUnknownCall)
}

func TestCalleeDisconnect_WhileRinging(t *testing.T) {
	req := require.New(t)
	f := newCallFixture(testCallLimit)

	f.coord.Invite("k1", "alice", "bob", "", "audio")
	f.coord.Unregister("b1")
	f.coord.Unregister("b2")

	declines := f.alicePeer.eventsOfType(domain.EventCallDecline)
	req.Len(declines, 1)
	req.Equal(domain.CallReasonOffline, declines[0].Reason)
	req.ErrorIs(f.coord.End("k1"), ErrUnknownCall)
}

func TestCalleeDisconnect_OneDeviceKeepsRinging(t *testing.T) {
	req := require.New(t)
	f := newCallFixture(testCallLimit)

	f.coord.Invite("k1", "alice", "bob", "", "audio")
	f.coord.Unregister("b1")

	req.Empty(f.alicePeer.eventsOfType(domain.EventCallDecline), "bob still has a live device")
	req.NoError(f.coord.End("k1"))
}

func TestCalleeDisconnect_WhileActive(t *testing.T) {
	req := require.New(t)
	f := newCallFixture(testCallLimit)

	f.coord.Invite("k1", "alice", "bob", "", "audio")
	req.NoError(f.coord.Accept("k1"))
	f.coord.Unregister("b1")
	f.coord.Unregister("b2")

	ends := f.alicePeer.eventsOfType(domain.EventCallEnd)
	req.Len(ends, 1)
	req.Equal(domain.CallReasonOffline, ends[0].Reason)
	req.ErrorIs(f.coord.End("k1"), ErrUnknownCall)

	time.Sleep(3 * testCallLimit)
	req.Len(f.alicePeer.eventsOfType(domain.EventCallEnd), 1, "no timer may fire after disconnect cleanup")
}

func TestCallerDisconnect_WhileRinging(t *testing.T) {
	req := require.New(t)
	f := newCallFixture(testCallLimit)

	f.coord.Invite("k1", "alice", "bob", "", "audio")
	f.coord.Unregister("a1")

	ends := f.bobPhone.eventsOfType(domain.EventCallEnd)
	req.Len(ends, 1)
	req.Equal(domain.CallReasonOffline, ends[0].Reason)
	req.Len(f.bobLaptop.eventsOfType(domain.EventCallEnd), 1)
	req.ErrorIs(f.coord.End("k1"), ErrUnknownCall)
}
