package service

import (
	"errors"
	"time"

	commonlog "rtc_server/server/common/log"
	"rtc_server/server/realtime/domain"
)

// ErrUnknownCall is returned by End for a call id with no live session. It
// signals client/server state divergence and is surfaced to the invoking
// client only.
var ErrUnknownCall = errors.New("unknown call")

// ErrMediaNotConfigured is a configuration failure: the media network
// credential is missing, so no join token can be produced.
var ErrMediaNotConfigured = errors.New("media credentials are not configured")

type callSession struct {
	id        string
	callerID  string
	calleeID  string
	channel   string
	kind      string
	state     domain.CallState
	createdAt time.Time

	// gen distinguishes a reused call id from the session a timer was
	// armed for; a stale timer must never act on a replacement session.
	gen   uint64
	timer *time.Timer
}

// callTeardown is a set of notifications collected under the lock and
// dispatched after it is released.
type callTeardown struct {
	events []teardownEvent
}

type teardownEvent struct {
	targets []*Client
	event   domain.Envelope
}

func (t callTeardown) dispatch() {
	for _, e := range t.events {
		sendAll(e.targets, e.event)
	}
}

// Invite creates a session in the ringing state and relays the invite to
// every connection of the callee. Self-calls are refused. Re-inviting a
// live call id is treated as session reuse for reconnect and retry: the
// prior timer is cancelled and the record replaced, never rejected.
// Ringing has no server-side expiry.
func (c *Coordinator) Invite(callID, callerID, calleeID, channel, kind string) {
	if callID == "" || callerID == "" || calleeID == "" || callerID == calleeID {
		return
	}
	if channel == "" {
		channel = "call_" + callID
	}
	c.mu.Lock()
	if prior, ok := c.mu.calls[callID]; ok {
		stopCallTimer(prior)
	}
	c.callGen++
	c.mu.calls[callID] = &callSession{
		id:        callID,
		callerID:  callerID,
		calleeID:  calleeID,
		channel:   channel,
		kind:      kind,
		state:     domain.CallRinging,
		createdAt: time.Now().UTC(),
		gen:       c.callGen,
	}
	targets := c.userClientsLocked(calleeID)
	c.mu.Unlock()

	commonlog.Infof("event=call action=invite call_id=%s caller_id=%s callee_id=%s kind=%s", callID, callerID, calleeID, kind)
	sendAll(targets, domain.Envelope{
		Type:     domain.EventCallInvite,
		CallID:   callID,
		UserID:   callerID,
		TargetID: calleeID,
		Channel:  channel,
		CallKind: kind,
	})
}

// Accept moves a ringing session to active, issues both parties their media
// join tokens and arms the hard duration timer. Accepting an unknown or
// non-ringing call id is a silent no-op; a missing media credential aborts
// before any state transition.
func (c *Coordinator) Accept(callID string) error {
	if !c.media.Configured() {
		return ErrMediaNotConfigured
	}
	c.mu.Lock()
	sess, ok := c.mu.calls[callID]
	if !ok || sess.state != domain.CallRinging {
		c.mu.Unlock()
		return nil
	}

	callerToken, err := c.media.Issue(sess.channel, sess.callerID, mediaRolePublisher)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	calleeToken, err := c.media.Issue(sess.channel, sess.calleeID, mediaRolePublisher)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	sess.state = domain.CallActive
	gen := sess.gen
	sess.timer = time.AfterFunc(c.callLimit, func() { c.expireCall(callID, gen) })
	callerTargets := c.userClientsLocked(sess.callerID)
	calleeTargets := c.userClientsLocked(sess.calleeID)
	callerID, calleeID, channel := sess.callerID, sess.calleeID, sess.channel
	c.mu.Unlock()

	commonlog.Infof("event=call action=accept call_id=%s channel=%s limit_ms=%d", callID, channel, c.callLimit.Milliseconds())
	sendAll(callerTargets, domain.Envelope{
		Type: domain.EventCallAccept, CallID: callID, Channel: channel, UserID: calleeID, Token: &callerToken,
	})
	sendAll(calleeTargets, domain.Envelope{
		Type: domain.EventCallAccept, CallID: callID, Channel: channel, UserID: callerID, Token: &calleeToken,
	})
	return nil
}

// Decline ends a ringing session and notifies the caller. Unknown call ids,
// repeated declines and declines after end are silent no-ops.
func (c *Coordinator) Decline(callID, reason string) {
	if reason == "" {
		reason = domain.CallReasonManual
	}
	c.mu.Lock()
	sess, ok := c.mu.calls[callID]
	if !ok || sess.state != domain.CallRinging {
		c.mu.Unlock()
		return
	}
	stopCallTimer(sess)
	delete(c.mu.calls, callID)
	targets := c.userClientsLocked(sess.callerID)
	calleeID := sess.calleeID
	c.mu.Unlock()

	commonlog.Infof("event=call action=decline call_id=%s reason=%s", callID, reason)
	sendAll(targets, domain.Envelope{
		Type: domain.EventCallDecline, CallID: callID, UserID: calleeID, Reason: reason,
	})
}

// End terminates a ringing or active session, cancels the duration timer
// and notifies both parties with reason manual. Unlike Decline, an unknown
// call id is reported back: it signals state divergence worth surfacing.
func (c *Coordinator) End(callID string) error {
	c.mu.Lock()
	sess, ok := c.mu.calls[callID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownCall
	}
	stopCallTimer(sess)
	delete(c.mu.calls, callID)
	targets := append(c.userClientsLocked(sess.callerID), c.userClientsLocked(sess.calleeID)...)
	c.mu.Unlock()

	commonlog.Infof("event=call action=end call_id=%s reason=%s", callID, domain.CallReasonManual)
	sendAll(targets, domain.Envelope{
		Type: domain.EventCallEnd, CallID: callID, Reason: domain.CallReasonManual,
	})
	return nil
}

// expireCall is the duration timer callback and the sole authority for
// time-limit termination. It re-checks the session's identity by call id
// and generation: the id may have been reused since the timer was armed.
func (c *Coordinator) expireCall(callID string, gen uint64) {
	c.mu.Lock()
	sess, ok := c.mu.calls[callID]
	if !ok || sess.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.mu.calls, callID)
	targets := append(c.userClientsLocked(sess.callerID), c.userClientsLocked(sess.calleeID)...)
	c.mu.Unlock()

	commonlog.Infof("event=call action=expire call_id=%s reason=%s", callID, domain.CallReasonTimeLimit)
	sendAll(targets, domain.Envelope{
		Type: domain.EventCallEnd, CallID: callID, Reason: domain.CallReasonTimeLimit,
	})
}

// dropCallsForUserLocked force-terminates every session the user is part of
// after their last connection closed. Required cleanup: without it a zombie
// session would keep its timer and ring against nobody.
func (c *Coordinator) dropCallsForUserLocked(userID string) []callTeardown {
	var teardowns []callTeardown
	for callID, sess := range c.mu.calls {
		if sess.callerID != userID && sess.calleeID != userID {
			continue
		}
		stopCallTimer(sess)
		delete(c.mu.calls, callID)

		remainingID := sess.callerID
		if userID == sess.callerID {
			remainingID = sess.calleeID
		}
		targets := c.userClientsLocked(remainingID)

		var event domain.Envelope
		switch {
		case sess.state == domain.CallRinging && userID == sess.calleeID:
			event = domain.Envelope{Type: domain.EventCallDecline, CallID: callID, UserID: sess.calleeID, Reason: domain.CallReasonOffline}
		default:
			event = domain.Envelope{Type: domain.EventCallEnd, CallID: callID, Reason: domain.CallReasonOffline}
		}
		commonlog.Infof("event=call action=disconnect_cleanup call_id=%s state=%s offline_user_id=%s", callID, sess.state, userID)
		teardowns = append(teardowns, callTeardown{events: []teardownEvent{{targets: targets, event: event}}})
	}
	return teardowns
}

func stopCallTimer(sess *callSession) {
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
}
