package service

import (
	"sync"
	"time"

	commonlog "rtc_server/server/common/log"
	"rtc_server/server/realtime/domain"
)

// Peer is the write side of one realtime transport link. *websocket.Conn
// satisfies it; tests substitute an in-memory implementation.
type Peer interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one open connection. A user with several tabs or devices holds
// several Clients. The identity and room fields are guarded by the
// coordinator mutex; only the write path has its own lock.
type Client struct {
	ID string

	writeMu sync.Mutex
	peer    Peer

	userID string
	rooms  map[string]struct{}
}

func newClient(id string, peer Peer) *Client {
	return &Client{ID: id, peer: peer, rooms: map[string]struct{}{}}
}

// send is fire-and-forget: a write to a dying connection must never
// propagate an error into registry or call cleanup.
func (c *Client) send(event domain.Envelope) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.peer.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.peer.WriteJSON(event); err != nil {
		commonlog.Debugf("event=realtime_send status=failed conn_id=%s type=%s error=%v", c.ID, event.Type, err)
	}
}
