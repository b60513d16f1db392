// Package satellite keeps the registry of companion agents running on users'
// machines. Commands are fire-and-forget; queries are correlated by request id
// and bounded by a timeout.
package satellite

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrUnauthorized = errors.New("satellite: invalid token")

const (
	EventRegister      = "register"
	EventRegistered    = "registered"
	EventAuthError     = "auth_error"
	EventMediaCommand  = "media_command"
	EventMediaQuery    = "media_query"
	EventMediaResponse = "media_info_response"
	EventDisconnect    = "disconnect"
)

// Conn is one live satellite connection.
type Conn interface {
	Send(event string, data any) error
	Close() error
}

type commandMessage struct {
	Command string         `json:"command"`
	Payload map[string]any `json:"payload"`
}

type queryMessage struct {
	RequestID string `json:"requestId"`
	Command   string `json:"command"`
}

type pendingQuery struct {
	conn  Conn                 // only this connection may answer
	reply chan json.RawMessage // buffered, receives at most once
	timer *time.Timer
}

type Channel struct {
	token []byte
	log   zerolog.Logger

	mu      sync.Mutex
	conns   map[string]Conn
	pending map[string]*pendingQuery
}

func NewChannel(token string, log zerolog.Logger) *Channel {
	return &Channel{
		token:   []byte(token),
		log:     log,
		conns:   make(map[string]Conn),
		pending: make(map[string]*pendingQuery),
	}
}

// Register maps userID to conn after checking the shared secret. A newer
// registration replaces an older one.
func (c *Channel) Register(userID, token string, conn Conn) error {
	if len(c.token) == 0 || subtle.ConstantTimeCompare([]byte(token), c.token) != 1 {
		c.log.Warn().Str("user", userID).Msg("auth failed")
		return ErrUnauthorized
	}

	c.mu.Lock()
	c.conns[userID] = conn
	c.mu.Unlock()

	c.log.Info().Str("user", userID).Msg("registered")
	return nil
}

// Connected reports whether userID has a live satellite.
func (c *Channel) Connected(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.conns[userID]
	return ok
}

func (c *Channel) conn(userID string) Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns[userID]
}

// SendCommand emits a media command and reports whether a satellite was there
// to receive it.
func (c *Channel) SendCommand(userID, kind string, payload map[string]any) bool {
	conn := c.conn(userID)
	if conn == nil {
		c.log.Debug().Str("user", userID).Msg("no active satellite")
		return false
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if err := conn.Send(EventMediaCommand, commandMessage{Command: kind, Payload: payload}); err != nil {
		c.log.Warn().Err(err).Str("user", userID).Str("command", kind).Msg("send failed")
		return false
	}
	c.log.Info().Str("user", userID).Str("command", kind).Msg("command sent")
	return true
}

// Query asks the user's satellite and waits for the reply. It returns nil when
// no satellite is connected, the timeout passes or ctx ends first.
func (c *Channel) Query(ctx context.Context, userID, kind string, timeout time.Duration) json.RawMessage {
	conn := c.conn(userID)
	if conn == nil {
		return nil
	}

	id := uuid.NewString()
	pq := &pendingQuery{conn: conn, reply: make(chan json.RawMessage, 1)}

	c.mu.Lock()
	c.pending[id] = pq
	pq.timer = time.AfterFunc(timeout, func() {
		if c.take(id) != nil {
			c.log.Debug().Str("request", id).Msg("query timed out")
			close(pq.reply)
		}
	})
	c.mu.Unlock()

	if err := conn.Send(EventMediaQuery, queryMessage{RequestID: id, Command: kind}); err != nil {
		c.log.Warn().Err(err).Str("user", userID).Msg("query send failed")
		c.cancel(id)
		return nil
	}

	select {
	case raw := <-pq.reply:
		return raw
	case <-ctx.Done():
		c.cancel(id)
		return nil
	}
}

// take removes and returns the pending entry. Only the first caller for an id
// gets it.
func (c *Channel) take(id string) *pendingQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	pq, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return pq
}

func (c *Channel) cancel(id string) {
	if pq := c.take(id); pq != nil {
		pq.timer.Stop()
		close(pq.reply)
	}
}

// OnReply resolves a pending query sent on from. Unknown or expired ids, and
// replies arriving on any other connection, are dropped.
func (c *Channel) OnReply(from Conn, requestID string, payload json.RawMessage) {
	c.mu.Lock()
	pq, ok := c.pending[requestID]
	if ok && pq.conn == from {
		delete(c.pending, requestID)
	} else {
		pq = nil
	}
	c.mu.Unlock()
	if pq == nil {
		c.log.Debug().Str("request", requestID).Msg("dropping late, unknown or foreign reply")
		return
	}
	pq.timer.Stop()
	pq.reply <- payload
	close(pq.reply)
}

// OnDisconnect forgets every user mapped to conn. A user that re-registered on a
// newer connection keeps it.
func (c *Channel) OnDisconnect(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for uid, cur := range c.conns {
		if cur == conn {
			delete(c.conns, uid)
			c.log.Info().Str("user", uid).Msg("disconnected")
		}
	}
}

// Pending is the number of unresolved queries.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
