package satellite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 64 << 10
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type registerMessage struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type replyMessage struct {
	RequestID string          `json:"requestId"`
	Info      json.RawMessage `json:"info"`
}

// wsConn serializes writes onto one websocket.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex

	// set by the read loop once register succeeds
	registered bool
}

func (c *wsConn) Send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(Envelope{Event: event, Data: raw})
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) Close() error { return c.ws.Close() }

// Server exposes a Channel over WebSocket at /satellite.
type Server struct {
	ch       *Channel
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewServer(ch *Channel, log zerolog.Logger) *Server {
	return &Server{
		ch:  ch,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/satellite", s.serveWS)
	return mux
}

// ListenAndServe runs until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("satellite server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	conn := &wsConn{ws: ws}
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("new connection")

	done := make(chan struct{})
	defer func() {
		close(done)
		s.ch.OnDisconnect(conn)
		conn.Close()
	}()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go keepAlive(conn, done)

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if !s.handle(conn, env) {
			return
		}
	}
}

// handle processes one frame and reports whether the connection stays open.
func (s *Server) handle(conn *wsConn, env Envelope) bool {
	switch env.Event {
	case EventRegister:
		var msg registerMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil || msg.UserID == "" {
			_ = conn.Send(EventAuthError, "Invalid registration")
			return false
		}
		if err := s.ch.Register(msg.UserID, msg.Token, conn); err != nil {
			_ = conn.Send(EventAuthError, "Invalid Token")
			return false
		}
		conn.registered = true
		_ = conn.Send(EventRegistered, "Connected to Mina Satellite Network")
		return true

	case EventDisconnect:
		return false
	}

	if !conn.registered {
		s.log.Debug().Str("event", env.Event).Msg("ignoring event before registration")
		return true
	}

	switch env.Event {
	case EventMediaResponse:
		var msg replyMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			s.log.Debug().Err(err).Msg("malformed reply")
			return true
		}
		if string(msg.Info) == "null" {
			msg.Info = nil
		}
		s.ch.OnReply(conn, msg.RequestID, msg.Info)
		return true

	default:
		s.log.Debug().Str("event", env.Event).Msg("ignoring unknown event")
		return true
	}
}

func keepAlive(conn *wsConn, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
