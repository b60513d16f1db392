package satellite

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/satellite"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(Envelope{Event: event, Data: raw}))
}

func read(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func TestServerRegisterAndQuery(t *testing.T) {
	ch := newChannel()
	srv := httptest.NewServer(NewServer(ch, zerolog.Nop()).Handler())
	defer srv.Close()

	ws := dial(t, srv)
	send(t, ws, EventRegister, registerMessage{UserID: "u1", Token: "secret"})
	assert.Equal(t, EventRegistered, read(t, ws).Event)
	require.Eventually(t, func() bool { return ch.Connected("u1") }, time.Second, 5*time.Millisecond)

	result := make(chan json.RawMessage, 1)
	go func() { result <- ch.Query(context.Background(), "u1", "MEDIA_INFO", 2*time.Second) }()

	env := read(t, ws)
	require.Equal(t, EventMediaQuery, env.Event)
	var q queryMessage
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, "MEDIA_INFO", q.Command)

	send(t, ws, EventMediaResponse, map[string]any{
		"requestId": q.RequestID,
		"info":      map[string]string{"title": "Song", "artist": "Band"},
	})
	assert.JSONEq(t, `{"title":"Song","artist":"Band"}`, string(<-result))

	assert.True(t, ch.SendCommand("u1", "MEDIA_PLAY", nil))
	env = read(t, ws)
	assert.Equal(t, EventMediaCommand, env.Event)
	assert.JSONEq(t, `{"command":"MEDIA_PLAY","payload":{}}`, string(env.Data))
}

func TestServerNullInfoIsNil(t *testing.T) {
	ch := newChannel()
	srv := httptest.NewServer(NewServer(ch, zerolog.Nop()).Handler())
	defer srv.Close()

	ws := dial(t, srv)
	send(t, ws, EventRegister, registerMessage{UserID: "u1", Token: "secret"})
	read(t, ws)

	result := make(chan json.RawMessage, 1)
	go func() { result <- ch.Query(context.Background(), "u1", "MEDIA_INFO", 2*time.Second) }()

	var q queryMessage
	require.NoError(t, json.Unmarshal(read(t, ws).Data, &q))
	send(t, ws, EventMediaResponse, map[string]any{"requestId": q.RequestID, "info": nil})
	assert.Nil(t, <-result)
}

func TestServerIgnoresRepliesFromUnregisteredSocket(t *testing.T) {
	ch := newChannel()
	srv := httptest.NewServer(NewServer(ch, zerolog.Nop()).Handler())
	defer srv.Close()

	ws := dial(t, srv)
	send(t, ws, EventRegister, registerMessage{UserID: "u1", Token: "secret"})
	read(t, ws)
	intruder := dial(t, srv)

	result := make(chan json.RawMessage, 1)
	go func() { result <- ch.Query(context.Background(), "u1", "MEDIA_INFO", 2*time.Second) }()

	var q queryMessage
	require.NoError(t, json.Unmarshal(read(t, ws).Data, &q))
	send(t, intruder, EventMediaResponse, map[string]any{"requestId": q.RequestID, "info": map[string]string{"title": "Spoofed"}})

	// let the server read the intruder's frame
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ch.Pending())

	send(t, ws, EventMediaResponse, map[string]any{"requestId": q.RequestID, "info": map[string]string{"title": "Song"}})
	assert.JSONEq(t, `{"title":"Song"}`, string(<-result))
}

func TestServerRejectsBadToken(t *testing.T) {
	ch := newChannel()
	srv := httptest.NewServer(NewServer(ch, zerolog.Nop()).Handler())
	defer srv.Close()

	ws := dial(t, srv)
	send(t, ws, EventRegister, registerMessage{UserID: "u1", Token: "nope"})
	assert.Equal(t, EventAuthError, read(t, ws).Event)

	var env Envelope
	assert.Error(t, ws.ReadJSON(&env), "server closes after auth_error")
	assert.False(t, ch.Connected("u1"))
}

func TestServerDisconnectForgetsUser(t *testing.T) {
	ch := newChannel()
	srv := httptest.NewServer(NewServer(ch, zerolog.Nop()).Handler())
	defer srv.Close()

	ws := dial(t, srv)
	send(t, ws, EventRegister, registerMessage{UserID: "u1", Token: "secret"})
	read(t, ws)

	ws.Close()
	assert.Eventually(t, func() bool { return !ch.Connected("u1") }, 2*time.Second, 10*time.Millisecond)
}
