package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/credentials"
	"chat-sync/internal/models"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// gatewayStub is a one-connection event gateway for tests. It records what
// the client sends and lets tests push envelopes down to the client.
type gatewayStub struct {
	server *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	path     string
	rawQuery string
	inbound  []models.Envelope
}

func newGatewayStub(t *testing.T) *gatewayStub {
	t.Helper()
	g := &gatewayStub{}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conn = conn
		g.path = r.URL.Path
		g.rawQuery = r.URL.RawQuery
		g.mu.Unlock()

		for {
			var env models.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			g.mu.Lock()
			g.inbound = append(g.inbound, env)
			g.mu.Unlock()
		}
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *gatewayStub) send(t *testing.T, env models.Envelope) {
	t.Helper()
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteJSON(env))
}

func (g *gatewayStub) sendRaw(t *testing.T, data string) {
	t.Helper()
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	require.NotNil(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

func (g *gatewayStub) received() []models.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Envelope, len(g.inbound))
	copy(out, g.inbound)
	return out
}

func newConnectedClient(t *testing.T, g *gatewayStub, tokens credentials.TokenSource) *Client {
	t.Helper()
	c := New(Config{
		Endpoint:    g.server.URL,
		Namespace:   "chat",
		Tokens:      tokens,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
	})
	t.Cleanup(c.Disconnect)
	c.Connect(context.Background())
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
	return c
}

func TestConnectDialsNamespacePathWithToken(t *testing.T) {
	g := newGatewayStub(t)
	_ = newConnectedClient(t, g, credentials.NewMemoryStore("tok-1"))

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, "/chat", g.path)
	assert.Equal(t, "token=tok-1", g.rawQuery)
}

func TestSubscribeReceivesDispatchedPayload(t *testing.T) {
	g := newGatewayStub(t)
	c := newConnectedClient(t, g, nil)
	sub := c.Subscribe(models.EventNewMessage)

	payload, _ := json.Marshal(models.NewMessageEvent{ServerID: "S1", ThreadID: "room-1", SenderID: "u2", Content: "hi"})
	g.send(t, models.Envelope{Event: models.EventNewMessage, Payload: payload})

	select {
	case raw := <-sub:
		ev, err := models.ParseNewMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, "S1", ev.ServerID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the subscribed payload")
	}
}

func TestMalformedEnvelopeIsDroppedNotFatal(t *testing.T) {
	g := newGatewayStub(t)
	c := newConnectedClient(t, g, nil)
	sub := c.Subscribe(models.EventNewMessage)

	g.sendRaw(t, `{"not an envelope`)
	g.sendRaw(t, `{"payload":{"id":"S0"}}`)

	payload, _ := json.Marshal(models.NewMessageEvent{ServerID: "S1", ThreadID: "room-1", SenderID: "u2"})
	g.send(t, models.Envelope{Event: models.EventNewMessage, Payload: payload})

	select {
	case raw := <-sub:
		ev, err := models.ParseNewMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, "S1", ev.ServerID)
	case <-time.After(2 * time.Second):
		t.Fatal("the read loop should survive malformed envelopes")
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	c := New(Config{Endpoint: "ws://localhost:1", Namespace: "chat"})
	err := c.Emit(models.EventSendMessage, models.SendMessageEvent{ThreadID: "room-1", Content: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEmitWritesEnvelope(t *testing.T) {
	g := newGatewayStub(t)
	c := newConnectedClient(t, g, nil)

	require.NoError(t, c.Emit(models.EventJoinRoom, models.JoinRoomEvent{ThreadID: "room-1"}))

	require.Eventually(t, func() bool {
		return len(g.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	env := g.received()[0]
	assert.Equal(t, models.EventJoinRoom, env.Event)
	var ev models.JoinRoomEvent
	require.NoError(t, json.Unmarshal(env.Payload, &ev))
	assert.Equal(t, "room-1", ev.ThreadID)
}

func TestStatesObserveConnect(t *testing.T) {
	g := newGatewayStub(t)
	c := New(Config{Endpoint: g.server.URL, Namespace: "chat", BackoffBase: 10 * time.Millisecond})
	t.Cleanup(c.Disconnect)
	states := c.States()

	c.Connect(context.Background())

	select {
	case state := <-states:
		assert.Equal(t, StateConnected, state)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a connected state observation")
	}
}

func TestDisconnectIsIdempotentAndStopsEmit(t *testing.T) {
	g := newGatewayStub(t)
	c := newConnectedClient(t, g, nil)

	c.Disconnect()
	c.Disconnect()

	require.Eventually(t, func() bool { return !c.Connected() }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Emit(models.EventSendMessage, models.SendMessageEvent{ThreadID: "room-1"}), ErrNotConnected)
}

func TestDialFailureIsNotFatal(t *testing.T) {
	c := New(Config{
		Endpoint:    "ws://127.0.0.1:1",
		Namespace:   "chat",
		DialTimeout: 50 * time.Millisecond,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
		MaxAttempts: 2,
	})
	t.Cleanup(c.Disconnect)
	states := c.States()

	c.Connect(context.Background())

	select {
	case state := <-states:
		assert.Equal(t, StateError, state)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error state observation")
	}
	assert.False(t, c.Connected())
}
