package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"chat-sync/internal/credentials"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// State is an observable connection state.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// ErrNotConnected is returned by Emit while the transport is down. The send
// is dropped; callers needing guaranteed delivery use the REST collaborator.
var ErrNotConnected = errors.New("transport not connected")

const subscriberBuffer = 64

// Config describes one namespaced transport connection.
type Config struct {
	// Endpoint is the base ws(s):// or http(s):// URL of the event gateway.
	Endpoint string
	// Namespace partitions the event stream (chat, dm, notifications).
	Namespace string
	// Tokens, when set, appends the bearer token to the dial URL.
	Tokens credentials.TokenSource

	DialTimeout time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxAttempts caps reconnect attempts; zero means retry forever.
	MaxAttempts int
}

func (c *Config) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
}

// Client is a long-lived bidirectional event connection for one namespace.
// It owns connect/disconnect/reconnect policy; connection failures are never
// fatal to the caller.
type Client struct {
	cfg Config

	mu       sync.Mutex
	conn     *websocket.Conn
	running  bool
	closed   bool
	subs     map[string][]chan json.RawMessage
	watchers []chan State
}

// New builds a disconnected client for the namespace.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:  cfg,
		subs: make(map[string][]chan json.RawMessage),
	}
}

// Namespace returns the namespace this client is bound to.
func (c *Client) Namespace() string {
	return c.cfg.Namespace
}

// Connect starts the connection loop. It returns immediately; dial failures
// put the client into a retry-eligible disconnected state instead of
// surfacing an error. Calling Connect on a running client is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.running || c.closed {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	recon := newReconnector(c.cfg.BackoffBase, c.cfg.BackoffMax, c.cfg.MaxAttempts)

	for {
		if c.isClosed() {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			log.Printf("transport dial failed namespace=%s: %v", c.cfg.Namespace, err)
			c.publishState(StateError)
			if !recon.shouldReconnect() {
				log.Printf("transport giving up namespace=%s after %d attempts", c.cfg.Namespace, recon.attempt)
				c.publishState(StateDisconnected)
				return
			}
			observability.IncTransportReconnect(c.cfg.Namespace)
			if !c.sleep(ctx, recon.nextDelay()) {
				return
			}
			continue
		}

		recon.markConnected()
		c.setConn(conn)
		observability.SetTransportConnected(c.cfg.Namespace, true)
		c.publishState(StateConnected)
		c.publishLifecycle(ctx, "transport_connect")

		c.readLoop(conn)

		c.setConn(nil)
		observability.SetTransportConnected(c.cfg.Namespace, false)
		c.publishState(StateDisconnected)
		c.publishLifecycle(ctx, "transport_disconnect")

		if c.isClosed() {
			return
		}
		observability.IncTransportReconnect(c.cfg.Namespace)
		if !c.sleep(ctx, recon.nextDelay()) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	_, span := otel.Tracer("chat-sync/transport").Start(ctx, "transport.connect")
	defer span.End()

	dialURL := strings.Replace(c.cfg.Endpoint, "https://", "wss://", 1)
	dialURL = strings.Replace(dialURL, "http://", "ws://", 1)
	dialURL += "/" + c.cfg.Namespace
	if c.cfg.Tokens != nil {
		token, err := c.cfg.Tokens.Token(ctx)
		if err == nil && token != "" {
			dialURL += "?token=" + token
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, dialURL, nil)
	return conn, err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
				log.Printf("transport read error namespace=%s: %v", c.cfg.Namespace, err)
			}
			conn.Close()
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			observability.IncEventMalformed(c.cfg.Namespace, "envelope")
			log.Printf("transport dropped malformed envelope namespace=%s: %v", c.cfg.Namespace, err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env models.Envelope) {
	c.mu.Lock()
	subs := make([]chan json.RawMessage, len(c.subs[env.Event]))
	copy(subs, c.subs[env.Event])
	c.mu.Unlock()

	observability.IncEventReceived(c.cfg.Namespace, env.Event)
	for _, ch := range subs {
		select {
		case ch <- env.Payload:
		default:
			observability.IncEventDropped(c.cfg.Namespace, env.Event, "subscriber_full")
		}
	}
}

// Subscribe returns an unbounded-in-spirit stream of payloads for one event
// name. The stream is lazy and non-restartable; a subscriber that stops
// draining loses events rather than blocking the read loop.
func (c *Client) Subscribe(event string) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, subscriberBuffer)
	c.mu.Lock()
	c.subs[event] = append(c.subs[event], ch)
	c.mu.Unlock()
	return ch
}

// States returns a stream of connection-state observations.
func (c *Client) States() <-chan State {
	ch := make(chan State, 8)
	c.mu.Lock()
	c.watchers = append(c.watchers, ch)
	c.mu.Unlock()
	return ch
}

// Emit sends an event if connected; otherwise the event is dropped and
// ErrNotConnected returned.
func (c *Client) Emit(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		observability.IncEventDropped(c.cfg.Namespace, event, "disconnected")
		return ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := models.Envelope{Event: event, Payload: raw}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		observability.IncEventDropped(c.cfg.Namespace, event, "disconnected")
		return ErrNotConnected
	}
	if err := c.conn.WriteJSON(env); err != nil {
		observability.IncEventDropped(c.cfg.Namespace, event, "write_error")
		return err
	}
	observability.IncEventEmitted(c.cfg.Namespace, event)
	return nil
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Disconnect tears the connection down and suppresses reconnects. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}
	observability.SetTransportConnected(c.cfg.Namespace, false)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) publishState(state State) {
	c.mu.Lock()
	watchers := make([]chan State, len(c.watchers))
	copy(watchers, c.watchers)
	c.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- state:
		default:
		}
	}
}

func (c *Client) publishLifecycle(ctx context.Context, name string) {
	var traceID string
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	_ = observability.PublishEvent(ctx, "sync_events.transport", observability.EventEnvelope{
		EventType: "transport_events",
		EventName: name,
		Payload: map[string]interface{}{
			"namespace": c.cfg.Namespace,
			"event":     name,
		},
	}, observability.BuildHeaders("", traceID))
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return !c.isClosed()
	case <-ctx.Done():
		return false
	}
}
