package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley-server/internal/core"
	"github.com/parleychat/parley-server/internal/proto"
	"github.com/parleychat/parley-server/internal/utils"
)

// State is the connection lifecycle of the supervisor.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateRetrying
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrRetriesExhausted is the terminal connection error surfaced after the
// attempt cap is reached. The supervisor never retries past it.
var ErrRetriesExhausted = errors.New("connection retries exhausted")

// ErrClosed is returned from operations on a closed client.
var ErrClosed = errors.New("client closed")

// Config tunes the supervisor. Zero values fall back to the defaults of the
// original service: 5 attempts, 1s fixed delay.
type Config struct {
	URL   string // ws endpoint, e.g. ws://host:port/ws
	Token string // JWT from the auth API

	MaxAttempts   int
	RetryDelay    time.Duration
	BackoffFactor float64 // 1 keeps the delay fixed; >1 grows it per attempt
	EventBuffer   int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 32
	}
	return c
}

// Client is a reconnecting chat client. One bounded retry policy governs
// both the initial connect and any reconnect after a transport failure; a
// reconnect gets a fresh connection id from the server, re-issues join for
// every room the client cares about, and reconciles from the backfill.
type Client struct {
	cfg Config
	log *zerolog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	conn     *websocket.Conn
	connID   string
	rooms    map[string]string // room name -> secret, for resubscription
	pending  map[string]chan proto.Raw

	events chan proto.Raw
	closed chan struct{}
}

// New creates a supervisor in the idle state.
func New(cfg Config, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		cfg:     cfg.withDefaults(),
		log:     logger,
		state:   StateIdle,
		rooms:   make(map[string]string),
		pending: make(map[string]chan proto.Raw),
		events:  make(chan proto.Raw, cfg.withDefaults().EventBuffer),
		closed:  make(chan struct{}),
	}
}

// State reports the supervisor's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnID returns the server-assigned id of the current connection.
func (c *Client) ConnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Events exposes server events (and unsolicited errors such as deletion
// rejections) to the caller.
func (c *Client) Events() <-chan proto.Raw {
	return c.events
}

// Connect drives the FSM until connected or terminally failed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateConnecting
	c.attempts = 0
	c.mu.Unlock()

	return c.connectLoop(ctx)
}

// connectLoop is the retry engine shared by Connect and reconnect. Each
// failed attempt counts against the cap; hitting the cap is terminal.
func (c *Client) connectLoop(ctx context.Context) error {
	delay := c.cfg.RetryDelay
	for {
		select {
		case <-c.closed:
			return ErrClosed
		default:
		}

		err := c.dial(ctx)
		if err == nil {
			return nil
		}

		c.mu.Lock()
		c.attempts++
		attempts := c.attempts
		if attempts >= c.cfg.MaxAttempts {
			c.state = StateFailed
			c.mu.Unlock()
			c.log.Error().Err(err).Int("attempts", attempts).Msg("giving up on connection")
			return fmt.Errorf("%w: %s", ErrRetriesExhausted, err)
		}
		c.state = StateRetrying
		c.mu.Unlock()

		c.log.Warn().Err(err).Int("attempt", attempts).Dur("delay", delay).Msg("connect failed, retrying")

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			c.mu.Lock()
			c.state = StateFailed
			c.mu.Unlock()
			return ctx.Err()
		case <-c.closed:
			t.Stop()
			return ErrClosed
		}
		delay = time.Duration(float64(delay) * c.cfg.BackoffFactor)
	}
}

// dial performs a single connection attempt: websocket dial, hello, and on
// success a read loop plus resubscription to the remembered room set.
func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	helloID := utils.NewID()
	payload, _ := json.Marshal(proto.HelloData{Token: c.cfg.Token, Protocol: proto.ProtocolVersion})
	if err := wsjson.Write(ctx, conn, proto.Inbound{ID: helloID, Type: proto.InboundTypeHello, Data: payload}); err != nil {
		conn.Close(websocket.StatusInternalError, "hello failed")
		return fmt.Errorf("write hello: %w", err)
	}

	var raw proto.Raw
	if err := wsjson.Read(ctx, conn, &raw); err != nil {
		conn.Close(websocket.StatusInternalError, "hello failed")
		return fmt.Errorf("read hello ack: %w", err)
	}
	if raw.Type != proto.OutboundTypeAck || raw.ID != helloID {
		conn.Close(websocket.StatusPolicyViolation, "admission refused")
		if raw.Error != nil {
			return fmt.Errorf("admission refused: %s", raw.Error.Code)
		}
		return errors.New("admission refused")
	}
	var ack proto.HelloAck
	if err := json.Unmarshal(raw.Data, &ack); err != nil {
		conn.Close(websocket.StatusInternalError, "bad hello ack")
		return fmt.Errorf("decode hello ack: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connID = ack.ConnID
	c.state = StateConnected
	c.attempts = 0
	rooms := make(map[string]string, len(c.rooms))
	for name, secret := range c.rooms {
		rooms[name] = secret
	}
	c.mu.Unlock()

	c.log.Info().Str("conn_id", ack.ConnID).Msg("connected")

	go c.readLoop(conn)

	// the server does not replay missed events; re-join and take the
	// backfill instead
	for name, secret := range rooms {
		if _, err := c.Join(ctx, name, secret); err != nil {
			c.log.Warn().Err(err).Str("room", name).Msg("resubscribe failed")
		}
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var raw proto.Raw
		if err := wsjson.Read(context.Background(), conn, &raw); err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		if raw.ID != "" && (raw.Type == proto.OutboundTypeAck || raw.Type == proto.OutboundTypeError) {
			c.mu.Lock()
			ch, ok := c.pending[raw.ID]
			if ok {
				delete(c.pending, raw.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- raw
				continue
			}
		}

		select {
		case c.events <- raw:
		case <-c.closed:
			return
		default:
			// the caller is not draining; drop rather than stall the reads
			c.log.Warn().Str("event", raw.Event).Msg("event buffer full, dropping")
		}
	}
}

// handleDisconnect flushes pending requests and starts the bounded
// reconnect cycle, unless the loss was a deliberate Close.
func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// a newer connection took over already
		c.mu.Unlock()
		return
	}
	c.conn = nil
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	closed := c.state == StateClosed
	if !closed {
		c.state = StateRetrying
	}
	c.mu.Unlock()

	if closed {
		return
	}
	c.log.Warn().Err(cause).Msg("connection lost, reconnecting")
	if err := c.connectLoop(context.Background()); err != nil {
		select {
		case c.events <- proto.Raw{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: "connection_failed", Msg: err.Error()},
		}:
		default:
		}
	}
}

// request performs one correlated request/ack round trip.
func (c *Client) request(ctx context.Context, typ string, data any) (proto.Raw, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return proto.Raw{}, err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return proto.Raw{}, ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return proto.Raw{}, errors.New("not connected")
	}
	id := utils.NewID()
	ch := make(chan proto.Raw, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := wsjson.Write(ctx, conn, proto.Inbound{ID: id, Type: typ, Data: payload}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return proto.Raw{}, err
	}

	select {
	case raw, ok := <-ch:
		if !ok {
			return proto.Raw{}, errors.New("connection lost before ack")
		}
		if raw.Type == proto.OutboundTypeError {
			if raw.Error != nil {
				return raw, fmt.Errorf("%s: %s", raw.Error.Code, raw.Error.Msg)
			}
			return raw, errors.New("request failed")
		}
		return raw, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return proto.Raw{}, ctx.Err()
	case <-c.closed:
		return proto.Raw{}, ErrClosed
	}
}

// Join subscribes to a room and remembers it for resubscription after a
// reconnect. Returns the room's active-user set.
func (c *Client) Join(ctx context.Context, room, secret string) ([]string, error) {
	raw, err := c.request(ctx, proto.InboundTypeJoin, proto.JoinData{Room: room, Secret: secret})
	if err != nil {
		return nil, err
	}
	var ack proto.JoinAck
	if err := json.Unmarshal(raw.Data, &ack); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.rooms[ack.Room] = secret
	c.mu.Unlock()
	return ack.Users, nil
}

// Leave unsubscribes from a room and forgets it.
func (c *Client) Leave(ctx context.Context, room string) error {
	_, err := c.request(ctx, proto.InboundTypeLeave, proto.LeaveData{Room: room})
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.rooms, core.NormalizeRoomName(room))
	c.mu.Unlock()
	return nil
}

// Send delivers a message to a room and returns the acknowledged id.
func (c *Client) Send(ctx context.Context, room, text string) (int64, error) {
	raw, err := c.request(ctx, proto.InboundTypeMsg, proto.MsgData{Room: room, Text: text})
	if err != nil {
		return 0, err
	}
	var ack proto.MsgAck
	if err := json.Unmarshal(raw.Data, &ack); err != nil {
		return 0, err
	}
	return ack.MessageID, nil
}

// Delete requests deletion of a message. Mode is "self" or "everyone". The
// bool result reports the idempotent already-deleted case.
func (c *Client) Delete(ctx context.Context, messageID int64, mode string) (bool, error) {
	raw, err := c.request(ctx, proto.InboundTypeDelete, proto.DeleteData{MessageID: messageID, Mode: mode})
	if err != nil {
		return false, err
	}
	var ack proto.DeleteAck
	if err := json.Unmarshal(raw.Data, &ack); err != nil {
		return false, err
	}
	return ack.AlreadyDeleted, nil
}

// MarkRead records that this identity has read a message.
func (c *Client) MarkRead(ctx context.Context, messageID int64) error {
	_, err := c.request(ctx, proto.InboundTypeMarkRead, proto.MarkReadData{MessageID: messageID})
	return err
}

// Close tears the client down for good. No reconnection follows.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	close(c.closed)
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "bye")
	}
	return nil
}
