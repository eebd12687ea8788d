// Package gpws implements the per-server subscription connection to the
// G-Portal WebSocket endpoint: handshake, the three stream subscriptions,
// the receive loop with keepalive, and the bounded message buffer.
package gpws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/wdc-gp/gustlink"
	"github.com/wdc-gp/gustlink/internal/classify"
	"github.com/wdc-gp/gustlink/internal/protocol"
)

// State is the connection lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingAck
	StateSubscribing
	StateActive
	StateReconnecting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Subscription operation ids. The protocol scopes ids per socket, so fixed
// names are enough and make inbound routing trivial.
const (
	opConsole = "console"
	opSensors = "sensors"
	opConfig  = "config"
)

// Event is published to the supervising manager for every inbound data
// frame. Msg is nil for sensor/config activity that carries no console text.
type Event struct {
	At  time.Time
	Msg *gustlink.Message
}

// Options configures a Connection. Zero fields fall back to defaults.
type Options struct {
	Endpoint         string
	HandshakeTimeout time.Duration
	AckTimeout       time.Duration
	RecvTimeout      time.Duration
	WriteTimeout     time.Duration
	BufferCapacity   int
	EventBuffer      int

	Logger     *logrus.Entry
	Classifier *classify.Classifier

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (o *Options) normalize() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 30 * time.Second
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = 10 * time.Second
	}
	if o.RecvTimeout <= 0 {
		o.RecvTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = 500
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.New())
	}
	if o.Classifier == nil {
		o.Classifier = classify.New(nil)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Connection is one live subscription link to a single server.
//
// A Connection never reconnects itself; on any transport failure Listen
// returns and the manager decides whether to retry. That keeps the backoff
// policy in exactly one place.
type Connection struct {
	serverID int
	region   gustlink.Region
	token    string

	opts       Options
	log        *logrus.Entry
	classifier *classify.Classifier
	now        func() time.Time

	state atomic.Int32

	mu     sync.RWMutex
	conn   *websocket.Conn
	buf    *ring
	subs   map[string]struct{}
	sensor *gustlink.SensorSnapshot
	config *gustlink.ConfigSnapshot
	closed bool

	events  chan Event
	dropped atomic.Int64
}

// New creates an idle connection for one server. Connect must be called
// before Listen.
func New(serverID int, region gustlink.Region, token string, opts Options) *Connection {
	opts.normalize()
	return &Connection{
		serverID:   serverID,
		region:     region,
		token:      token,
		opts:       opts,
		log:        opts.Logger.WithFields(logrus.Fields{"server_id": serverID, "region": region}),
		classifier: opts.Classifier,
		now:        opts.Now,
		buf:        newRing(opts.BufferCapacity),
		subs:       make(map[string]struct{}),
		events:     make(chan Event, opts.EventBuffer),
	}
}

// ServerID returns the server this connection is linked to.
func (c *Connection) ServerID() int { return c.serverID }

// Region returns the server's hosting region.
func (c *Connection) Region() gustlink.Region { return c.region }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.log.WithFields(logrus.Fields{"from": old.String(), "to": s.String()}).Debug("connection state change")
	}
}

// Events returns the bounded channel the receive loop publishes into.
// The channel is never closed; readers should stop on their own context.
func (c *Connection) Events() <-chan Event { return c.events }

// Streams returns the subscription ids that were successfully established,
// for partial-capability reporting.
func (c *Connection) Streams() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for id := range c.subs {
		out = append(out, id)
	}
	return out
}

// Connect performs the full dial + init/ack handshake + subscribe sequence.
//
// On auth rejection the returned error wraps gustlink.ErrAuthRejected and
// the manager must not retry. Timeouts wrap ErrHandshakeTimeout or
// ErrAckTimeout and are retryable. Partial subscription failure is logged
// but not fatal; only losing all three streams fails the connect.
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
		Subprotocols:     []string{"graphql-ws"},
	}
	conn, resp, err := dialer.DialContext(ctx, c.opts.Endpoint, nil)
	if err != nil {
		c.setState(StateFailed)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("dial %s: %w", c.opts.Endpoint, gustlink.ErrAuthRejected)
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("dial %s: %w", c.opts.Endpoint, gustlink.ErrHandshakeTimeout)
		}
		return fmt.Errorf("dial %s: %w", c.opts.Endpoint, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		c.setState(StateClosed)
		return gustlink.ErrTransportClosed
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.handshake(conn); err != nil {
		conn.Close()
		c.setState(StateFailed)
		return err
	}

	c.setState(StateSubscribing)
	if err := c.subscribeAll(conn); err != nil {
		conn.Close()
		c.setState(StateFailed)
		return err
	}

	c.setState(StateActive)
	c.log.WithField("streams", c.Streams()).Info("connection active")
	return nil
}

// handshake sends connection_init and waits for the ack.
func (c *Connection) handshake(conn *websocket.Conn) error {
	init, err := protocol.EncodeInit(c.token)
	if err != nil {
		return fmt.Errorf("encode init: %w", err)
	}

	conn.SetWriteDeadline(c.now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, init); err != nil {
		return fmt.Errorf("send init: %v: %w", err, gustlink.ErrTransportClosed)
	}

	c.setState(StateAwaitingAck)
	deadline := c.now().Add(c.opts.AckTimeout)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return gustlink.ErrAckTimeout
			}
			return fmt.Errorf("await ack: %v: %w", err, gustlink.ErrTransportClosed)
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			c.log.WithError(err).Warn("skipping malformed frame during handshake")
			continue
		}

		switch frame.Type {
		case protocol.TypeConnectionAck:
			return nil
		case protocol.TypeConnectionError:
			return fmt.Errorf("%w: %s", gustlink.ErrAuthRejected, string(frame.Payload))
		case protocol.TypeKeepAlive:
			// Some gateways ka before acking.
		default:
			c.log.WithField("type", frame.Type).Debug("unexpected frame before ack")
		}
	}
}

// subscribeAll issues the three start frames. Each failure is logged;
// only losing every stream aborts the connect.
func (c *Connection) subscribeAll(conn *websocket.Conn) error {
	starts := []struct {
		id   string
		kind protocol.QueryKind
	}{
		{opConsole, protocol.QueryConsole},
		{opSensors, protocol.QuerySensors},
		{opConfig, protocol.QueryConfig},
	}

	established := 0
	for _, s := range starts {
		data, err := protocol.EncodeStart(s.id, c.serverID, string(c.region), s.kind)
		if err != nil {
			c.log.WithError(err).WithField("stream", s.id).Warn("subscription skipped")
			continue
		}
		conn.SetWriteDeadline(c.now().Add(c.opts.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.log.WithError(err).WithField("stream", s.id).Warn("subscription start failed")
			continue
		}
		c.mu.Lock()
		c.subs[s.id] = struct{}{}
		c.mu.Unlock()
		established++
	}

	if established == 0 {
		return fmt.Errorf("all subscriptions failed: %w", gustlink.ErrTransportClosed)
	}
	if established < len(starts) {
		c.log.WithField("established", established).Warn("connection running with partial streams")
	}
	return nil
}

// Listen runs the receive loop until the connection closes or errors.
//
// A quiet stream is not a failure: when no frame arrives within the recv
// timeout a ping is sent and the loop continues. A caller-initiated
// Disconnect ends the loop with a nil error; any other transport error
// returns wrapped ErrTransportClosed and leaves the state Failed.
func (c *Connection) Listen(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return gustlink.ErrTransportClosed
	}

	for {
		select {
		case <-ctx.Done():
			c.setState(StateClosed)
			return nil
		default:
		}

		conn.SetReadDeadline(c.now().Add(c.opts.RecvTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Keep the link warm instead of treating silence as death.
				pingDeadline := c.now().Add(c.opts.WriteTimeout)
				if perr := conn.WriteControl(websocket.PingMessage, nil, pingDeadline); perr != nil {
					c.setState(StateFailed)
					return fmt.Errorf("keepalive ping: %v: %w", perr, gustlink.ErrTransportClosed)
				}
				continue
			}
			if c.isClosed() {
				c.setState(StateClosed)
				return nil
			}
			c.setState(StateFailed)
			return fmt.Errorf("read: %v: %w", err, gustlink.ErrTransportClosed)
		}

		c.handleFrame(data)
	}
}

func (c *Connection) handleFrame(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		c.log.WithError(err).Warn("skipping malformed frame")
		return
	}

	switch frame.Type {
	case protocol.TypeKeepAlive:
		// ka frames do not refresh activity; a zombie socket that only
		// keepalives must still trip the staleness sweep.
	case protocol.TypeData:
		c.handleData(frame)
	case protocol.TypeError:
		c.log.WithFields(logrus.Fields{"stream": frame.ID, "payload": string(frame.Payload)}).Warn("subscription error frame")
	case protocol.TypeComplete:
		c.log.WithField("stream", frame.ID).Info("subscription completed by server")
		c.mu.Lock()
		delete(c.subs, frame.ID)
		c.mu.Unlock()
	case protocol.TypeConnectionError:
		c.log.WithField("payload", string(frame.Payload)).Warn("connection error frame")
	default:
		c.log.WithField("type", frame.Type).Debug("ignoring unknown frame type")
	}
}

func (c *Connection) handleData(frame protocol.Frame) {
	now := c.now()

	switch frame.ID {
	case opConsole:
		p, err := protocol.ParseConsolePayload(frame.Payload)
		if err != nil {
			c.log.WithError(err).Warn("skipping malformed console payload")
			return
		}
		msg := gustlink.Message{
			Timestamp: now,
			ServerID:  c.serverID,
			Region:    c.region,
			Text:      p.Message,
			Stream:    p.Stream,
			Channel:   p.Channel,
			Category:  c.classifier.Classify(p.Message),
			Origin:    opConsole,
		}
		c.mu.Lock()
		c.buf.push(msg)
		c.mu.Unlock()
		c.publish(Event{At: now, Msg: &msg})

	case opSensors:
		p, err := protocol.ParseSensorPayload(frame.Payload)
		if err != nil {
			c.log.WithError(err).Warn("skipping malformed sensor payload")
			return
		}
		snap := gustlink.SensorSnapshot{
			CPUPercent:      p.CPU,
			CPUTotalPercent: p.CPUTotal,
			MemoryPercent:   p.MemoryPercent,
			MemoryUsedMB:    p.MemoryUsedMB,
			MemoryTotalMB:   p.MemoryTotalMB,
			UptimeSeconds:   p.UptimeSeconds,
			CapturedAt:      now,
		}
		c.mu.Lock()
		c.sensor = &snap
		c.mu.Unlock()
		c.publish(Event{At: now})

	case opConfig:
		p, err := protocol.ParseConfigPayload(frame.Payload)
		if err != nil {
			c.log.WithError(err).Warn("skipping malformed config payload")
			return
		}
		snap := gustlink.ConfigSnapshot{
			ServerState:     p.State,
			FSMState:        p.FSMState,
			IsTransitioning: p.IsTransitioning,
			IPAddress:       p.IPAddress,
			CapturedAt:      now,
		}
		c.mu.Lock()
		c.config = &snap
		c.mu.Unlock()
		c.publish(Event{At: now})

	default:
		c.log.WithField("stream", frame.ID).Debug("data frame for unknown subscription")
	}
}

// publish hands an event to the manager's drain without ever blocking the
// receive loop. Overflow drops the event and counts it.
func (c *Connection) publish(ev Event) {
	select {
	case c.events <- ev:
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			c.log.WithField("dropped", n).Warn("event buffer full, dropping")
		}
	}
}

// Disconnect performs a best-effort graceful stop: stop frames for every
// established subscription, a close frame, then the transport close.
// It is idempotent and bounded by the write timeout and ctx deadline.
func (c *Connection) Disconnect(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	subs := make([]string, 0, len(c.subs))
	for id := range c.subs {
		subs = append(subs, id)
	}
	c.mu.Unlock()

	if conn == nil {
		c.setState(StateClosed)
		return
	}

	deadline := c.now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for _, id := range subs {
		if data, err := protocol.EncodeStop(id); err == nil {
			conn.SetWriteDeadline(deadline)
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()
	c.setState(StateClosed)
	c.log.Debug("connection disconnected")
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// RecentMessages returns up to limit buffered messages, oldest first,
// optionally filtered by category. The result is always a copy.
func (c *Connection) RecentMessages(limit int, category gustlink.Category) []gustlink.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buf.recent(limit, category)
}

// SensorSnapshot returns the latest telemetry, if any frame ever arrived.
func (c *Connection) SensorSnapshot() (gustlink.SensorSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sensor == nil {
		return gustlink.SensorSnapshot{}, false
	}
	return *c.sensor, true
}

// SensorFresh reports whether sensor data exists and is younger than maxAge.
func (c *Connection) SensorFresh(maxAge time.Duration) bool {
	snap, ok := c.SensorSnapshot()
	if !ok {
		return false
	}
	return snap.Fresh(c.now(), maxAge)
}

// ConfigSnapshot returns the latest config context, if any frame ever arrived.
func (c *Connection) ConfigSnapshot() (gustlink.ConfigSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.config == nil {
		return gustlink.ConfigSnapshot{}, false
	}
	return *c.config, true
}
