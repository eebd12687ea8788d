// Package manager supervises the fleet of server connections: lifecycle,
// health records, the staleness sweep, the reconnect policy, and the
// cross-connection query surface.
package manager

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wdc-gp/gustlink"
	"github.com/wdc-gp/gustlink/internal/classify"
	"github.com/wdc-gp/gustlink/internal/gpws"
)

// link is the slice of a connection the manager drives. *gpws.Connection
// satisfies it; tests substitute fakes.
type link interface {
	Connect(ctx context.Context) error
	Listen(ctx context.Context) error
	Disconnect(ctx context.Context)
	Events() <-chan gpws.Event
	Streams() []string
	RecentMessages(limit int, category gustlink.Category) []gustlink.Message
	SensorSnapshot() (gustlink.SensorSnapshot, bool)
	ConfigSnapshot() (gustlink.ConfigSnapshot, bool)
}

// dialFunc builds a fresh link for one server. A new link is created for
// every reconnect attempt; links are single-use.
type dialFunc func(serverID int, region gustlink.Region, token string) link

// Config tunes the manager. Zero fields fall back to one consistent set of
// defaults; every threshold the reconnect and staleness policies depend on
// lives here.
type Config struct {
	Endpoint         string
	HandshakeTimeout time.Duration
	AckTimeout       time.Duration
	RecvTimeout      time.Duration
	WriteTimeout     time.Duration
	BufferCapacity   int
	EventBuffer      int

	SweepInterval   time.Duration // health sweep period
	StaleThreshold  time.Duration // silence before force-removal
	DisconnectGrace time.Duration // bound on graceful teardown

	BackoffBase time.Duration // first reconnect delay
	BackoffCap  time.Duration // delay ceiling
	MaxAttempts int           // consecutive failures before Failed
}

func (c *Config) normalize() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = 500
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 120 * time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 120 * time.Second
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = 5 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

// entry pairs a live link with its health record.
type entry struct {
	handle   string
	serverID int
	region   gustlink.Region
	token    string

	cancel context.CancelFunc
	done   chan struct{}

	// link is replaced on every reconnect attempt; guarded by Manager.mu.
	link   link
	health health
}

// Manager owns every connection and its health record. It implements
// gustlink.Manager.
type Manager struct {
	cfg        Config
	log        *logrus.Entry
	classifier *classify.Classifier
	sink       gustlink.MessageSink
	dial       dialFunc
	now        func() time.Time

	mu     sync.Mutex
	conns  map[int]*entry
	closed bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// Option customizes a Manager at construction.
type Option func(*Manager)

// WithSink attaches a sink receiving every classified console message.
func WithSink(sink gustlink.MessageSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithClassifier overrides the default console classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(m *Manager) { m.classifier = c }
}

// withDial replaces the connection factory, for tests.
func withDial(d dialFunc) Option {
	return func(m *Manager) { m.dial = d }
}

// withClock replaces the clock, for tests.
func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New constructs a manager and starts its health sweep.
func New(cfg Config, logger *logrus.Entry, opts ...Option) *Manager {
	cfg.normalize()
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		log:        logger.WithField("component", "manager"),
		classifier: classify.New(nil),
		now:        time.Now,
		conns:      make(map[int]*entry),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
	for _, o := range opts {
		o(m)
	}
	if m.dial == nil {
		m.dial = func(serverID int, region gustlink.Region, token string) link {
			return gpws.New(serverID, region, token, gpws.Options{
				Endpoint:         cfg.Endpoint,
				HandshakeTimeout: cfg.HandshakeTimeout,
				AckTimeout:       cfg.AckTimeout,
				RecvTimeout:      cfg.RecvTimeout,
				WriteTimeout:     cfg.WriteTimeout,
				BufferCapacity:   cfg.BufferCapacity,
				EventBuffer:      cfg.EventBuffer,
				Logger:           logger,
				Classifier:       m.classifier,
			})
		}
	}

	m.wg.Add(1)
	go m.sweepLoop()

	return m
}

// AddConnection validates input, tears down any existing connection for the
// id, registers a fresh one and starts supervising it. No network I/O
// happens before validation passes.
func (m *Manager) AddConnection(ctx context.Context, serverID int, region gustlink.Region, cred gustlink.Credential) (string, error) {
	if serverID <= 0 {
		return "", gustlink.ErrInvalidServerID
	}
	if _, err := gustlink.ParseRegion(string(region)); err != nil {
		return "", err
	}
	if err := cred.Validate(m.now()); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", gustlink.ErrManagerClosed
	}

	if old, ok := m.conns[serverID]; ok {
		m.log.WithField("server_id", serverID).Info("replacing existing connection")
		m.teardownLocked(old)
		delete(m.conns, serverID)
	}

	e := &entry{
		handle:   uuid.NewString(),
		serverID: serverID,
		region:   region,
		token:    cred.Token,
		done:     make(chan struct{}),
		link:     m.dial(serverID, region, cred.Token),
		health: health{
			region:        region,
			lastMessageAt: m.now(),
		},
	}

	superviseCtx, cancel := context.WithCancel(m.rootCtx)
	e.cancel = cancel
	m.conns[serverID] = e
	m.mu.Unlock()

	m.wg.Add(1)
	go m.supervise(superviseCtx, e)

	m.log.WithFields(logrus.Fields{"server_id": serverID, "region": region, "handle": e.handle}).Info("connection registered")
	return e.handle, nil
}

// RemoveConnection tears down serverID's connection and deletes its health
// record. Unknown ids are a logged no-op.
func (m *Manager) RemoveConnection(serverID int) {
	m.mu.Lock()
	e, ok := m.conns[serverID]
	if ok {
		delete(m.conns, serverID)
		m.teardownLocked(e)
	}
	m.mu.Unlock()

	if !ok {
		m.log.WithField("server_id", serverID).Debug("remove of unknown connection ignored")
		return
	}
	m.log.WithField("server_id", serverID).Info("connection removed")
}

// teardownLocked cancels supervision and closes the transport without
// blocking the caller: a hung close detaches after the grace period instead
// of stalling the manager.
func (m *Manager) teardownLocked(e *entry) {
	e.cancel()
	l := e.link
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DisconnectGrace)
		defer cancel()
		l.Disconnect(ctx)
	}()
}

// Status returns a health snapshot per registered server. It never touches
// the network.
func (m *Manager) Status() map[int]gustlink.HealthView {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int]gustlink.HealthView, len(m.conns))
	for id, e := range m.conns {
		v := e.health.view(now, m.cfg.StaleThreshold)
		v.Streams = e.link.Streams()
		out[id] = v
	}
	return out
}

// Messages returns up to limit recent messages, oldest first. serverID <= 0
// merges every connection's buffer and re-sorts by timestamp.
func (m *Manager) Messages(serverID int, limit int, category gustlink.Category) []gustlink.Message {
	if limit <= 0 {
		return nil
	}

	m.mu.Lock()
	var links []link
	if serverID > 0 {
		if e, ok := m.conns[serverID]; ok {
			links = append(links, e.link)
		}
	} else {
		for _, e := range m.conns {
			links = append(links, e.link)
		}
	}
	m.mu.Unlock()

	if len(links) == 0 {
		return nil
	}
	if len(links) == 1 {
		return links[0].RecentMessages(limit, category)
	}

	var merged []gustlink.Message
	for _, l := range links {
		merged = append(merged, l.RecentMessages(limit, category)...)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

// Sensor returns the latest sensor snapshot for serverID.
func (m *Manager) Sensor(serverID int) (gustlink.SensorSnapshot, bool) {
	m.mu.Lock()
	e, ok := m.conns[serverID]
	m.mu.Unlock()
	if !ok {
		return gustlink.SensorSnapshot{}, false
	}
	return e.link.SensorSnapshot()
}

// Config returns the latest config snapshot for serverID.
func (m *Manager) Config(serverID int) (gustlink.ConfigSnapshot, bool) {
	m.mu.Lock()
	e, ok := m.conns[serverID]
	m.mu.Unlock()
	if !ok {
		return gustlink.ConfigSnapshot{}, false
	}
	return e.link.ConfigSnapshot()
}

// Close tears everything down and waits for supervision goroutines, bounded
// by ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.conns))
	for _, e := range m.conns {
		entries = append(entries, e)
	}
	m.conns = make(map[int]*entry)
	for _, e := range entries {
		m.teardownLocked(e)
	}
	m.mu.Unlock()

	m.rootCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("manager stopped")
		return nil
	case <-ctx.Done():
		m.log.Warn("shutdown grace expired, detaching")
		return ctx.Err()
	}
}

// supervise runs one connection's connect/listen cycle and applies the
// reconnect policy: exponential backoff, capped delay, bounded consecutive
// failures, and no retry at all on auth rejection.
func (m *Manager) supervise(ctx context.Context, e *entry) {
	defer m.wg.Done()
	defer close(e.done)

	log := m.log.WithFields(logrus.Fields{"server_id": e.serverID, "region": e.region})

	failures := 0
	backoff := m.cfg.BackoffBase

	for {
		l := m.currentLink(e)
		err := l.Connect(ctx)
		if err == nil {
			failures = 0
			backoff = m.cfg.BackoffBase
			m.setConnected(e, true)

			drainCtx, drainCancel := context.WithCancel(ctx)
			m.wg.Add(1)
			go m.drain(drainCtx, e, l)

			lerr := l.Listen(ctx)
			drainCancel()
			m.setConnected(e, false)

			if lerr == nil || ctx.Err() != nil {
				// Deliberate disconnect or removal.
				return
			}
			log.WithError(lerr).Warn("listen terminated unexpectedly")
		} else {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, gustlink.ErrAuthRejected) {
				// Retrying with a known-bad token is pointless.
				log.WithError(err).Error("authentication rejected, giving up")
				m.markFailed(e)
				return
			}
			log.WithError(err).Warn("connect failed")
		}

		failures++
		if failures >= m.cfg.MaxAttempts {
			log.WithField("failures", failures).Error("reconnect attempts exhausted")
			m.markFailed(e)
			return
		}

		m.bumpReconnect(e)
		log.WithFields(logrus.Fields{"backoff": backoff, "failures": failures}).Info("scheduling reconnect")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > m.cfg.BackoffCap {
			backoff = m.cfg.BackoffCap
		}

		// Links are single-use; build a fresh one for the next attempt.
		fresh := m.dial(e.serverID, e.region, e.token)
		m.mu.Lock()
		e.link = fresh
		m.mu.Unlock()
	}
}

// drain pumps one link's events into the health record and the optional
// message sink. It exits when the link's listen cycle ends.
func (m *Manager) drain(ctx context.Context, e *entry, l link) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.Events():
			m.mu.Lock()
			e.health.lastMessageAt = ev.At
			if ev.Msg != nil {
				e.health.messageCount++
			}
			m.mu.Unlock()

			if m.sink != nil && ev.Msg != nil {
				if err := m.sink.Publish(ctx, *ev.Msg); err != nil {
					m.log.WithError(err).WithField("server_id", e.serverID).Warn("sink publish failed")
				}
			}
		}
	}
}

// sweepLoop periodically force-removes connections that have gone silent
// past the stale threshold, bounding resource growth from zombie sockets.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.rootCtx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := m.now()

	m.mu.Lock()
	var stale []int
	for id, e := range m.conns {
		// Failed entries hold no transport; they stay visible until a
		// caller removes or replaces them.
		if e.health.failed {
			continue
		}
		if now.Sub(e.health.lastMessageAt) > m.cfg.StaleThreshold {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.log.WithField("server_id", id).Warn("health sweep removing stale connection")
		m.RemoveConnection(id)
	}
}

func (m *Manager) currentLink(e *entry) link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.link
}

func (m *Manager) setConnected(e *entry, connected bool) {
	m.mu.Lock()
	e.health.connected = connected
	if connected {
		e.health.lastMessageAt = m.now()
	}
	m.mu.Unlock()
}

func (m *Manager) markFailed(e *entry) {
	m.mu.Lock()
	e.health.failed = true
	e.health.connected = false
	m.mu.Unlock()
}

func (m *Manager) bumpReconnect(e *entry) {
	m.mu.Lock()
	e.health.reconnects++
	m.mu.Unlock()
}
