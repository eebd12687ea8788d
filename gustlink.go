package gustlink

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Region identifies the G-Portal hosting region a server lives in.
type Region string

// Supported G-Portal regions.
const (
	RegionUS Region = "US"
	RegionEU Region = "EU"
	RegionAS Region = "AS"
	RegionAU Region = "AU"
)

// ParseRegion validates a region code and returns the canonical Region value.
//
// Returns ErrUnknownRegion for anything outside the supported set.
func ParseRegion(s string) (Region, error) {
	switch Region(s) {
	case RegionUS, RegionEU, RegionAS, RegionAU:
		return Region(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRegion, s)
}

// Credential carries the bearer token used to authenticate the subscription
// handshake. ExpiresAt is optional; the zero value means "no known expiry".
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Validate rejects empty or expired credentials. It performs no network I/O.
func (c Credential) Validate(now time.Time) error {
	if c.Token == "" {
		return ErrInvalidToken
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return fmt.Errorf("%w: expired at %s", ErrInvalidToken, c.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// Message is a single classified console event received from a server.
// Messages are immutable once created; callers always receive copies.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	ServerID  int       `json:"serverId"`
	Region    Region    `json:"region"`
	Text      string    `json:"text"`
	Stream    string    `json:"stream"`
	Channel   string    `json:"channel"`
	Category  Category  `json:"category"`
	Origin    string    `json:"origin"`
}

// SensorSnapshot is the latest service telemetry reported for a server.
// It is replaced wholesale on every inbound sensor frame.
type SensorSnapshot struct {
	CPUPercent      float64   `json:"cpuPercent"`
	CPUTotalPercent float64   `json:"cpuTotalPercent"`
	MemoryPercent   float64   `json:"memoryPercent"`
	MemoryUsedMB    int64     `json:"memoryUsedMB"`
	MemoryTotalMB   int64     `json:"memoryTotalMB"`
	UptimeSeconds   int64     `json:"uptimeSeconds"`
	CapturedAt      time.Time `json:"capturedAt"`
}

// Fresh reports whether the snapshot was captured less than maxAge ago.
func (s SensorSnapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.CapturedAt) < maxAge
}

// ConfigSnapshot is the latest service/config context reported for a server.
type ConfigSnapshot struct {
	ServerState     string    `json:"serverState"`
	FSMState        string    `json:"fsmState"`
	IsTransitioning bool      `json:"isTransitioning"`
	IPAddress       string    `json:"ipAddress"`
	CapturedAt      time.Time `json:"capturedAt"`
}

// HealthStatus is the manager-side judgement of a connection's liveness.
type HealthStatus string

const (
	StatusConnecting HealthStatus = "connecting"
	StatusActive     HealthStatus = "active"
	StatusWarning    HealthStatus = "warning"
	StatusStale      HealthStatus = "stale"
	StatusFailed     HealthStatus = "failed"
)

// HealthView is a read-only snapshot of one connection's health record.
// All fields are copies; mutating a HealthView has no effect on the manager.
type HealthView struct {
	Connected      bool         `json:"connected"`
	Status         HealthStatus `json:"status"`
	Region         Region       `json:"region"`
	LastMessageAt  time.Time    `json:"lastMessageAt"`
	MessageCount   int64        `json:"messageCount"`
	ReconnectCount int          `json:"reconnectCount"`

	// Streams lists the subscriptions actually established, so a connection
	// running with partial capability (e.g. sensors only) is visible here.
	Streams []string `json:"streams,omitempty"`
}

// SensorStatus grades a sensor health percentage.
type SensorStatus string

const (
	SensorHealthy  SensorStatus = "healthy"
	SensorWarning  SensorStatus = "warning"
	SensorCritical SensorStatus = "critical"
)

// HealthResult is the sensor bridge's answer for one server.
//
// When Available is false no fresh telemetry exists and every other field is
// zero — the bridge never fabricates plausible-looking numbers for missing
// data.
type HealthResult struct {
	Available  bool            `json:"available"`
	Percentage float64         `json:"healthPercentage,omitempty"`
	Status     SensorStatus    `json:"status,omitempty"`
	Metrics    *SensorSnapshot `json:"metrics,omitempty"`
}

// Manager supervises the set of live server connections.
//
// One Manager owns all connections, their health records and their reconnect
// policy. All methods are safe for concurrent use; query methods return
// snapshot copies and never block on network I/O.
//
// Example usage:
//
//	mon := monitor.New(monitor.LoadConfig(), logger)
//	mgr := mon.Manager()
//
//	handle, err := mgr.AddConnection(ctx, 1722255, gustlink.RegionUS, gustlink.Credential{Token: token})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	msgs := mgr.Messages(1722255, 50, gustlink.CategoryChat)
type Manager interface {
	// AddConnection registers and starts a connection for the given server.
	//
	// Input is validated synchronously: an empty/expired credential, a
	// non-positive server id or an unknown region is rejected immediately
	// without any network call. If a connection already exists for serverID
	// it is torn down first; at most one live connection per server id exists
	// at any time.
	//
	// The returned handle is an opaque identifier for this registration.
	AddConnection(ctx context.Context, serverID int, region Region, cred Credential) (string, error)

	// RemoveConnection tears down the connection for serverID and deletes its
	// health record. Removing an unknown id is a logged no-op; the call is
	// idempotent.
	RemoveConnection(serverID int)

	// Status returns a health snapshot for every registered connection,
	// keyed by server id.
	Status() map[int]HealthView

	// Messages returns up to limit recent messages, oldest first.
	//
	// With serverID > 0 it reads that connection's buffer; with serverID <= 0
	// it merges all buffers and re-sorts by timestamp. An empty category
	// disables filtering.
	Messages(serverID int, limit int, category Category) []Message

	// Sensor returns the latest sensor snapshot for serverID, if one has
	// ever been received.
	Sensor(serverID int) (SensorSnapshot, bool)

	// Config returns the latest config snapshot for serverID, if one has
	// ever been received.
	Config(serverID int) (ConfigSnapshot, bool)

	// Close disconnects everything and stops the health sweep. The context
	// bounds how long shutdown may take.
	Close(ctx context.Context) error
}

// SensorSource is the narrow read surface the sensor bridge needs.
// A Manager satisfies it; the bridge never holds a back-reference to
// anything wider.
type SensorSource interface {
	Sensor(serverID int) (SensorSnapshot, bool)
}

// MessageSink receives every classified console message the manager drains.
//
// Publish must be safe for concurrent use. A slow sink only delays the
// drain goroutine, never the per-connection receive loops.
type MessageSink interface {
	Publish(ctx context.Context, msg Message) error
}

// Sentinel errors returned across the public boundary.
var (
	// ErrInvalidToken rejects an empty or expired credential at the call
	// boundary, before any connection attempt.
	ErrInvalidToken = errors.New("invalid credential token")

	// ErrUnknownRegion rejects a region code outside US/EU/AS/AU.
	ErrUnknownRegion = errors.New("unknown region")

	// ErrInvalidServerID rejects non-positive server ids.
	ErrInvalidServerID = errors.New("server id must be positive")

	// ErrAuthRejected means the upstream refused the bearer token. It is
	// never retried; the caller must refresh credentials.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrHandshakeTimeout means the transport handshake did not finish in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrAckTimeout means connection_init was sent but no ack arrived in time.
	ErrAckTimeout = errors.New("connection ack timeout")

	// ErrTransportClosed means the socket closed unexpectedly mid-stream.
	ErrTransportClosed = errors.New("transport closed")

	// ErrConnectionNotFound means no connection is registered for the id.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrManagerClosed means the manager has been shut down.
	ErrManagerClosed = errors.New("manager closed")
)
