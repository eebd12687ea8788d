package gpws

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/wdc-gp/gustlink"
)

func contextWithShortTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Second)
}

func testConn(t *testing.T, now func() time.Time) *Connection {
	t.Helper()
	return New(1722255, gustlink.RegionUS, "validtoken123", Options{
		Endpoint:       "wss://example.invalid/ws",
		BufferCapacity: 8,
		EventBuffer:    4,
		Now:            now,
	})
}

func dataFrame(id, payload string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"data","payload":%s}`, id, payload))
}

// TestHandleConsoleFrame tests that console data frames are classified,
// buffered and published
func TestHandleConsoleFrame(t *testing.T) {
	t.Parallel()

	c := testConn(t, nil)
	c.handleFrame(dataFrame("console",
		`{"data":{"consoleMessages":{"stream":"v2","channel":"server","message":"Player123 connected"}}}`))

	msgs := c.RecentMessages(10, "")
	if len(msgs) != 1 {
		t.Fatalf("buffered %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Text != "Player123 connected" {
		t.Errorf("text = %q, want %q", m.Text, "Player123 connected")
	}
	if m.Category != gustlink.CategoryPlayer {
		t.Errorf("category = %q, want %q", m.Category, gustlink.CategoryPlayer)
	}
	if m.ServerID != 1722255 || m.Region != gustlink.RegionUS {
		t.Errorf("identity = %d/%s, want 1722255/US", m.ServerID, m.Region)
	}

	select {
	case ev := <-c.Events():
		if ev.Msg == nil || ev.Msg.Text != "Player123 connected" {
			t.Errorf("event message = %+v, want the console message", ev.Msg)
		}
	default:
		t.Error("no event published for console frame")
	}
}

// TestHandleSensorFrame tests sensor snapshot replacement and activity events
func TestHandleSensorFrame(t *testing.T) {
	t.Parallel()

	c := testConn(t, nil)

	if _, ok := c.SensorSnapshot(); ok {
		t.Fatal("fresh connection should have no sensor snapshot")
	}

	c.handleFrame(dataFrame("sensors",
		`{"data":{"serviceSensors":{"cpu":10,"cpuTotal":40,"memory":{"percent":50,"used":4096,"total":8192},"uptime":7200}}}`))

	snap, ok := c.SensorSnapshot()
	if !ok {
		t.Fatal("no sensor snapshot after sensor frame")
	}
	if snap.CPUPercent != 10 || snap.MemoryPercent != 50 || snap.UptimeSeconds != 7200 {
		t.Errorf("snapshot = %+v", snap)
	}

	// Last-wins replacement.
	c.handleFrame(dataFrame("sensors",
		`{"data":{"serviceSensors":{"cpu":99,"cpuTotal":99,"memory":{"percent":90,"used":7000,"total":8192},"uptime":7260}}}`))
	snap, _ = c.SensorSnapshot()
	if snap.CPUPercent != 99 {
		t.Errorf("cpu after replacement = %v, want 99", snap.CPUPercent)
	}

	select {
	case ev := <-c.Events():
		if ev.Msg != nil {
			t.Error("sensor event should carry no console message")
		}
	default:
		t.Error("no event published for sensor frame")
	}
}

// TestHandleConfigFrame tests config snapshot capture
func TestHandleConfigFrame(t *testing.T) {
	t.Parallel()

	c := testConn(t, nil)
	c.handleFrame(dataFrame("config",
		`{"data":{"ctx":{"state":{"state":"STARTED","fsmState":"okay","fsmIsTransitioning":true,"ipAddress":"203.0.113.9"}}}}`))

	snap, ok := c.ConfigSnapshot()
	if !ok {
		t.Fatal("no config snapshot after config frame")
	}
	if snap.ServerState != "STARTED" || !snap.IsTransitioning || snap.IPAddress != "203.0.113.9" {
		t.Errorf("snapshot = %+v", snap)
	}
}

// TestHandleMalformedFrames tests that garbage never reaches the buffer
func TestHandleMalformedFrames(t *testing.T) {
	t.Parallel()

	c := testConn(t, nil)

	c.handleFrame([]byte(`{not json`))
	c.handleFrame([]byte(`{"id":"console","type":"data","payload":"not an object"}`))
	c.handleFrame(dataFrame("nosuchstream", `{"data":{}}`))
	c.handleFrame([]byte(`{"type":"ka"}`))

	if msgs := c.RecentMessages(10, ""); len(msgs) != 0 {
		t.Errorf("buffered %d messages from malformed input, want 0", len(msgs))
	}
	select {
	case ev := <-c.Events():
		t.Errorf("unexpected event %+v from malformed input", ev)
	default:
	}
}

// TestSensorFreshness tests the boundary behavior of SensorFresh
func TestSensorFreshness(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	c := testConn(t, func() time.Time { return current })

	const maxAge = 60 * time.Second

	// No data at all: never fresh.
	if c.SensorFresh(maxAge) {
		t.Error("fresh with no sensor data")
	}

	c.handleFrame(dataFrame("sensors",
		`{"data":{"serviceSensors":{"cpu":1,"cpuTotal":1,"memory":{"percent":1,"used":1,"total":2},"uptime":1}}}`))

	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"immediately", 0, true},
		{"one second under", maxAge - time.Second, true},
		{"one second over", maxAge + time.Second, false},
		{"exactly at max age", maxAge, false},
	}

	for _, tt := range tests {
		current = base.Add(tt.elapsed)
		if got := c.SensorFresh(maxAge); got != tt.want {
			t.Errorf("%s: SensorFresh = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// TestEventOverflowDropsNotBlocks tests the bounded channel never blocks
// the receive path
func TestEventOverflowDropsNotBlocks(t *testing.T) {
	t.Parallel()

	c := testConn(t, nil) // EventBuffer = 4

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			c.handleFrame(dataFrame("console",
				fmt.Sprintf(`{"data":{"consoleMessages":{"stream":"v2","channel":"server","message":"line %d"}}}`, i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("receive path blocked on full event buffer")
	}

	if n := c.dropped.Load(); n != 46 {
		t.Errorf("dropped = %d, want 46", n)
	}
	// The buffer itself is unaffected by event drops (capacity 8 here).
	if msgs := c.RecentMessages(100, ""); len(msgs) != 8 {
		t.Errorf("buffered %d messages, want ring capacity 8", len(msgs))
	}
}

// TestConnectionStateString tests state names used in logs and status
func TestConnectionStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateAwaitingAck, "awaiting_ack"},
		{StateSubscribing, "subscribing"},
		{StateActive, "active"},
		{StateReconnecting, "reconnecting"},
		{StateClosed, "closed"},
		{StateFailed, "failed"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}

	if got := State(99).String(); got != "State(99)" {
		t.Errorf("unknown state string = %q", got)
	}
}

// TestDisconnectIdempotent tests Disconnect is safe before connect and twice
func TestDisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c := testConn(t, nil)
	ctx, cancel := contextWithShortTimeout()
	defer cancel()

	c.Disconnect(ctx)
	if c.State() != StateClosed {
		t.Errorf("state after disconnect = %s, want closed", c.State())
	}
	c.Disconnect(ctx) // second call is a no-op
	if c.State() != StateClosed {
		t.Errorf("state after second disconnect = %s, want closed", c.State())
	}
}
