// Package sensors turns raw service telemetry into a health judgement.
//
// The bridge owns no state: it reads the latest snapshot through the
// manager's accessor and either grades it or reports it unavailable.
// Missing or stale telemetry is never papered over with invented numbers.
package sensors

import (
	"time"

	"github.com/wdc-gp/gustlink"
)

// Health percentage thresholds.
const (
	healthyFloor = 80.0
	warningFloor = 60.0
)

// Bridge grades sensor snapshots fetched from a SensorSource.
type Bridge struct {
	source gustlink.SensorSource
	maxAge time.Duration
	now    func() time.Time
}

// New builds a bridge reading through source. maxAge bounds how old a
// snapshot may be before it is reported unavailable; zero means 60s.
func New(source gustlink.SensorSource, maxAge time.Duration) *Bridge {
	if maxAge <= 0 {
		maxAge = 60 * time.Second
	}
	return &Bridge{source: source, maxAge: maxAge, now: time.Now}
}

// Health returns the graded health for serverID.
//
// If no snapshot exists, or the latest one is older than the freshness
// bound, the result is {Available: false} with no score attached.
func (b *Bridge) Health(serverID int) gustlink.HealthResult {
	snap, ok := b.source.Sensor(serverID)
	if !ok || !snap.Fresh(b.now(), b.maxAge) {
		return gustlink.HealthResult{Available: false}
	}

	pct := Score(snap)
	return gustlink.HealthResult{
		Available:  true,
		Percentage: pct,
		Status:     grade(pct),
		Metrics:    &snap,
	}
}

// Score computes the health percentage for a snapshot:
//
//	0.4*(100-cpu) + 0.4*(100-mem%) + 0.2*min(100, 50+2*uptimeHours)
//
// CPU and memory headroom dominate; the uptime term rewards servers that
// have been up a while without letting a month of uptime mask a pegged CPU.
// The result is clamped to [0, 100].
func Score(s gustlink.SensorSnapshot) float64 {
	uptimeHours := float64(s.UptimeSeconds) / 3600.0
	uptimeBonus := 50.0 + 2.0*uptimeHours
	if uptimeBonus > 100.0 {
		uptimeBonus = 100.0
	}

	pct := 0.4*(100.0-s.CPUPercent) + 0.4*(100.0-s.MemoryPercent) + 0.2*uptimeBonus
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func grade(pct float64) gustlink.SensorStatus {
	switch {
	case pct >= healthyFloor:
		return gustlink.SensorHealthy
	case pct >= warningFloor:
		return gustlink.SensorWarning
	}
	return gustlink.SensorCritical
}
