package manager

import (
	"time"

	"github.com/wdc-gp/gustlink"
)

// health is the mutable per-connection record. It is guarded by the
// manager's mutex; callers only ever see copies via view.
type health struct {
	connected     bool
	failed        bool
	region        gustlink.Region
	lastMessageAt time.Time
	messageCount  int64
	reconnects    int
}

// view derives the externally visible status from the raw record.
//
// failed and connecting are stored directly; warning and stale are derived
// from silence at read time so the status query never lags behind reality:
// silence beyond the stale threshold reads as stale, beyond half of it as
// warning.
func (h *health) view(now time.Time, staleThreshold time.Duration) gustlink.HealthView {
	v := gustlink.HealthView{
		Connected:      h.connected,
		Region:         h.region,
		LastMessageAt:  h.lastMessageAt,
		MessageCount:   h.messageCount,
		ReconnectCount: h.reconnects,
	}

	switch {
	case h.failed:
		v.Status = gustlink.StatusFailed
	case !h.connected:
		v.Status = gustlink.StatusConnecting
	case now.Sub(h.lastMessageAt) > staleThreshold:
		v.Status = gustlink.StatusStale
	case now.Sub(h.lastMessageAt) > staleThreshold/2:
		v.Status = gustlink.StatusWarning
	default:
		v.Status = gustlink.StatusActive
	}
	return v
}
