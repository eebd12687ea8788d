// Package gustlink provides a realtime connection layer for Rust game servers
// hosted on G-Portal.
//
// The package keeps one WebSocket connection per server against G-Portal's
// GraphQL subscription endpoint, using the graphql-ws protocol. Each
// connection subscribes to console output, service sensors and configuration
// state, classifies every console line into a category and keeps a bounded
// history in memory. A manager supervises all connections, reconnecting them
// with exponential backoff and removing servers that go silent.
//
// # Architecture
//
// The public surface is the Manager interface plus a handful of value types
// (Message, SensorSnapshot, HealthView). All protocol, connection and
// supervision code lives under internal/; the monitor package wires it
// together from environment configuration.
//
// Each connection runs its own read goroutine. Console lines flow through a
// marker-based classifier, land in a ring buffer and are optionally published
// to a Kafka topic. Reads (Messages, Sensor, Status) are synchronous and
// return copies, so callers never hold internal locks.
//
// # Quick Start
//
//	import (
//	    "github.com/wdc-gp/gustlink"
//	    "github.com/wdc-gp/gustlink/monitor"
//	)
//
//	cfg := monitor.LoadConfig()
//	mon := monitor.New(cfg, nil)
//	defer mon.Close(context.Background())
//
//	mgr := mon.Manager()
//	handle, err := mgr.AddConnection(ctx, 1722255, gustlink.RegionUS,
//	    gustlink.Credential{Token: token})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Later: read the last 50 chat lines.
//	for _, msg := range mgr.Messages(1722255, 50, gustlink.CategoryChat) {
//	    fmt.Println(msg.Timestamp, msg.Text)
//	}
//
// # Subscription Protocol
//
// Connections speak graphql-ws: connection_init carrying the bearer token,
// connection_ack, then one start frame per subscription. Keepalive frames are
// tolerated but do not count as server activity, so a socket that only sends
// keepalives is eventually detected as stale and reconnected.
//
// # Health and Staleness
//
// The manager derives a status for every connection from its last activity:
// active, warning after half the stale threshold of silence, stale after the
// full threshold. A periodic sweep removes stale connections; connections
// that exhausted their reconnect attempts stay visible as failed until the
// caller removes them.
//
// # Important
//
//   - Tokens are validated before any network activity; expired credentials
//     fail AddConnection immediately.
//   - Authentication rejections are never retried. Replace the credential
//     and call AddConnection again.
//   - Sensor data is never synthesized: HealthResult.Available is false when
//     no fresh snapshot exists.
package gustlink
