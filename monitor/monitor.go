// Package monitor assembles the connection manager, message classifier,
// sensor bridge and optional Kafka sink into a single entry point.
package monitor

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/wdc-gp/gustlink"
	"github.com/wdc-gp/gustlink/internal/classify"
	"github.com/wdc-gp/gustlink/internal/command"
	"github.com/wdc-gp/gustlink/internal/config"
	"github.com/wdc-gp/gustlink/internal/kafkasink"
	"github.com/wdc-gp/gustlink/internal/manager"
	"github.com/wdc-gp/gustlink/internal/sensors"
)

type AppConfig = config.AppConfig

// LoadConfig reads configuration from .env and the environment.
func LoadConfig() *AppConfig {
	return config.Load()
}

// Monitor owns a fully wired connection manager and the read-side helpers
// built on top of it.
type Monitor struct {
	manager *manager.Manager
	bridge  *sensors.Bridge
	sink    *kafkasink.Sink
	log     *logrus.Entry
}

// New wires a Monitor from configuration.
//
// A Kafka sink is attached only when cfg.Kafka.Broker is set; without it
// console messages stay in the per-connection buffers and are served from
// Messages alone. The returned Monitor is ready for AddConnection calls.
func New(cfg *AppConfig, logger *logrus.Entry) *Monitor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	opts := []manager.Option{
		manager.WithClassifier(classify.New(nil)),
	}

	var sink *kafkasink.Sink
	if cfg.Kafka.Broker != "" {
		sink = kafkasink.New(cfg.Kafka.Broker, cfg.Kafka.Topic)
		opts = append(opts, manager.WithSink(sink))
		logger.WithFields(logrus.Fields{
			"broker": cfg.Kafka.Broker,
			"topic":  cfg.Kafka.Topic,
		}).Info("kafka sink enabled")
	}

	mgr := manager.New(manager.Config{
		Endpoint:         cfg.WSEndpoint,
		HandshakeTimeout: cfg.HandshakeTimeout,
		AckTimeout:       cfg.AckTimeout,
		RecvTimeout:      cfg.RecvTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		BufferCapacity:   cfg.BufferCapacity,
		EventBuffer:      cfg.EventBuffer,
		SweepInterval:    cfg.SweepInterval,
		StaleThreshold:   cfg.StaleThreshold,
		DisconnectGrace:  cfg.DisconnectGrace,
		BackoffBase:      cfg.BackoffBase,
		BackoffCap:       cfg.BackoffCap,
		MaxAttempts:      cfg.MaxAttempts,
	}, logger, opts...)

	return &Monitor{
		manager: mgr,
		bridge:  sensors.New(mgr, cfg.SensorMaxAge),
		sink:    sink,
		log:     logger,
	}
}

// Manager exposes the connection manager.
func (m *Monitor) Manager() gustlink.Manager {
	return m.manager
}

// Health grades a server from its latest sensor snapshot. Servers without a
// fresh snapshot report Available false rather than a synthesized score.
func (m *Monitor) Health(serverID int) gustlink.HealthResult {
	return m.bridge.Health(serverID)
}

// Commander builds a console command client bound to the given bearer token.
func (m *Monitor) Commander(cfg *AppConfig, token string) *command.Client {
	return command.New(token, command.Options{
		Endpoint: cfg.HTTPEndpoint,
		Logger:   m.log,
	})
}

// Close shuts down the manager and flushes the sink, if any.
func (m *Monitor) Close(ctx context.Context) error {
	cerr := m.manager.Close(ctx)
	if m.sink != nil {
		if serr := m.sink.Close(); serr != nil && cerr == nil {
			cerr = serr
		}
	}
	return cerr
}
