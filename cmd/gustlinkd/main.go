package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wdc-gp/gustlink"
	"github.com/wdc-gp/gustlink/monitor"
)

func main() {
	cfg := monitor.LoadConfig()

	log := newLogger(cfg)
	mon := monitor.New(cfg, log)

	// A single connection can be bootstrapped from the environment; further
	// servers are expected to be added through the embedding application.
	if sid := os.Getenv("GUST_SERVER_ID"); sid != "" {
		serverID, err := strconv.Atoi(sid)
		if err != nil {
			log.WithError(err).Fatal("invalid GUST_SERVER_ID")
		}
		region, err := gustlink.ParseRegion(os.Getenv("GUST_REGION"))
		if err != nil {
			log.WithError(err).Fatal("invalid GUST_REGION")
		}
		cred := gustlink.Credential{Token: os.Getenv("GUST_TOKEN")}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
		handle, err := mon.Manager().AddConnection(ctx, serverID, region, cred)
		cancel()
		if err != nil {
			log.WithError(err).WithField("server_id", serverID).Fatal("bootstrap connection failed")
		}
		log.WithFields(logrus.Fields{
			"server_id": serverID,
			"handle":    handle,
		}).Info("bootstrap connection registered")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-stop:
			log.WithField("signal", sig.String()).Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), cfg.DisconnectGrace)
			if err := mon.Close(ctx); err != nil {
				log.WithError(err).Warn("shutdown incomplete")
			}
			cancel()
			return
		case <-ticker.C:
			for serverID, view := range mon.Manager().Status() {
				log.WithFields(logrus.Fields{
					"server_id": serverID,
					"status":    string(view.Status),
					"messages":  view.MessageCount,
					"reconnects": view.ReconnectCount,
				}).Info("connection status")
			}
		}
	}
}

func newLogger(cfg *monitor.AppConfig) *logrus.Entry {
	l := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		l.SetLevel(level)
	}
	if cfg.Logging.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return logrus.NewEntry(l)
}
