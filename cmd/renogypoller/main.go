// cmd/renogypoller/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/renogy-poller/internal/config"
	"github.com/tamzrod/renogy-poller/internal/decoder"
	"github.com/tamzrod/renogy-poller/internal/device"
	"github.com/tamzrod/renogy-poller/internal/publisher"
	"github.com/tamzrod/renogy-poller/internal/scheduler"
	"github.com/tamzrod/renogy-poller/internal/session"
	"github.com/tamzrod/renogy-poller/internal/transport/gatt"
)

func main() {
	log := logrus.New()

	if len(os.Args) < 2 {
		log.Fatal("usage: renogypoller <config.yaml>")
	}
	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("bad log level %q: %v", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Build the pipeline
	// --------------------

	registry := device.NewRegistry(log)

	// Seed configured devices with their own device types; the
	// scheduler's startup pass is idempotent on top of this.
	addresses := make([]string, 0, len(cfg.Poller.Devices))
	for _, d := range cfg.Poller.Devices {
		registry.Ensure(d.Address, "", d.DeviceType)
		addresses = append(addresses, d.Address)
	}

	central := gatt.NewCentral(log)
	sess := session.New(central, decoder.Decode, log)

	sched := scheduler.New(scheduler.Config{
		ScanInterval: time.Duration(cfg.Poller.ScanIntervalS) * time.Second,
		Addresses:    addresses,
	}, registry, sess, log)

	// ---- MQTT output (optional) ----
	if cfg.Poller.MQTT != nil {
		pub := publisher.New(publisher.Config{
			Broker:      cfg.Poller.MQTT.Broker,
			ClientID:    cfg.Poller.MQTT.ClientID,
			TopicPrefix: cfg.Poller.MQTT.TopicPrefix,
			Username:    cfg.Poller.MQTT.Username,
			Password:    cfg.Poller.MQTT.Password,
		}, log)

		// Fail fast at startup: a misconfigured broker should not be
		// discovered hours later.
		if err := pub.Connect(ctx); err != nil {
			log.Fatalf("mqtt connect failed: %v", err)
		}
		defer pub.Close()

		sched.AddListener(pub.OnDeviceUpdated)
	}

	// ---- passive discovery ----
	go func() {
		err := central.Scan(ctx, func(addr, name string, rssi int) {
			sched.HandleAdvertisement(scheduler.Advertisement{
				Address: addr,
				Name:    name,
				RSSI:    rssi,
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("passive discovery stopped")
		}
	}()

	// --------------------
	// Run until signalled
	// --------------------

	sched.Run(ctx)
}
