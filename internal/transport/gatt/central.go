// internal/transport/gatt/central.go

// Package gatt adapts the go-ble central role to the session transport
// contract: dial by address, locate the Renogy write/notify
// characteristic pair, and turn GATT notifications into a byte-slice
// channel the session can wait on.
package gatt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"github.com/tamzrod/renogy-poller/internal/protocol"
	"github.com/tamzrod/renogy-poller/internal/session"
)

// notifBuffer bounds how many unread notification fragments a
// connection holds before dropping the oldest.
const notifBuffer = 32

// DeviceFactory creates the HCI device. Swappable for tests and for
// platforms other than linux.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// Central owns the HCI device. One per process.
type Central struct {
	log logrus.FieldLogger

	openOnce sync.Once
	openErr  error
}

// NewCentral creates the adapter. The HCI device opens lazily on the
// first Connect or Scan.
func NewCentral(log logrus.FieldLogger) *Central {
	return &Central{log: log}
}

func (c *Central) open() error {
	c.openOnce.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			c.openErr = fmt.Errorf("gatt: opening HCI device: %w", err)
			return
		}
		ble.SetDefaultDevice(dev)
	})
	return c.openErr
}

// Connect implements session.Transport.
func (c *Central) Connect(ctx context.Context, address string) (session.Conn, error) {
	if err := c.open(); err != nil {
		return nil, err
	}
	log := c.log.WithField("device", address)

	cln, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("gatt: dial %s: %w", address, err)
	}
	log.Debug("connected")

	profile, err := cln.DiscoverProfile(true)
	if err != nil {
		_ = cln.CancelConnection()
		return nil, fmt.Errorf("gatt: discovering profile: %w", err)
	}

	writeChar := findCharacteristic(profile, protocol.WriteCharUUID)
	notifyChar := findCharacteristic(profile, protocol.NotifyCharUUID)
	if writeChar == nil || notifyChar == nil {
		_ = cln.CancelConnection()
		return nil, fmt.Errorf("gatt: device %s does not expose the Renogy characteristics", address)
	}

	conn := &gattConn{
		cln:        cln,
		writeChar:  writeChar,
		notifyChar: notifyChar,
		notif:      make(chan []byte, notifBuffer),
		log:        log,
	}

	if err := cln.Subscribe(notifyChar, false, conn.onNotification); err != nil {
		_ = cln.CancelConnection()
		return nil, fmt.Errorf("gatt: subscribing to notifications: %w", err)
	}

	// Close the notification channel when the link drops, whether we
	// asked for the disconnect or the device walked out of range.
	go func() {
		<-cln.Disconnected()
		conn.closeNotif()
	}()

	return conn, nil
}

// Scan runs passive discovery until ctx is cancelled, reporting every
// advertisement. Callers apply the name-prefix filter.
func (c *Central) Scan(ctx context.Context, onAdv func(addr, name string, rssi int)) error {
	if err := c.open(); err != nil {
		return err
	}
	return ble.Scan(ctx, true, func(a ble.Advertisement) {
		onAdv(a.Addr().String(), a.LocalName(), a.RSSI())
	}, nil)
}

// findCharacteristic walks the discovered profile for a UUID.
func findCharacteristic(p *ble.Profile, uuid string) *ble.Characteristic {
	want, err := ble.Parse(normalizeUUID(uuid))
	if err != nil {
		return nil
	}
	for _, svc := range p.Services {
		for _, char := range svc.Characteristics {
			if char.UUID.Equal(want) {
				return char
			}
		}
	}
	return nil
}

// normalizeUUID converts to the internal go-ble format: lowercase, no dashes.
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// gattConn is one open connection.
type gattConn struct {
	cln        ble.Client
	writeChar  *ble.Characteristic
	notifyChar *ble.Characteristic
	notif      chan []byte
	log        logrus.FieldLogger

	mu     sync.Mutex
	closed bool
}

// onNotification copies the fragment before handing it off: go-ble
// reuses the notification buffer after the handler returns.
func (g *gattConn) onNotification(data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}

	frag := append([]byte(nil), data...)
	select {
	case g.notif <- frag:
	default:
		// Receiver is behind; drop the oldest fragment.
		select {
		case <-g.notif:
		default:
		}
		select {
		case g.notif <- frag:
		default:
		}
		g.log.Warn("notification buffer overflow, dropped a fragment")
	}
}

func (g *gattConn) closeNotif() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.notif)
	}
}

func (g *gattConn) Write(_ context.Context, payload []byte) error {
	return g.cln.WriteCharacteristic(g.writeChar, payload, false)
}

func (g *gattConn) Notifications() <-chan []byte { return g.notif }

func (g *gattConn) RSSI() int { return g.cln.ReadRSSI() }

func (g *gattConn) Close() error {
	if err := g.cln.Unsubscribe(g.notifyChar, false); err != nil {
		g.log.WithError(err).Debug("unsubscribe failed")
	}
	return g.cln.CancelConnection()
}
