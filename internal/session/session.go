// internal/session/session.go

// Package session executes one full poll attempt against one device:
// connect, run the command sequence, disconnect, report aggregate
// success. The transport is abstract; tests run against fakes and
// production runs against the gatt adapter.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/renogy-poller/internal/device"
	"github.com/tamzrod/renogy-poller/internal/protocol"
)

const (
	// MaxNotificationWait bounds the wait for the first response
	// notification after a command write.
	MaxNotificationWait = 2 * time.Second

	// fragmentGap is how long after a fragment the collector keeps
	// listening for the rest of a multi-notification response.
	fragmentGap = 150 * time.Millisecond
)

// Conn is one open transport connection to a device.
type Conn interface {
	// Write sends payload to the device's command characteristic.
	Write(ctx context.Context, payload []byte) error
	// Notifications delivers response bytes as they arrive. The
	// transport owns the channel and closes it on disconnect.
	Notifications() <-chan []byte
	// RSSI reports the connection-level signal strength, 0 if unknown.
	RSSI() int
	Close() error
}

// Transport opens connections. Implemented by transport/gatt.
type Transport interface {
	Connect(ctx context.Context, address string) (Conn, error)
}

// DecodeFunc is the external decoding collaborator: raw response bytes
// plus device type and register in, telemetry fields out.
type DecodeFunc func(raw []byte, deviceType string, register uint16) (map[string]any, error)

// slot is the single-flight state for one device address.
type slot struct {
	mu         sync.Mutex
	inProgress bool
}

// tryAcquire takes the slot unless a poll is already in flight.
func (s *slot) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress {
		return false
	}
	s.inProgress = true
	return true
}

func (s *slot) release() {
	s.mu.Lock()
	s.inProgress = false
	s.mu.Unlock()
}

// Session runs poll attempts. Safe for concurrent use; overlapping
// attempts against the same device collapse to one.
type Session struct {
	transport Transport
	decode    DecodeFunc
	log       logrus.FieldLogger

	slotsMu sync.Mutex
	slots   map[string]*slot

	wait time.Duration
	gap  time.Duration
}

// New creates a session runner over the given transport and decoder.
func New(tr Transport, decode DecodeFunc, log logrus.FieldLogger) *Session {
	return &Session{
		transport: tr,
		decode:    decode,
		log:       log,
		slots:     make(map[string]*slot),
		wait:      MaxNotificationWait,
		gap:       fragmentGap,
	}
}

// SetNotificationWait overrides the response timeout and fragment gap.
// Tests shrink these to keep simulated timeouts fast.
func (s *Session) SetNotificationWait(wait, gap time.Duration) {
	s.wait = wait
	s.gap = gap
}

func (s *Session) slotFor(addr string) *slot {
	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	sl, ok := s.slots[addr]
	if !ok {
		sl = &slot{}
		s.slots[addr] = sl
	}
	return sl
}

// InProgress reports whether a poll is currently in flight for addr.
func (s *Session) InProgress(addr string) bool {
	sl := s.slotFor(addr)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.inProgress
}

// Poll runs the command sequence against dev and returns session-level
// success: true when at least one command parsed. Transport and
// protocol failures are folded into the result, never propagated.
func (s *Session) Poll(ctx context.Context, dev *device.Device, cmds []protocol.Command) bool {
	log := s.log.WithField("device", dev.Address)

	sl := s.slotFor(dev.Address)
	if !sl.tryAcquire() {
		log.Debug("connection already in progress, skipping poll")
		return false
	}
	defer sl.release()

	// Unavailable devices get one attempt per retry window. A gated
	// skip is not an attempt: availability is left untouched.
	if !dev.ShouldRetryConnection() {
		log.Debug("device unavailable and retry window not open, skipping poll")
		return false
	}

	conn, err := s.transport.Connect(ctx, dev.Address)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("poll aborted during connect")
			return false
		}
		log.WithError(err).Error("failed to establish connection")
		dev.UpdateAvailability(false)
		return false
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.WithError(err).Debug("error disconnecting")
		}
	}()

	if rssi := conn.RSSI(); rssi != 0 {
		dev.Seen(rssi)
	}

	success := false
	for _, cmd := range cmds {
		if ctx.Err() != nil {
			break
		}
		if s.runCommand(ctx, log, conn, dev, cmd) {
			success = true
		}
	}

	// A shutdown mid-session is not a communication failure: leave the
	// availability machine alone unless something actually parsed.
	if ctx.Err() != nil && !success {
		log.Debug("poll aborted, availability unchanged")
		return false
	}

	dev.UpdateAvailability(success)
	return success
}

// runCommand executes one write/wait/parse exchange. A failure here is
// scoped to the command; the sequence keeps going.
func (s *Session) runCommand(ctx context.Context, log logrus.FieldLogger, conn Conn, dev *device.Device, cmd protocol.Command) bool {
	clog := log.WithField("command", cmd.Name)

	// Anything buffered from a previous command is stale.
	drain(conn.Notifications())

	frame := protocol.BuildReadRequest(protocol.DefaultDeviceID, cmd.FunctionCode, cmd.Register, cmd.Words)
	clog.Debugf("sending read request: % x", frame)

	if err := conn.Write(ctx, frame); err != nil {
		clog.WithError(err).Error("write failed")
		return false
	}

	raw, ok := s.collect(ctx, conn)
	if !ok {
		clog.Info("timeout waiting for response notification")
		return false
	}
	clog.Debugf("received %d response bytes", len(raw))

	if err := protocol.ValidateResponse(raw); err != nil {
		clog.WithError(err).Warn("invalid response")
		return false
	}
	if protocol.CRCMismatch(raw) {
		// Log-only: devices in the field emit frames the strict check
		// would drop, and the transport already frames notifications.
		clog.Warn("response CRC mismatch, decoding anyway")
	}

	fields, err := s.decode(raw, dev.DeviceType, cmd.Register)
	if err != nil {
		clog.WithError(err).WithFields(logrus.Fields{
			"register": cmd.Register,
			"length":   len(raw),
		}).Error("decode failed")
		return false
	}
	if len(fields) == 0 {
		clog.WithField("register", cmd.Register).Warn("decoder returned no fields")
		return false
	}

	dev.MergeData(fields)
	return true
}

// collect waits for the first response fragment, then absorbs trailing
// fragments until the stream goes quiet. The single-slot contract:
// each command consumes its own accumulator exactly once.
func (s *Session) collect(ctx context.Context, conn Conn) ([]byte, bool) {
	var buf []byte

	first := time.NewTimer(s.wait)
	defer first.Stop()

	select {
	case <-ctx.Done():
		return nil, false
	case <-first.C:
		return nil, false
	case b, ok := <-conn.Notifications():
		if !ok {
			return nil, false
		}
		buf = append(buf, b...)
	}

	for {
		gap := time.NewTimer(s.gap)
		select {
		case <-ctx.Done():
			gap.Stop()
			return buf, true
		case b, ok := <-conn.Notifications():
			gap.Stop()
			if !ok {
				return buf, true
			}
			buf = append(buf, b...)
		case <-gap.C:
			return buf, true
		}
	}
}

// drain discards buffered notification fragments.
func drain(ch <-chan []byte) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
