// internal/scheduler/scheduler.go

// Package scheduler drives periodic and on-demand polling of known
// devices and fans successful results out to registered listeners.
// One scheduler owns one device registry; polls for different devices
// run sequentially so only one physical connection is active at a time.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/renogy-poller/internal/device"
	"github.com/tamzrod/renogy-poller/internal/protocol"
)

// Scan interval bounds. Configured values are clamped by config
// normalization; these are the hard limits.
const (
	DefaultScanInterval = 60 * time.Second
	MinScanInterval     = 10 * time.Second
	MaxScanInterval     = 600 * time.Second
)

// Advertisement is a passive-discovery sighting.
type Advertisement struct {
	Address string
	Name    string
	RSSI    int
}

// Poller runs one poll attempt. Implemented by session.Session.
type Poller interface {
	Poll(ctx context.Context, dev *device.Device, cmds []protocol.Command) bool
	InProgress(addr string) bool
}

// Listener receives the updated device after each successful poll.
type Listener func(*device.Device)

// Config is the runtime configuration the scheduler needs.
type Config struct {
	ScanInterval time.Duration
	DeviceType   string

	// Addresses are the configured target devices. Empty means
	// discovery-scan mode: poll whatever advertisements register.
	Addresses []string
}

type listenerEntry struct {
	fn Listener
}

// Scheduler owns the poll loop for one registry of devices.
type Scheduler struct {
	cfg      Config
	registry *device.Registry
	poller   Poller
	log      logrus.FieldLogger

	// connectable reports whether a transport handle is currently
	// available for an address. Nil means always connectable.
	connectable func(addr string) bool

	// dataCallback is the host collaborator invoked after listeners.
	dataCallback Listener

	mu        sync.Mutex
	listeners []*listenerEntry
	lastPoll  map[string]time.Time
	running   bool

	// Now supplies wall-clock time; swapped out in tests.
	Now func() time.Time
}

// New creates a scheduler. The registry handle is owned by the caller
// and shared with nothing else that writes to it.
func New(cfg Config, registry *device.Registry, poller Poller, log logrus.FieldLogger) *Scheduler {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.DeviceType == "" {
		cfg.DeviceType = protocol.DeviceTypeController
	}
	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		poller:   poller,
		log:      log,
		lastPoll: make(map[string]time.Time),
		Now:      time.Now,
	}
}

// SetConnectableCheck installs the transport-handle availability probe.
func (s *Scheduler) SetConnectableCheck(fn func(addr string) bool) {
	s.connectable = fn
}

// SetDeviceDataCallback installs the host data callback, invoked after
// the listener set on every successful poll.
func (s *Scheduler) SetDeviceDataCallback(fn Listener) {
	s.dataCallback = fn
}

// AddListener registers an observer. Insertion order determines
// notification order. The returned func removes the listener.
func (s *Scheduler) AddListener(fn Listener) func() {
	entry := &listenerEntry{fn: fn}

	s.mu.Lock()
	s.listeners = append(s.listeners, entry)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.listeners {
			if e == entry {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Run starts the poll loop and blocks until ctx is cancelled.
// Configured devices are polled immediately, then on every tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.setRunning(true)
	defer s.setRunning(false)

	s.log.Infof("starting polling with %s interval", s.cfg.ScanInterval)

	// Seed the registry with configured addresses so the first cycle
	// has something to poll even before any advertisement.
	for _, addr := range s.cfg.Addresses {
		s.registry.Ensure(addr, "", s.cfg.DeviceType)
	}

	s.pollDue(ctx)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping polling")
			return
		case <-ticker.C:
			s.pollDue(ctx)
		}
	}
}

// RequestRefresh polls one device now, ignoring the interval. Used for
// manual refresh triggers. No-op while a poll is in flight for addr.
func (s *Scheduler) RequestRefresh(ctx context.Context, addr string) {
	s.log.WithField("device", addr).Debug("manual refresh requested")

	if s.poller.InProgress(addr) {
		s.log.WithField("device", addr).Debug("connection already in progress, skipping refresh")
		return
	}

	ref := s.registry.Lookup(addr)
	if ref.Known == nil {
		s.log.WithField("device", addr).Warn("refresh requested for unknown device")
		return
	}
	s.pollDevice(ctx, ref.Known)
}

// HandleAdvertisement feeds a passive-discovery sighting into the
// registry. Non-Renogy names are ignored unless the address is
// explicitly configured.
func (s *Scheduler) HandleAdvertisement(adv Advertisement) {
	if !strings.HasPrefix(adv.Name, protocol.AdvertisedNamePrefix) && !s.isConfigured(adv.Address) {
		return
	}
	dev := s.registry.Ensure(adv.Address, adv.Name, s.cfg.DeviceType)
	dev.Seen(adv.RSSI)
}

// NeedsPoll decides whether dev is due. False when the scheduler is not
// running, no transport handle is available, or a poll is in flight.
// True on the first poll ever, then whenever the interval has elapsed.
func (s *Scheduler) NeedsPoll(dev *device.Device) bool {
	s.mu.Lock()
	running := s.running
	last, polled := s.lastPoll[dev.Address]
	s.mu.Unlock()

	if !running {
		return false
	}
	if s.connectable != nil && !s.connectable(dev.Address) {
		s.log.WithField("device", dev.Address).Warn("no connectable transport for device")
		return false
	}
	if s.poller.InProgress(dev.Address) {
		s.log.WithField("device", dev.Address).Debug("connection already in progress, skipping poll")
		return false
	}
	if !polled {
		s.log.WithField("device", dev.Address).Debug("first poll for device")
		return true
	}
	return s.Now().Sub(last) >= s.cfg.ScanInterval
}

// pollDue runs one scheduling pass over the registry, sequentially.
func (s *Scheduler) pollDue(ctx context.Context) {
	for _, dev := range s.registry.All() {
		if ctx.Err() != nil {
			return
		}
		if !s.NeedsPoll(dev) {
			continue
		}
		s.pollDevice(ctx, dev)
	}
}

// pollDevice runs one attempt and fans out the result.
func (s *Scheduler) pollDevice(ctx context.Context, dev *device.Device) {
	cmds, err := protocol.Commands(dev.DeviceType)
	if err != nil {
		s.log.WithField("device", dev.Address).WithError(err).Error("cannot poll device")
		return
	}

	s.mu.Lock()
	s.lastPoll[dev.Address] = s.Now()
	s.mu.Unlock()

	if !s.poller.Poll(ctx, dev, cmds) {
		s.log.WithField("device", dev.Address).Info("failed to retrieve data from device")
		return
	}

	s.notify(dev)
}

// notify invokes the listener set, then the data callback. A failing
// listener is logged and must not block the rest.
func (s *Scheduler) notify(dev *device.Device) {
	s.mu.Lock()
	entries := make([]*listenerEntry, len(s.listeners))
	copy(entries, s.listeners)
	s.mu.Unlock()

	for _, e := range entries {
		s.invoke(e.fn, dev, "listener")
	}
	if s.dataCallback != nil {
		s.invoke(s.dataCallback, dev, "device data callback")
	}
}

func (s *Scheduler) invoke(fn Listener, dev *device.Device, what string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("device", dev.Address).Errorf("error in %s: %v", what, r)
		}
	}()
	fn(dev)
}

func (s *Scheduler) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Scheduler) isConfigured(addr string) bool {
	for _, a := range s.cfg.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}
