// internal/device/registry.go
package device

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry owns the set of known devices, keyed by address.
// It is an explicit handle passed into the scheduler and sessions;
// there is no package-level shared state. Safe for concurrent use: the
// discovery scan registers sightings while the scheduler iterates.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
	log     logrus.FieldLogger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		log:     log,
	}
}

// Ref is the resolved form of an address: either a known device or a
// pending address we have not seen yet. Exactly one field is set.
type Ref struct {
	Known   *Device
	Pending string
}

// Lookup resolves an address without creating anything.
func (r *Registry) Lookup(addr string) Ref {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[addr]; ok {
		return Ref{Known: d}
	}
	return Ref{Pending: addr}
}

// Ensure returns the device for addr, creating it on first sight.
func (r *Registry) Ensure(addr, name, deviceType string) *Device {
	r.mu.Lock()
	d, ok := r.devices[addr]
	if !ok {
		r.log.WithField("device", addr).Debugf("registering new %s device", deviceType)
		d = New(addr, name, deviceType, r.log)
		r.devices[addr] = d
	}
	r.mu.Unlock()

	if ok && name != "" && name != defaultName {
		d.setName(name)
	}
	return d
}

// All returns the known devices in no particular order.
func (r *Registry) All() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Len returns how many devices are known.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}
