// internal/device/device_test.go
package device

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeClock lets tests step wall-clock time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDevice(clock *fakeClock) *Device {
	d := New("AA:BB:CC:DD:EE:FF", "BT-TH-1234", "controller", testLogger())
	if clock != nil {
		d.Now = clock.now
	}
	return d
}

func TestAvailabilityHysteresis(t *testing.T) {
	d := newTestDevice(nil)

	if !d.IsAvailable() {
		t.Fatal("new device must start available")
	}

	// Failures below the cap keep the device available.
	d.UpdateAvailability(false)
	d.UpdateAvailability(false)
	if !d.IsAvailable() {
		t.Fatalf("available after 2 failures, got unavailable (count=%d)", d.FailureCount())
	}

	// Third failure flips it.
	d.UpdateAvailability(false)
	if d.IsAvailable() {
		t.Fatal("expected unavailable after 3 consecutive failures")
	}
	if d.lastUnavailable.IsZero() {
		t.Fatal("lastUnavailable not recorded on transition")
	}

	// A single success restores everything.
	d.UpdateAvailability(true)
	if !d.IsAvailable() {
		t.Fatal("expected available after success")
	}
	if d.FailureCount() != 0 {
		t.Fatalf("failure count not reset, got %d", d.FailureCount())
	}
	if !d.lastUnavailable.IsZero() {
		t.Fatal("lastUnavailable not cleared on recovery")
	}
}

func TestFailureCountResetsOnAnySuccess(t *testing.T) {
	d := newTestDevice(nil)

	d.UpdateAvailability(false)
	d.UpdateAvailability(true)
	if d.FailureCount() != 0 {
		t.Fatalf("failure count after success = %d, want 0", d.FailureCount())
	}

	// Failures do not accumulate across successes.
	d.UpdateAvailability(false)
	d.UpdateAvailability(false)
	if d.IsAvailable() != true {
		t.Fatal("2 failures after a success must not mark unavailable")
	}
}

func TestShouldRetryConnection_Gating(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	d := newTestDevice(clock)

	if !d.ShouldRetryConnection() {
		t.Fatal("available device must always retry")
	}

	for i := 0; i < MaxFailures; i++ {
		d.UpdateAvailability(false)
	}

	// Window armed on the unavailability transition; first check is gated.
	if d.ShouldRetryConnection() {
		t.Fatal("first check while unavailable must be gated")
	}

	clock.advance(9 * time.Minute)
	if d.ShouldRetryConnection() {
		t.Fatal("check before the retry interval must be gated")
	}

	clock.advance(2 * time.Minute)
	if !d.ShouldRetryConnection() {
		t.Fatal("check after the retry interval must pass")
	}

	// The passing check resets the window.
	if d.ShouldRetryConnection() {
		t.Fatal("window must re-arm after a passing check")
	}
	clock.advance(UnavailableRetryInterval)
	if !d.ShouldRetryConnection() {
		t.Fatal("next window must open again")
	}
}

func TestShouldRetryConnection_ArmsUnsetTimestamp(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	d := newTestDevice(clock)

	// Force the unavailable state without going through the transition,
	// so the timestamp is unset.
	d.available = false
	d.failureCount = MaxFailures
	d.lastUnavailable = time.Time{}

	if d.ShouldRetryConnection() {
		t.Fatal("unset timestamp check must be gated")
	}
	if d.lastUnavailable.IsZero() {
		t.Fatal("unset timestamp must be armed by the check")
	}
}

func TestMergeData_Additive(t *testing.T) {
	d := newTestDevice(nil)

	d.MergeData(map[string]any{"battery_voltage": 13.2})
	d.MergeData(map[string]any{"pv_power": 30})
	d.MergeData(map[string]any{"battery_voltage": 12.9})

	data := d.Data()
	if data["pv_power"] != 30 {
		t.Fatalf("pv_power lost on merge: %v", data)
	}
	if data["battery_voltage"] != 12.9 {
		t.Fatalf("battery_voltage not updated: %v", data)
	}

	// Data() is a copy; mutating it must not reach the device.
	data["pv_power"] = 0
	if d.Data()["pv_power"] != 30 {
		t.Fatal("Data() leaked internal map")
	}
}

func TestRegistry_EnsureAndLookup(t *testing.T) {
	r := NewRegistry(testLogger())

	ref := r.Lookup("AA:BB:CC:DD:EE:FF")
	if ref.Known != nil || ref.Pending != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("unknown address must resolve pending, got %+v", ref)
	}

	d := r.Ensure("AA:BB:CC:DD:EE:FF", "BT-TH-1234", "controller")
	if d == nil || r.Len() != 1 {
		t.Fatal("Ensure did not register the device")
	}

	again := r.Ensure("AA:BB:CC:DD:EE:FF", "", "controller")
	if again != d {
		t.Fatal("Ensure must return the existing device")
	}

	ref = r.Lookup("AA:BB:CC:DD:EE:FF")
	if ref.Known != d {
		t.Fatal("Lookup must resolve the known device")
	}
}

func TestRegistry_EnsureUpdatesName(t *testing.T) {
	r := NewRegistry(testLogger())

	d := r.Ensure("AA:BB:CC:DD:EE:FF", "", "controller")
	if d.Name() != "Unknown Renogy Device" {
		t.Fatalf("default name wrong: %q", d.Name())
	}

	r.Ensure("AA:BB:CC:DD:EE:FF", "BT-TH-9876", "controller")
	if d.Name() != "BT-TH-9876" {
		t.Fatalf("name not updated from advertisement: %q", d.Name())
	}
}

// Run with -race: discovery registers sightings from its own goroutine
// while the scheduler side iterates the registry and reads the devices.
func TestRegistry_ConcurrentScanAndIteration(t *testing.T) {
	r := NewRegistry(testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			d := r.Ensure("11:22:33:44:55:66", "BT-TH-66F8E411", "controller")
			d.Seen(-40 - i%20)
		}
	}()

	for i := 0; i < 200; i++ {
		for _, d := range r.All() {
			_ = d.Name()
			_ = d.RSSI()
			_ = d.LastSeen()
		}
		r.Lookup("11:22:33:44:55:66")
		r.Len()
	}
	<-done
}
