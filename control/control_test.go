package control

import (
	"testing"
	"time"
)

// ░░ Activity Tracking ░░

func TestSignalActivitySetsHot(t *testing.T) {
	Reset()
	defer Reset()

	if IsHot() {
		t.Fatal("fresh state should be cold")
	}
	SignalActivity()
	if !IsHot() {
		t.Fatal("activity should set the hot flag")
	}
	// Within the cooldown window the flag must survive polling.
	PollCooldown()
	if !IsHot() {
		t.Fatal("cooldown must not clear recent activity")
	}
}

func TestPollCooldownClearsStaleActivity(t *testing.T) {
	Reset()
	defer Reset()

	hot.Store(1)
	lastHot.Store(time.Now().Add(-2 * time.Second).UnixNano())
	PollCooldown()
	if IsHot() {
		t.Fatal("stale activity should clear on poll")
	}
}

// ░░ Shutdown Latching ░░

func TestShutdownLatch(t *testing.T) {
	Reset()
	defer Reset()

	if IsShutdown() || IsEmergency() {
		t.Fatal("fresh state should be running")
	}
	Shutdown()
	if !IsShutdown() {
		t.Fatal("shutdown must latch the stop flag")
	}
	if IsEmergency() {
		t.Fatal("graceful shutdown is not an emergency")
	}
}

func TestEmergencyLatchesBoth(t *testing.T) {
	Reset()
	defer Reset()

	Emergency()
	if !IsShutdown() || !IsEmergency() {
		t.Fatal("emergency must latch stop and record the cause")
	}
}

func TestResetClearsEverything(t *testing.T) {
	SignalActivity()
	Emergency()
	Reset()
	if IsHot() || IsShutdown() || IsEmergency() {
		t.Fatal("reset must clear every flag")
	}
}
