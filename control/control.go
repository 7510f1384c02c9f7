// control.go — Global control flags and shutdown coordination
// ============================================================================
// SYSTEM CONTROL ORCHESTRATION
// ============================================================================
//
// Control package provides lightweight global signaling infrastructure for
// coordinating activity states and fail-closed shutdown across the timing
// engine, verifier sweep, and control-port reader.
//
// Architecture overview:
//   • Global hot/stop flags for lock-free inter-goroutine communication
//   • Nanosecond-precision activity tracking with automatic cooldown
//   • ShutdownWG for coordinated subsystem teardown
//   • Emergency path: the invariant verifier raises the stop flag when a
//     winding violation demands a process-level halt
//
// Threading model:
//   • The control-port reader signals activity via SignalActivity()
//   • Long-running subsystems poll IsShutdown() in their loops
//   • Emergency() and Shutdown() both latch the stop flag; Emergency()
//     additionally records that the halt was invariant-driven
//
// Safety guarantees:
//   • Race-free flag access via sync/atomic
//   • Stop flag is latch-only: once set it is never cleared

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// GLOBAL STATE MANAGEMENT
// ============================================================================

var (
	hot       atomic.Uint32 // 1 = active event traffic, 0 = idle
	stop      atomic.Uint32 // 1 = shutdown requested, 0 = running
	emergency atomic.Uint32 // 1 = shutdown was invariant-driven

	lastHot    atomic.Int64             // nanosecond timestamp of last activity
	cooldownNs = int64(1 * time.Second) // idle period before hot clears

	// ShutdownWG tracks long-running subsystems. Each Add(1)s on start
	// and Done()s after cleanup; main waits on it before exiting.
	ShutdownWG sync.WaitGroup
)

// ============================================================================
// ACTIVITY SIGNALING
// ============================================================================

// SignalActivity marks the system as active and records precise timing
// for automatic cooldown management. Called from the control-port
// ingress layer upon receiving stream or circuit events.
//
//go:inline
func SignalActivity() {
	hot.Store(1)
	lastHot.Store(time.Now().UnixNano())
}

// PollCooldown clears the hot flag once the configured idle period has
// elapsed since the last activity. Safe to call from any loop.
//
//go:inline
func PollCooldown() {
	if hot.Load() == 1 && time.Now().UnixNano()-lastHot.Load() > cooldownNs {
		hot.Store(0)
	}
}

// IsHot reports whether event traffic was seen within the cooldown window.
//
//go:inline
func IsHot() bool { return hot.Load() == 1 }

// ============================================================================
// SYSTEM SHUTDOWN
// ============================================================================

// Shutdown initiates graceful system termination by latching the global
// stop flag. All subsystems monitor this flag and terminate cleanly.
//
//go:inline
func Shutdown() {
	stop.Store(1)
}

// Emergency latches the stop flag and records that the halt was caused
// by an invariant violation. Invoked by the verifier when configured
// for process-level emergency shutdown.
//
//go:inline
func Emergency() {
	emergency.Store(1)
	stop.Store(1)
}

// IsShutdown reports whether termination has been requested.
//
//go:inline
func IsShutdown() bool { return stop.Load() == 1 }

// IsEmergency reports whether the current shutdown was invariant-driven.
//
//go:inline
func IsEmergency() bool { return emergency.Load() == 1 }

// Reset clears every flag. Lifecycle helper for harnesses that run
// multiple start/stop cycles in one process; production code never
// unlatches a shutdown.
func Reset() {
	hot.Store(0)
	stop.Store(0)
	emergency.Store(0)
	lastHot.Store(0)
}
