// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — Cold-path diagnostic logging helper (zero-alloc)
//
// Purpose:
//   - Logs infrequent events without introducing heap pressure on the
//     timing-sensitive paths around it.
//   - Used only in cold paths: startup phases, refill outcomes, control-port
//     state changes, invariant violations.
//
// Notes:
//   - Avoids fmt.Sprintf to minimize footprint and latency.
//   - Uses stackless logging model: no alloc, no interfaces.
//
// ⚠️ Never invoke in hot loops — use only in lifecycle and failure paths.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import "github.com/Insider77Circle/Quantum-Topology-Prox/utils"

// DropError logs error messages with a custom alloc-free print strategy.
// It writes directly to stderr, bypassing fmt entirely.
//
//go:nosplit
//go:inline
func DropError(prefix string, err error) {
	if err != nil {
		msg := prefix + ": " + err.Error() + "\n"
		utils.PrintWarning(msg)
	} else {
		msg := prefix + "\n"
		utils.PrintWarning(msg)
	}
}

// DropMessage logs debug messages with zero-allocation print strategy.
// Used for cold-path diagnostics, connection state changes, and
// infrequent events.
//
//go:nosplit
//go:inline
func DropMessage(prefix, message string) {
	msg := prefix + ": " + message + "\n"
	utils.PrintWarning(msg)
}
