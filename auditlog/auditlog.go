// ════════════════════════════════════════════════════════════════════════════════════════════════
// Audit Log — Persisted Phase History for Offline & Independent Audit
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Quantum Topology Proxy
// Component: SQLite Phase Trail
//
// Description:
//   Batched persistence of (circuit, phase, winding, delay) tuples. The core does not need
//   this trail for correctness — all runtime state is in-memory and rebuildable — but when
//   attached it gives the invariant verifier an independent recomputation source: the winding
//   a circuit claims must match the winding its persisted phase sequence re-derives.
//
// Design Principles:
//   - The hot path hands records to a buffered channel and never touches the database;
//     overflow drops records (and counts the drops) instead of stalling timing
//   - Flushes are transactional batches on a single writer goroutine
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package auditlog

import (
	"database/sql"
	"math"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Insider77Circle/Quantum-Topology-Prox/constants"
	"github.com/Insider77Circle/Quantum-Topology-Prox/control"
	"github.com/Insider77Circle/Quantum-Topology-Prox/debug"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// RECORD & WRITER STRUCTURES
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Record is one persisted phase observation.
type Record struct {
	CircuitID uint64
	Phase     float64
	Winding   int64
	DelayMs   float64
	Timestamp int64 // unix nanos
}

// Writer owns the database handle and the batching pipeline.
type Writer struct {
	db       *sql.DB
	incoming chan Record
	stopCh   chan struct{}
	dropped  atomic.Uint64
	written  atomic.Uint64

	// Purge tombstones: circuit id → purge instant. Queued records older
	// than the tombstone are discarded at flush time so a purge also
	// covers records still in flight through the channel.
	tombMu sync.Mutex
	tombs  map[uint64]int64
}

const schema = `
CREATE TABLE IF NOT EXISTS phase_audit (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	circuit_id INTEGER NOT NULL,
	phase      REAL    NOT NULL,
	winding    INTEGER NOT NULL,
	delay_ms   REAL    NOT NULL,
	ts         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phase_audit_circuit ON phase_audit(circuit_id, seq);
`

// Open creates or opens the trail database and prepares the schema.
func Open(path string) (*Writer, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	// Single writer goroutine; sqlite likes one connection.
	db.SetMaxOpenConns(1)
	return &Writer{
		db:       db,
		incoming: make(chan Record, constants.AuditBatchSize*4),
		stopCh:   make(chan struct{}),
		tombs:    make(map[uint64]int64),
	}, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INGEST PATH
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Append queues one record for the next batch flush. Non-blocking: on a
// saturated queue the record is dropped and counted, never stalling the
// timing path that produced it.
//
//go:inline
func (w *Writer) Append(r Record) {
	select {
	case w.incoming <- r:
	default:
		w.dropped.Add(1)
	}
}

// Observe adapts Append to the timing engine's observer signature.
func (w *Writer) Observe(circuitID uint64, phase float64, winding int64, delayMs float64) {
	w.Append(Record{
		CircuitID: circuitID,
		Phase:     phase,
		Winding:   winding,
		DelayMs:   delayMs,
		Timestamp: time.Now().UnixNano(),
	})
}

// Dropped reports records lost to queue saturation.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Written reports records durably flushed.
func (w *Writer) Written() uint64 { return w.written.Load() }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// FLUSH PIPELINE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Start launches the batch-flush goroutine, registered with the global
// ShutdownWG. Batches flush at AuditBatchSize or AuditFlushInterval,
// whichever comes first.
func (w *Writer) Start() {
	control.ShutdownWG.Add(1)
	go w.run()
}

// Stop drains the queue, flushes the final batch, and closes the
// database.
func (w *Writer) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

func (w *Writer) run() {
	defer control.ShutdownWG.Done()
	defer w.db.Close()

	batch := make([]Record, 0, constants.AuditBatchSize)
	ticker := time.NewTicker(constants.AuditFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.flushBatch(batch); err != nil {
			debug.DropError("AUDIT_FLUSH", err)
		} else {
			w.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-w.stopCh:
			// Drain whatever is already queued, then final flush.
			for {
				select {
				case r := <-w.incoming:
					batch = append(batch, r)
					if len(batch) == constants.AuditBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case r := <-w.incoming:
			batch = append(batch, r)
			if len(batch) == constants.AuditBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
			if control.IsShutdown() {
				w.Stop()
			}
		}
	}
}

func (w *Writer) flushBatch(batch []Record) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		"INSERT INTO phase_audit (circuit_id, phase, winding, delay_ms, ts) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	w.pruneTombs()
	for _, r := range batch {
		if w.tombstoned(r) {
			continue
		}
		if _, err := stmt.Exec(int64(r.CircuitID), r.Phase, r.Winding, r.DelayMs, r.Timestamp); err != nil {
			stmt.Close()
			tx.Rollback()
			return err
		}
	}
	stmt.Close()
	return tx.Commit()
}

// tombstoned reports whether a queued record predates a purge of its
// circuit and must not reach the trail.
func (w *Writer) tombstoned(r Record) bool {
	w.tombMu.Lock()
	cut, ok := w.tombs[r.CircuitID]
	w.tombMu.Unlock()
	return ok && r.Timestamp <= cut
}

// pruneTombs retires tombstones old enough that no queued record can
// still predate them. The queue drains at least once per flush
// interval, so twice that is a safe horizon.
func (w *Writer) pruneTombs() {
	horizon := time.Now().Add(-2 * constants.AuditFlushInterval).UnixNano()
	w.tombMu.Lock()
	for id, cut := range w.tombs {
		if cut < horizon {
			delete(w.tombs, id)
		}
	}
	w.tombMu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INDEPENDENT AUDIT REPLAY
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// ReplayWinding re-derives a circuit's cumulative winding from its
// persisted phase sequence, applying the same delta decomposition the
// engine uses. Also returns the number of trail records replayed: the
// verifier compares it against the circuit's in-memory event count to
// know whether the trail is complete enough to judge — the writer
// flushes in batches, so the trail legitimately lags live traffic.
func (w *Writer) ReplayWinding(circuitID uint64, quantum float64) (int64, uint64, error) {
	rows, err := w.db.Query(
		"SELECT phase FROM phase_audit WHERE circuit_id = ? ORDER BY seq", int64(circuitID))
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var winding int64
	var events uint64
	last := 0.0
	for rows.Next() {
		var phase float64
		if err := rows.Scan(&phase); err != nil {
			return 0, 0, err
		}
		delta := math.Mod(math.Mod(phase-last, quantum)+quantum, quantum)
		winding += int64(math.Round(delta / quantum))
		last = phase
		events++
	}
	return winding, events, rows.Err()
}

// PurgeCircuit deletes a closed circuit's trail, including records
// still queued for flush: a tombstone at the purge instant makes the
// flush path discard anything older. A recreated id starts a clean
// replay history.
func (w *Writer) PurgeCircuit(circuitID uint64) error {
	w.tombMu.Lock()
	w.tombs[circuitID] = time.Now().UnixNano()
	w.tombMu.Unlock()
	_, err := w.db.Exec("DELETE FROM phase_audit WHERE circuit_id = ?", int64(circuitID))
	return err
}
