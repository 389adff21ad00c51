/*
Package sqlite provides the SQLite-backed persistence collaborators.

PURPOSE:
  Three concerns share one database file:

  snapshots:          whole-aggregate snapshots, one row per
                      claimant/employer pairing, JSON payload column
  payment_lines:      append-only ledger of every cancel/issue line the
                      engine dispatched
  compliance_traces:  append-only archive of rule-application records

  Persistence is a dumb collaborator: a snapshot is written whole and
  read whole, and is never consulted mid-decision. All invariants live in
  the domain packages.

SCHEMA VERSIONING:
  Each snapshot row carries the engine schema version it was written
  under. Loading a row with a different version fails with a
  SchemaVersionError; migration is an offline concern.

APPEND-ONLY ENFORCEMENT:
  payment_lines and compliance_traces take INSERTs only. A correction is
  a new cancellation line, never an UPDATE.

WAL MODE:
  The database is opened with WAL so readers do not block the single
  writer.

SEE ALSO:
  - engine/snapshot.go: the SnapshotStore interface this implements
  - store/memory:       in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/entitlement-engine/engine"
)

// Store implements engine.SnapshotStore plus the append-only ledger and
// compliance archive.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Whole-aggregate snapshots, one row per claimant/employer pairing
	CREATE TABLE IF NOT EXISTS snapshots (
		claimant_id TEXT NOT NULL,
		employer_id TEXT NOT NULL,
		schema_version INTEGER NOT NULL,
		snapshot_json TEXT NOT NULL,
		halted BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (claimant_id, employer_id)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_halted
		ON snapshots(halted) WHERE halted = TRUE;

	-- Append-only ledger of dispatched payment lines
	CREATE TABLE IF NOT EXISTS payment_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		claimant_id TEXT NOT NULL,
		employer_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		generation_id TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('cancel', 'issue')),
		line_json TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payment_lines_claimant
		ON payment_lines(claimant_id, employer_id);
	CREATE INDEX IF NOT EXISTS idx_payment_lines_period
		ON payment_lines(period_id);

	-- Append-only archive of rule-application records
	CREATE TABLE IF NOT EXISTS compliance_traces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		claimant_id TEXT NOT NULL,
		employer_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		generation_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		detail TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_traces_claimant
		ON compliance_traces(claimant_id, employer_id);
	CREATE INDEX IF NOT EXISTS idx_traces_rule
		ON compliance_traces(rule_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SNAPSHOT STORE (engine.SnapshotStore interface)
// =============================================================================

// Save upserts the aggregate's snapshot row.
func (s *Store) Save(ctx context.Context, snap engine.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	query := `
		INSERT INTO snapshots (claimant_id, employer_id, schema_version, snapshot_json, halted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(claimant_id, employer_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			snapshot_json = excluded.snapshot_json,
			halted = excluded.halted,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		snap.Key.ClaimantID,
		snap.Key.EmployerID,
		snap.SchemaVersion,
		string(payload),
		snap.Halted,
		snap.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load reads one aggregate's snapshot. Unknown keys return
// engine.ErrSnapshotNotFound; rows written under another schema version
// return a SchemaVersionError.
func (s *Store) Load(ctx context.Context, key engine.AggregateKey) (engine.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		version int
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT schema_version, snapshot_json FROM snapshots WHERE claimant_id = ? AND employer_id = ?",
		key.ClaimantID, key.EmployerID,
	).Scan(&version, &payload)

	if err == sql.ErrNoRows {
		return engine.Snapshot{}, fmt.Errorf("aggregate %s: %w", key, engine.ErrSnapshotNotFound)
	}
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if version != engine.SchemaVersion {
		return engine.Snapshot{}, &engine.SchemaVersionError{Stored: version, Expected: engine.SchemaVersion}
	}

	var snap engine.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// Keys lists every persisted aggregate.
func (s *Store) Keys(ctx context.Context) ([]engine.AggregateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT claimant_id, employer_id FROM snapshots ORDER BY claimant_id, employer_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []engine.AggregateKey
	for rows.Next() {
		var k engine.AggregateKey
		if err := rows.Scan(&k.ClaimantID, &k.EmployerID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// =============================================================================
// PAYMENT LINE LEDGER (append-only)
// =============================================================================

// AppendDiff records every line of a dispatched diff. The idempotency key
// (generation id, direction, line index) makes redelivered diffs a no-op.
func (s *Store) AppendDiff(ctx context.Context, d *engine.PaymentLinesDiffed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, line := range d.Diff.Diff.Cancel {
		if err := s.appendLine(ctx, tx, d, "cancel", i, line); err != nil {
			return err
		}
	}
	for i, line := range d.Diff.Diff.Issue {
		if err := s.appendLine(ctx, tx, d, "issue", i, line); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) appendLine(ctx context.Context, tx *sql.Tx, d *engine.PaymentLinesDiffed, direction string, idx int, line any) error {
	lineJSON, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to encode payment line: %w", err)
	}

	query := `
		INSERT INTO payment_lines
		(claimant_id, employer_id, period_id, generation_id, direction, line_json, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`

	_, err = tx.ExecContext(ctx, query,
		d.Key.ClaimantID,
		d.Key.EmployerID,
		d.Diff.PeriodID,
		d.Diff.GenerationID,
		direction,
		string(lineJSON),
		fmt.Sprintf("%s/%s/%d", d.Diff.GenerationID, direction, idx),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append payment line: %w", err)
	}
	return nil
}

// LedgerEntry is one stored ledger row.
type LedgerEntry struct {
	ClaimantID   string
	EmployerID   string
	PeriodID     string
	GenerationID string
	Direction    string
	LineJSON     string
	CreatedAt    time.Time
}

// LedgerByClaimant returns the claimant's ledger rows in append order.
func (s *Store) LedgerByClaimant(ctx context.Context, key engine.AggregateKey) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT claimant_id, employer_id, period_id, generation_id, direction, line_json, created_at
		FROM payment_lines
		WHERE claimant_id = ? AND employer_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, key.ClaimantID, key.EmployerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var (
			e         LedgerEntry
			createdAt string
		)
		if err := rows.Scan(&e.ClaimantID, &e.EmployerID, &e.PeriodID, &e.GenerationID,
			&e.Direction, &e.LineJSON, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// COMPLIANCE TRACE ARCHIVE (append-only)
// =============================================================================

// AppendTrace archives one rule-application record.
func (s *Store) AppendTrace(ctx context.Context, t *engine.ComplianceTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO compliance_traces
		(claimant_id, employer_id, period_id, generation_id, rule_id, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		t.Key.ClaimantID,
		t.Key.EmployerID,
		t.Trace.PeriodID,
		t.Trace.GenerationID,
		t.Trace.RuleID,
		t.Trace.Detail,
		t.At.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append trace: %w", err)
	}
	return nil
}

// TracesByPeriod returns archived traces for one period in append order.
func (s *Store) TracesByPeriod(ctx context.Context, periodID string) ([]engine.ComplianceTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT claimant_id, employer_id, period_id, generation_id, rule_id, detail, recorded_at
		FROM compliance_traces
		WHERE period_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traces []engine.ComplianceTrace
	for rows.Next() {
		var (
			t          engine.ComplianceTrace
			detail     sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&t.Key.ClaimantID, &t.Key.EmployerID, &t.Trace.PeriodID,
			&t.Trace.GenerationID, &t.Trace.RuleID, &detail, &recordedAt); err != nil {
			return nil, err
		}
		t.Trace.Detail = detail.String
		t.At, _ = time.Parse(time.RFC3339, recordedAt)
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

// =============================================================================
// PUBLISHER ADAPTER
// =============================================================================

// Archiver implements engine.Publisher by archiving diffs and traces;
// other outbound kinds pass through. Wrap it around the bus producer so
// the local ledger and the wire see the same events.
type Archiver struct {
	Store *Store
	Next  engine.Publisher
}

func (a *Archiver) Publish(out engine.Outbound) error {
	ctx := context.Background()
	switch o := out.(type) {
	case *engine.PaymentLinesDiffed:
		if err := a.Store.AppendDiff(ctx, o); err != nil {
			return err
		}
	case *engine.ComplianceTrace:
		if err := a.Store.AppendTrace(ctx, o); err != nil {
			return err
		}
	}
	if a.Next != nil {
		return a.Next.Publish(out)
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"snapshots", "payment_lines", "compliance_traces"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
