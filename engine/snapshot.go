/*
snapshot.go - Whole-aggregate persistence

PURPOSE:
  An aggregate persists as one snapshot: the merge engine's event journal
  (replayed on load to rebuild the working set), the benefit-period set
  with its full generation history, and the outstanding need requests.
  Saving the whole aggregate after every event keeps persistence a dumb
  collaborator; all invariants live in the domain packages.

VERSIONING:
  Snapshots carry a schema version. Stores refuse to load a snapshot
  written under a different version (SchemaVersionError); migration is an
  offline concern.
*/
package engine

import (
	"context"
	"time"

	"github.com/warp/entitlement-engine/period"
	"github.com/warp/entitlement-engine/timeline"
)

// SchemaVersion is stamped on every saved snapshot.
const SchemaVersion = 1

// OutstandingNeed is a need request that has been published and not yet
// satisfied by an incoming fact.
type OutstandingNeed struct {
	Need        period.Need `json:"need"`
	RequestedAt time.Time   `json:"requested_at"`
	Reissues    int         `json:"reissues,omitempty"`
}

// Snapshot is the complete persisted state of one aggregate.
type Snapshot struct {
	SchemaVersion int          `json:"schema_version"`
	Key           AggregateKey `json:"key"`

	// Journal is the merge engine's applied source events in arrival
	// order. Loading replays it into a fresh engine.
	Journal []timeline.SourceEvent `json:"journal"`

	Set *period.Set `json:"set"`

	Outstanding []OutstandingNeed `json:"outstanding,omitempty"`

	Halted     bool   `json:"halted,omitempty"`
	HaltReason string `json:"halt_reason,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotStore persists aggregate snapshots. Load returns
// ErrSnapshotNotFound for unknown keys and a SchemaVersionError for
// snapshots written under another schema version.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, key AggregateKey) (Snapshot, error)
	Keys(ctx context.Context) ([]AggregateKey, error)
}
