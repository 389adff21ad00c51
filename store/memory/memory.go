/*
Package memory provides an in-memory engine.SnapshotStore for tests.

PURPOSE:
  Same contract as store/sqlite without the file: snapshots round-trip
  through JSON so tests exercise the real encoding, and loads under a
  different schema version fail the same way.
*/
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/entitlement-engine/engine"
)

type Store struct {
	mu    sync.RWMutex
	snaps map[engine.AggregateKey]stored
}

type stored struct {
	version int
	payload []byte
}

func New() *Store {
	return &Store{snaps: make(map[engine.AggregateKey]stored)}
}

func (s *Store) Save(ctx context.Context, snap engine.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Key] = stored{version: snap.SchemaVersion, payload: payload}
	return nil
}

func (s *Store) Load(ctx context.Context, key engine.AggregateKey) (engine.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.snaps[key]
	if !ok {
		return engine.Snapshot{}, fmt.Errorf("aggregate %s: %w", key, engine.ErrSnapshotNotFound)
	}
	if rec.version != engine.SchemaVersion {
		return engine.Snapshot{}, &engine.SchemaVersionError{Stored: rec.version, Expected: engine.SchemaVersion}
	}

	var snap engine.Snapshot
	if err := json.Unmarshal(rec.payload, &snap); err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) Keys(ctx context.Context) ([]engine.AggregateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]engine.AggregateKey, 0, len(s.snaps))
	for k := range s.snaps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// Corrupt rewrites a stored snapshot's schema version, for tests.
func (s *Store) Corrupt(key engine.AggregateKey, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.snaps[key]; ok {
		rec.version = version
		s.snaps[key] = rec
	}
}
