package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/g960059/riskdesk/internal/db"
	"github.com/g960059/riskdesk/internal/model"
)

// SnapshotKey is the session storage key holding the serialized snapshot.
const SnapshotKey = "riskdesk.router.state"

const DefaultSnapshotTTL = 5 * time.Minute

type SnapshotStore interface {
	Load(ctx context.Context) (model.Snapshot, bool, error)
	Save(ctx context.Context, snap model.Snapshot) error
	Delete(ctx context.Context) error
}

// KV is the session-scoped key/value store snapshots are kept in.
// Get returns db.ErrNotFound for absent keys.
type KV interface {
	Get(ctx context.Context, sessionID, key string) ([]byte, error)
	Put(ctx context.Context, sessionID, key string, value []byte) error
	Delete(ctx context.Context, sessionID, key string) error
}

type sessionSnapshotStore struct {
	kv        KV
	sessionID string
}

func NewSessionSnapshotStore(kv KV, sessionID string) SnapshotStore {
	return &sessionSnapshotStore{kv: kv, sessionID: sessionID}
}

func (s *sessionSnapshotStore) Load(ctx context.Context) (model.Snapshot, bool, error) {
	raw, err := s.kv.Get(ctx, s.sessionID, SnapshotKey)
	if errors.Is(err, db.ErrNotFound) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// An unreadable blob is treated like a missing one.
		return model.Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *sessionSnapshotStore) Save(ctx context.Context, snap model.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.kv.Put(ctx, s.sessionID, SnapshotKey, raw); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *sessionSnapshotStore) Delete(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.sessionID, SnapshotKey); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Environment identifies the page load a snapshot was taken in.
type Environment struct {
	URL       string
	UserAgent string
}

// checkSnapshot returns nil when snap may be used for a fast-path restore.
func checkSnapshot(snap model.Snapshot, env Environment, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	switch {
	case snap.SchemaVersion != model.SnapshotSchemaVersion:
		return fmt.Errorf("schema version %d, want %d", snap.SchemaVersion, model.SnapshotSchemaVersion)
	case snap.Status != model.StatusReady:
		return fmt.Errorf("status %q", snap.Status)
	case snap.URL != env.URL:
		return fmt.Errorf("url mismatch")
	case snap.ClientFingerprint != env.UserAgent:
		return fmt.Errorf("client fingerprint mismatch")
	}
	age := now.Sub(snap.Timestamp)
	if age < 0 || age > ttl {
		return fmt.Errorf("stale: age %s exceeds %s", age.Round(time.Millisecond), ttl)
	}
	return nil
}
