package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/g960059/riskdesk/internal/db"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "riskdesk-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

// SeedSession writes entries for sessionID at the given time.
func SeedSession(t *testing.T, store *db.Store, ctx context.Context, sessionID string, at time.Time, entries map[string]string) {
	t.Helper()
	store.SetClock(func() time.Time { return at })
	defer store.SetClock(time.Now)
	for k, v := range entries {
		if err := store.Put(ctx, sessionID, k, []byte(v)); err != nil {
			t.Fatalf("seed %s/%s: %v", sessionID, k, err)
		}
	}
}
