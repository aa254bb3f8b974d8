package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/g960059/itch/internal/db"
	"github.com/g960059/itch/internal/model"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "itch-test.db"))
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

func SeedQueue(t *testing.T, store *db.Store, ctx context.Context, items ...string) {
	t.Helper()
	if err := store.WriteQueue(ctx, items); err != nil {
		t.Fatalf("seed queue: %v", err)
	}
}

func SeedVariant(t *testing.T, store *db.Store, ctx context.Context, which model.Variant, items ...string) {
	t.Helper()
	if err := store.WriteVariant(ctx, items, which); err != nil {
		t.Fatalf("seed %s playlist: %v", which, err)
	}
}
