package db

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/g960059/itch/internal/model"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "itch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

func TestWriteAndReadQueue(t *testing.T) {
	store, ctx := newTestStore(t)

	want := []string{"/w/a.png", "/w/b.png", "/w/c.png"}
	if err := store.WriteQueue(ctx, want); err != nil {
		t.Fatalf("write queue: %v", err)
	}
	got, err := store.ReadQueue(ctx)
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("queue mismatch: got %v want %v", got, want)
	}

	if err := store.WriteQueue(ctx, []string{"/w/c.png"}); err != nil {
		t.Fatalf("rewrite queue: %v", err)
	}
	got, err = store.ReadQueue(ctx)
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"/w/c.png"}) {
		t.Fatalf("expected shorter write to trim old rows, got %v", got)
	}
}

func TestReadEmptyQueue(t *testing.T) {
	store, ctx := newTestStore(t)
	got, err := store.ReadQueue(ctx)
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil queue, got %#v", got)
	}
}

func TestWriteQueuePartialFailure(t *testing.T) {
	store, ctx := newTestStore(t)

	err := store.WriteQueue(ctx, []string{"/w/a.png", "", "/w/c.png"})
	if err == nil {
		t.Fatalf("expected row failure")
	}
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected *WriteError, got %T: %v", err, err)
	}
	if len(werr.Failures) != 1 {
		t.Fatalf("expected one failed row, got %d", len(werr.Failures))
	}
	if werr.Failures[0].PlayOrder != 1 || werr.Failures[0].Path != "" {
		t.Fatalf("unexpected failure: %+v", werr.Failures[0])
	}

	got, err := store.ReadQueue(ctx)
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"/w/a.png", "/w/c.png"}) {
		t.Fatalf("expected remaining rows committed, got %v", got)
	}
}

func TestVariantsAreIndependent(t *testing.T) {
	store, ctx := newTestStore(t)

	if err := store.WriteVariant(ctx, []string{"/d/1.png", "/d/2.png"}, model.VariantDay); err != nil {
		t.Fatalf("write day: %v", err)
	}
	if err := store.WriteVariant(ctx, []string{"/n/1.png"}, model.VariantNight); err != nil {
		t.Fatalf("write night: %v", err)
	}
	day, err := store.ReadVariant(ctx, model.VariantDay)
	if err != nil {
		t.Fatalf("read day: %v", err)
	}
	night, err := store.ReadVariant(ctx, model.VariantNight)
	if err != nil {
		t.Fatalf("read night: %v", err)
	}
	if !reflect.DeepEqual(day, []string{"/d/1.png", "/d/2.png"}) {
		t.Fatalf("unexpected day playlist: %v", day)
	}
	if !reflect.DeepEqual(night, []string{"/n/1.png"}) {
		t.Fatalf("unexpected night playlist: %v", night)
	}

	if err := store.WriteVariant(ctx, nil, model.VariantDay); err != nil {
		t.Fatalf("clear day: %v", err)
	}
	night, err = store.ReadVariant(ctx, model.VariantNight)
	if err != nil {
		t.Fatalf("read night: %v", err)
	}
	if len(night) != 1 {
		t.Fatalf("clearing day must not touch night, got %v", night)
	}

	if err := store.WriteVariant(ctx, []string{"/x.png"}, model.Variant("dusk")); err == nil {
		t.Fatalf("expected invalid variant rejected")
	}
}

func TestEnabledAndActiveVariantSettings(t *testing.T) {
	store, ctx := newTestStore(t)

	enabled, err := store.ReadEnabled(ctx)
	if err != nil {
		t.Fatalf("read enabled: %v", err)
	}
	if enabled {
		t.Fatalf("expected disabled by default")
	}
	if err := store.WriteEnabled(ctx, true); err != nil {
		t.Fatalf("write enabled: %v", err)
	}
	enabled, err = store.ReadEnabled(ctx)
	if err != nil {
		t.Fatalf("read enabled: %v", err)
	}
	if !enabled {
		t.Fatalf("expected enabled after write")
	}

	if _, err := store.ReadActiveVariant(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unset active variant, got %v", err)
	}
	if err := store.WriteActiveVariant(ctx, model.VariantNight); err != nil {
		t.Fatalf("write active variant: %v", err)
	}
	active, err := store.ReadActiveVariant(ctx)
	if err != nil {
		t.Fatalf("read active variant: %v", err)
	}
	if active != model.VariantNight {
		t.Fatalf("expected night active, got %q", active)
	}
}
