package syncstate

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestCursor(t *testing.T) *Cursor {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync_state.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewCursor(store)
}

func TestCursor_GetCursorMissingReturnsFalse(t *testing.T) {
	c := newTestCursor(t)
	_, ok, err := c.GetCursor(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for unset cursor")
	}
}

func TestCursor_SetAndGetCursor(t *testing.T) {
	c := newTestCursor(t)
	ctx := context.Background()
	if err := c.SetCursor(ctx, "cursor-123"); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	got, ok, err := c.GetCursor(ctx)
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if !ok || got != "cursor-123" {
		t.Errorf("got %q, ok=%v, want cursor-123", got, ok)
	}
}

func TestCursor_SetCursorOverwrites(t *testing.T) {
	c := newTestCursor(t)
	ctx := context.Background()
	c.SetCursor(ctx, "first")
	c.SetCursor(ctx, "second")
	got, _, err := c.GetCursor(ctx)
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if got != "second" {
		t.Errorf("got %q, want second", got)
	}
}

func TestCursor_LastSyncTSDefaultsToZero(t *testing.T) {
	c := newTestCursor(t)
	ts, err := c.GetLastSyncTS(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != 0 {
		t.Errorf("got %d, want 0", ts)
	}
}

func TestCursor_SetAndGetLastSyncTS(t *testing.T) {
	c := newTestCursor(t)
	ctx := context.Background()
	if err := c.SetLastSyncTS(ctx, 1700000000); err != nil {
		t.Fatalf("SetLastSyncTS: %v", err)
	}
	ts, err := c.GetLastSyncTS(ctx)
	if err != nil {
		t.Fatalf("GetLastSyncTS: %v", err)
	}
	if ts != 1700000000 {
		t.Errorf("got %d, want 1700000000", ts)
	}
}
