// Package syncstate persists the indexer's catch-up cursor and last
// processed timestamp, backed by sqlite (default) or Postgres.
package syncstate

import (
	"context"
	"strconv"
)

// Keys under which the two tracked values are stored.
const (
	keyMessagesCursor = "messages_cursor"
	keyLastSyncTS     = "last_sync_ts"
)

// Store is a durable key-value store for sync progress, implemented by
// the sqlite and Postgres backends.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Cursor wraps a Store with the two named accessors the syncer uses.
type Cursor struct {
	store Store
}

// NewCursor wraps a Store as a Cursor.
func NewCursor(store Store) *Cursor {
	return &Cursor{store: store}
}

// GetCursor returns the persisted pagination cursor, if any.
func (c *Cursor) GetCursor(ctx context.Context) (string, bool, error) {
	return c.store.Get(ctx, keyMessagesCursor)
}

// SetCursor persists the pagination cursor.
func (c *Cursor) SetCursor(ctx context.Context, cursor string) error {
	return c.store.Set(ctx, keyMessagesCursor, cursor)
}

// GetLastSyncTS returns the last processed message's created_at, or 0.
func (c *Cursor) GetLastSyncTS(ctx context.Context) (int64, error) {
	v, ok, err := c.store.Get(ctx, keyLastSyncTS)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return ts, nil
}

// SetLastSyncTS persists the last processed message's created_at.
func (c *Cursor) SetLastSyncTS(ctx context.Context, ts int64) error {
	return c.store.Set(ctx, keyLastSyncTS, strconv.FormatInt(ts, 10))
}

// Close releases the underlying store's resources.
func (c *Cursor) Close() error {
	return c.store.Close()
}
