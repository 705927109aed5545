package syncstate

import "fmt"

// BackendConfig selects and configures a sync-state backend.
type BackendConfig struct {
	// Backend is "sqlite" (default) or "postgres".
	Backend string
	// SQLitePath is used when Backend is "sqlite".
	SQLitePath string
	// PostgresDSN is used when Backend is "postgres".
	PostgresDSN string
}

// Open opens the configured backend and wraps it in a Cursor.
func Open(cfg BackendConfig) (*Cursor, error) {
	switch cfg.Backend {
	case "", "sqlite":
		store, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewCursor(store), nil
	case "postgres":
		store, err := OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return NewCursor(store), nil
	default:
		return nil, fmt.Errorf("unknown sync state backend %q", cfg.Backend)
	}
}
