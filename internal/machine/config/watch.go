package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches settings.json for external edits (e.g. a token rotated
// by another process) and reloads the configuration when it changes.
type Watcher struct {
	fsw *fsnotify.Watcher
}

// WatchSettings starts watching $HAPI_HOME/settings.json. onReload is
// called with the freshly loaded Config after each write event; load
// errors are logged and do not stop the watch.
func WatchSettings(hapiHome string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(hapiHome); err != nil {
		fsw.Close()
		return nil, err
	}

	path := settingsPath(hapiHome)
	go func() {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load()
				if err != nil {
					slog.Warn("failed to reload settings after change", "error", err)
					continue
				}
				onReload(cfg)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("settings watcher error", "error", err)
			}
		}
	}()

	return &Watcher{fsw: fsw}, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
