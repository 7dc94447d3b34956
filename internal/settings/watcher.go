package settings

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch reports the names of setting keys whose files change while the
// service runs, so the daemon can pick up edited values without a restart.
// The channel closes when ctx is cancelled.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	changes := make(chan string, 16)
	go func() {
		defer close(changes)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
					continue
				}
				key := filepath.Base(ev.Name)
				if !knownKey(key) {
					continue
				}
				select {
				case changes <- key:
				default:
					// a slow consumer drops intermediate change
					// notifications but still re-reads on the next one
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return changes, nil
}

func knownKey(key string) bool {
	if strings.HasPrefix(key, ".") || strings.Contains(key, ".tmp") {
		return false
	}
	if key == KeyNotes || key == KeyServiceBin || key == KeyImportFile {
		return true
	}
	_, ok := intDefaults[key]
	return ok
}
