package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the calculator whenever its pricing file changes, until ctx
// is cancelled. Events are debounced so an editor's write-rename dance
// triggers a single reload. Blocking; run it in its own goroutine.
func (c *Calculator) Watch(ctx context.Context) error {
	if c.path == "" {
		return fmt.Errorf("pricing: no file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("pricing: creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: renames replace the inode and a
	// file-level watch would go stale.
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("pricing: watching %q: %w", dir, err)
	}

	slog.Info("pricing file watcher started", "path", c.path)

	const debounce = 200 * time.Millisecond
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerCh = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerCh:
			if err := c.Reload(); err != nil {
				// Keep serving the previous table on a bad write.
				slog.Error("pricing reload failed, keeping previous table", "error", err)
			} else {
				slog.Info("pricing table reloaded", "path", c.path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("pricing watcher error", "error", err)
		}
	}
}
