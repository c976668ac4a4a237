package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors path for changes and calls onChange with the newly loaded
// [Values] each time the file is written. It runs until ctx is cancelled.
//
// Once the watch is registered, the file is loaded and passed to onChange
// one time before any change is reported, so edits made before Watch was
// called are not lost. Callers that already applied the file should diff.
//
// The parent directory is watched rather than the file itself so that
// editors which save by renaming a temporary file over path are followed.
//
// If a reload fails (e.g., invalid YAML), the error is logged and onChange
// is not called, so the previously applied values stay in effect.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(Values)) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to watch seed file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	logger.Info("seed: watching for changes", "path", path)
	reload(path, logger, onChange)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			// editors often save via rename, so Create counts as a write
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			reload(path, logger, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("seed: watcher error", "error", err)
		}
	}
}

// reload loads path and passes the result to onChange, logging and skipping
// files that fail to load.
func reload(path string, logger *slog.Logger, onChange func(Values)) {
	values, err := Load(path)
	if err != nil {
		logger.Error("seed: reload failed, keeping previous values",
			"path", path, "error", err)
		return
	}

	logger.Debug("seed: reloaded", "path", path, "keys", len(values))
	onChange(values)
}
