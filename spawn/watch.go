package spawn

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// DefaultReloadDelay debounces bursts of writes to the occurrence table
const DefaultReloadDelay = 500 * time.Millisecond

// TableWatcher reloads an occurrence table when its file changes. A table
// that fails to load or validate is logged and the previous one stays active.
type TableWatcher struct {
	fs       afero.Fs
	path     string
	delay    time.Duration
	onReload func(OccurrenceTable)
}

// NewTableWatcher creates a watcher for path. onReload receives every table
// that loads successfully.
func NewTableWatcher(fs afero.Fs, path string, onReload func(OccurrenceTable)) *TableWatcher {
	return &TableWatcher{
		fs:       fs,
		path:     path,
		delay:    DefaultReloadDelay,
		onReload: onReload,
	}
}

// Watch starts watching in the background until ctx is done. The parent
// directory is watched so that atomic replaces by editors are seen.
func (w *TableWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	go w.processEvents(ctx, watcher)

	log.Ctx(ctx).Info().Str("path", w.path).Msg("Watching occurrence table")
	return nil
}

func (w *TableWatcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	logger := log.Ctx(ctx)
	defer watcher.Close()

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || !w.relevant(event) {
				continue
			}
			logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Occurrence table changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.delay, func() { w.Reload(ctx) })

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Str("path", w.path).Msg("Occurrence table watcher error")
		}
	}
}

func (w *TableWatcher) relevant(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// Reload loads the table now and hands it to the callback
func (w *TableWatcher) Reload(ctx context.Context) error {
	logger := log.Ctx(ctx)

	table, err := LoadOccurrenceTable(w.fs, w.path)
	if err != nil {
		logger.Error().Err(err).Str("path", w.path).Msg("Keeping previous occurrence table")
		return err
	}

	w.onReload(table)
	logger.Info().Str("path", w.path).Int("items", len(table)).Msg("Occurrence table reloaded")
	return nil
}
