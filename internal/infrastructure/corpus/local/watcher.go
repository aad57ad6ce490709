package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns raw filesystem events under the corpus root into debounced
// ingestion triggers. fsnotify does not recurse, so group and expert
// directories are registered up front and newly created directories are added
// on the fly.
type Watcher struct {
	root     string
	debounce time.Duration
	fs       *fsnotify.Watcher
}

func NewWatcher(root string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create corpus watcher: %w", err)
	}
	w := &Watcher{root: root, debounce: debounce, fs: fs}
	if err := w.addTree(root); err != nil {
		fs.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != dir && hidden(entry.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run blocks until ctx is cancelled, calling trigger once per settled burst
// of corpus changes. Trigger failures are logged and the watch continues.
func (w *Watcher) Run(ctx context.Context, trigger func(context.Context, string) error) error {
	defer w.fs.Close()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
		reason string
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			reason = fmt.Sprintf("corpus change: %s", filepath.Base(event.Name))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if err := trigger(ctx, reason); err != nil {
				slog.Warn("corpus_trigger_failed", "reason", reason, "error", err)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slog.Warn("corpus_watch_error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	if hidden(name) {
		return false
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fs.Add(event.Name); err != nil {
				slog.Warn("corpus_watch_add_failed", "path", event.Name, "error", err)
			}
			return true
		}
	}
	return supportedExtension(name)
}
