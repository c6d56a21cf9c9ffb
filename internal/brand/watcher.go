package brand

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the brand config file on every write, matching the
// teacher's skills-directory watcher lifecycle (cmd/gateway.go: construct,
// Start(ctx), defer Stop()).
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher
	log  *slog.Logger
}

// NewWatcher loads cfg once (so callers have a usable config even if the
// watcher never starts) and prepares a fsnotify watch on path's directory.
func NewWatcher(path string, log *slog.Logger) (*Watcher, Config, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, Config{}, err
	}
	Apply(cfg)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cfg, err
	}
	return &Watcher{path: path, fsw: fsw, log: log}, cfg, nil
}

// Start watches the config file's parent directory (fsnotify does not
// reliably track a single file across editors' write-via-rename) and
// reapplies the config on every write or create event naming path.
func (w *Watcher) Start(ctx context.Context) error {
	dir := dirOf(w.path)
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

// Stop releases the underlying fsnotify watch.
func (w *Watcher) Stop() {
	w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("brand: reload failed, keeping previous config", "path", w.path, "error", err)
				continue
			}
			Apply(cfg)
			w.log.Info("brand: config reloaded", "path", w.path)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("brand: watch error", "error", err)
		}
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
