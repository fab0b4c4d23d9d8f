// Package scriptdir mirrors a local directory of .cljs files into the
// script store. Saves are forced so editor writes win over stored copies
// without raising confirmations.
package scriptdir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"github.com/PEZ/epupp/core"
	"github.com/PEZ/epupp/schema"
)

const debounceWindow = 200 * time.Millisecond

// Watcher syncs *.cljs files under one directory into the engine.
type Watcher struct {
	dir     string
	service core.Service
	watcher *fsnotify.Watcher
	log     pslog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
	running bool

	stop chan struct{}
	done chan struct{}
}

// New creates a watcher for dir. The directory is created when missing.
func New(dir string, service core.Service, logger pslog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:     dir,
		service: service,
		watcher: fsw,
		log:     logger.With("component", "scriptdir").With("dir", dir),
		pending: make(map[string]time.Time),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start performs an initial sync of every .cljs file and begins watching.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.syncAll(ctx); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	w.log.Debug("watching script directory")
	go w.run(ctx)
	return nil
}

// Stop halts the watch loop and releases the inotify handle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stop)
	<-w.done
	if err := w.watcher.Close(); err != nil {
		w.log.Warn("close watcher", "error", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(debounceWindow / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		case <-ticker.C:
			w.flushDue(ctx)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !isScriptFile(event.Name) {
		return
	}
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		// Editors fire bursts of writes per save; coalesce them.
		w.mu.Lock()
		w.pending[event.Name] = time.Now().Add(debounceWindow)
		w.mu.Unlock()
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		delete(w.pending, event.Name)
		w.mu.Unlock()
		w.removeScript(ctx, event.Name)
	}
}

func (w *Watcher) flushDue(ctx context.Context) {
	now := time.Now()
	var due []string
	w.mu.Lock()
	for path, at := range w.pending {
		if !at.After(now) {
			due = append(due, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()
	for _, path := range due {
		w.syncFile(ctx, path)
	}
}

func (w *Watcher) syncAll(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !isScriptFile(entry.Name()) {
			continue
		}
		w.syncFile(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

func (w *Watcher) syncFile(ctx context.Context, path string) {
	code, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn("read script file", "path", path, "error", err)
		}
		return
	}
	name := schema.ScriptName(filepath.Base(path))
	_, err = w.service.SaveScript(ctx, schema.SaveScriptRequest{
		Code:  string(code),
		Name:  name,
		Force: true,
	})
	if err != nil {
		if errors.Is(err, schema.ErrBuiltinProtected) {
			w.log.Debug("skipping builtin name", "name", name)
			return
		}
		w.log.Warn("sync script", "name", name, "error", err)
		return
	}
	w.log.Debug("synced script", "name", name)
}

func (w *Watcher) removeScript(ctx context.Context, path string) {
	name := schema.ScriptName(filepath.Base(path))
	_, err := w.service.RemoveScripts(ctx, schema.RemoveScriptsRequest{
		Names: []schema.ScriptName{name},
		Force: true,
	})
	if err != nil {
		if errors.Is(err, schema.ErrBuiltinProtected) {
			w.log.Debug("skipping builtin name", "name", name)
			return
		}
		w.log.Warn("remove script", "name", name, "error", err)
		return
	}
	w.log.Debug("removed script", "name", name)
}

func isScriptFile(path string) bool {
	return strings.HasSuffix(path, ".cljs") && !strings.HasPrefix(filepath.Base(path), ".")
}
