package assets

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type ShaderEvent struct {
	Name    string
	Removed bool
}

type watcher struct {
	am      *AssetManager
	fs      *fsnotify.Watcher
	events  chan ShaderEvent
	done    chan struct{}
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

func newWatcher(am *AssetManager) (*watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	w := &watcher{
		am:     am,
		fs:     fsWatch,
		events: make(chan ShaderEvent, 16),
		done:   make(chan struct{}),
	}
	if err := w.watchRecursive(am.dir); err != nil {
		fsWatch.Close()
		return nil, err
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

// watchRecursive adds the directory and every directory below it.
func (w *watcher) watchRecursive(path string) error {
	return filepath.WalkDir(path, func(walkPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fs.Add(walkPath)
		}
		return nil
	})
}

func (w *watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(e)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			core.LogError("shader watcher: %s", err)
		case <-w.done:
			return
		}
	}
}

func (w *watcher) handle(e fsnotify.Event) {
	if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
		if e.Has(fsnotify.Create) {
			if err := w.watchRecursive(e.Name); err != nil {
				core.LogWarn("shader watcher: cannot watch %s: %s", e.Name, err)
			}
		}
		return
	}
	switch {
	case e.Has(fsnotify.Create) || e.Has(fsnotify.Write):
		if name, ok := w.am.handleFileEvent(e.Name); ok {
			core.LogDebug("shader %s changed", name)
			w.emit(ShaderEvent{Name: name})
		}
	case e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename):
		if name, ok := w.am.removeAsset(e.Name); ok {
			core.LogDebug("shader %s removed", name)
			w.emit(ShaderEvent{Name: name, Removed: true})
		}
	}
}

// emit never blocks the watch loop; a slow consumer loses events.
func (w *watcher) emit(ev ShaderEvent) {
	select {
	case w.events <- ev:
	default:
		core.LogWarn("shader watcher: dropping event for %s", ev.Name)
	}
}

func (w *watcher) close() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	close(w.events)
	return err
}
