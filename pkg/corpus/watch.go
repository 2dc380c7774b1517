package corpus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// ErrWatcherFailed indicates the filesystem watcher could not start.
var ErrWatcherFailed = errors.New("failed to initialize corpus watcher")

// Invalidator is the part of Store the watcher needs.
type Invalidator interface {
	Invalidate(language string)
}

// Watcher invalidates cached corpora when their files in a directory change,
// so edits to user corpora are picked up without a restart.
type Watcher struct {
	dir     string
	target  Invalidator
	watcher *fsnotify.Watcher
	stop    chan struct{}
	once    sync.Once
	done    chan struct{}

	// onInvalidate is called after each invalidation. Tests only.
	onInvalidate func(language string)
}

// NewWatcher creates a watcher over dir. Call Start to begin watching.
func NewWatcher(dir string, target Invalidator) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		dir:     dir,
		target:  target,
		watcher: w,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start adds the directory and processes events in the background until
// ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		_ = w.watcher.Close()
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	log.Debugf("Watching %s for corpus changes", w.dir)
	go w.processEvents(ctx)
	return nil
}

// Watch creates and starts a watcher over dir in one step.
func Watch(ctx context.Context, dir string, target Invalidator) (*Watcher, error) {
	w, err := NewWatcher(dir, target)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Stop ends watching and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

// Done is closed once the event loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			w.Stop()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("Corpus watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	lang, ok := languageFromFile(filepath.Base(event.Name))
	if !ok {
		return
	}
	log.Debugf("Corpus file %s changed (%s)", event.Name, event.Op)
	w.target.Invalidate(lang)
	if w.onInvalidate != nil {
		w.onInvalidate(lang)
	}
}
