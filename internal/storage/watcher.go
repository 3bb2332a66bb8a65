package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchOptions tune a bucket watcher.
type WatchOptions struct {
	// Settle is how long a path must stay quiet before it is reported.
	Settle time.Duration
	// PollInterval drives the fallback scanner used when fsnotify is
	// unavailable or fails.
	PollInterval time.Duration
	// ForcePolling skips fsnotify entirely.
	ForcePolling bool
	Logger       *zap.Logger
}

const (
	defaultSettle       = 300 * time.Millisecond
	defaultPollInterval = time.Second
	eventBuffer         = 64
)

type objectState struct {
	size    int64
	modTime time.Time
}

type bucketWatcher struct {
	store   *FS
	bucket  string
	dir     string
	opts    WatchOptions
	logger  *zap.Logger
	out     chan ObjectEvent
	pending map[string]time.Time
	known   map[string]objectState
}

// Watch reports objects finalized in bucket after the call. Objects that
// already exist are not reported; an overwrite is reported again. The
// channel is closed when ctx is done.
func (s *FS) Watch(ctx context.Context, bucket string, opts WatchOptions) (<-chan ObjectEvent, error) {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if opts.Settle <= 0 {
		opts.Settle = defaultSettle
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &bucketWatcher{
		store:   s,
		bucket:  bucket,
		dir:     dir,
		opts:    opts,
		logger:  logger.With(zap.String("bucket", bucket)),
		out:     make(chan ObjectEvent, eventBuffer),
		pending: make(map[string]time.Time),
		known:   make(map[string]objectState),
	}
	w.snapshot()

	if opts.ForcePolling {
		go w.poll(ctx)
		return w.out, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify not available, falling back to polling", zap.Error(err))
		go w.poll(ctx)
		return w.out, nil
	}
	if err := w.addTree(watcher, dir); err != nil {
		_ = watcher.Close()
		w.logger.Warn("failed to watch bucket, falling back to polling", zap.Error(err))
		go w.poll(ctx)
		return w.out, nil
	}

	go w.notify(ctx, watcher)
	return w.out, nil
}

func (w *bucketWatcher) notify(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		if err := watcher.Close(); err != nil {
			w.logger.Warn("failed to close watcher", zap.Error(err))
		}
	}()

	tick := w.opts.Settle / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(w.out)
			return
		case event, ok := <-watcher.Events:
			if !ok {
				w.logger.Info("fsnotify watcher closed, switching to polling")
				w.poll(ctx)
				return
			}
			w.handle(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				w.logger.Info("fsnotify error channel closed, switching to polling")
				w.poll(ctx)
				return
			}
			w.logger.Warn("bucket watcher error", zap.Error(err))
		case now := <-ticker.C:
			if !w.flush(ctx, now) {
				close(w.out)
				return
			}
		}
	}
}

func (w *bucketWatcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	name, ok := w.objectName(event.Name)
	if !ok {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		// Files may land in a new directory before it is watched.
		if err := w.addTree(watcher, event.Name); err != nil {
			w.logger.Warn("failed to watch directory", zap.String("path", event.Name), zap.Error(err))
		}
		w.markTree(event.Name)
		return
	}
	w.pending[name] = time.Now().Add(w.opts.Settle)
}

func (w *bucketWatcher) flush(ctx context.Context, now time.Time) bool {
	for name, due := range w.pending {
		if now.Before(due) {
			continue
		}
		delete(w.pending, name)
		info, err := os.Stat(filepath.Join(w.dir, filepath.FromSlash(name)))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		w.known[name] = objectState{size: info.Size(), modTime: info.ModTime()}
		if !w.emit(ctx, name) {
			return false
		}
	}
	return true
}

func (w *bucketWatcher) poll(ctx context.Context) {
	defer close(w.out)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			current := w.scan()
			for name, state := range current {
				prev, seen := w.known[name]
				if seen && prev == state {
					continue
				}
				// Wait until the file has stopped changing.
				if now.Sub(state.modTime) < w.opts.Settle {
					continue
				}
				w.known[name] = state
				if !w.emit(ctx, name) {
					return
				}
			}
			for name := range w.known {
				if _, ok := current[name]; !ok {
					delete(w.known, name)
				}
			}
		}
	}
}

func (w *bucketWatcher) emit(ctx context.Context, name string) bool {
	w.logger.Debug("object finalized", zap.String("filename", name))
	select {
	case w.out <- ObjectEvent{Bucket: w.bucket, Name: name}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *bucketWatcher) snapshot() {
	w.known = w.scan()
}

func (w *bucketWatcher) scan() map[string]objectState {
	out := make(map[string]objectState)
	_ = filepath.WalkDir(w.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == w.dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		name, ok := w.objectName(p)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out[name] = objectState{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	return out
}

// markTree queues every file already present below dir.
func (w *bucketWatcher) markTree(dir string) {
	due := time.Now().Add(w.opts.Settle)
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			if name, ok := w.objectName(p); ok {
				w.pending[name] = due
			}
		}
		return nil
	})
}

func (w *bucketWatcher) addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}

func (w *bucketWatcher) objectName(p string) (string, bool) {
	rel, err := filepath.Rel(w.dir, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	name := filepath.ToSlash(rel)
	if ValidateName(name) != nil {
		return "", false
	}
	return name, true
}
