package trust

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 100 * time.Millisecond

// BundleWatcher keeps a root pool in sync with a file-backed Bundle.
// A reload that fails keeps the previous pool.
type BundleWatcher struct {
	bundle   Bundle
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.RWMutex
	pool     *x509.CertPool
	onReload []func(*x509.CertPool)
	onError  []func(error)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBundleWatcher loads bundle and starts watching its file. The bundle must
// be file-backed; inline bundles never change.
func NewBundleWatcher(bundle Bundle, logger *slog.Logger) (*BundleWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bundle.Path == "" {
		return nil, fmt.Errorf("trust bundle %s: watching requires a file path", bundle.label())
	}

	absPath, err := filepath.Abs(bundle.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve trust bundle path: %w", err)
	}
	bundle.Path = absPath

	pool, err := bundle.CertPool()
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create trust bundle watcher: %w", err)
	}
	// Watch the directory so atomic renames by secret managers are seen.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch trust bundle directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &BundleWatcher{
		bundle:   bundle,
		path:     absPath,
		logger:   logger.With("component", "trust_bundle_watcher", "bundle", bundle.label()),
		debounce: defaultReloadDebounce,
		pool:     pool,
		watcher:  watcher,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.watchLoop(ctx)

	return w, nil
}

// Pool returns the current root pool.
func (w *BundleWatcher) Pool() *x509.CertPool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pool
}

// OnReload registers fn to be called after every successful reload.
func (w *BundleWatcher) OnReload(fn func(*x509.CertPool)) {
	w.mu.Lock()
	w.onReload = append(w.onReload, fn)
	w.mu.Unlock()
}

// OnReloadError registers fn to be called when a reload fails.
func (w *BundleWatcher) OnReloadError(fn func(error)) {
	w.mu.Lock()
	w.onError = append(w.onError, fn)
	w.mu.Unlock()
}

// Close stops watching.
func (w *BundleWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *BundleWatcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Trust bundle watcher error", "error", err)
		}
	}
}

func (w *BundleWatcher) reload() {
	pool, err := w.bundle.CertPool()
	if err != nil {
		w.logger.Error("Trust bundle reload failed, keeping previous roots", "error", err)
		w.mu.RLock()
		callbacks := make([]func(error), len(w.onError))
		copy(callbacks, w.onError)
		w.mu.RUnlock()
		for _, fn := range callbacks {
			fn(err)
		}
		return
	}

	w.mu.Lock()
	w.pool = pool
	callbacks := make([]func(*x509.CertPool), len(w.onReload))
	copy(callbacks, w.onReload)
	w.mu.Unlock()

	w.logger.Info("Trust bundle reloaded", "path", w.path)
	for _, fn := range callbacks {
		fn(pool)
	}
}
