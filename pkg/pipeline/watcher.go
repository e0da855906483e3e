package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/granthlabs/granth/pkg/registry"
)

const defaultDebounceDelay = 500 * time.Millisecond

// Watcher ingests files dropped into a directory. New and rewritten files
// with supported extensions are registered and indexed through the batch
// processor; files the registry already knows by storage path are skipped.
type Watcher struct {
	watcher   *fsnotify.Watcher
	dir       string
	processor *Processor
	registry  registry.Registry
	debounce  time.Duration

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher over dir. The directory must exist.
func NewWatcher(dir string, processor *Processor, reg registry.Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:   fsw,
		dir:       dir,
		processor: processor,
		registry:  reg,
		debounce:  defaultDebounceDelay,
	}, nil
}

// Run watches until the context is cancelled. Events are debounced so a
// file still being copied in is ingested once, after it settles.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	defer w.watcher.Close()

	slog.Info("Watching uploads directory", "dir", w.dir)

	pending := make(map[string]struct{})
	var pendingMu sync.Mutex
	var debounceTimer *time.Timer

	flush := func() {
		pendingMu.Lock()
		paths := pending
		pending = make(map[string]struct{})
		pendingMu.Unlock()

		for path := range paths {
			w.ingest(ctx, path)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !SupportedUploadExtensions[ExtensionOf(event.Name)] {
				continue
			}

			pendingMu.Lock()
			pending[event.Name] = struct{}{}
			pendingMu.Unlock()

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, flush)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("File watcher error", "dir", w.dir, "error", err)
		}
	}
}

// ingest registers one settled file and runs it through the processor.
func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	known, err := w.isRegistered(ctx, path)
	if err != nil {
		slog.Warn("Failed to check registry for watched file", "path", path, "error", err)
		return
	}
	if known {
		return
	}

	doc := &registry.Document{
		ID:          uuid.NewString(),
		Filename:    filepath.Base(path),
		Extension:   ExtensionOf(path),
		Size:        info.Size(),
		StoragePath: path,
		Status:      registry.StatusPending,
		UploadedAt:  time.Now().UTC(),
	}
	if err := w.registry.Create(ctx, doc); err != nil {
		slog.Error("Failed to register watched file", "path", path, "error", err)
		return
	}

	slog.Info("Ingesting watched file", "path", path, "documentId", doc.ID)
	w.processor.ProcessSequentially(ctx, []*registry.Document{doc}, nil)
}

func (w *Watcher) isRegistered(ctx context.Context, path string) (bool, error) {
	docs, err := w.registry.List(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range docs {
		if d.StoragePath == path {
			return true, nil
		}
	}
	return false, nil
}
