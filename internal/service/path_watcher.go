package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonno85/columbiastream-uploader/internal/adapter"
	"github.com/jonno85/columbiastream-uploader/internal/config"
	"github.com/jonno85/columbiastream-uploader/internal/domain"
	"github.com/jonno85/columbiastream-uploader/internal/metrics"
)

// DropFolderWatcher queues video files dropped into a directory once they stop changing.
type DropFolderWatcher struct {
	path          string
	streamTimeout time.Duration
	defaults      config.DefaultsConfig
	queue         adapter.RedisOperationalClient
	logger        *slog.Logger

	fsWatcher *fsnotify.Watcher
	mu        sync.Mutex
	timers    map[string]*time.Timer
	done      chan struct{}
}

func NewDropFolderWatcher(cfg config.WatchConfig, defaults config.DefaultsConfig, queue adapter.RedisOperationalClient, logger *slog.Logger) *DropFolderWatcher {
	return &DropFolderWatcher{
		path:          cfg.Path,
		streamTimeout: cfg.StreamTimeout,
		defaults:      defaults,
		queue:         queue,
		logger:        logger,
		timers:        make(map[string]*time.Timer),
		done:          make(chan struct{}),
	}
}

// Start begins watching the folder. Events are handled until Close is called.
func (w *DropFolderWatcher) Start() error {
	if w.path == "" {
		return errors.New("watch path is empty")
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create path watcher: %w", err)
	}
	if err := fsWatcher.Add(w.path); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.fsWatcher = fsWatcher
	w.logger.Info("Path added to watchlist", "path", w.path, "streamTimeout", w.streamTimeout.String())
	go w.handleEvents()
	return nil
}

func (w *DropFolderWatcher) handleEvents() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.logger.Debug("event", "action", event.Op.String(), "path", event.Name)
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if adapter.IsVideoPath(event.Name) {
					w.startOrResetTimer(event.Name)
				}
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "err", err)
		case <-w.done:
			w.logger.Info("Shutting down path watcher")
			return
		}
	}
}

// startOrResetTimer debounces writes: a file is queued once it has been quiet for streamTimeout.
func (w *DropFolderWatcher) startOrResetTimer(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, exists := w.timers[path]; exists {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.streamTimeout, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.logger.Info("No updates, queueing file", "timeout", w.streamTimeout.String(), "path", path)
		if err := w.enqueueFile(context.Background(), path); err != nil {
			w.logger.Error("Failed to queue video file", "path", path, "err", err)
		}
	})
}

func (w *DropFolderWatcher) enqueueFile(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		metrics.FilesIngestedErrors.WithLabelValues(metrics.ExtensionLabel(path)).Inc()
		return err
	}
	if info.Size() == 0 {
		metrics.FilesIngestedErrors.WithLabelValues(metrics.ExtensionLabel(path)).Inc()
		return fmt.Errorf("file %s is empty", path)
	}
	job := domain.UploadJob{
		Path:         path,
		Title:        domain.TitleFromPath(path),
		OfferingID:   w.defaults.OfferingID,
		ProfessorUNI: w.defaults.ProfessorUNI,
		SizeBytes:    info.Size(),
		EnqueuedAt:   time.Now(),
	}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		if errors.Is(err, adapter.ErrAlreadyQueued) {
			w.logger.Info("File already queued", "path", path)
			return nil
		}
		metrics.FilesIngestedErrors.WithLabelValues(metrics.ExtensionLabel(path)).Inc()
		return err
	}
	metrics.FilesIngested.WithLabelValues(metrics.ExtensionLabel(path)).Inc()
	return nil
}

// Close stops watching and drops pending timers.
func (w *DropFolderWatcher) Close() error {
	w.mu.Lock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	if w.fsWatcher == nil {
		return nil
	}
	return w.fsWatcher.Close()
}
