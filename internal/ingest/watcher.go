package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/pipeline"
)

// debounceDelay coalesces rapid Create+Write events and gives the writer
// time to finish before we read the file.
const debounceDelay = 500 * time.Millisecond

var audioExtensions = map[string]bool{
	".wav":  true,
	".flac": true,
	".mp3":  true,
	".ogg":  true,
	".opus": true,
	".webm": true,
	".m4a":  true,
	".amr":  true,
}

// SessionCreator creates the session row a watched file is attached to.
type SessionCreator interface {
	InsertSession(ctx context.Context, id, title, audioPath string) error
}

// Enqueuer admits a request to the background job queue.
type Enqueuer interface {
	Enqueue(req pipeline.Request) *pipeline.Job
}

// WatcherOptions configures a drop-folder watcher.
type WatcherOptions struct {
	WatchDir string
	Language string
	Queue    Enqueuer
	Sessions SessionCreator
	Log      zerolog.Logger
}

// Watcher monitors a drop folder for new audio files and enqueues a
// transcription job for each one. This is the hands-off alternative to the
// HTTP upload endpoint.
type Watcher struct {
	watchDir string
	language string
	queue    Enqueuer
	sessions SessionCreator
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	seenMu sync.Mutex
	seen   map[string]bool

	filesEnqueued atomic.Int64
	filesSkipped  atomic.Int64
}

func NewWatcher(opts WatcherOptions) *Watcher {
	return &Watcher{
		watchDir:       opts.WatchDir,
		language:       opts.Language,
		queue:          opts.Queue,
		sessions:       opts.Sessions,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		seen:           make(map[string]bool),
	}
}

// Start initializes the fsnotify watcher, adds the directory tree, and scans
// existing files so clips dropped while the service was down are not lost.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw
	w.ctx, w.cancel = context.WithCancel(ctx)

	dirCount := 0
	err = filepath.WalkDir(w.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("error walking watch directory")
			return nil
		}
		if d.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				w.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return err
	}

	w.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", w.watchDir).
		Msg("drop folder watcher started")

	w.wg.Add(1)
	go w.watchLoop()

	w.wg.Add(1)
	go w.scanExisting()

	return nil
}

// Stop closes the watcher and waits for in-flight file handling.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
	w.log.Info().
		Int64("files_enqueued", w.filesEnqueued.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("drop folder watcher stopped")
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New subdirectory: extend the watch set so nested drops work.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(event.Name); err != nil {
					w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				}
				continue
			}

			if !isAudioFile(event.Name) {
				continue
			}
			w.scheduleProcess(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

func (w *Watcher) scheduleProcess(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(debounceDelay)
		return
	}
	w.debounceTimers[path] = time.AfterFunc(debounceDelay, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.processFile(path)
	})
}

// processFile creates a session for the clip and hands it to the queue.
// Each path is admitted at most once per process lifetime.
func (w *Watcher) processFile(path string) {
	w.seenMu.Lock()
	if w.seen[path] {
		w.seenMu.Unlock()
		w.filesSkipped.Add(1)
		return
	}
	w.seen[path] = true
	w.seenMu.Unlock()

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		w.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable or empty file")
		w.filesSkipped.Add(1)
		return
	}

	sessionID := uuid.NewString()
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	ctx, cancel := context.WithTimeout(w.ctx, 10*time.Second)
	defer cancel()
	if err := w.sessions.InsertSession(ctx, sessionID, title, path); err != nil {
		w.log.Error().Err(err).Str("path", path).Msg("failed to create session for watched file")
		w.filesSkipped.Add(1)
		return
	}

	job := w.queue.Enqueue(pipeline.Request{
		SessionID:    sessionID,
		AudioPath:    path,
		Language:     w.language,
		Diarization:  true,
		Punctuation:  true,
		WordTimes:    true,
		Summarize:    true,
		ExtractTasks: true,
	})
	w.filesEnqueued.Add(1)

	w.log.Info().
		Str("path", path).
		Str("session_id", sessionID).
		Str("job_id", job.ID).
		Msg("watched file enqueued")
}

// scanExisting walks the drop folder once at startup and enqueues any audio
// files already present, oldest first.
func (w *Watcher) scanExisting() {
	defer w.wg.Done()

	type entry struct {
		path string
		mod  time.Time
	}
	var found []entry

	_ = filepath.WalkDir(w.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isAudioFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		found = append(found, entry{path: path, mod: info.ModTime()})
		return nil
	})

	sort.Slice(found, func(i, j int) bool { return found[i].mod.Before(found[j].mod) })

	for _, f := range found {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		w.processFile(f.path)
	}

	if len(found) > 0 {
		w.log.Info().Int("files", len(found)).Msg("startup scan complete")
	}
}

func isAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}
