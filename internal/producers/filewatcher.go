package producers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"soulagent/internal/logging"
	"soulagent/internal/types"
)

// debounceWindow coalesces rapid-fire events on the same path
// (spec.md §9 Open Questions: "500ms minimum-age debounce").
const debounceWindow = 500 * time.Millisecond

// maxPreviewBytes bounds how much of a changed file's content is read
// into the emitted preview (spec.md §4.8: "first-500-chars-of-text-content").
const maxPreviewBytes = 500

var ignoredDirParts = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true, ".venv": true, "venv": true, ".tox": true,
}

var ignoredFilenames = map[string]bool{
	".DS_Store": true, "Thumbs.db": true, ".gitkeep": true,
}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".pdf": true, ".zip": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true, ".mp4": true, ".mov": true,
}

// FileWatcher watches a set of root directories for created/modified
// files, filtering noise and emitting a preview of what changed.
type FileWatcher struct {
	roots  []string
	sink   Sink
	logger logging.Logger
	now    func() time.Time

	newWatcher func() (*fsnotify.Watcher, error)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]fsnotify.Op
}

// NewFileWatcher constructs a FileWatcher over roots.
func NewFileWatcher(roots []string, sink Sink, logger logging.Logger) *FileWatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &FileWatcher{
		roots:      roots,
		sink:       sink,
		logger:     logger,
		now:        time.Now,
		newWatcher: fsnotify.NewWatcher,
		timers:     make(map[string]*time.Timer),
		pending:    make(map[string]fsnotify.Op),
	}
}

func (f *FileWatcher) Name() string { return "filewatcher" }

// Run subscribes to f.roots and blocks until ctx is canceled.
func (f *FileWatcher) Run(ctx context.Context) {
	watcher, err := f.newWatcher()
	if err != nil {
		f.logger.Warn("filewatcher: failed to start", logging.F("error", err))
		return
	}
	defer watcher.Close()

	for _, root := range f.roots {
		if err := watcher.Add(root); err != nil {
			f.logger.Warn("filewatcher: failed to watch root", logging.F("root", root), logging.F("error", err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Debug("filewatcher: watch error", logging.F("error", err))
		}
	}
}

func (f *FileWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !f.shouldEmit(event.Name) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[event.Name] = event.Op
	if t, ok := f.timers[event.Name]; ok {
		t.Stop()
	}
	f.timers[event.Name] = time.AfterFunc(debounceWindow, func() { f.flush(event.Name) })
}

func (f *FileWatcher) flush(path string) {
	f.mu.Lock()
	op, ok := f.pending[path]
	delete(f.pending, path)
	delete(f.timers, path)
	f.mu.Unlock()
	if !ok {
		return
	}

	action := "modified"
	if op&fsnotify.Create != 0 {
		action = "created"
	}
	filename := filepath.Base(path)
	preview := readPreview(path)
	f.sink.Put(types.NewFileItem(path, action, filename, preview, f.now()))
}

func (f *FileWatcher) shouldEmit(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if ignoredDirParts[part] {
			return false
		}
	}
	filename := filepath.Base(path)
	if ignoredFilenames[filename] {
		return false
	}
	if binaryExtensions[strings.ToLower(filepath.Ext(filename))] {
		return false
	}
	return true
}

func readPreview(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > maxPreviewBytes {
		data = data[:maxPreviewBytes]
	}
	return string(data)
}
