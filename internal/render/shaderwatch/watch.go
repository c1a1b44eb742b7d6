// Package shaderwatch loads GLSL program sources from a directory and reports
// which programs changed on disk. Recompiling is left to the GL thread.
package shaderwatch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Shader stage file extensions.
const (
	ExtVertex   = ".vert"
	ExtFragment = ".frag"
)

// Source is a program's vertex and fragment GLSL.
type Source struct {
	Vertex   string
	Fragment string
}

// Load reads name.vert and name.frag from dir. The sources are NUL
// terminated for gl.Strs.
func Load(dir, name string) (Source, error) {
	vert, err := os.ReadFile(filepath.Join(dir, name+ExtVertex))
	if err != nil {
		return Source{}, fmt.Errorf("read vertex shader: %w", err)
	}
	frag, err := os.ReadFile(filepath.Join(dir, name+ExtFragment))
	if err != nil {
		return Source{}, fmt.Errorf("read fragment shader: %w", err)
	}

	return Source{
		Vertex:   terminate(string(vert)),
		Fragment: terminate(string(frag)),
	}, nil
}

func terminate(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

// programName maps "orb.frag" to "orb"; other files give "".
func programName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != ExtVertex && ext != ExtFragment {
		return ""
	}
	return strings.TrimSuffix(base, ext)
}

// Watcher collects changed program names from a shader directory.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	notify chan struct{}
	done   chan struct{}
	closed sync.Once
}

// New watches dir. Close must be called to release the watcher.
func New(dir string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("shader dir: %w", err)
	}
	if !info.IsDir() {
		return nil, errors.New("shader dir: not a directory")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		watcher: fw,
		dir:     dir,
		logger:  logger.With("component", "shaderwatch"),
		pending: make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	go w.loop()

	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// editors that save atomically show up as Create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := programName(event.Name)
			if name == "" {
				continue
			}

			w.mu.Lock()
			w.pending[name] = struct{}{}
			w.mu.Unlock()

			select {
			case w.notify <- struct{}{}:
			default:
			}
			w.logger.Debug("shader changed", "file", event.Name, "program", name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("shader watcher error", "error", err)
		}
	}
}

// Changed is signaled when at least one program is pending.
func (w *Watcher) Changed() <-chan struct{} {
	return w.notify
}

// Pending drains the set of changed program names, sorted.
func (w *Watcher) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}
	names := make([]string, 0, len(w.pending))
	for name := range w.pending {
		names = append(names, name)
	}
	w.pending = make(map[string]struct{})
	sort.Strings(names)
	return names
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
