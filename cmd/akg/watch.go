package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/akg"
)

const watchDebounce = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest files as they are created or modified",
	Long: `Watch ingests every supported file under dir once, then keeps
watching for writes and new files. Bursts of events on one file are
debounced so a save triggers a single ingest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docCtx, _ := cmd.Flags().GetString("context")
		initial, _ := cmd.Flags().GetBool("initial")

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		var opts []akg.IngestOption
		if docCtx != "" {
			opts = append(opts, akg.WithDocumentContext(docCtx))
		}

		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if initial {
			if _, err := s.engine.IngestDir(ctx, root, opts...); err != nil {
				s.log.Warn("initial ingest finished with errors", "error", err)
			}
		}

		w, err := newDirWatcher(root, s.cfg.Input, s.log, func(path string) {
			_, err := s.engine.Ingest(ctx, path, opts...)
			switch {
			case err == nil, errors.Is(err, akg.ErrDocumentUnchanged):
			case errors.Is(err, context.Canceled):
			default:
				s.log.Error("ingest failed", "path", path, "error", err)
			}
		})
		if err != nil {
			return err
		}
		defer w.Close()

		s.log.Info("watching", "dir", root, "recursive", s.cfg.Input.Recursive)
		return w.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().String("context", "", "Document context applied to every ingested file")
	watchCmd.Flags().Bool("initial", true, "Ingest existing files before watching")
}

// dirWatcher turns fsnotify events under root into debounced per-file
// callbacks.
type dirWatcher struct {
	root     string
	input    akg.InputConfig
	allowed  mapset.Set[string]
	log      *slog.Logger
	onChange func(path string)
	delay    time.Duration

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

func newDirWatcher(root string, input akg.InputConfig, log *slog.Logger, onChange func(string)) (*dirWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &dirWatcher{
		root:     root,
		input:    input,
		allowed:  mapset.NewSet[string](),
		log:      log,
		onChange: onChange,
		delay:    watchDebounce,
		watcher:  fw,
		pending:  make(map[string]*time.Timer),
	}
	for _, f := range input.SupportedFileTypes {
		w.allowed.Add(strings.ToLower(strings.TrimPrefix(f, ".")))
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// addTree registers dir, and its subdirectories when recursive.
func (w *dirWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir || dir != w.root {
			rel, _ := filepath.Rel(w.root, path)
			if !w.input.Recursive || akg.Excluded(w.input.ExcludePatterns, d.Name(), rel) {
				return filepath.SkipDir
			}
		}
		return w.watcher.Add(path)
	})
}

// wants reports whether path is a file the engine should ingest.
func (w *dirWatcher) wants(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	if akg.Excluded(w.input.ExcludePatterns, filepath.Base(path), rel) {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return false
	}
	return w.allowed.Cardinality() == 0 || w.allowed.Contains(ext)
}

// trigger (re)starts the debounce timer for path.
func (w *dirWatcher) trigger(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.delay, func() {
		defer w.wg.Done()
		w.mu.Lock()
		current := w.pending[path] == t
		if current {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if current {
			w.onChange(path)
		}
	})
	w.pending[path] = t
}

func (w *dirWatcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Op&fsnotify.Create != 0 && w.input.Recursive {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn("watching new directory", "dir", ev.Name, "error", err)
			}
		}
		return
	}
	if w.wants(ev.Name) {
		w.trigger(ev.Name)
	}
}

// Run processes events until ctx is done or the watcher fails.
func (w *dirWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

// Close stops pending timers, waits for running callbacks and releases
// the watcher.
func (w *dirWatcher) Close() error {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
	return w.watcher.Close()
}
