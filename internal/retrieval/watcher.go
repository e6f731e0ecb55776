package retrieval

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher keeps a corpus in sync with a directory tree. Every observed
// change bumps the corpus version, which invalidates the engine's cached
// selections for the old snapshot.
type Watcher struct {
	corpus  *Corpus
	root    string
	watcher *fsnotify.Watcher
	log     zerolog.Logger
	done    chan struct{}
}

// sourceExtensions lists file suffixes loaded into the corpus.
var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true,
	".java": true, ".rb": true, ".rs": true, ".c": true, ".h": true,
}

// NewWatcher loads every source file under root into the corpus and starts
// watching for changes. Call Close to stop.
func NewWatcher(corpus *Corpus, root string, log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		corpus:  corpus,
		root:    root,
		watcher: fsw,
		log:     log,
		done:    make(chan struct{}),
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return fsw.Add(path)
		}
		w.loadFile(path)
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
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
			w.log.Warn().Err(err).Msg("corpus watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel := w.relPath(event.Name)
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			_ = w.watcher.Add(event.Name)
			return
		}
		w.loadFile(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.corpus.RemoveFile(rel)
		w.log.Debug().Str("source", rel).Msg("source removed from corpus")
	}
}

func (w *Watcher) loadFile(path string) {
	if !sourceExtensions[filepath.Ext(path)] {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return
	}
	rel := w.relPath(path)
	w.corpus.AddFile(rel, string(content))
	w.log.Debug().Str("source", rel).Msg("source loaded into corpus")
}

func (w *Watcher) relPath(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
