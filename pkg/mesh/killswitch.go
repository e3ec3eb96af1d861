package mesh

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/containerd/log"
)

// Killswitch watches a single file's presence: when it exists, the agent
// skips its configuration run entirely. The watch is on the containing
// directory, since fsnotify cannot watch a path that does not yet
// exist.
type Killswitch struct {
	path   string
	active atomic.Bool
	watcher *fsnotify.Watcher
}

// NewKillswitch starts watching path's directory and seeds the initial
// state from a direct stat.
func NewKillswitch(path string) (*Killswitch, error) {
	k := &Killswitch{path: path}
	if _, err := os.Stat(path); err == nil {
		k.active.Store(true)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close() //nolint:errcheck
		return nil, err
	}
	k.watcher = w

	go k.watch()
	return k, nil
}

func (k *Killswitch) watch() {
	for {
		select {
		case ev, ok := <-k.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(k.path) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				k.active.Store(true)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				k.active.Store(false)
			}
		case err, ok := <-k.watcher.Errors:
			if !ok {
				return
			}
			log.L.WithError(err).Warn("killswitch: watch error")
		}
	}
}

// Active reports whether the killswitch file is currently present.
func (k *Killswitch) Active() bool { return k.active.Load() }

// Close stops the watcher.
func (k *Killswitch) Close() error { return k.watcher.Close() }
