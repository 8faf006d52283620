package acf

import (
	"os"
	"time"

	fsnotify "gopkg.in/fsnotify.v1"
)

// Watcher notifies on ACF file changes so a long-running daemon can reload
// firmware when the file it loaded from is edited in place, grounded on
// the teacher's watchFile (cmd/lepton/watch_linux.go) but surfaced as a
// channel the caller drains rather than a blocking function.
type Watcher struct {
	w       *fsnotify.Watcher
	Changed chan string
	Errors  chan error
}

// NewWatcher starts watching path and returns the Watcher. Call Close when
// done.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	wt := &Watcher{w: w, Changed: make(chan string, 1), Errors: make(chan error, 1)}
	go wt.run(path)
	return wt, nil
}

func (wt *Watcher) run(path string) {
	mod0 := modTime(path)
	for {
		select {
		case ev, ok := <-wt.w.Events:
			if !ok {
				return
			}
			mod1 := modTime(path)
			if !mod1.Equal(mod0) {
				mod0 = mod1
				select {
				case wt.Changed <- ev.Name:
				default:
				}
			}
		case err, ok := <-wt.w.Errors:
			if !ok {
				return
			}
			select {
			case wt.Errors <- err:
			default:
			}
		}
	}
}

func modTime(path string) time.Time {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// Close stops watching.
func (wt *Watcher) Close() error {
	return wt.w.Close()
}
