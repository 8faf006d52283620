package fitswriter

import (
	"fmt"
	"sync"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/camera"
)

// cubeDepth is the producer/consumer channel's buffer size, carried over
// from main.go's mainImpl ("c := make(chan *rawBuffer, 16)") so a burst of
// ring slots finishing deinterlace doesn't stall on a slow disk.
const cubeDepth = 16

type cubeFrame struct {
	bitpix  int
	axes    []int
	extKeys *camera.KeywordDB
	pixels  interface{}
}

// CubeWriter drains deinterlaced frames into a growing multi-extension
// FITS file on a background goroutine, so do_expose's per-sequence loop
// (spec §4.4) never blocks on disk I/O between exposures.
type CubeWriter struct {
	frames chan cubeFrame
	done   chan struct{}

	mw *MultiExtensionWriter

	mu      sync.Mutex
	err     error
	written int
}

// NewCubeWriter opens path, writes the primary HDU, and starts the
// draining goroutine.
func NewCubeWriter(path string, sysKeys, userKeys *camera.KeywordDB) (*CubeWriter, error) {
	mw, err := OpenMultiExtension(path, sysKeys, userKeys)
	if err != nil {
		return nil, err
	}
	w := &CubeWriter{
		frames: make(chan cubeFrame, cubeDepth),
		done:   make(chan struct{}),
		mw:     mw,
	}
	go w.run()
	return w, nil
}

func (w *CubeWriter) run() {
	defer close(w.done)
	for f := range w.frames {
		if err := w.mw.WriteExtension(f.bitpix, f.axes, f.extKeys, f.pixels); err != nil {
			w.mu.Lock()
			if w.err == nil {
				w.err = err
			}
			w.mu.Unlock()
			continue
		}
		w.mu.Lock()
		w.written++
		w.mu.Unlock()
	}
}

// Enqueue hands one frame to the writer goroutine. It blocks if the
// internal buffer (cubeDepth frames) is full.
func (w *CubeWriter) Enqueue(dt camera.DataType, axes []int, extKeys *camera.KeywordDB, pixels interface{}) error {
	w.mu.Lock()
	err := w.err
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("fitswriter: cube writer already failed: %w", err)
	}
	w.frames <- cubeFrame{bitpix: bitpixFor(dt), axes: axes, extKeys: extKeys, pixels: pixels}
	return nil
}

// Written returns how many extensions have been committed so far.
func (w *CubeWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close drains any queued frames, waits for the goroutine to finish, and
// closes the underlying file. It returns the first write error seen, if
// any.
func (w *CubeWriter) Close() error {
	close(w.frames)
	<-w.done
	if cerr := w.mw.Close(); cerr != nil && w.err == nil {
		w.err = cerr
	}
	return w.err
}
