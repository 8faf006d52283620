// Package ring implements the 4-slot image/work/CDS ring the exposure
// sequencer dispatches frames into, and the deinterlace-done condition
// variable the write thread waits on (spec §3 "Ring", §4.5), modeled on
// the teacher's WebServer ring-of-images + sync.Cond broadcast pattern
// (cmd/lepton/server.go).
package ring

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Size is the number of slots in every ring (IMAGE_RING_BUFFER_SIZE).
const Size = 4

// Slot holds one frame's raw, deinterlaced, and CDS-result buffers plus
// its lock/done state.
type Slot struct {
	Image []byte // raw tap-interleaved bytes
	Work  []byte // deinterlaced pixels
	CDS   []byte // CDS-result pixels, nil if this mode doesn't produce one

	locked int32 // atomic bool: true while a reader is writing into this slot

	mu           sync.Mutex
	cond         *sync.Cond
	deinterlaced bool
}

// Ring is the set of Size slots plus the round-robin dispatch counter.
type Ring struct {
	slots [Size]*Slot
	count int64 // atomic, advanced after each frame is dispatched
}

func New() *Ring {
	r := &Ring{}
	for i := range r.slots {
		s := &Slot{}
		s.cond = sync.NewCond(&s.mu)
		r.slots[i] = s
	}
	return r
}

// Slot returns the slot at index i (0..Size-1).
func (r *Ring) Slot(i int) *Slot {
	return r.slots[i%Size]
}

// Count returns the current round-robin dispatch index without advancing
// it.
func (r *Ring) Count() int {
	return int(atomic.LoadInt64(&r.count) % Size)
}

// Advance moves the round-robin counter to the next slot (spec §3
// "ringcount is a round-robin index advanced after each exposure frame is
// dispatched").
func (r *Ring) Advance() int {
	return int(atomic.AddInt64(&r.count, 1) % Size)
}

// Lock acquires the slot's ring lock for the reader thread. It returns an
// error (ring overflow, spec §4.4) if the slot is already locked.
func (s *Slot) Lock() error {
	if !atomic.CompareAndSwapInt32(&s.locked, 0, 1) {
		return fmt.Errorf("ring: overflow: slot already locked")
	}
	return nil
}

// Unlock releases the slot's ring lock.
func (s *Slot) Unlock() {
	atomic.StoreInt32(&s.locked, 0)
}

// Locked reports whether the slot is currently locked (test/diagnostic
// use; spec §8 invariant "after do_expose returns, ringlock[i] == false
// for all i").
func (s *Slot) Locked() bool {
	return atomic.LoadInt32(&s.locked) != 0
}

// ClearDeinterlaced resets the deinterlace-done flag before a new frame is
// dispatched into this slot (spec §4.4 "clear ringbuf_deinterlaced[ringcount]").
func (s *Slot) ClearDeinterlaced() {
	s.mu.Lock()
	s.deinterlaced = false
	s.mu.Unlock()
}

// MarkDeinterlaced sets the deinterlace-done flag and wakes any writer
// waiting on WaitDeinterlaced.
func (s *Slot) MarkDeinterlaced() {
	s.mu.Lock()
	s.deinterlaced = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// WaitDeinterlaced blocks the write thread until deinterlace of this slot
// completes, or until abort is closed.
func (s *Slot) WaitDeinterlaced(abort <-chan struct{}) {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		for !s.deinterlaced {
			s.cond.Wait()
		}
		s.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-abort:
		// The Broadcast wakes the waiter goroutine, but it re-checks the
		// flag and keeps waiting while it is false; it exits only once
		// MarkDeinterlaced runs on this slot.
		s.cond.Broadcast()
	}
}

// Alloc ensures Image/Work/CDS are sized correctly, per the allocation
// policy in spec §3: if the required size is unchanged, zero in place;
// else free and reallocate. imageDataBytes is already block-rounded by the
// camera package; cubedepth multiplies it for multi-slice frames.
func (s *Slot) Alloc(imageDataBytes, cubedepth int, workPixels, workElemSize int, wantCDS bool, cdsPixels, cdsElemSize int) {
	imageSize := imageDataBytes * cubedepth
	s.Image = allocOrZero(s.Image, imageSize)

	workSize := workPixels * workElemSize
	s.Work = allocOrZero(s.Work, workSize)

	if wantCDS {
		cdsSize := cdsPixels * cdsElemSize
		s.CDS = allocOrZero(s.CDS, cdsSize)
	} else {
		s.CDS = nil
	}
}

func allocOrZero(buf []byte, size int) []byte {
	if len(buf) == size {
		for i := range buf {
			buf[i] = 0
		}
		return buf
	}
	return make([]byte, size)
}
