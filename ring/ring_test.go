package ring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_advanceWrapsAtSize(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.Count())
	for i := 0; i < Size; i++ {
		r.Advance()
	}
	assert.Equal(t, 0, r.Count())
}

func TestSlot_lockRejectsReentry(t *testing.T) {
	s := New().Slot(0)
	require.NoError(t, s.Lock())
	err := s.Lock()
	require.Error(t, err)
	s.Unlock()
	require.NoError(t, s.Lock())
	s.Unlock()
	assert.False(t, s.Locked())
}

func TestSlot_allocZeroesInPlaceWhenSizeUnchanged(t *testing.T) {
	s := New().Slot(0)
	s.Alloc(1024, 1, 512, 2, false, 0, 0)
	s.Image[0] = 0xFF
	original := &s.Image[0]
	s.Alloc(1024, 1, 512, 2, false, 0, 0)
	assert.Same(t, original, &s.Image[0])
	assert.Equal(t, byte(0), s.Image[0])
}

func TestSlot_allocReallocatesWhenSizeChanges(t *testing.T) {
	s := New().Slot(0)
	s.Alloc(1024, 1, 512, 2, false, 0, 0)
	assert.Len(t, s.Image, 1024)
	s.Alloc(2048, 1, 512, 2, false, 0, 0)
	assert.Len(t, s.Image, 2048)
}

func TestSlot_waitDeinterlacedUnblocksOnMark(t *testing.T) {
	s := New().Slot(0)
	s.ClearDeinterlaced()
	done := make(chan struct{})
	go func() {
		s.WaitDeinterlaced(make(chan struct{}))
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	s.MarkDeinterlaced()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitDeinterlaced did not unblock after MarkDeinterlaced")
	}
}

func TestSlot_waitDeinterlacedUnblocksOnAbort(t *testing.T) {
	s := New().Slot(0)
	s.ClearDeinterlaced()
	abort := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.WaitDeinterlaced(abort)
		close(done)
	}()
	close(abort)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitDeinterlaced did not unblock after abort")
	}
}
