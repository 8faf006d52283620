package exposure

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon/archontest"
)

func TestAbort_setIsIdempotentAndClosesChannel(t *testing.T) {
	a := NewAbort()
	assert.False(t, a.IsSet())
	a.Set()
	a.Set() // must not panic on double-close
	assert.True(t, a.IsSet())
	select {
	case <-a.Channel():
	default:
		t.Fatal("channel should be closed once Set")
	}
}

func TestWaitForExposure_completesBeforeTimeout(t *testing.T) {
	conn := archontest.NewPlayback([]archontest.Exchange{
		{Want: "TIMER", Reply: []byte("<00TIMER=1\n")},
	})
	s := archon.NewSessionWithConn(conn)
	abort := NewAbort()

	start := time.Now().Add(-5 * time.Millisecond)
	var lastProgress float64
	err := WaitForExposure(s, abort, start, 5*time.Millisecond, func(p float64) {
		lastProgress = p
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, lastProgress, 0.0)
}

func TestWaitForExposure_abortReturnsErrAborted(t *testing.T) {
	conn := archontest.NewPlayback(nil)
	s := archon.NewSessionWithConn(conn)
	abort := NewAbort()
	abort.Set()

	err := WaitForExposure(s, abort, time.Now(), 2*time.Second, nil)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestWaitForReadout_succeedsOnFrameAdvance(t *testing.T) {
	conn := archontest.NewPlayback([]archontest.Exchange{
		{Want: "FRAME", Reply: []byte("<00BUF1FRAME=0 BUF1COMPLETE=0\n")},
		{Want: "FRAME", Reply: []byte("<01BUF1FRAME=5 BUF1COMPLETE=1\n")},
	})
	s := archon.NewSessionWithConn(conn)
	abort := NewAbort()

	fs, err := WaitForReadout(s, abort, 1, 0, 50*time.Millisecond)
	require.NoError(t, err)
	assert.EqualValues(t, 5, fs.Buffers[fs.Index].Framen)
}

func TestWaitForReadout_timesOutWhenFrameNeverAdvances(t *testing.T) {
	var exchanges []archontest.Exchange
	for i := 0; i < 64; i++ {
		exchanges = append(exchanges, archontest.Exchange{
			Want:  "FRAME",
			Reply: []byte(fmt.Sprintf("<%02XBUF1FRAME=0 BUF1COMPLETE=0\n", i)),
		})
	}
	conn := archontest.NewPlayback(exchanges)
	s := archon.NewSessionWithConn(conn)
	abort := NewAbort()

	_, err := WaitForReadout(s, abort, 1, 0, time.Millisecond)
	assert.Error(t, err)
}
