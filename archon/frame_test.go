package archon

import (
	"testing"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon/archontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGetFrameStatus_startupZero(t *testing.T) {
	pb := archontest.NewPlayback([]archontest.Exchange{
		{Want: "FRAME", Reply: []byte("<00TIMER=12345 RBUF=1 WBUF=2 BUF1FRAME=0 BUF1COMPLETE=0 BUF2FRAME=0 BUF2COMPLETE=0 BUF3FRAME=0 BUF3COMPLETE=0\n")},
	})
	s := NewSessionWithConn(pb)
	fs, res, err := s.GetFrameStatus(3)
	require.NoError(t, err)
	require.Equal(t, NoError, res)
	assert.Equal(t, 0, fs.Index)
	assert.Equal(t, int64(0), fs.Frame)
	assert.Equal(t, 1, fs.NextIndex)
}

func TestGetFrameStatus_picksNewestComplete(t *testing.T) {
	pb := archontest.NewPlayback([]archontest.Exchange{
		{Want: "FRAME", Reply: []byte("<00BUF1FRAME=5 BUF1COMPLETE=1 BUF2FRAME=7 BUF2COMPLETE=1 BUF3FRAME=3 BUF3COMPLETE=0\n")},
	})
	s := NewSessionWithConn(pb)
	fs, res, err := s.GetFrameStatus(3)
	require.NoError(t, err)
	require.Equal(t, NoError, res)
	assert.Equal(t, 1, fs.Index) // buffer 2, 0-based index 1
	assert.Equal(t, int64(7), fs.Frame)
	assert.Equal(t, 2, fs.NextIndex)
}

func TestGetFrameStatus_tieBreaksLowerIndex(t *testing.T) {
	pb := archontest.NewPlayback([]archontest.Exchange{
		{Want: "FRAME", Reply: []byte("<00BUF1FRAME=9 BUF1COMPLETE=1 BUF2FRAME=9 BUF2COMPLETE=1 BUF3FRAME=1 BUF3COMPLETE=0\n")},
	})
	s := NewSessionWithConn(pb)
	fs, _, err := s.GetFrameStatus(3)
	require.NoError(t, err)
	assert.Equal(t, 0, fs.Index)
}

func TestGetFrameStatus_timestampsHexBaseDecimal(t *testing.T) {
	pb := archontest.NewPlayback([]archontest.Exchange{
		{Want: "FRAME", Reply: []byte("<00BUF1BASE=1048576 BUF1TIMESTAMP=1A2B BUF1RETIMESTAMP=FF BUF1FETIMESTAMP=10\n")},
	})
	s := NewSessionWithConn(pb)
	fs, _, err := s.GetFrameStatus(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1048576), fs.Buffers[0].Base)
	assert.Equal(t, uint64(0x1A2B), fs.Buffers[0].Timestamp)
	assert.Equal(t, uint64(0xFF), fs.Buffers[0].RETimestamp)
	assert.Equal(t, uint64(0x10), fs.Buffers[0].FETimestamp)
}

func TestGetFrameStatus_rejectsOutOfRangeBuffer(t *testing.T) {
	pb := archontest.NewPlayback([]archontest.Exchange{
		{Want: "FRAME", Reply: []byte("<00BUF9FRAME=1\n")},
	})
	s := NewSessionWithConn(pb)
	_, _, err := s.GetFrameStatus(3)
	require.Error(t, err)
}

// TestFrameStatusInvariant checks the spec §8 invariant: after any
// successful GetFrameStatus, index is in range, frame equals
// bufframen[index], and next_index follows the round-robin rule.
func TestFrameStatusInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		activeBufs := 3
		frames := rapid.SliceOfN(rapid.Int64Range(0, 1000), activeBufs, activeBufs).Draw(rt, "frames")
		complete := rapid.SliceOfN(rapid.IntRange(0, 1), activeBufs, activeBufs).Draw(rt, "complete")

		fs := &FrameStatus{}
		for i := 0; i < activeBufs; i++ {
			fs.Buffers[i].Framen = frames[i]
			fs.Buffers[i].Complete = int64(complete[i])
		}
		fs.resolveNewest(activeBufs)

		if fs.Index < 0 || fs.Index >= activeBufs {
			rt.Fatalf("index %d out of range", fs.Index)
		}
		allZero := true
		for _, f := range frames {
			if f != 0 {
				allZero = false
			}
		}
		if allZero {
			if fs.Index != 0 || fs.Frame != 0 {
				rt.Fatalf("startup-zero case: got index=%d frame=%d", fs.Index, fs.Frame)
			}
		}
		if fs.NextIndex != (fs.Index+1)%activeBufs {
			rt.Fatalf("next_index %d != (index+1)%%active_bufs for index %d", fs.NextIndex, fs.Index)
		}
		if fs.Frame != fs.Buffers[fs.Index].Framen {
			rt.Fatalf("frame %d != bufframen[index] %d", fs.Frame, fs.Buffers[fs.Index].Framen)
		}
	})
}
