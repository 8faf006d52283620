package exposure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon/archontest"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/camera"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/ring"
)

// testInfo returns a 1x1-pixel, single-amp camera.Info so a captured frame
// needs only a handful of scripted bytes to deinterlace correctly.
func testInfo() *camera.Info {
	info := camera.NewInfo()
	info.DetectorPixels = [2]int{1, 1}
	info.ImWidth = 1
	info.ImHeight = 1
	info.Bitpix = 16
	info.Datatype = camera.DataTypeUSHORT
	info.ImageDataBytes = 1024
	info.AmpSections = []camera.AmpSection{{X0: 1, X1: 1, Y0: 1, Y1: 1}}
	return info
}

func baseCfg(dir string) Config {
	return Config{
		ExposeParam: "EXPOSE",
		AbortParam:  "ABORT",
		ActiveBufs:  1,
		Cubedepth:   1,
		ElemSize:    2,
		Dir:         dir,
		Basename:    "test",
		Ext:         ".fits",
	}
}

func oneBlock(firstPixel uint16) []byte {
	b := make([]byte, archon.BlockLen)
	b[0] = byte(firstPixel)
	b[1] = byte(firstPixel >> 8)
	return b
}

func TestExpose_singleFrame_writesOneFrameAndAdvancesCounts(t *testing.T) {
	conn := archontest.NewPlayback([]archontest.Exchange{
		{Want: "FRAME", Reply: []byte("<00BUF1FRAME=0 BUF1COMPLETE=1\n")},
		{Want: "FASTPREPPARAM", Reply: []byte("<01\n")},
		{Want: "FASTLOADPARAM", Reply: []byte("<02\n")},
		{Want: "TIMER", Reply: []byte("<03TIMER=1\n")},
		{Want: "FRAME", Reply: []byte("<04BUF1FRAME=7 BUF1COMPLETE=1\n")},
		{Want: "FETCH", Reply: []byte("<05:"), RawBlocks: [][]byte{oneBlock(0x1234)}},
	})
	s := archon.NewSessionWithConn(conn)
	info := testInfo()
	sq := NewSequencer(s, info, ring.New(), nil)

	cfg := baseCfg(t.TempDir())
	cfg.NumSequences = 1

	err := sq.Expose(cfg)
	require.NoError(t, err)
	assert.False(t, sq.Aborted())
	assert.EqualValues(t, 1, sq.WriteFrameCount())
	assert.EqualValues(t, 1, sq.DeinterlaceCount())
	assert.Equal(t, StateIdle, sq.State())
	assert.NotEmpty(t, info.FITSFilename)
}

func TestExpose_single_discardsFirstArchonFrame(t *testing.T) {
	conn := archontest.NewPlayback([]archontest.Exchange{
		{Want: "FRAME", Reply: []byte("<00BUF1FRAME=0 BUF1COMPLETE=1\n")},
		{Want: "FASTPREPPARAM", Reply: []byte("<01\n")}, // archonNseq == 2, not 1
		{Want: "FASTLOADPARAM", Reply: []byte("<02\n")},
		// discarded first frame: waited out and thrown away, no FETCH
		{Want: "TIMER", Reply: []byte("<03TIMER=1\n")},
		{Want: "FRAME", Reply: []byte("<04BUF1FRAME=5 BUF1COMPLETE=1\n")},
		// second (real) frame: captured and written
		{Want: "TIMER", Reply: []byte("<05TIMER=1\n")},
		{Want: "FRAME", Reply: []byte("<06BUF1FRAME=6 BUF1COMPLETE=1\n")},
		{Want: "FETCH", Reply: []byte("<07:"), RawBlocks: [][]byte{oneBlock(0x4321)}},
	})
	s := archon.NewSessionWithConn(conn)
	info := testInfo()
	sq := NewSequencer(s, info, ring.New(), nil)

	cfg := baseCfg(t.TempDir())
	cfg.NumSequences = 1
	cfg.Single = true

	err := sq.Expose(cfg)
	require.NoError(t, err)
	assert.False(t, sq.Aborted())
	// the discard contributes a WaitForExposure/WaitForReadout pass but no
	// write and no deinterlace (spec §4.4 item 8, §8).
	assert.EqualValues(t, 1, sq.WriteFrameCount())
	assert.EqualValues(t, 1, sq.DeinterlaceCount())
	assert.True(t, conn.Done())
}

// hookConn wraps archontest.Playback so a test can deterministically fire a
// callback right as the Nth wire write happens, without relying on real
// concurrency/timing to land an abort mid-sequence.
type hookConn struct {
	*archontest.Playback
	writes int
	hookAt int
	hook   func()
}

func (h *hookConn) Write(b []byte) (int, error) {
	h.writes++
	if h.writes == h.hookAt {
		h.hook()
	}
	return h.Playback.Write(b)
}

func TestExpose_abortMidSequence_stopsAfterCurrentFrameAndSetsAborted(t *testing.T) {
	playback := archontest.NewPlayback([]archontest.Exchange{
		{Want: "FRAME", Reply: []byte("<00BUF1FRAME=0 BUF1COMPLETE=1\n")},
		{Want: "FASTPREPPARAM", Reply: []byte("<01\n")},
		{Want: "FASTLOADPARAM", Reply: []byte("<02\n")},
		// exposure 1: captured and written normally
		{Want: "TIMER", Reply: []byte("<03TIMER=1\n")},
		{Want: "FRAME", Reply: []byte("<04BUF1FRAME=9 BUF1COMPLETE=1\n")},
		{Want: "FETCH", Reply: []byte("<05:"), RawBlocks: [][]byte{oneBlock(111)}}, // write #6: abort fires here
		// exposure 2 never starts; only the abort-param push follows
		{Want: "FASTLOADPARAM", Reply: []byte("<06\n")},
	})
	var sq *Sequencer
	conn := &hookConn{Playback: playback, hookAt: 6, hook: func() { sq.Abort() }}
	s := archon.NewSessionWithConn(conn)
	info := testInfo()
	sq = NewSequencer(s, info, ring.New(), nil)

	cfg := baseCfg(t.TempDir())
	cfg.NumSequences = 2

	err := sq.Expose(cfg)
	require.NoError(t, err)
	assert.True(t, sq.Aborted())
	assert.EqualValues(t, 1, sq.WriteFrameCount())
	assert.EqualValues(t, 1, sq.DeinterlaceCount())
	assert.Equal(t, StateIdle, sq.State())
	assert.True(t, playback.Done())
}

func TestExpose_cds_singlePair_writesBaselineSignalAndCDSFile(t *testing.T) {
	conn := archontest.NewPlayback([]archontest.Exchange{
		{Want: "FRAME", Reply: []byte("<00BUF1FRAME=0 BUF1COMPLETE=1\n")},
		{Want: "FASTPREPPARAM", Reply: []byte("<01\n")},
		{Want: "FASTLOADPARAM", Reply: []byte("<02\n")},
		// baseline frame
		{Want: "TIMER", Reply: []byte("<03TIMER=1\n")},
		{Want: "FRAME", Reply: []byte("<04BUF1FRAME=1 BUF1COMPLETE=1\n")},
		{Want: "FETCH", Reply: []byte("<05:"), RawBlocks: [][]byte{oneBlock(1000)}},
		// signal frame
		{Want: "TIMER", Reply: []byte("<06TIMER=1\n")},
		{Want: "FRAME", Reply: []byte("<07BUF1FRAME=2 BUF1COMPLETE=1\n")},
		{Want: "FETCH", Reply: []byte("<08:"), RawBlocks: [][]byte{oneBlock(1500)}},
	})
	s := archon.NewSessionWithConn(conn)
	info := testInfo()
	sq := NewSequencer(s, info, ring.New(), nil)

	cfg := baseCfg(t.TempDir())
	cfg.NumSequences = 1
	cfg.IsCDS = true
	cfg.MCDSPairs = 1

	err := sq.Expose(cfg)
	require.NoError(t, err)
	assert.False(t, sq.Aborted())
	// one baseline + one signal frame written as ordinary single-image
	// extensions, on top of the CDS difference file (spec §4.5, scenario #4).
	assert.EqualValues(t, 2, sq.WriteFrameCount())
	assert.EqualValues(t, 2, sq.DeinterlaceCount())
	assert.True(t, conn.Done())
}
