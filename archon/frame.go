package archon

import (
	"fmt"
	"strconv"
	"strings"
)

// NumBuffers is the controller's fixed frame-buffer count (spec §3, §4.3).
const NumBuffers = 3

// BufferStatus is one controller frame buffer's status, rebuilt on every
// FRAME poll (spec §3 "Frame status snapshot").
type BufferStatus struct {
	Sample      int64
	Complete    int64
	Mode        int64
	Base        uint64
	Framen      int64
	Width       int64
	Height      int64
	Pixels      int64
	Lines       int64
	RawBlocks   int64
	RawLines    int64
	RawOffset   int64
	Timestamp   uint64
	RETimestamp uint64
	FETimestamp uint64
}

// FrameStatus is the parsed reply to a FRAME command.
type FrameStatus struct {
	Buffers [NumBuffers]BufferStatus
	Timer   string

	RBuf      int64
	WBuf      int64
	Index     int // newest complete buffer, 0-based
	Frame     int64
	NextIndex int
}

// DefaultActiveBufs is how many of the three controller buffers are in active
// rotation. The spec's active_bufs is normally NumBuffers; it's kept as a
// parameter of GetFrameStatus so callers that configure fewer can pass it
// through (RAW mode notably uses fewer buffers in practice).
const DefaultActiveBufs = NumBuffers

// GetFrameStatus sends FRAME and parses the reply into a FrameStatus,
// selecting the newest-complete buffer (spec §4.3).
//
// A BUSY reply is returned to the caller unchanged (as a Result, not an
// error) so the exposure wait loop can retry without treating it as fatal.
func (s *Session) GetFrameStatus(activeBufs int) (*FrameStatus, Result, error) {
	if activeBufs <= 0 {
		activeBufs = DefaultActiveBufs
	}
	res, reply, err := s.Command("FRAME")
	if err != nil {
		return nil, res, err
	}
	if res == Busy {
		return nil, Busy, nil
	}
	if res != NoError {
		return nil, res, &CommandError{Cmd: "FRAME", Result: res, Reply: reply}
	}

	fs := &FrameStatus{}
	for _, tok := range strings.Fields(reply) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}
		if err := fs.set(kv[0], kv[1]); err != nil {
			return nil, ErrorResult, err
		}
	}
	fs.resolveNewest(activeBufs)
	return fs, NoError, nil
}

func (fs *FrameStatus) set(key, val string) error {
	if key == "TIMER" {
		fs.Timer = val
		return nil
	}
	if key == "RBUF" {
		return setInt(&fs.RBuf, val, 10)
	}
	if key == "WBUF" {
		return setInt(&fs.WBuf, val, 10)
	}
	if strings.HasPrefix(key, "BUF") {
		return fs.setBuf(key, val)
	}
	return nil
}

func (fs *FrameStatus) setBuf(key, val string) error {
	rest := key[len("BUF"):]
	if len(rest) == 0 {
		return nil
	}
	n := int(rest[0] - '0')
	if n < 1 || n > NumBuffers {
		return fmt.Errorf("archon: frame status: buffer number %d out of range 1..%d (key %q)", n, NumBuffers, key)
	}
	field := rest[1:]
	b := &fs.Buffers[n-1]
	switch {
	case field == "SAMPLE":
		return setInt(&b.Sample, val, 10)
	case field == "COMPLETE":
		return setInt(&b.Complete, val, 10)
	case field == "MODE":
		return setInt(&b.Mode, val, 10)
	case field == "BASE":
		return setUint(&b.Base, val, 10)
	case field == "FRAME":
		return setInt(&b.Framen, val, 10)
	case field == "WIDTH":
		return setInt(&b.Width, val, 10)
	case field == "HEIGHT":
		return setInt(&b.Height, val, 10)
	case field == "PIXELS":
		return setInt(&b.Pixels, val, 10)
	case field == "LINES":
		return setInt(&b.Lines, val, 10)
	case field == "RAWBLOCKS":
		return setInt(&b.RawBlocks, val, 10)
	case field == "RAWLINES":
		return setInt(&b.RawLines, val, 10)
	case field == "RAWOFFSET":
		return setInt(&b.RawOffset, val, 10)
	case field == "TIMESTAMP":
		return setUint(&b.Timestamp, val, 16)
	case field == "RETIMESTAMP":
		return setUint(&b.RETimestamp, val, 16)
	case field == "FETIMESTAMP":
		return setUint(&b.FETimestamp, val, 16)
	default:
		// Unknown BUFn* field: Archon's FRAME vocabulary grows over time;
		// ignore rather than fail the whole poll.
		return nil
	}
}

func setInt(dst *int64, val string, base int) error {
	v, err := strconv.ParseInt(val, base, 64)
	if err != nil {
		return fmt.Errorf("archon: frame status: parse %q: %w", val, err)
	}
	*dst = v
	return nil
}

func setUint(dst *uint64, val string, base int) error {
	v, err := strconv.ParseUint(val, base, 64)
	if err != nil {
		return fmt.Errorf("archon: frame status: parse %q: %w", val, err)
	}
	*dst = v
	return nil
}

// resolveNewest picks the newest completed buffer: among complete==1
// buffers, the max framen, ties broken by lower index. At startup, if
// every framen is 0, index 0 / frame 0 is used (spec §4.3, §8).
func (fs *FrameStatus) resolveNewest(activeBufs int) {
	allZero := true
	for i := 0; i < activeBufs; i++ {
		if fs.Buffers[i].Framen != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		fs.Index = 0
		fs.Frame = 0
		fs.NextIndex = (fs.Index + 1) % activeBufs
		return
	}

	best := -1
	var bestFrame int64 = -1
	for i := 0; i < activeBufs; i++ {
		b := &fs.Buffers[i]
		if b.Complete != 1 {
			continue
		}
		if b.Framen > bestFrame {
			bestFrame = b.Framen
			best = i
		}
	}
	if best < 0 {
		// Nothing complete yet; keep the previous convention of pointing at
		// buffer 0 until something completes.
		fs.Index = 0
		fs.Frame = fs.Buffers[0].Framen
	} else {
		fs.Index = best
		fs.Frame = bestFrame
	}
	fs.NextIndex = (fs.Index + 1) % activeBufs
}
