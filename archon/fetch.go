package archon

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// BlockTimeout bounds how long Fetch waits for each block header.
const BlockTimeout = time.Second

// Fetch issues a FETCH for the block range [addr, addr+blocks) and streams
// the resulting binary blocks into dst, which must be exactly
// blocks*BlockLen bytes long.
//
// FETCH is the one command whose reply is not a terminated ASCII line: the
// controller streams blocks, each prefixed by a 4-byte "<HH:" header, with
// HH the same msgref sent on the command. Fetch sets the session's busy
// flag itself (returning Busy if it was already set) and holds it for the
// duration; it clears it once the expected block count has been read, or
// on any error.
func (s *Session) Fetch(addr, blocks uint32, dst []byte) error {
	if uint32(len(dst)) != blocks*BlockLen {
		return fmt.Errorf("archon: fetch: dst has %d bytes, want %d", len(dst), blocks*BlockLen)
	}

	if !atomic.CompareAndSwapInt32(&s.busy, 0, 1) {
		return &CommandError{Cmd: "FETCH", Result: Busy}
	}
	cleared := false
	defer func() {
		if !cleared {
			s.clearBusy()
		}
	}()

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("archon: not connected")
	}

	ref, hex := s.nextMsgref()
	cmd := fmt.Sprintf("FETCH%08X%08X", addr, blocks)
	s.log.Debug("command", "cmd", "FETCH", "msgref", hex, "addr", addr, "blocks", blocks)
	wire := fmt.Sprintf(">%s%s\n", hex, cmd)
	if err := s.conn.SetDeadline(time.Now().Add(BlockTimeout * time.Duration(blocks+1))); err != nil {
		return err
	}
	if _, err := s.conn.Write([]byte(wire)); err != nil {
		return fmt.Errorf("archon: write FETCH: %w", err)
	}

	header := make([]byte, 4)
	want := fmt.Sprintf("<%02X:", ref)
	for b := uint32(0); b < blocks; b++ {
		if err := s.conn.SetReadDeadline(time.Now().Add(BlockTimeout)); err != nil {
			return err
		}
		if _, err := io.ReadFull(s.r, header); err != nil {
			err = fmt.Errorf("archon: fetch block %d/%d header: %w", b, blocks, err)
			s.recordError(err.Error())
			return err
		}
		if header[0] == '?' {
			logMsg, _ := s.fetchLogLocked()
			err := fmt.Errorf("archon: fetch block %d/%d: controller error: %s", b, blocks, logMsg)
			s.recordError(err.Error())
			return err
		}
		if string(header) != want {
			err := fmt.Errorf("archon: fetch block %d/%d: bad header %q, want %q", b, blocks, header, want)
			s.recordError(err.Error())
			return err
		}
		off := b * BlockLen
		if _, err := io.ReadFull(s.r, dst[off:off+BlockLen]); err != nil {
			err = fmt.Errorf("archon: fetch block %d/%d data: %w", b, blocks, err)
			s.recordError(err.Error())
			return err
		}
	}
	cleared = true
	s.clearBusy()
	return nil
}

// compareAndSwapBusyLocked attempts the busy test-and-set, the same atomic
// operation Fetch and Command perform inline.
func compareAndSwapBusyLocked(s *Session) bool {
	return atomic.CompareAndSwapInt32(&s.busy, 0, 1)
}

// FetchLog drains the controller's error log via FETCHLOG. Unlike FETCH,
// it behaves as an ordinary command (spec §4.1): it goes through Command
// and returns a plain ASCII reply.
func (s *Session) FetchLog() (string, error) {
	_, reply, err := s.Command("FETCHLOG")
	return reply, err
}

// fetchLogLocked is used from within Fetch's error path, where cmdMu is
// already held, so it talks to the socket directly rather than recursing
// into Command (which would deadlock on cmdMu).
func (s *Session) fetchLogLocked() (string, error) {
	ref, hex := s.nextMsgref()
	wire := fmt.Sprintf(">%sFETCHLOG\n", hex)
	if err := s.conn.SetDeadline(time.Now().Add(DefaultCommandTimeout)); err != nil {
		return "", err
	}
	if _, err := s.conn.Write([]byte(wire)); err != nil {
		return "", err
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	_, reply, err := s.validateReply("FETCHLOG", ref, line)
	return reply, err
}
