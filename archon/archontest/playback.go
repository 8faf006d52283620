// Package archontest implements a fake Archon controller connection for
// testing the archon package without real hardware, modeled directly on
// periph.io/x/periph/conn/spi/spitest's Record/Playback pattern.
package archontest

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"
)

// Exchange is one request/reply pair the fake controller will serve.
//
// Want is matched as a substring of what the session writes, including its
// ">HH" msgref framing (so tests can write "WCONFIG" rather than spell out
// line numbers, or ">01STATUS" to pin the msgref), and Reply is
// returned as raw bytes -- callers are responsible for including the
// trailing "\n" for line-oriented replies, or leaving it off and using
// RawBlocks for FETCH-style binary replies.
type Exchange struct {
	Want      string
	Reply     []byte
	RawBlocks [][]byte // if set, each element is written verbatim after Reply, in order, one per "FETCH" client read cycle
}

// Playback implements net.Conn and replays a scripted sequence of
// Exchanges. Each Write() is matched against the next Exchange.Want as a
// substring; the corresponding Reply/RawBlocks are queued for the subsequent
// Read calls.
type Playback struct {
	mu      sync.Mutex
	ex      []Exchange
	pos     int
	pending bytes.Buffer
	closed  bool
}

// NewPlayback returns a Playback that will serve ex in order.
func NewPlayback(ex []Exchange) *Playback {
	return &Playback{ex: ex}
}

func (p *Playback) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos >= len(p.ex) {
		return 0, fmt.Errorf("archontest: unexpected write #%d: %q", p.pos, b)
	}
	e := p.ex[p.pos]
	if !bytes.Contains(b, []byte(e.Want)) {
		return 0, fmt.Errorf("archontest: write #%d: got %q, want containing %q", p.pos, b, e.Want)
	}
	p.pending.Write(e.Reply)
	for _, blk := range e.RawBlocks {
		p.pending.Write(blk)
	}
	p.pos++
	return len(b), nil
}

func (p *Playback) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Len() == 0 {
		return 0, fmt.Errorf("archontest: read with nothing queued")
	}
	return p.pending.Read(b)
}

func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Done reports whether every scripted exchange has been consumed.
func (p *Playback) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos == len(p.ex)
}

func (p *Playback) LocalAddr() net.Addr  { return fakeAddr("local") }
func (p *Playback) RemoteAddr() net.Addr { return fakeAddr("remote") }

func (p *Playback) SetDeadline(t time.Time) error      { return nil }
func (p *Playback) SetReadDeadline(t time.Time) error  { return nil }
func (p *Playback) SetWriteDeadline(t time.Time) error { return nil }

type fakeAddr string

func (a fakeAddr) Network() string { return "archontest" }
func (a fakeAddr) String() string  { return string(a) }
