package archon

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// DefaultCommandTimeout bounds how long Command waits for a reply.
const DefaultCommandTimeout = 2 * time.Second

// noisyCommands are logged only at Debug level: they run at high frequency
// and would otherwise drown out everything else (spec §4.1).
var noisyCommands = map[string]bool{
	"STATUS":  true,
	"TIMER":   true,
	"WCONFIG": true,
	"FRAME":   true,
}

// Session owns one TCP connection to an Archon controller and serializes
// every command sent over it.
//
// At most one command may be in flight at a time: cmdMu guards the
// socket itself, and the atomic busy flag fast-fails re-entrant callers
// with Busy rather than blocking them on the mutex. FETCH is the one
// command that leaves busy set after Command returns; the binary reader
// (Fetch) is responsible for clearing it once the block stream has been
// drained (spec §4.1, §5).
type Session struct {
	Host string
	Port int

	log *log.Logger

	conn   net.Conn
	r      *bufio.Reader
	connMu sync.Mutex // guards conn/r swap on Connect/Close

	cmdMu sync.Mutex // serializes command send+reply
	busy  int32      // atomic test-and-set

	msgref uint32 // atomic, truncated mod 256 on use

	Modules          [NumSlots]ModuleInfo
	BackplaneVersion string
	firmwareLoaded   int32 // atomic bool
	modeSelected     int32 // atomic bool

	longError int32 // atomic bool; §7 "if longerror is enabled"
	lastError string
	lastErrMu sync.Mutex
}

// NewSession returns a Session bound to host:port. Connect must be called
// before any command is sent.
func NewSession(host string, port int) *Session {
	return &Session{
		Host: host,
		Port: port,
		log:  log.NewWithOptions(nil, log.Options{ReportTimestamp: true, Prefix: "archon"}),
	}
}

// NewSessionWithConn wraps an already-open connection, bypassing Connect.
// It exists for tests (archontest.Playback) and for callers that manage
// their own dialing/TLS/etc.
func NewSessionWithConn(conn net.Conn) *Session {
	s := &Session{
		log: log.NewWithOptions(nil, log.Options{ReportTimestamp: true, Prefix: "archon"}),
	}
	s.conn = conn
	s.r = bufio.NewReader(conn)
	return s
}

// SetLongError enables appending the last detailed error message to the
// single-token ERROR surfaced on the command port (spec §7).
func (s *Session) SetLongError(enabled bool) {
	if enabled {
		atomic.StoreInt32(&s.longError, 1)
	} else {
		atomic.StoreInt32(&s.longError, 0)
	}
}

// Connect opens the TCP connection and tunes it for low command latency.
func (s *Session) Connect() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("archon: connect %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		setNoDelay(s.log, tc)
	}
	s.conn = conn
	s.r = bufio.NewReader(conn)
	s.log.Info("connected", "addr", addr)
	return nil
}

// setNoDelay disables Nagle's algorithm on the raw socket so a command's
// reply isn't held up waiting to be coalesced with a subsequent write. The
// SPI driver in the teacher drops to ioctl for a protocol-critical timing
// knob in the same spirit (lepton/low.go).
func setNoDelay(l *log.Logger, tc *net.TCPConn) {
	raw, err := tc.SyscallConn()
	if err != nil {
		l.Warn("tcp raw conn unavailable, leaving Nagle enabled", "err", err)
		return
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
	if err != nil {
		l.Warn("tcp control failed", "err", err)
		return
	}
	if sockErr != nil {
		l.Warn("TCP_NODELAY failed", "err", sockErr)
	}
}

// Close closes the underlying connection. It is reconnectable afterwards
// via Connect (spec §3: "Lifetime ... reconnectable").
func (s *Session) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.r = nil
	return err
}

// FirmwareLoaded reports whether a firmware/ACF file is currently loaded.
func (s *Session) FirmwareLoaded() bool {
	return atomic.LoadInt32(&s.firmwareLoaded) != 0
}

// SetFirmwareLoaded records whether firmware/ACF state is currently loaded
// into the controller; called by the acf loader on success/failure (spec
// §4.2 "leaves firmwareloaded=false").
func (s *Session) SetFirmwareLoaded(v bool) {
	if v {
		atomic.StoreInt32(&s.firmwareLoaded, 1)
	} else {
		atomic.StoreInt32(&s.firmwareLoaded, 0)
	}
}

// ModeSelected reports whether set_camera_mode has successfully run.
func (s *Session) ModeSelected() bool {
	return atomic.LoadInt32(&s.modeSelected) != 0
}

// SetModeSelected records whether set_camera_mode has successfully run;
// called by the camera package (spec §4.2 step 5's "modeselected" reset and
// the set_camera_mode success path).
func (s *Session) SetModeSelected(v bool) {
	if v {
		atomic.StoreInt32(&s.modeSelected, 1)
	} else {
		atomic.StoreInt32(&s.modeSelected, 0)
	}
}

// nextMsgref returns the next 2-hex-digit, uppercased message reference and
// advances the counter mod 256.
func (s *Session) nextMsgref() (byte, string) {
	v := byte(atomic.AddUint32(&s.msgref, 1) - 1)
	return v, fmt.Sprintf("%02X", v)
}

func (s *Session) recordError(msg string) {
	s.lastErrMu.Lock()
	s.lastError = msg
	s.lastErrMu.Unlock()
}

// LastError returns the most recent detailed error message, consulted when
// SetLongError is enabled (spec §7).
func (s *Session) LastError() string {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastError
}

// Command sends a single command and waits for its reply.
//
// cmd must not include the leading ">HH" framing or trailing newline; both
// are added here. The returned string is the reply payload with the "<HH"
// prefix and trailing newline stripped.
func (s *Session) Command(cmd string) (Result, string, error) {
	return s.command(cmd, DefaultCommandTimeout)
}

func (s *Session) command(cmd string, timeout time.Duration) (Result, string, error) {
	if !atomic.CompareAndSwapInt32(&s.busy, 0, 1) {
		return Busy, "", nil
	}
	clearBusy := true
	defer func() {
		if clearBusy {
			atomic.StoreInt32(&s.busy, 0)
		}
	}()

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.conn == nil {
		err := fmt.Errorf("archon: not connected")
		s.recordError(err.Error())
		return ErrorResult, "", err
	}

	ref, hex := s.nextMsgref()
	wire := fmt.Sprintf(">%s%s\n", hex, cmd)
	cmdName := commandName(cmd)
	if !noisyCommands[cmdName] {
		s.log.Debug("command", "cmd", cmdName, "msgref", hex)
	} else {
		s.log.Debug("command (noisy)", "cmd", cmdName, "msgref", hex)
	}

	if err := s.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		s.recordError(err.Error())
		return ErrorResult, "", err
	}
	if _, err := s.conn.Write([]byte(wire)); err != nil {
		s.recordError(err.Error())
		return ErrorResult, "", fmt.Errorf("archon: write %q: %w", cmdName, err)
	}

	if cmdName == "FETCH" {
		// The binary reader clears busy once the block stream is drained.
		clearBusy = false
		return NoError, "", nil
	}

	line, err := s.r.ReadString('\n')
	if err != nil {
		s.recordError(err.Error())
		return Timeout, "", fmt.Errorf("archon: reply to %q: %w", cmdName, err)
	}
	return s.validateReply(cmdName, ref, line)
}

// validateReply checks the "<HH" (or "?HH") prefix against ref and returns
// the appropriate Result.
func (s *Session) validateReply(cmdName string, ref byte, line string) (Result, string, error) {
	want := fmt.Sprintf("%02X", ref)
	trimmed := trimNewline(line)
	if len(trimmed) < 3 {
		err := fmt.Errorf("archon: short reply to %q: %q", cmdName, trimmed)
		s.recordError(err.Error())
		return ErrorResult, trimmed, err
	}
	lead := trimmed[0]
	got := trimmed[1:3]
	if got != want {
		err := fmt.Errorf("archon: command/reply mismatch for %q: want msgref %s got %s", cmdName, want, got)
		s.recordError(err.Error())
		return ErrorResult, trimmed, &CommandError{Cmd: cmdName, Result: ErrorResult, Reply: trimmed}
	}
	payload := trimmed[3:]
	if lead == '?' {
		err := &CommandError{Cmd: cmdName, Result: ErrorResult, Reply: payload}
		s.recordError(err.Error())
		return ErrorResult, payload, err
	}
	if lead != '<' {
		err := fmt.Errorf("archon: command/reply mismatch for %q: unexpected lead byte %q", cmdName, lead)
		s.recordError(err.Error())
		return ErrorResult, trimmed, err
	}
	return NoError, payload, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// knownCommandWords are the fixed keywords a command string may start with,
// longest first so e.g. "FETCHLOG" is matched before "FETCH" (spec §6).
var knownCommandWords = []string{
	"FETCHLOG", "CLEARCONFIG", "RESETTIMING", "RELEASETIMING",
	"FASTPREPPARAM", "FASTLOADPARAM", "HOLDTIMING", "LOADTIMING",
	"LOADPARAMS", "APPLYSYSTEM", "APPLYCDS", "APPLYMOD", "APPLYDIO",
	"APPLYALL", "WCONFIG", "RCONFIG", "POWERON", "POWEROFF",
	"POLLOFF", "POLLON", "SYSTEM", "STATUS", "FRAME", "TIMER",
	"LOCK0", "FETCH", "LOCK",
}

// commandName returns the fixed keyword a command string starts with, i.e.
// "WCONFIG" for "WCONFIG0012PIXELCOUNT=1024".
func commandName(cmd string) string {
	for _, kw := range knownCommandWords {
		if strings.HasPrefix(cmd, kw) {
			return kw
		}
	}
	return cmd
}

// clearBusy is exposed for the binary FETCH reader, which owns clearing
// busy once it has drained the expected block count.
func (s *Session) clearBusy() {
	atomic.StoreInt32(&s.busy, 0)
}
