package acf

import (
	"bufio"
	"crypto/md5"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
)

var paramLineRE = regexp.MustCompile(`^(PARAMETER\d+)=([^=]+)=(.*)$`)

// ParseOptions controls how Load interacts with the controller.
type ParseOptions struct {
	// WriteToArchon, if true, sends each parsed key to the controller via
	// WCONFIG as it's read (spec §4.2 step 4), and updates Session's
	// firmwareloaded/modeselected flags on completion.
	WriteToArchon bool
	Session       *archon.Session
	Logger        *log.Logger
}

// Load reads an ACF file from r and returns the parsed Database.
//
// Any malformed syntax or unknown mode directive aborts the load and
// leaves firmwareloaded=false when WriteToArchon is set (spec §4.2
// "Failure semantics"); a duplicate [MODE_*] section is likewise fatal.
func Load(r io.Reader, filename string, opt ParseOptions) (*Database, error) {
	logger := opt.Logger
	if logger == nil {
		logger = log.NewWithOptions(nil, log.Options{Prefix: "acf"})
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("acf: read: %w", err)
	}

	if opt.WriteToArchon {
		if err := runOrFail(opt.Session, "POLLOFF"); err != nil {
			return nil, err
		}
		if err := runOrFail(opt.Session, "CLEARCONFIG"); err != nil {
			return nil, err
		}
	}

	db := newDatabase()
	db.Filename = filename
	sum := md5.Sum(raw)
	db.MD5 = fmt.Sprintf("%x", sum)

	p := &parser{db: db, opt: opt, logger: logger}
	sc := bufio.NewScanner(strings.NewReader(string(raw)))
	lineno := 0
	for sc.Scan() {
		lineno++
		if err := p.line(sc.Text()); err != nil {
			if opt.WriteToArchon {
				opt.Session.SetFirmwareLoaded(false)
			}
			return nil, fmt.Errorf("acf: line %d: %w", lineno, err)
		}
	}
	if err := sc.Err(); err != nil {
		if opt.WriteToArchon {
			opt.Session.SetFirmwareLoaded(false)
		}
		return nil, fmt.Errorf("acf: scan: %w", err)
	}

	if opt.WriteToArchon {
		if err := runOrFail(opt.Session, "POLLON"); err != nil {
			opt.Session.SetFirmwareLoaded(false)
			return nil, err
		}
		opt.Session.SetFirmwareLoaded(true)
		// A freshly loaded firmware invalidates any previously selected
		// mode; the caller must set_camera_mode again before exposing
		// (spec §4.2 step 5).
		opt.Session.SetModeSelected(false)
	}

	return db, nil
}

func runOrFail(s *archon.Session, cmd string) error {
	if s == nil {
		return fmt.Errorf("acf: no Session configured for WriteToArchon")
	}
	res, reply, err := s.Command(cmd)
	if err != nil {
		return fmt.Errorf("acf: %s: %w", cmd, err)
	}
	if res != archon.NoError {
		return fmt.Errorf("acf: %s: %s: %s", cmd, res, reply)
	}
	return nil
}

type section int

const (
	sectionNone section = iota
	sectionConfig
	sectionMode
)

type parser struct {
	db      *Database
	opt     ParseOptions
	logger  *log.Logger
	section section
	mode    *Mode
	lineCounter int
}

var modeHeaderRE = regexp.MustCompile(`^\[MODE_(.+)\]$`)

func (p *parser) line(raw string) error {
	line := normalize(raw)
	if line == "" {
		return nil
	}

	if line == "[CONFIG]" {
		p.section = sectionConfig
		p.mode = nil
		return nil
	}
	if m := modeHeaderRE.FindStringSubmatch(line); m != nil {
		name := upper(m[1])
		if _, dup := p.db.Modes[name]; dup {
			return fmt.Errorf("duplicate mode section %q", name)
		}
		mode := newMode(name)
		p.db.Modes[name] = mode
		p.mode = mode
		p.section = sectionMode
		return nil
	}

	switch p.section {
	case sectionNone:
		// Before [CONFIG]: ignored (spec §4.2 step 3).
		return nil
	case sectionConfig:
		return p.configLine(line)
	case sectionMode:
		return p.modeLine(line)
	}
	return nil
}

func (p *parser) configLine(line string) error {
	eq := strings.Index(line, "=")
	if eq < 0 {
		return fmt.Errorf("malformed CONFIG line %q: missing '='", line)
	}
	key := line[:eq]
	val := line[eq+1:]
	lineNum := p.lineCounter
	p.lineCounter++

	if m := paramLineRE.FindStringSubmatch(line); m != nil {
		paramKey, name, value := m[1], m[2], m[3]
		p.db.ConfigMap[paramKey] = ConfigEntry{Line: lineNum, Value: value}
		p.db.ParamMap[name] = ParamEntry{Key: paramKey, Name: name, Value: value, Line: lineNum}
		return p.maybeWrite(lineNum, paramKey, val)
	}

	p.db.ConfigMap[key] = ConfigEntry{Line: lineNum, Value: val}
	return p.maybeWrite(lineNum, key, val)
}

func (p *parser) maybeWrite(lineNum int, key, val string) error {
	if !p.opt.WriteToArchon || key == "" {
		return nil
	}
	cmd := fmt.Sprintf("WCONFIG%04X%s=%s", lineNum, key, val)
	p.logger.Debug("wconfig", "line", lineNum, "key", key)
	res, reply, err := p.opt.Session.Command(cmd)
	if err != nil {
		return err
	}
	if res != archon.NoError {
		return fmt.Errorf("WCONFIG %s: %s: %s", key, res, reply)
	}
	return nil
}

func (p *parser) modeLine(line string) error {
	switch {
	case strings.HasPrefix(line, "ACF:"):
		return p.modeACF(line[len("ACF:"):])
	case strings.HasPrefix(line, "ARCH:"):
		return p.modeArch(line[len("ARCH:"):])
	case strings.HasPrefix(line, "FITS:"):
		return p.modeFITS(line[len("FITS:"):])
	default:
		return fmt.Errorf("unknown mode directive in %q", line)
	}
}

func (p *parser) modeACF(rest string) error {
	eq := strings.Index(rest, "=")
	if eq < 0 {
		return fmt.Errorf("malformed ACF: line %q: missing '='", rest)
	}
	key := rest[:eq]
	val := rest[eq+1:]
	if base, ok := p.db.ParamMap[key]; ok {
		p.mode.ParamMap[key] = ParamEntry{Key: base.Key, Name: key, Value: val, Line: base.Line}
		return nil
	}
	base, ok := p.db.ConfigMap[key]
	line := p.lineCounter
	if ok {
		line = base.Line
	} else {
		p.lineCounter++
	}
	p.mode.ConfigMap[key] = ConfigEntry{Line: line, Value: val}
	return nil
}

func (p *parser) modeArch(rest string) error {
	eq := strings.Index(rest, "=")
	if eq < 0 {
		return fmt.Errorf("malformed ARCH: line %q: missing '='", rest)
	}
	key := rest[:eq]
	val := rest[eq+1:]
	n, err := parseIntLenient(val)
	if err != nil {
		return fmt.Errorf("ARCH:%s=%s: %w", key, val, err)
	}
	switch key {
	case "NUM_DETECT":
		p.mode.Geometry.NumDetect = n
	case "HORI_AMPS":
		p.mode.Geometry.Amps[0] = n
	case "VERT_AMPS":
		p.mode.Geometry.Amps[1] = n
	default:
		return fmt.Errorf("unknown ARCH: key %q", key)
	}
	return nil
}

func (p *parser) modeFITS(rest string) error {
	eq := strings.Index(rest, "=")
	if eq < 0 {
		return fmt.Errorf("malformed FITS: line %q: missing '='", rest)
	}
	keyword := rest[:eq]
	if len(keyword) > 8 {
		keyword = keyword[:8]
	}
	valComment := rest[eq+1:]
	slash := strings.Count(valComment, "/")
	if slash > 1 {
		return fmt.Errorf("malformed FITS: line %q: more than one '/' separator", rest)
	}
	var value, comment string
	if idx := strings.Index(valComment, "/"); idx >= 0 {
		value = valComment[:idx]
		comment = valComment[idx+1:]
	} else {
		value = valComment
	}
	p.mode.FITSKeys = append(p.mode.FITSKeys, FITSKey{Keyword: keyword, Value: value, Comment: comment})
	return nil
}

// normalize strips quotes, replaces tabs with spaces, and backslashes with
// forward slashes (spec §4.2 step 2), then trims surrounding whitespace.
func normalize(line string) string {
	line = strings.ReplaceAll(line, `"`, "")
	line = strings.ReplaceAll(line, "\t", " ")
	line = strings.ReplaceAll(line, `\`, "/")
	return strings.TrimSpace(line)
}

func parseIntLenient(s string) (int, error) {
	s = strings.TrimSpace(s)
	var n int
	var neg bool
	i := 0
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		i = 1
	}
	if i == len(s) {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	for ; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a number: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}
