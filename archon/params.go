package archon

import (
	"fmt"
	"strings"
)

// ReadParameter reads a named parameter's current value via
// RCONFIG{line} and parses the PARAMETERn=Name=Value reply (spec §4.1).
func (s *Session) ReadParameter(line int, name string) (string, error) {
	cmd := fmt.Sprintf("RCONFIG%04X", line)
	res, reply, err := s.Command(cmd)
	if err != nil {
		return "", err
	}
	if res != NoError {
		return "", &CommandError{Cmd: cmd, Result: res, Reply: reply}
	}
	// reply is "PARAMETERn=Name=Value"
	parts := strings.SplitN(reply, "=", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("archon: malformed RCONFIG reply %q", reply)
	}
	if parts[1] != name {
		return "", fmt.Errorf("archon: RCONFIG line %d holds parameter %q, want %q", line, parts[1], name)
	}
	return parts[2], nil
}

// WriteConfigKey writes a configmap key at the given line via WCONFIG. The
// returned bool is the "changed" flag callers use to decide whether an
// APPLYCDS/APPLYALL is needed (spec §4.1, §4.2); it is true for every
// successful write, since the session keeps no copy of the previous value
// to compare against.
func (s *Session) WriteConfigKey(line int, key, value string) (changed bool, err error) {
	cmd := fmt.Sprintf("WCONFIG%04X%s=%s", line, key, value)
	res, reply, err := s.Command(cmd)
	if err != nil {
		return false, err
	}
	if res != NoError {
		return false, &CommandError{Cmd: cmd, Result: res, Reply: reply}
	}
	// The controller's WCONFIG reply is empty on success and says nothing
	// about whether the value differed, so "changed" is a write-time flag
	// rather than a controller-reported fact.
	return true, nil
}

// WriteParameter writes a named parameter by its PARAMETERn slot via
// WCONFIG{line}{paramkey}={paramname}={value} (spec §4.1).
func (s *Session) WriteParameter(line int, paramKey, name, value string) (changed bool, err error) {
	cmd := fmt.Sprintf("WCONFIG%04X%s=%s=%s", line, paramKey, name, value)
	res, reply, err := s.Command(cmd)
	if err != nil {
		return false, err
	}
	if res != NoError {
		return false, &CommandError{Cmd: cmd, Result: res, Reply: reply}
	}
	return true, nil
}

// ApplyMod applies configuration for a single backplane module slot via
// APPLYMOD{HH} (supplemented from original_source/camerad/archon.h; see
// SPEC_FULL.md "SUPPLEMENTED FEATURES" item 3).
func (s *Session) ApplyMod(slot int) error {
	cmd := fmt.Sprintf("APPLYMOD%02X", slot)
	res, reply, err := s.Command(cmd)
	if err != nil {
		return err
	}
	if res != NoError {
		return &CommandError{Cmd: cmd, Result: res, Reply: reply}
	}
	return nil
}

// ApplyDio applies digital I/O configuration for a single module slot via
// APPLYDIO{HH}.
func (s *Session) ApplyDio(slot int) error {
	cmd := fmt.Sprintf("APPLYDIO%02X", slot)
	res, reply, err := s.Command(cmd)
	if err != nil {
		return err
	}
	if res != NoError {
		return &CommandError{Cmd: cmd, Result: res, Reply: reply}
	}
	return nil
}

// Interrogate queries SYSTEM and populates Modules and BackplaneVersion.
// SYSTEM's reply is a space-separated list of KEY=VALUE pairs including
// "BACKPLANE_VERSION=..." and, per slot n in 1..NumSlots,
// "MODn_TYPE=..." / "MODn_VERSION=...".
func (s *Session) Interrogate() error {
	res, reply, err := s.Command("SYSTEM")
	if err != nil {
		return err
	}
	if res != NoError {
		return &CommandError{Cmd: "SYSTEM", Result: res, Reply: reply}
	}
	for _, tok := range strings.Fields(reply) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		switch {
		case key == "BACKPLANE_VERSION":
			s.BackplaneVersion = val
		case strings.HasPrefix(key, "MOD") && strings.HasSuffix(key, "_TYPE"):
			slot, ok := modSlot(key, "_TYPE")
			if ok && slot >= 1 && slot <= NumSlots {
				var t int
				fmt.Sscanf(val, "%d", &t)
				s.Modules[slot-1].Type = ModuleType(t)
			}
		case strings.HasPrefix(key, "MOD") && strings.HasSuffix(key, "_VERSION"):
			slot, ok := modSlot(key, "_VERSION")
			if ok && slot >= 1 && slot <= NumSlots {
				s.Modules[slot-1].Version = val
			}
		}
	}
	return nil
}

func modSlot(key, suffix string) (int, bool) {
	inner := strings.TrimSuffix(strings.TrimPrefix(key, "MOD"), suffix)
	var slot int
	if _, err := fmt.Sscanf(inner, "%d", &slot); err != nil {
		return 0, false
	}
	return slot, true
}
