// Package exposure implements the exposure sequencer: the state machine
// that drives one do_expose call end to end (spec §4.4, §4.7, §4.8).
package exposure

// ExposureTime is a value type carrying a magnitude and a unit scale
// (milliseconds, or seconds when long-exposure is enabled), per the design
// note "a value type carrying unit + magnitude; unit changes scale the
// magnitude" (spec §9) and the LONGEXPOSURE toggle (SUPPLEMENTED FEATURES
// item 2).
type ExposureTime struct {
	millis int64
	long   bool
}

// NewExposureTimeMS constructs an ExposureTime from a millisecond value.
func NewExposureTimeMS(ms int64) ExposureTime {
	return ExposureTime{millis: ms}
}

// NewExposureTimeS constructs an ExposureTime from a (possibly fractional)
// second value.
func NewExposureTimeS(s float64) ExposureTime {
	return ExposureTime{millis: int64(s * 1000)}
}

// ms returns the magnitude in milliseconds.
func (e ExposureTime) ms() int64 {
	return e.millis
}

// s returns the magnitude in seconds.
func (e ExposureTime) s() float64 {
	return float64(e.millis) / 1000
}

// MS is the exported millisecond accessor.
func (e ExposureTime) MS() int64 { return e.ms() }

// S is the exported second accessor.
func (e ExposureTime) S() float64 { return e.s() }

// LongExposure reports whether the long-exposure (seconds-granularity)
// unit is in effect.
func (e ExposureTime) LongExposure() bool { return e.long }

// Factor returns the ExposureFactor the camera_info field expects: 1 for
// normal (millisecond) exposures, 1000 for long exposures (spec §3
// "exposure_time ... in units of exposure_factor 1 or 1000").
func (e ExposureTime) Factor() int {
	if e.long {
		return 1000
	}
	return 1
}

// SetLongExposure toggles the long-exposure unit. The magnitude is always
// stored in milliseconds; what changes is the unit ArchonValue reports in.
// Going long truncates the stored duration to whole seconds (any
// sub-second remainder is dropped, matching Archon's own exposure-parameter
// width limit this toggle exists to work around); coming back leaves the
// stored duration unchanged, so 4500ms becomes 4000ms after a round trip.
func (e ExposureTime) SetLongExposure(long bool) ExposureTime {
	if e.long == long {
		return e
	}
	out := e
	out.long = long
	if long {
		out.millis = (e.millis / 1000) * 1000
	}
	return out
}

// ArchonValue is what's actually sent as the EXPOSE/exposure-time
// parameter: the magnitude expressed in Factor() units.
func (e ExposureTime) ArchonValue() int64 {
	if e.long {
		return e.millis / 1000
	}
	return e.millis
}
