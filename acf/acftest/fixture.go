// Package acftest holds fixture ACF text for parser tests, modeled on the
// teacher's small embedded-fixture style (no network/file IO required).
package acftest

// Small is a minimal but representative ACF: one base config section with
// a bare key and a PARAMETERn line, and two mode sections exercising all
// three tag prefixes.
const Small = `[CONFIG]
PIXELCOUNT=512
LINECOUNT=512
PARAMETER0=ExposeTime=0.0
[MODE_DEFAULT]
ACF:ExposeTime=1.5
ARCH:NUM_DETECT=1
ARCH:HORI_AMPS=2
ARCH:VERT_AMPS=1
FITS:DETECTOR=H2RG/Teledyne HAWAII-2RG
[MODE_RAW]
ARCH:NUM_DETECT=1
ARCH:HORI_AMPS=1
ARCH:VERT_AMPS=1
FITS:MODE=RAW
`

// DuplicateMode is malformed: two sections named MODE_DEFAULT.
const DuplicateMode = `[CONFIG]
PIXELCOUNT=512
[MODE_DEFAULT]
ARCH:NUM_DETECT=1
[MODE_DEFAULT]
ARCH:NUM_DETECT=2
`

// UnknownDirective is malformed: a mode line with no recognised tag prefix.
const UnknownDirective = `[CONFIG]
PIXELCOUNT=512
[MODE_DEFAULT]
BOGUS:KEY=VALUE
`
