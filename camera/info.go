package camera

import "sync/atomic"

// DataType is the FITS-adjacent pixel datatype, kept as our own enum per
// the design note to not depend on a particular FITS library's numeric
// constants (spec §9).
type DataType int

const (
	DataTypeUnknown DataType = iota
	DataTypeUSHORT
	DataTypeSHORT
	DataTypeFLOAT
	DataTypeLONG
)

func (d DataType) String() string {
	switch d {
	case DataTypeUSHORT:
		return "USHORT"
	case DataTypeSHORT:
		return "SHORT"
	case DataTypeFLOAT:
		return "FLOAT"
	case DataTypeLONG:
		return "LONG"
	default:
		return "UNKNOWN"
	}
}

// ReadoutType selects how output axes are derived at do_expose time (spec
// §4.4 step 4).
type ReadoutType int

const (
	ReadoutNIRC2 ReadoutType = iota
	ReadoutNIRC2Video
	ReadoutNone
)

// ROI is a 4-element region of interest: [x0, x1, y0, y1], 1-based
// inclusive, matching AmpSection's convention.
type ROI struct {
	X0, X1, Y0, Y1 int
}

// Info is the per-exposure geometry and acquisition metadata the sequencer
// builds and the FITS writer reads from (spec §3 "Camera info").
type Info struct {
	DetectorPixels [2]int
	ROI            ROI
	Binning        [2]int
	Bitpix         int
	Datatype       DataType

	SectionSize  int // pixels per extension
	ImageMemory  int // bytes per extension
	Cubedepth    int // slices per extension
	FITSCubed    int
	Nexp         int
	Nseq         int
	SampMode     int
	ReadoutType  ReadoutType
	IsCDS        bool
	ImHeight     int
	ImWidth      int

	ExposureTime  float64 // total, in units of ExposureFactor
	ExposureDelay float64 // what Archon is told
	StartTime     string  // ISO string

	ShutterEnable bool

	FITSFilename string
	User         *KeywordDB
	System       *KeywordDB

	AmpSections []AmpSection
	// ImageDataBytes is the block-rounded per-extension raw buffer size the
	// ring package allocates image_ring slots to (spec §4.2 step 5).
	ImageDataBytes int

	extension int32
}

// AmpSection mirrors acf.AmpSection; kept as its own type so camera doesn't
// need to import acf just to describe a rectangle.
type AmpSection struct {
	X0, X1, Y0, Y1 int
}

func NewInfo() *Info {
	return &Info{
		User:   NewKeywordDB(),
		System: NewKeywordDB(),
	}
}

// NextExtension advances and returns the atomic per-extension counter
// (spec §3 "extension is an atomic counter advanced per extension
// written").
func (i *Info) NextExtension() int32 {
	return atomic.AddInt32(&i.extension, 1)
}

// Extension returns the current extension count without advancing it.
func (i *Info) Extension() int32 {
	return atomic.LoadInt32(&i.extension)
}

// ResetExtension zeroes the extension counter (spec §4.4 step 4, "extension
// counter ← 0").
func (i *Info) ResetExtension() {
	atomic.StoreInt32(&i.extension, 0)
}
