// Package deinterlace rearranges Archon's tap-interleaved raw pixel stream
// into row-major pixel buffers, and implements the CDS/MCDS/coadd
// sample-mode arithmetic that runs on top of it (spec §4.5). There is no
// UTR-specific averaging step.
package deinterlace

import (
	"encoding/binary"
	"fmt"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/camera"
)

// Params parametrizes one deinterlace call. It carries the buffer and
// geometry part of the deinterlacer argument list in spec §4.5 (src, dst,
// detector_pixels, imheight, imwidth, cubedepth); it has no cds_dst,
// coaddbuf, mcdsbuf_0/1, iscds or nmcds fields. The CDS/MCDS/coadd
// accumulator arithmetic lives in samplemode.go and is driven by the
// sequencer across multiple deinterlaced frames, not by this call.
type Params struct {
	Src []byte
	Dst []byte

	DetectorPixels [2]int
	FrameMode      archon.FrameMode
	AmpSections    []camera.AmpSection
	ImHeight       int
	ImWidth        int
	Cubedepth      int
	ElemSize       int // bytes per pixel: 2 (uint16) or 4 (int32/float32)

	// Datatype and HDRShift select the per-pixel conversion applied while
	// unscrambling (spec §4.5: "For 32-bit pixels, right-shift by
	// n_hdrshift ... For SHORT, subtract 32768 to convert unsigned Archon
	// output to signed").
	Datatype camera.DataType
	HDRShift int
}

// Deinterlace performs one slice's worth of tap-unscrambling from Src into
// Dst, per the geometry in p.AmpSections (spec §4.5 "deinterlace(src, dst,
// cds_dst, ringcount)"). Each amplifier's samples arrive interleaved
// round-robin across amplifiers within a row segment; Deinterlace walks
// each amp section, applies the datatype conversion, and places each
// sample in its row-major position in Dst.
func Deinterlace(p Params) error {
	if p.ElemSize != 2 && p.ElemSize != 4 {
		return fmt.Errorf("deinterlace: unsupported elem size %d", p.ElemSize)
	}
	if len(p.AmpSections) == 0 {
		return fmt.Errorf("deinterlace: no amp sections")
	}
	width := p.DetectorPixels[0]
	numAmps := len(p.AmpSections)
	srcStride := numAmps * p.ElemSize

	for ampIdx, amp := range p.AmpSections {
		ampWidth := amp.X1 - amp.X0 + 1
		ampHeight := amp.Y1 - amp.Y0 + 1
		rows := rowOrder(amp.Y0-1, ampHeight, p.FrameMode)
		for ri, destRow := range rows {
			for col := 0; col < ampWidth; col++ {
				srcIdx := ((destRow-amp.Y0+1)*ampWidth+col)*srcStride + ampIdx*p.ElemSize
				if srcIdx+p.ElemSize > len(p.Src) {
					return fmt.Errorf("deinterlace: src index %d out of range (len %d)", srcIdx, len(p.Src))
				}
				dstX := amp.X0 - 1 + col
				dstY := ri + amp.Y0 - 1
				dstIdx := (dstY*width + dstX) * p.ElemSize
				if dstIdx+p.ElemSize > len(p.Dst) {
					return fmt.Errorf("deinterlace: dst index %d out of range (len %d)", dstIdx, len(p.Dst))
				}
				v := pixelAt(p.Src, srcIdx/p.ElemSize, p.ElemSize)
				v = p.convertSample(v)
				putPixelAt(p.Dst, dstIdx/p.ElemSize, p.ElemSize, v)
			}
		}
	}
	return nil
}

// convertSample applies the datatype-specific conversion a raw sample needs
// before it's stored (spec §4.5).
func (p Params) convertSample(v uint32) uint32 {
	switch p.Datatype {
	case camera.DataTypeLONG:
		if p.HDRShift > 0 {
			return v >> uint(p.HDRShift)
		}
		return v
	case camera.DataTypeSHORT:
		return uint32(uint16(v) - 32768)
	default:
		return v
	}
}

// rowOrder returns the destination row for each source row within an amp
// section, honoring FrameMode's topfirst/bottomfirst read order. Split
// (grid) framemode reads each cell topfirst, same as the default.
func rowOrder(y0 int, height int, mode archon.FrameMode) []int {
	rows := make([]int, height)
	if mode == archon.FrameModeBottomFirst {
		for i := 0; i < height; i++ {
			rows[i] = y0 + height - 1 - i
		}
		return rows
	}
	for i := 0; i < height; i++ {
		rows[i] = y0 + i
	}
	return rows
}

// pixelAt reads one ElemSize-wide unsigned sample from buf at pixel index
// idx.
func pixelAt(buf []byte, idx, elemSize int) uint32 {
	off := idx * elemSize
	if elemSize == 2 {
		return uint32(binary.LittleEndian.Uint16(buf[off : off+2]))
	}
	return binary.LittleEndian.Uint32(buf[off : off+4])
}

// putPixelAt writes one ElemSize-wide sample into buf at pixel index idx.
func putPixelAt(buf []byte, idx, elemSize int, v uint32) {
	off := idx * elemSize
	if elemSize == 2 {
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(v))
		return
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], v)
}

