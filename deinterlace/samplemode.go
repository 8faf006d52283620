package deinterlace

import "fmt"

// CDS computes dst[i] = signal[i] - baseline[i] for every pixel (spec
// GLOSSARY "CDS: ... read a baseline frame, read a signal frame,
// subtract"). dst is always int32; baseline/signal share elemSize.
func CDS(dst []int32, baseline, signal []byte, elemSize int) error {
	n := len(dst)
	if len(baseline) != n*elemSize || len(signal) != n*elemSize {
		return fmt.Errorf("deinterlace: CDS buffer size mismatch")
	}
	for i := 0; i < n; i++ {
		b := int32(pixelAt(baseline, i, elemSize))
		s := int32(pixelAt(signal, i, elemSize))
		dst[i] = s - b
	}
	return nil
}

// AccumulateMCDS adds one frame's samples into the running baseline
// (buf0) or signal (buf1) accumulator (spec §3 "mcdsbuf_0 ... mcdsbuf_1").
func AccumulateMCDS(buf []int32, frame []byte, elemSize int) error {
	n := len(buf)
	if len(frame) != n*elemSize {
		return fmt.Errorf("deinterlace: MCDS accumulate size mismatch")
	}
	for i := 0; i < n; i++ {
		buf[i] += int32(pixelAt(frame, i, elemSize))
	}
	return nil
}

// FinalizeMCDS computes the written CDS image from the two MCDS
// accumulators: ((mcdsbuf_1 - mcdsbuf_0) / pairs), per pixel (spec §8
// invariant "SAMPMODE_MCDS").
func FinalizeMCDS(dst, buf0, buf1 []int32, pairs int) error {
	if pairs <= 0 {
		return fmt.Errorf("deinterlace: FinalizeMCDS: pairs must be positive, got %d", pairs)
	}
	n := len(dst)
	if len(buf0) != n || len(buf1) != n {
		return fmt.Errorf("deinterlace: FinalizeMCDS buffer size mismatch")
	}
	for i := 0; i < n; i++ {
		dst[i] = (buf1[i] - buf0[i]) / int32(pairs)
	}
	return nil
}

// Coadd accumulates one frame's samples into a running int32 sum buffer
// (spec §4.4 step 5 "if coadd, set LONG_IMG, bitpix=32").
func Coadd(buf []int32, frame []byte, elemSize int) error {
	n := len(buf)
	if len(frame) != n*elemSize {
		return fmt.Errorf("deinterlace: coadd size mismatch")
	}
	for i := 0; i < n; i++ {
		buf[i] += int32(pixelAt(frame, i, elemSize))
	}
	return nil
}

// ZeroAccumulators zeroes buf0 and buf1 in place (spec §4.5 "Zero
// mcdsbuf_0 and mcdsbuf_1").
func ZeroAccumulators(buf0, buf1 []int32) {
	for i := range buf0 {
		buf0[i] = 0
	}
	for i := range buf1 {
		buf1[i] = 0
	}
}
