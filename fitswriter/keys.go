package fitswriter

import (
	"fmt"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/camera"
)

// AmpHeaderKeys derives the per-extension DATASEC/TRIMSEC/BIASSEC FITS
// keywords mechanically from one amplifier's section (spec §6 Output
// keyword list; SUPPLEMENTED FEATURES item 5, grounded on
// original_source/camerad/fits_file.h). DATASEC and TRIMSEC are the full
// readable section; BIASSEC is empty here since Archon's overscan/bias
// columns are outside the core's scope (no ACF field names one).
func AmpHeaderKeys(amp camera.AmpSection, ampIndex int) *camera.KeywordDB {
	db := camera.NewKeywordDB()
	sec := fmt.Sprintf("[%d:%d,%d:%d]", amp.X0, amp.X1, amp.Y0, amp.Y1)
	db.AddString("DATASEC", sec, "data section")
	db.AddString("TRIMSEC", sec, "trim section")
	db.AddString("BIASSEC", "", "bias section")
	db.AddString("AMPSEC", sec, "amplifier section")
	db.AddString("CCDSEC", sec, "CCD section")
	db.AddInt("AMP_ID", int64(ampIndex), "amplifier index")
	db.AddString("AMP_NAME", fmt.Sprintf("AMP%d", ampIndex), "amplifier name")
	return db
}

// DetSec builds the whole-detector DETSIZE/DETSEC keyword pair.
func DetSec(detectorPixels [2]int) (detsize, detsec string) {
	s := fmt.Sprintf("[%d:%d,%d:%d]", 1, detectorPixels[0], 1, detectorPixels[1])
	return s, s
}
