// Package fitswriter turns deinterlaced ring slots into FITS files:
// single-image, multi-extension, and cube paths (spec §4.6), plus the
// per-extension header-key derivation and output-path bookkeeping spec §6
// "Output" calls for.
package fitswriter

import (
	"fmt"
	"os"
	"path/filepath"
)

// NextPath returns dir/basename.ext, or dir/basename-N.ext for the lowest
// N ≥ 1 that doesn't already exist, matching the duplicate-suffixing
// original_source/camerad/common.cpp's get_fits_name performs by scanning
// the target directory (SUPPLEMENTED FEATURES item 4).
func NextPath(dir, basename, ext string) (string, error) {
	candidate := filepath.Join(dir, basename+ext)
	if !exists(candidate) {
		return candidate, nil
	}
	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", basename, n, ext))
		if !exists(candidate) {
			return candidate, nil
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
