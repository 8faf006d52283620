package fitswriter

import (
	"fmt"
	"io"
	"os"

	"github.com/astrogo/fitsio"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/camera"
)

// bitpixFor maps our own DataType enum to the FITS BITPIX code, per the
// design note to keep the semantic mapping without depending on a
// particular FITS library's numeric constants for anything but the actual
// on-disk value (spec §9).
func bitpixFor(dt camera.DataType) int {
	switch dt {
	case camera.DataTypeUSHORT, camera.DataTypeSHORT:
		return 16
	case camera.DataTypeFLOAT:
		return -32
	case camera.DataTypeLONG:
		return 32
	default:
		return 16
	}
}

// appendKey type-tags one camera.Key onto a fitsio.Header, parsing the
// stored string back into the typed value fitsio expects for numeric/bool
// cards (spec SUPPLEMENTED-adjacent "add_key type-tagged key addition").
func appendKey(hdr *fitsio.Header, k camera.Key) error {
	var val interface{} = k.Value
	switch k.Type {
	case camera.KeyInt:
		var n int64
		if _, err := fmt.Sscanf(k.Value, "%d", &n); err != nil {
			return fmt.Errorf("fitswriter: key %s: %w", k.Keyword, err)
		}
		val = n
	case camera.KeyFloat:
		var f float64
		if _, err := fmt.Sscanf(k.Value, "%g", &f); err != nil {
			return fmt.Errorf("fitswriter: key %s: %w", k.Keyword, err)
		}
		val = f
	case camera.KeyBool:
		val = k.Value == "T"
	}
	hdr.Append(fitsio.NewCard(k.Keyword, val, k.Comment))
	return nil
}

func appendAll(hdr *fitsio.Header, db *camera.KeywordDB) error {
	for _, k := range db.Keys() {
		if err := appendKey(hdr, k); err != nil {
			return err
		}
	}
	return nil
}

// WriteSingleImage opens path, writes one primary HDU carrying sysKeys and
// userKeys plus the pixel data, and closes the file (spec §4.6
// "single-image path ... write pixels from a valarray<T> of length
// section_size at first pixel = 1").
func WriteSingleImage(path string, bitpix int, axes []int, sysKeys, userKeys *camera.KeywordDB, pixels interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fitswriter: create %s: %w", path, err)
	}
	defer f.Close()

	file, err := fitsio.Create(f)
	if err != nil {
		return fmt.Errorf("fitswriter: fitsio.Create: %w", err)
	}
	defer file.Close()

	img := fitsio.NewImage(bitpix, axes)
	defer img.Close()

	if err := appendAll(img.Header(), sysKeys); err != nil {
		return err
	}
	if err := appendAll(img.Header(), userKeys); err != nil {
		return err
	}
	if err := img.Write(pixels); err != nil {
		return fmt.Errorf("fitswriter: write pixels: %w", err)
	}
	if err := file.Write(img); err != nil {
		return fmt.Errorf("fitswriter: write primary HDU: %w", err)
	}
	return nil
}

// MultiExtensionWriter drives a primary HDU plus a growing sequence of
// image extensions, one per frame (spec §4.6 multi-extension path; §4.4's
// "ismex" runs).
type MultiExtensionWriter struct {
	path string
	f    *os.File
	file *fitsio.File
	n    int
}

// OpenMultiExtension creates path and writes the primary HDU (system and
// user keys only, no pixel data).
func OpenMultiExtension(path string, sysKeys, userKeys *camera.KeywordDB) (*MultiExtensionWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("fitswriter: create %s: %w", path, err)
	}
	file, err := fitsio.Create(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fitswriter: fitsio.Create: %w", err)
	}

	primary := fitsio.NewImage(8, nil)
	defer primary.Close()
	if err := appendAll(primary.Header(), sysKeys); err != nil {
		file.Close()
		f.Close()
		return nil, err
	}
	if err := appendAll(primary.Header(), userKeys); err != nil {
		file.Close()
		f.Close()
		return nil, err
	}
	if err := file.Write(primary); err != nil {
		file.Close()
		f.Close()
		return nil, fmt.Errorf("fitswriter: write primary HDU: %w", err)
	}

	return &MultiExtensionWriter{path: path, f: f, file: file}, nil
}

// WriteExtension appends one image extension with its own per-extension
// keys (DATASEC/TRIMSEC/etc., spec §6) and pixel data.
func (w *MultiExtensionWriter) WriteExtension(bitpix int, axes []int, extKeys *camera.KeywordDB, pixels interface{}) error {
	img := fitsio.NewImage(bitpix, axes)
	defer img.Close()
	if err := appendAll(img.Header(), extKeys); err != nil {
		return err
	}
	if err := img.Write(pixels); err != nil {
		return fmt.Errorf("fitswriter: write extension %d pixels: %w", w.n+1, err)
	}
	if err := w.file.Write(img); err != nil {
		return fmt.Errorf("fitswriter: write extension %d HDU: %w", w.n+1, err)
	}
	w.n++
	return nil
}

// Close flushes and closes the underlying file.
func (w *MultiExtensionWriter) Close() error {
	err := w.file.Close()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ io.Closer = (*MultiExtensionWriter)(nil)
