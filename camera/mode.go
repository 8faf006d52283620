package camera

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/acf"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
)

// canonicalGeometryKeys are re-read from the ACF's merged config view (mode
// overlay over base configmap, see lookupConfig) after a mode's overlays
// are applied (spec §4.2 step 3); no RCONFIG is sent for them.
var canonicalGeometryKeys = []string{
	"FRAMEMODE", "LINECOUNT", "PIXELCOUNT", "RAWENABLE", "RAWSEL",
	"RAWSAMPLES", "RAWENDLINE", "BIGBUF", "SAMPLEMODE",
}

// SetCameraMode applies mode's configmap/parammap overlays to the
// controller, re-derives geometry, and fills info accordingly (spec §4.2
// "set_camera_mode(name)").
func SetCameraMode(s *archon.Session, db *acf.Database, info *Info, name string, exposing bool) error {
	if exposing {
		return fmt.Errorf("camera: cannot set mode %q while exposing", name)
	}
	if !s.FirmwareLoaded() {
		return fmt.Errorf("camera: cannot set mode %q: firmware not loaded", name)
	}
	mode, ok := db.Mode(name)
	if !ok {
		return fmt.Errorf("camera: unknown mode %q", name)
	}

	configChanged, err := applyConfigOverlay(s, mode)
	if err != nil {
		return err
	}
	paramChanged, err := applyParamOverlay(s, mode)
	if err != nil {
		return err
	}
	if configChanged {
		if _, reply, err := s.Command("APPLYCDS"); err != nil {
			return fmt.Errorf("camera: APPLYCDS: %w", err)
		} else if reply != "" && reply[0] == '?' {
			return fmt.Errorf("camera: APPLYCDS rejected: %s", reply)
		}
	}
	if paramChanged {
		if _, reply, err := s.Command("LOADPARAMS"); err != nil {
			return fmt.Errorf("camera: LOADPARAMS: %w", err)
		} else if reply != "" && reply[0] == '?' {
			return fmt.Errorf("camera: LOADPARAMS rejected: %s", reply)
		}
	}

	geom, err := readCanonicalGeometry(db, mode)
	if err != nil {
		return err
	}

	info.Bitpix = 16
	if geom["SAMPLEMODE"] != 0 {
		info.Bitpix = 32
	}

	hamps, vamps := mode.Geometry.Amps[0], mode.Geometry.Amps[1]
	if hamps <= 0 {
		hamps = 1
	}
	if vamps <= 0 {
		vamps = 1
	}

	if geom["RAWENABLE"] != 0 {
		info.DetectorPixels[0] = geom["RAWSAMPLES"]
		info.DetectorPixels[1] = geom["RAWENDLINE"] + 1
	} else {
		info.DetectorPixels[0] = geom["PIXELCOUNT"] * hamps
		info.DetectorPixels[1] = geom["LINECOUNT"] * vamps
	}

	info.Binning = [2]int{1, 1}
	info.ROI = ROI{X0: 1, X1: info.DetectorPixels[0], Y0: 1, Y1: info.DetectorPixels[1]}

	bytesPerPixel := info.Bitpix / 8
	info.SectionSize = info.DetectorPixels[0] * info.DetectorPixels[1]
	info.ImageMemory = info.SectionSize * bytesPerPixel

	numDetect := mode.Geometry.NumDetect
	if numDetect <= 0 {
		numDetect = 1
	}
	imageDataBytes := ceilBlock(info.ImageMemory * numDetect)
	if imageDataBytes == 0 {
		return fmt.Errorf("camera: image_data_bytes computed as 0 for mode %q", name)
	}

	mode.Geometry.FrameMode = geom["FRAMEMODE"]
	mode.Geometry.LineCount = geom["LINECOUNT"]
	mode.Geometry.PixelCount = geom["PIXELCOUNT"]

	info.AmpSections = buildAmpSections(hamps, vamps, mode.Geometry.FrameMode, info.DetectorPixels)

	if entry, ok := db.ParamMap["ShutterEnable"]; ok {
		val, err := s.ReadParameter(entry.Line, "ShutterEnable")
		if err != nil {
			return fmt.Errorf("camera: read back ShutterEnable: %w", err)
		}
		info.ShutterEnable = val != "0" && val != ""
	}

	info.ImageDataBytes = imageDataBytes
	s.SetModeSelected(true)
	return nil
}

func ceilBlock(n int) int {
	if n <= 0 {
		return 0
	}
	return ((n + archon.BlockLen - 1) / archon.BlockLen) * archon.BlockLen
}

func applyConfigOverlay(s *archon.Session, mode *acf.Mode) (bool, error) {
	keys := make([]string, 0, len(mode.ConfigMap))
	for key := range mode.ConfigMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	changedAny := false
	for _, key := range keys {
		entry := mode.ConfigMap[key]
		changed, err := s.WriteConfigKey(entry.Line, key, entry.Value)
		if err != nil {
			return changedAny, fmt.Errorf("camera: write_config_key %s: %w", key, err)
		}
		if changed {
			changedAny = true
		}
	}
	return changedAny, nil
}

func applyParamOverlay(s *archon.Session, mode *acf.Mode) (bool, error) {
	names := make([]string, 0, len(mode.ParamMap))
	for name := range mode.ParamMap {
		names = append(names, name)
	}
	sort.Strings(names)

	changedAny := false
	for _, name := range names {
		entry := mode.ParamMap[name]
		changed, err := s.WriteParameter(entry.Line, entry.Key, name, entry.Value)
		if err != nil {
			return changedAny, fmt.Errorf("camera: write_parameter %s: %w", name, err)
		}
		if changed {
			changedAny = true
		}
	}
	return changedAny, nil
}

// readCanonicalGeometry reads the canonicalGeometryKeys from the mode's
// overlay if present, else the base configmap, parsing each as an integer.
// A key with no value anywhere defaults to 0.
func readCanonicalGeometry(db *acf.Database, mode *acf.Mode) (map[string]int, error) {
	out := make(map[string]int, len(canonicalGeometryKeys))
	for _, key := range canonicalGeometryKeys {
		val, ok := lookupConfig(db, mode, key)
		if !ok {
			out[key] = 0
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("camera: canonical geometry key %s=%q not an integer: %w", key, val, err)
		}
		out[key] = n
	}
	return out, nil
}

func lookupConfig(db *acf.Database, mode *acf.Mode, key string) (string, bool) {
	if mode != nil {
		if e, ok := mode.ConfigMap[key]; ok {
			return e.Value, true
		}
	}
	if e, ok := db.ConfigMap[key]; ok {
		return e.Value, true
	}
	return "", false
}

// buildAmpSections emits hamps*vamps amplifier rectangles, 1-based
// inclusive (spec §4.2 step 6): framemode 2 (split) tiles a grid, otherwise
// amplifiers stack as horizontal stripes spanning the full width.
func buildAmpSections(hamps, vamps, framemode int, detectorPixels [2]int) []AmpSection {
	width, height := detectorPixels[0], detectorPixels[1]
	var out []AmpSection
	if framemode == 2 {
		cellW := width / hamps
		cellH := height / vamps
		for r := 0; r < vamps; r++ {
			for c := 0; c < hamps; c++ {
				out = append(out, AmpSection{
					X0: c*cellW + 1, X1: (c + 1) * cellW,
					Y0: r*cellH + 1, Y1: (r + 1) * cellH,
				})
			}
		}
		return out
	}
	numAmps := hamps * vamps
	if numAmps <= 0 {
		numAmps = 1
	}
	stripeHeight := height / numAmps
	for k := 0; k < numAmps; k++ {
		out = append(out, AmpSection{
			X0: 1, X1: width,
			Y0: k*stripeHeight + 1, Y1: (k + 1) * stripeHeight,
		})
	}
	return out
}
