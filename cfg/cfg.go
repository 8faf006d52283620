// Package cfg loads the core's external configuration file: the Archon
// endpoint, default acquisition parameters, and the ACF parameter-name
// bindings the core needs to drive expose/abort/shutter without hardcoding
// them (spec §6 "Configuration file (cfg)"). Kept minimal per the size
// note in §1: the ACF itself remains the source of truth for mode
// geometry; this file only binds the handful of names/paths the core
// can't derive from the ACF.
package cfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ROI is the default region of interest, [x0,x1,y0,y1], 1-based inclusive.
type ROI struct {
	X0 int `yaml:"x0"`
	X1 int `yaml:"x1"`
	Y0 int `yaml:"y0"`
	Y1 int `yaml:"y1"`
}

// Timing holds the host-side timing estimates the sequencer's wait
// primitives use (spec §6 "READOUT_TIME, PIXEL_TIME, ..." group).
type Timing struct {
	ReadoutTimeMS    float64 `yaml:"readout_time_ms"`
	PixelTimeUS      float64 `yaml:"pixel_time_us"`
	PixelSkipTimeUS  float64 `yaml:"pixel_skip_time_us"`
	RowOverheadUS    float64 `yaml:"row_overhead_time_us"`
	RowSkipTimeUS    float64 `yaml:"row_skip_time_us"`
	FrameStartTimeUS float64 `yaml:"frame_start_time_us"`
	FSPulseTimeUS    float64 `yaml:"fs_pulse_time_us"`
}

// ParamNames binds the ACF parameter names the core writes/reads by role,
// since an ACF author is free to name them anything (spec §6's
// *_PARAM/ *_ENABLE/*_DISABLE group).
type ParamNames struct {
	MCDSPairs     string `yaml:"mcdspairs_param"`
	MCDSMode      string `yaml:"mcdsmode_param"`
	RXMode        string `yaml:"rxmode_param"`
	RXRMode       string `yaml:"rxrmode_param"`
	VideoSamples  string `yaml:"videosamples_param"`
	UTRSample     string `yaml:"utrsample_param"`
	UTRMode       string `yaml:"utrmode_param"`
	Abort         string `yaml:"abort_param"`
	Expose        string `yaml:"expose_param"`
	ShutterEnable string `yaml:"shutenable_param"`
}

// ShutterValues binds the ACF-specific string values meaning "enabled" and
// "disabled" for the shutter-enable parameter (spec §6
// "SHUTENABLE_ENABLE, SHUTENABLE_DISABLE").
type ShutterValues struct {
	Enable  string `yaml:"enable"`
	Disable string `yaml:"disable"`
}

// Config is the external cfg file's contents, unmarshaled from YAML.
type Config struct {
	ArchonIP   string `yaml:"archon_ip"`
	ArchonPort int    `yaml:"archon_port"`

	DefaultFirmware string  `yaml:"default_firmware"`
	DefaultSampMode int     `yaml:"default_sampmode"`
	DefaultExpTime  float64 `yaml:"default_exptime"`
	DefaultROI      ROI     `yaml:"default_roi"`

	Timing Timing `yaml:"timing"`

	HDRShift int `yaml:"hdr_shift"`

	ImageDir           string `yaml:"imdir"`
	DirMode            string `yaml:"dirmode"`
	Basename           string `yaml:"basename"`
	WriteTapInfoToFITS bool   `yaml:"write_tapinfo_to_fits"`

	Params        ParamNames    `yaml:"params"`
	ShutterValues ShutterValues `yaml:"shutter_values"`
}

// Load reads and parses path into a Config (spec §6).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cfg: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cfg: parse %s: %w", path, err)
	}
	return &c, nil
}
