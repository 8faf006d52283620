// archon-expose connects to an Archon controller, loads an ACF, selects a
// mode, and runs one exposure sequence, writing FITS output to disk.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/acf"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/camera"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/cfg"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/exposure"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/ring"
)

func mainImpl() error {
	cfgPath := pflag.StringP("config", "c", "", "path to the cfg YAML file")
	acfPath := pflag.StringP("acf", "a", "", "path to the ACF firmware/config file to load")
	mode := pflag.StringP("mode", "m", "DEFAULT", "ACF mode name to select")
	nseq := pflag.IntP("nseq", "n", 1, "number of exposures in the sequence")
	outDir := pflag.StringP("outdir", "o", ".", "output directory for FITS files")
	basename := pflag.StringP("basename", "b", "image", "FITS output basename")
	mex := pflag.Bool("mex", false, "write multi-extension FITS files")
	single := pflag.Bool("single", false, "SAMPMODE_SINGLE: tell Archon one extra frame, discard it, show the user one")
	cds := pflag.Bool("cds", false, "enable CDS/MCDS baseline-signal differencing")
	mcdsPairs := pflag.Int("mcdspairs", 1, "read pairs per CDS/MCDS exposure (1 for plain CDS)")
	coadd := pflag.Bool("coadd", false, "accumulate a running LONG_IMG coadd across the sequence")
	verbose := pflag.BoolP("verbose", "v", false, "verbose logging")
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "archon-expose"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}

	if *cfgPath == "" || *acfPath == "" {
		return errors.New("archon-expose: -config and -acf are required")
	}

	c, err := cfg.Load(*cfgPath)
	if err != nil {
		return err
	}

	s := archon.NewSession(c.ArchonIP, c.ArchonPort)
	if err := s.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer s.Close()

	f, err := os.Open(*acfPath)
	if err != nil {
		return err
	}
	defer f.Close()

	db, err := acf.Load(f, *acfPath, acf.ParseOptions{WriteToArchon: true, Session: s, Logger: logger})
	if err != nil {
		return fmt.Errorf("loading acf: %w", err)
	}

	info := camera.NewInfo()
	if err := camera.SetCameraMode(s, db, info, *mode, false); err != nil {
		return fmt.Errorf("set_camera_mode: %w", err)
	}
	info.ImWidth = info.DetectorPixels[0]
	info.ImHeight = info.DetectorPixels[1]

	r := ring.New()
	seq := exposure.NewSequencer(s, info, r, logger)

	elemSize := 2
	if info.Datatype == camera.DataTypeLONG || info.Datatype == camera.DataTypeFLOAT {
		elemSize = 4
	}

	exposeCfg := exposure.Config{
		ExposeParam:   c.Params.Expose,
		AbortParam:    c.Params.Abort,
		NumSequences:  *nseq,
		Single:        *single,
		ExposureDelay: time.Duration(c.DefaultExpTime * float64(time.Second)),
		ReadoutTime:   time.Duration(c.Timing.ReadoutTimeMS * float64(time.Millisecond)),
		ActiveBufs:    archon.DefaultActiveBufs,
		SampleMode:    exposure.SampleMode(c.DefaultSampMode),
		Cubedepth:     1,
		MCDSPairs:     *mcdsPairs,
		IsCDS:         *cds,
		Coadd:         *coadd,
		ElemSize:      elemSize,
		HDRShift:      c.HDRShift,
		MEX:           *mex,
		Dir:           *outDir,
		Basename:      *basename,
		Ext:           ".fits",
	}

	if err := seq.Expose(exposeCfg); err != nil {
		return fmt.Errorf("expose: %w", err)
	}
	if seq.Aborted() {
		return errors.New("archon-expose: exposure aborted")
	}
	fmt.Printf("wrote %s\n", info.FITSFilename)
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "archon-expose: %s\n", err)
		os.Exit(1)
	}
}
