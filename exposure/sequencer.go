// Package exposure implements the exposure sequencer: the state machine
// that drives one do_expose call end to end (spec §4.4, §4.7, §4.8), the
// wait primitives it suspends on, and the ExposureTime value type.
package exposure

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/camera"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/deinterlace"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/fitswriter"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/ring"
)

// State is one node of the per-slot state machine (spec §4.8).
type State int

const (
	StateIdle State = iota
	StateArmed
	StateIntegrating
	StateReadingOut
	StateFetching
	StateDeinterlacing
	StateWriting
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArmed:
		return "ARMED"
	case StateIntegrating:
		return "INTEGRATING"
	case StateReadingOut:
		return "READING_OUT"
	case StateFetching:
		return "FETCHING"
	case StateDeinterlacing:
		return "DEINTERLACING"
	case StateWriting:
		return "WRITING"
	case StateAborting:
		return "ABORTING"
	default:
		return "UNKNOWN"
	}
}

// SampleMode is Archon's readout sample-mode code (spec §6 table).
type SampleMode int

const (
	SampleModeUTR      SampleMode = 1
	SampleModeCDS      SampleMode = 2
	SampleModeMCDS     SampleMode = 3
	SampleModeVideo    SampleMode = 4
	SampleModeCDSVideo SampleMode = 5
)

// Config parametrizes one do_expose call.
type Config struct {
	ExposeParam string
	AbortParam  string

	NumSequences    int
	NumPreExposures int
	Single          bool // caller-resolved SAMPMODE_SINGLE: Archon is told one extra frame, user sees NumSequences

	ExposureDelay time.Duration
	ReadoutTime   time.Duration
	ActiveBufs    int

	SampleMode SampleMode
	Cubedepth  int // slices per extension: UTR samples, MCDS frames, etc.
	MCDSPairs  int // nmcds: read-pairs contributing to each CDS difference
	IsCDS      bool
	Coadd      bool
	ElemSize   int // bytes per raw sample: 2 or 4
	HDRShift   int // n_hdrshift: right-shift applied to 32-bit samples

	MEX      bool
	Dir      string
	Basename string
	Ext      string
}

// Sequencer drives do_expose against one Archon session, camera info
// record, and image ring.
type Sequencer struct {
	Session *archon.Session
	Info    *camera.Info
	Ring    *ring.Ring
	Logger  *log.Logger

	abort *Abort

	state            int32
	writeFrameCount  int64
	deinterlaceCount int64
}

func NewSequencer(s *archon.Session, info *camera.Info, r *ring.Ring, logger *log.Logger) *Sequencer {
	if logger == nil {
		logger = log.Default()
	}
	return &Sequencer{Session: s, Info: info, Ring: r, Logger: logger, abort: NewAbort()}
}

// Abort raises the cooperative abort flag for the in-progress exposure.
// Expose starts every call with a fresh, unset flag, so an Abort made
// before Expose is called does not carry over into it.
func (sq *Sequencer) Abort() {
	sq.abort.Set()
}

func (sq *Sequencer) State() State            { return State(atomic.LoadInt32(&sq.state)) }
func (sq *Sequencer) setState(s State)        { atomic.StoreInt32(&sq.state, int32(s)) }
func (sq *Sequencer) WriteFrameCount() int64  { return atomic.LoadInt64(&sq.writeFrameCount) }
func (sq *Sequencer) DeinterlaceCount() int64 { return atomic.LoadInt64(&sq.deinterlaceCount) }

// Expose runs do_expose(nseq_in) to completion (spec §4.4). It returns nil
// on a clean abort as well as on normal completion; callers distinguish the
// two via sq.Aborted().
func (sq *Sequencer) Expose(cfg Config) error {
	if cfg.ExposeParam == "" || cfg.AbortParam == "" {
		return fmt.Errorf("exposure: expose/abort parameter names must be configured")
	}
	sq.abort = NewAbort()
	atomic.StoreInt64(&sq.writeFrameCount, 0)
	atomic.StoreInt64(&sq.deinterlaceCount, 0)

	if cfg.NumSequences <= 0 {
		cfg.NumSequences = 1
	}
	nseq := cfg.NumSequences + cfg.NumPreExposures
	sq.Info.Nseq = nseq
	sq.Info.ResetExtension()

	workElems := sq.Info.ImWidth * sq.Info.ImHeight
	for i := 0; i < ring.Size; i++ {
		sq.Ring.Slot(i).Alloc(sq.Info.ImageDataBytes, cfg.Cubedepth, workElems, cfg.ElemSize, false, 0, 0)
	}

	fs, _, err := sq.Session.GetFrameStatus(cfg.ActiveBufs)
	if err != nil {
		return fmt.Errorf("exposure: initial frame status: %w", err)
	}
	lastframe := fs.Buffers[fs.Index].Framen

	// SAMPMODE_SINGLE: Archon is told one extra frame beyond what the user
	// asked for; the first real readout is discarded below and never
	// written (spec §4.4 item 8, §8). loopCount adds that extra pass so the
	// discard doesn't consume one of the user-visible iterations.
	archonNseq := nseq
	loopCount := nseq
	if cfg.Single {
		archonNseq = nseq + 1
		loopCount = nseq + 1
	}
	sq.setState(StateArmed)
	if err := sq.prepAndLoadExposeParam(cfg.ExposeParam, archonNseq); err != nil {
		return err
	}

	startTime := time.Now()
	sq.Info.StartTime = startTime.Format("2006-01-02T15:04:05.000")

	var mw *fitswriter.MultiExtensionWriter
	if cfg.MEX {
		path, perr := fitswriter.NextPath(cfg.Dir, cfg.Basename+"_"+fitswriter.Timestamp(startTime), cfg.Ext)
		if perr != nil {
			return fmt.Errorf("exposure: building output path: %w", perr)
		}
		sq.Info.FITSFilename = path
		sq.Info.System.AddString("FILENAME", path, "output filename")
		mw, err = fitswriter.OpenMultiExtension(path, sq.Info.System, sq.Info.User)
		if err != nil {
			return fmt.Errorf("exposure: opening mex file: %w", err)
		}
	}

	var wg sync.WaitGroup
	aborted := false
	var loopErr error

	var coaddBuf []int32
	if cfg.Coadd {
		coaddBuf = make([]int32, workElems)
	}

expLoop:
	for expcount := 1; expcount <= loopCount; expcount++ {
		if sq.abort.IsSet() {
			aborted = true
			break
		}

		if expcount <= cfg.NumPreExposures {
			if cfg.ExposureDelay > 0 {
				sq.setState(StateIntegrating)
				if err := WaitForExposure(sq.Session, sq.abort, startTime, cfg.ExposureDelay, nil); err != nil {
					aborted, loopErr = true, err
					break
				}
			}
			sq.setState(StateReadingOut)
			if _, err := WaitForReadout(sq.Session, sq.abort, cfg.ActiveBufs, lastframe, cfg.ReadoutTime); err != nil {
				aborted, loopErr = true, err
				break
			}
			continue
		}

		if cfg.Single && expcount == cfg.NumPreExposures+1 {
			// SAMPMODE_SINGLE's extra Archon-facing frame: wait it out and
			// discard, same shape as a pre-exposure skip (spec §4.4 item 8).
			sq.setState(StateIntegrating)
			if err := WaitForExposure(sq.Session, sq.abort, startTime, cfg.ExposureDelay, nil); err != nil {
				aborted, loopErr = true, err
				break
			}
			sq.setState(StateReadingOut)
			readoutFs, err := WaitForReadout(sq.Session, sq.abort, cfg.ActiveBufs, lastframe, cfg.ReadoutTime)
			if err != nil {
				aborted, loopErr = true, err
				break
			}
			lastframe = readoutFs.Buffers[readoutFs.Index].Framen
			continue
		}

		sq.Info.User.Clear()

		if cfg.IsCDS {
			if err := sq.runCDSExposure(&wg, mw, cfg, startTime, &lastframe, coaddBuf); err != nil {
				if err == ErrAborted {
					aborted = true
					break expLoop
				}
				return fmt.Errorf("exposure: %w", err)
			}
			continue
		}

		sq.setState(StateIntegrating)
		slot, err := sq.captureAndDeinterlace(cfg, startTime, &lastframe)
		if err != nil {
			aborted, loopErr = true, err
			break
		}

		ext := int(sq.Info.NextExtension())
		if err := sq.dispatchWrite(&wg, slot, mw, cfg, ext, startTime); err != nil {
			return fmt.Errorf("exposure: write: %w", err)
		}

		if cfg.Coadd {
			if err := deinterlace.Coadd(coaddBuf, slot.Work, cfg.ElemSize); err != nil {
				return fmt.Errorf("exposure: coadd: %w", err)
			}
		}
	}

	wg.Wait()

	if mw != nil {
		compstat := "completed"
		if aborted {
			compstat = "aborted"
		}
		sq.Info.System.AddString("COMPSTAT", compstat, "exposure completion status")
		if cerr := mw.Close(); cerr != nil {
			return fmt.Errorf("exposure: closing mex file: %w", cerr)
		}
	}

	if cfg.Coadd && !aborted {
		if err := sq.writeAccumulatedFITS(coaddBuf, "coadd", cfg, startTime); err != nil {
			return fmt.Errorf("exposure: writing coadd fits: %w", err)
		}
	}

	if aborted {
		sq.setState(StateAborting)
		if err := sq.pushAbortParam(cfg.AbortParam); err != nil {
			sq.Logger.Error("pushing abort parameter failed", "err", err)
		}
		sq.Logger.Warn("exposure aborted", "write_frame_count", sq.WriteFrameCount(), "nseq", nseq)
	}
	sq.setState(StateIdle)
	if loopErr != nil && loopErr != ErrAborted {
		return fmt.Errorf("exposure: %w", loopErr)
	}
	return nil
}

// Aborted reports whether the abort flag was raised during the most recent
// Expose call.
func (sq *Sequencer) Aborted() bool {
	return sq.abort.IsSet()
}

// captureAndDeinterlace waits out one exposure/readout cycle, fetches the
// resulting frame into the next ring slot, and deinterlaces it in place
// (spec §4.4, §4.5). It advances the ring on return.
func (sq *Sequencer) captureAndDeinterlace(cfg Config, startTime time.Time, lastframe *int64) (*ring.Slot, error) {
	sq.setState(StateIntegrating)
	if err := WaitForExposure(sq.Session, sq.abort, startTime, cfg.ExposureDelay, func(p float64) {
		sq.Logger.Debug("exposure progress", "fraction", p)
	}); err != nil {
		return nil, err
	}

	sq.setState(StateReadingOut)
	frameStatus, err := WaitForReadout(sq.Session, sq.abort, cfg.ActiveBufs, *lastframe, cfg.ReadoutTime)
	if err != nil {
		return nil, err
	}
	*lastframe = frameStatus.Buffers[frameStatus.Index].Framen

	ringcount := sq.Ring.Count()
	slot := sq.Ring.Slot(ringcount)
	slot.ClearDeinterlaced()

	sq.setState(StateFetching)
	if err := slot.Lock(); err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	err = ReadFrame(sq.Session, frameStatus, slot.Image)
	slot.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read_frame: %w", err)
	}

	sq.setState(StateDeinterlacing)
	if err := sq.deinterlaceSlot(slot, cfg); err != nil {
		return nil, fmt.Errorf("deinterlace: %w", err)
	}
	slot.MarkDeinterlaced()
	atomic.AddInt64(&sq.deinterlaceCount, 1)
	sq.Ring.Advance()
	return slot, nil
}

// dispatchWrite writes slot either as a background mex extension or, for
// single-image runs, synchronously on the caller's goroutine.
func (sq *Sequencer) dispatchWrite(wg *sync.WaitGroup, slot *ring.Slot, mw *fitswriter.MultiExtensionWriter, cfg Config, ext int, startTime time.Time) error {
	if cfg.MEX {
		keys := sq.Info.User.Clone()
		wg.Add(1)
		go sq.writeMEXSlot(wg, slot, mw, cfg, ext, keys)
		return nil
	}
	sq.setState(StateWriting)
	if err := sq.writeSingle(slot, cfg, startTime); err != nil {
		return err
	}
	atomic.AddInt64(&sq.writeFrameCount, 1)
	return nil
}

// runCDSExposure captures one CDS exposure's baseline/signal read pair(s)
// (nmcds of them), writes each raw extension, and produces the CDS
// difference image the spec's cds_aggregator_thread owns (spec §4.5,
// scenario #4). For a single pair (the plain CDS sample mode) it uses the
// direct signal-minus-baseline subtraction; for nmcds>1 (MCDS) it
// accumulates each side across all pairs and averages at the end.
func (sq *Sequencer) runCDSExposure(wg *sync.WaitGroup, mw *fitswriter.MultiExtensionWriter, cfg Config, startTime time.Time, lastframe *int64, coaddBuf []int32) error {
	workElems := sq.Info.ImWidth * sq.Info.ImHeight
	pairs := cfg.MCDSPairs
	if pairs < 1 {
		pairs = 1
	}

	var buf0, buf1 []int32
	if pairs > 1 {
		buf0 = make([]int32, workElems)
		buf1 = make([]int32, workElems)
		deinterlace.ZeroAccumulators(buf0, buf1)
	}
	var lastBaseline, lastSignal *ring.Slot

	for pair := 0; pair < pairs; pair++ {
		if sq.abort.IsSet() {
			return ErrAborted
		}
		baseline, err := sq.captureAndDeinterlace(cfg, startTime, lastframe)
		if err != nil {
			return err
		}
		if err := sq.dispatchWrite(wg, baseline, mw, cfg, int(sq.Info.NextExtension()), startTime); err != nil {
			return err
		}

		if sq.abort.IsSet() {
			return ErrAborted
		}
		signal, err := sq.captureAndDeinterlace(cfg, startTime, lastframe)
		if err != nil {
			return err
		}
		if err := sq.dispatchWrite(wg, signal, mw, cfg, int(sq.Info.NextExtension()), startTime); err != nil {
			return err
		}

		if cfg.Coadd {
			if err := deinterlace.Coadd(coaddBuf, baseline.Work, cfg.ElemSize); err != nil {
				return fmt.Errorf("coadd: %w", err)
			}
			if err := deinterlace.Coadd(coaddBuf, signal.Work, cfg.ElemSize); err != nil {
				return fmt.Errorf("coadd: %w", err)
			}
		}

		if pairs > 1 {
			if err := deinterlace.AccumulateMCDS(buf0, baseline.Work, cfg.ElemSize); err != nil {
				return fmt.Errorf("accumulate mcds baseline: %w", err)
			}
			if err := deinterlace.AccumulateMCDS(buf1, signal.Work, cfg.ElemSize); err != nil {
				return fmt.Errorf("accumulate mcds signal: %w", err)
			}
		} else {
			lastBaseline, lastSignal = baseline, signal
		}
	}

	cdsResult := make([]int32, workElems)
	if pairs > 1 {
		if err := deinterlace.FinalizeMCDS(cdsResult, buf0, buf1, pairs); err != nil {
			return fmt.Errorf("finalize mcds: %w", err)
		}
	} else {
		if err := deinterlace.CDS(cdsResult, lastBaseline.Work, lastSignal.Work, cfg.ElemSize); err != nil {
			return fmt.Errorf("cds: %w", err)
		}
	}
	return sq.writeAccumulatedFITS(cdsResult, "cds", cfg, startTime)
}

// writeAccumulatedFITS writes a single-HDU bitpix=32 FITS file from an
// int32 accumulator buffer: the CDS difference image or the coadd sum
// (spec §4.5, §4.4 step 5 "if coadd, set LONG_IMG, bitpix=32").
func (sq *Sequencer) writeAccumulatedFITS(buf []int32, label string, cfg Config, startTime time.Time) error {
	path, err := fitswriter.NextPath(cfg.Dir, cfg.Basename+"_"+label+"_"+fitswriter.Timestamp(startTime), cfg.Ext)
	if err != nil {
		return err
	}
	axes := []int{sq.Info.ImWidth, sq.Info.ImHeight}
	if err := fitswriter.WriteSingleImage(path, 32, axes, sq.Info.System, sq.Info.User, buf); err != nil {
		return err
	}
	sq.Logger.Info("wrote accumulated fits", "label", label, "path", path)
	return nil
}

func (sq *Sequencer) writeMEXSlot(wg *sync.WaitGroup, slot *ring.Slot, mw *fitswriter.MultiExtensionWriter, cfg Config, ext int, keys *camera.KeywordDB) {
	defer wg.Done()
	slot.WaitDeinterlaced(sq.abort.Channel())
	if sq.abort.IsSet() {
		atomic.AddInt64(&sq.writeFrameCount, 1)
		return
	}

	axes := []int{sq.Info.ImWidth, sq.Info.ImHeight}
	if err := mw.WriteExtension(sq.Info.Bitpix, axes, keys, slot.Work); err != nil {
		sq.Logger.Error("write extension failed", "err", err, "extension", ext)
	}
	atomic.AddInt64(&sq.writeFrameCount, 1)
}

func (sq *Sequencer) deinterlaceSlot(slot *ring.Slot, cfg Config) error {
	ampSections := make([]camera.AmpSection, len(sq.Info.AmpSections))
	copy(ampSections, sq.Info.AmpSections)
	p := deinterlace.Params{
		Src:            slot.Image,
		Dst:            slot.Work,
		DetectorPixels: sq.Info.DetectorPixels,
		FrameMode:      archon.FrameModeTopFirst,
		AmpSections:    ampSections,
		ImHeight:       sq.Info.ImHeight,
		ImWidth:        sq.Info.ImWidth,
		Cubedepth:      cfg.Cubedepth,
		ElemSize:       cfg.ElemSize,
		Datatype:       sq.Info.Datatype,
		HDRShift:       cfg.HDRShift,
	}
	return deinterlace.Deinterlace(p)
}

func (sq *Sequencer) writeSingle(slot *ring.Slot, cfg Config, startTime time.Time) error {
	path, err := fitswriter.NextPath(cfg.Dir, cfg.Basename+"_"+fitswriter.Timestamp(startTime), cfg.Ext)
	if err != nil {
		return err
	}
	sq.Info.FITSFilename = path
	sq.Info.System.AddString("FILENAME", path, "output filename")
	axes := []int{sq.Info.ImWidth, sq.Info.ImHeight}
	return fitswriter.WriteSingleImage(path, sq.Info.Bitpix, axes, sq.Info.System, sq.Info.User, slot.Work)
}

// prepAndLoadExposeParam issues the fast parameter prep/load pair Archon
// uses for timing-critical values like the expose count (spec §6's
// FASTPREPPARAM/FASTLOADPARAM vocabulary entries).
func (sq *Sequencer) prepAndLoadExposeParam(name string, value int) error {
	prep := fmt.Sprintf("FASTPREPPARAM%s=%d", name, value)
	if res, reply, err := sq.Session.Command(prep); err != nil {
		return fmt.Errorf("exposure: %s: %w", prep, err)
	} else if res != archon.NoError {
		return fmt.Errorf("exposure: %s: %s: %s", prep, res, reply)
	}
	load := fmt.Sprintf("FASTLOADPARAM%s=%d", name, value)
	if res, reply, err := sq.Session.Command(load); err != nil {
		return fmt.Errorf("exposure: %s: %w", load, err)
	} else if res != archon.NoError {
		return fmt.Errorf("exposure: %s: %s: %s", load, res, reply)
	}
	return nil
}

// pushAbortParam raises Archon's own abort parameter (spec §4.8 "Archon
// abort parameter set"). Separate from Abort, which only flips the local
// cooperative flag.
func (sq *Sequencer) pushAbortParam(name string) error {
	cmd := fmt.Sprintf("FASTLOADPARAM%s=1", name)
	res, reply, err := sq.Session.Command(cmd)
	if err != nil {
		return fmt.Errorf("exposure: %s: %w", cmd, err)
	}
	if res != archon.NoError {
		return fmt.Errorf("exposure: %s: %s: %s", cmd, res, reply)
	}
	return nil
}
