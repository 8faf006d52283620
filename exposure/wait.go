package exposure

import (
	"errors"
	"fmt"
	"time"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
)

// ErrAborted is returned by the wait primitives when the abort flag was
// observed before the wait could complete normally.
var ErrAborted = errors.New("exposure: aborted")

// WaitForExposure waits out the exposure delay, rough-sleeping until 1s
// before the deadline and then checking the host clock every 1ms, reporting
// monotonic [0,1] progress along the way (spec §4.7). Once the host-clock
// deadline has passed it sends a single TIMER command and returns; the
// controller's TIMER value is not read back or compared against the
// deadline. start is when the exposure began; delay is the configured
// exposure delay. The timeout is max(1s, delay+1s).
func WaitForExposure(s *archon.Session, abort *Abort, start time.Time, delay time.Duration, progress func(float64)) error {
	deadline := start.Add(delay)
	timeout := delay + time.Second
	if timeout < time.Second {
		timeout = time.Second
	}
	hardDeadline := start.Add(timeout)
	roughUntil := deadline.Add(-time.Second)

	for time.Now().Before(roughUntil) {
		select {
		case <-abort.Channel():
			return ErrAborted
		default:
		}
		if time.Now().After(hardDeadline) {
			return fmt.Errorf("exposure: wait_for_exposure: timed out")
		}
		sleep := time.Until(roughUntil)
		if sleep > 50*time.Millisecond {
			sleep = 50 * time.Millisecond
		}
		if sleep > 0 {
			time.Sleep(sleep)
		}
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-abort.Channel():
			return ErrAborted
		default:
		}
		now := time.Now()
		if now.After(hardDeadline) {
			return fmt.Errorf("exposure: wait_for_exposure: timed out")
		}
		if progress != nil {
			p := float64(now.Sub(start)) / float64(delay)
			if p < 0 {
				p = 0
			} else if p > 1 {
				p = 1
			}
			progress(p)
		}
		if !now.Before(deadline) {
			// Touch the controller's TIMER once; its reply is not inspected.
			s.Command("TIMER")
			return nil
		}
		<-ticker.C
	}
}

// maxBusyStreak bounds how many consecutive BUSY frame-status replies
// WaitForReadout tolerates before giving up (spec §4.7, "~30000 ... ≈3s").
const maxBusyStreak = 30000

// WaitForReadout polls get_frame_status at ~100µs cadence until the active
// buffer advances past lastFrame and is marked complete (spec §4.7).
func WaitForReadout(s *archon.Session, abort *Abort, activeBufs int, lastFrame int64, readoutTime time.Duration) (*archon.FrameStatus, error) {
	timeout := time.Duration(float64(readoutTime) * 1.1)
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Microsecond)
	defer ticker.Stop()

	busyStreak := 0
	for {
		select {
		case <-abort.Channel():
			return nil, ErrAborted
		default:
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("exposure: wait_for_readout: timed out")
		}
		fs, res, err := s.GetFrameStatus(activeBufs)
		if err != nil {
			return nil, err
		}
		if res == archon.Busy {
			busyStreak++
			if busyStreak > maxBusyStreak {
				return nil, fmt.Errorf("exposure: wait_for_readout: too many BUSY replies")
			}
			<-ticker.C
			continue
		}
		busyStreak = 0
		b := fs.Buffers[fs.Index]
		if b.Framen != lastFrame && b.Complete == 1 {
			return fs, nil
		}
		<-ticker.C
	}
}
