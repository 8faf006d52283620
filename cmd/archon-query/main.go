// archon-query connects to an Archon controller, interrogates its
// backplane module table, and prints the current frame status.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
)

func mainImpl() error {
	host := pflag.StringP("host", "H", "", "Archon controller IP/hostname")
	port := pflag.IntP("port", "p", 4242, "Archon controller TCP port")
	activeBufs := pflag.IntP("active-bufs", "b", archon.DefaultActiveBufs, "active frame buffers to poll")
	verbose := pflag.BoolP("verbose", "v", false, "verbose logging")
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "archon-query"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}

	if *host == "" {
		return errors.New("archon-query: -host is required")
	}

	s := archon.NewSession(*host, *port)
	if err := s.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer s.Close()

	if err := s.Interrogate(); err != nil {
		return fmt.Errorf("interrogate: %w", err)
	}
	fmt.Printf("backplane version: %s\n", s.BackplaneVersion)
	for i, m := range s.Modules {
		if m.Type == archon.ModuleTypeNone {
			continue
		}
		fmt.Printf("  slot %2d: type=%d version=%s\n", i+1, m.Type, m.Version)
	}

	fs, res, err := s.GetFrameStatus(*activeBufs)
	if err != nil {
		return fmt.Errorf("frame status: %w", err)
	}
	if res != archon.NoError {
		return fmt.Errorf("frame status: %s", res)
	}
	fmt.Printf("timer=%s index=%d frame=%d next_index=%d\n", fs.Timer, fs.Index, fs.Frame, fs.NextIndex)
	for i := 0; i < *activeBufs; i++ {
		b := fs.Buffers[i]
		fmt.Printf("  buf%d: frame=%d complete=%d base=0x%X\n", i+1, b.Framen, b.Complete, b.Base)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "archon-query: %s\n", err)
		os.Exit(1)
	}
}
