package exposure

import (
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
)

// ReadFrame performs the FETCH for one completed buffer into dst, which
// must be exactly info-derived image_data_bytes long (spec §4.5
// read_frame). addr comes from the frame status's buffer base; blocks is
// dst's length in 1024-byte units.
func ReadFrame(s *archon.Session, fs *archon.FrameStatus, dst []byte) error {
	b := fs.Buffers[fs.Index]
	blocks := uint32(len(dst)) / archon.BlockLen
	return s.Fetch(uint32(b.Base), blocks, dst)
}
