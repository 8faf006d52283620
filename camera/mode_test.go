package camera

import (
	"strings"
	"testing"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/acf"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon/archontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureACF = `[CONFIG]
PIXELCOUNT=512
LINECOUNT=512
FRAMEMODE=0
RAWENABLE=0
SAMPLEMODE=0
PARAMETER0=ExposeTime=0.0
[MODE_DEFAULT]
ARCH:NUM_DETECT=1
ARCH:HORI_AMPS=2
ARCH:VERT_AMPS=1
`

func loadFixture(t *testing.T) *acf.Database {
	t.Helper()
	db, err := acf.Load(strings.NewReader(fixtureACF), "fixture.acf", acf.ParseOptions{})
	require.NoError(t, err)
	return db
}

func TestSetCameraMode_rejectsUnknownMode(t *testing.T) {
	db := loadFixture(t)
	s := archon.NewSessionWithConn(archontest.NewPlayback(nil))
	s.SetFirmwareLoaded(true)
	info := NewInfo()
	err := SetCameraMode(s, db, info, "NOSUCHMODE", false)
	require.Error(t, err)
}

func TestSetCameraMode_rejectsWhileExposing(t *testing.T) {
	db := loadFixture(t)
	s := archon.NewSessionWithConn(archontest.NewPlayback(nil))
	info := NewInfo()
	err := SetCameraMode(s, db, info, "DEFAULT", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exposing")
}

func TestSetCameraMode_geometryDerivation(t *testing.T) {
	db := loadFixture(t)
	// The fixture's mode overlay only carries ARCH: geometry directives, so
	// no WCONFIG/APPLYCDS traffic is expected.
	pb := archontest.NewPlayback(nil)
	s := archon.NewSessionWithConn(pb)
	s.SetFirmwareLoaded(true)

	info := NewInfo()
	err := SetCameraMode(s, db, info, "DEFAULT", false)
	require.NoError(t, err)

	assert.Equal(t, 1024, info.DetectorPixels[0]) // PIXELCOUNT(512) * hamps(2)
	assert.Equal(t, 512, info.DetectorPixels[1])   // LINECOUNT(512) * vamps(1)
	assert.Equal(t, 16, info.Bitpix)
	assert.Equal(t, 1024*512*2, info.ImageMemory)
	assert.Equal(t, 0, info.ImageDataBytes%1024)
	require.Len(t, info.AmpSections, 2)
	assert.Equal(t, AmpSection{X0: 1, X1: 1024, Y0: 1, Y1: 256}, info.AmpSections[0])
	assert.Equal(t, AmpSection{X0: 1, X1: 1024, Y0: 257, Y1: 512}, info.AmpSections[1])
}
