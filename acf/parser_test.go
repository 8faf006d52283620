package acf

import (
	"strings"
	"testing"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/acf/acftest"
	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon/archontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_basic(t *testing.T) {
	db, err := Load(strings.NewReader(acftest.Small), "small.acf", ParseOptions{})
	require.NoError(t, err)

	assert.Equal(t, "512", db.ConfigMap["PIXELCOUNT"].Value)
	assert.Equal(t, "512", db.ConfigMap["LINECOUNT"].Value)
	assert.Equal(t, "0.0", db.ParamMap["ExposeTime"].Value)
	assert.Equal(t, "PARAMETER0", db.ParamMap["ExposeTime"].Key)
	assert.NotEmpty(t, db.MD5)

	def, ok := db.Mode("default")
	require.True(t, ok, "case-insensitive mode lookup")
	assert.Equal(t, "1.5", def.ParamMap["ExposeTime"].Value)
	assert.Equal(t, 1, def.Geometry.NumDetect)
	assert.Equal(t, 2, def.Geometry.Amps[0])
	assert.Equal(t, 1, def.Geometry.Amps[1])
	require.Len(t, def.FITSKeys, 1)
	assert.Equal(t, "DETECTOR", def.FITSKeys[0].Keyword)
	assert.Equal(t, "H2RG", def.FITSKeys[0].Value)
	assert.Equal(t, "Teledyne HAWAII-2RG", def.FITSKeys[0].Comment)

	_, ok = db.Mode(RawModeName)
	require.True(t, ok)
}

func TestLoad_duplicateModeIsFatal(t *testing.T) {
	_, err := Load(strings.NewReader(acftest.DuplicateMode), "dup.acf", ParseOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate mode")
}

func TestLoad_unknownDirectiveIsFatal(t *testing.T) {
	_, err := Load(strings.NewReader(acftest.UnknownDirective), "bad.acf", ParseOptions{})
	require.Error(t, err)
}

func TestLoad_writesThroughArchon(t *testing.T) {
	pb := archontest.NewPlayback([]archontest.Exchange{
		{Want: "POLLOFF", Reply: []byte("<00\n")},
		{Want: "CLEARCONFIG", Reply: []byte("<01\n")},
		{Want: "WCONFIG0000PIXELCOUNT=512", Reply: []byte("<02\n")},
		{Want: "WCONFIG0001LINECOUNT=512", Reply: []byte("<03\n")},
		{Want: "WCONFIG0002PARAMETER0=ExposeTime=0.0", Reply: []byte("<04\n")},
		{Want: "POLLON", Reply: []byte("<05\n")},
	})
	s := newTestSession(pb)
	_, err := Load(strings.NewReader(acftest.Small), "small.acf", ParseOptions{
		WriteToArchon: true,
		Session:       s,
	})
	require.NoError(t, err)
	assert.True(t, s.FirmwareLoaded())
	assert.False(t, s.ModeSelected())
}
