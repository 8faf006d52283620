package fitswriter

import (
	"testing"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/camera"
	"github.com/stretchr/testify/assert"
)

func TestAmpHeaderKeys_derivesSections(t *testing.T) {
	amp := camera.AmpSection{X0: 1, X1: 512, Y0: 1, Y1: 256}
	db := AmpHeaderKeys(amp, 0)

	key, ok := db.Get("DATASEC")
	assert.True(t, ok)
	assert.Equal(t, "[1:512,1:256]", key.Value)

	key, ok = db.Get("AMP_NAME")
	assert.True(t, ok)
	assert.Equal(t, "AMP0", key.Value)

	key, ok = db.Get("BIASSEC")
	assert.True(t, ok)
	assert.Equal(t, "", key.Value)
}

func TestDetSec_wholeDetector(t *testing.T) {
	detsize, detsec := DetSec([2]int{1024, 512})
	assert.Equal(t, "[1:1024,1:512]", detsize)
	assert.Equal(t, detsize, detsec)
}
