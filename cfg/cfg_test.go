package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
archon_ip: 192.168.1.2
archon_port: 4242
default_firmware: /opt/acf/nirc2.acf
default_sampmode: 2
default_exptime: 1.5
default_roi:
  x0: 1
  x1: 1024
  y0: 1
  y1: 1024
timing:
  readout_time_ms: 850
params:
  expose_param: ExposeCount
  abort_param: Abort
shutter_values:
  enable: "1"
  disable: "0"
`

func TestLoad_parsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camera.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.2", c.ArchonIP)
	assert.Equal(t, 4242, c.ArchonPort)
	assert.Equal(t, 2, c.DefaultSampMode)
	assert.Equal(t, 1024, c.DefaultROI.X1)
	assert.Equal(t, "ExposeCount", c.Params.Expose)
	assert.Equal(t, "0", c.ShutterValues.Disable)
}

func TestLoad_missingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
