package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/datavisioneasystore/des/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zonesYAML = `
n_bits: 8
zones:
  - name: zone-a
    range: {start: 0, end: 128}
    s3:
      bucket: bucket-a
      prefix: des/
      region_name: eu-central-1
  - name: zone-b
    range: {start: 128, end: 256}
    s3:
      bucket: bucket-b
      endpoint_url: https://storage.example.com
`

func TestLoadZonesFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte(zonesYAML), 0o644))

	nBits, zones, err := LoadZonesFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, nBits)
	require.Len(t, zones, 2)
	assert.Equal(t, "zone-a", zones[0].Name)
	assert.Equal(t, ZoneRange{Start: 0, End: 128}, zones[0].Range)
	assert.Equal(t, "bucket-a", zones[0].Bucket)
	assert.Equal(t, "eu-central-1", zones[0].RegionName)
	assert.Equal(t, "https://storage.example.com", zones[1].EndpointURL)
}

func TestLoadZonesFile_JSON(t *testing.T) {
	content := `{
	  "n_bits": 4,
	  "zones": [
	    {"name": "only", "range": {"start": 0, "end": 16}, "s3": {"bucket": "b"}}
	  ]
	}`
	path := filepath.Join(t.TempDir(), "zones.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	nBits, zones, err := LoadZonesFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, nBits)
	require.Len(t, zones, 1)
	assert.Equal(t, "only", zones[0].Name)
}

func TestLoadZonesFile_Rejections(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("zones: []"), 0o644))
	_, _, err := LoadZonesFile(empty)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	unnamed := filepath.Join(dir, "unnamed.yaml")
	require.NoError(t, os.WriteFile(unnamed, []byte("zones:\n  - range: {start: 0, end: 1}\n"), 0o644))
	_, _, err = LoadZonesFile(unnamed)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, _, err = LoadZonesFile(filepath.Join(dir, "zones.toml"))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestZoneRange_Contains(t *testing.T) {
	r := ZoneRange{Start: 10, End: 20}
	assert.True(t, r.Contains(10))
	assert.True(t, r.Contains(19))
	assert.False(t, r.Contains(20))
	assert.False(t, r.Contains(9))
}
