package retriever

import (
	"testing"

	"github.com/datavisioneasystore/des/blobstore"
	"github.com/datavisioneasystore/des/config"
	"github.com/datavisioneasystore/des/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testZones(t *testing.T) (map[string]blobstore.Store, []config.ZoneConfig) {
	t.Helper()
	a, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	b, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	stores := map[string]blobstore.Store{"zone-a": a, "zone-b": b}
	zones := []config.ZoneConfig{
		{Name: "zone-a", Range: config.ZoneRange{Start: 0, End: 128}, Bucket: "bucket-a"},
		{Name: "zone-b", Range: config.ZoneRange{Start: 128, End: 256}, Bucket: "bucket-b"},
	}
	return stores, zones
}

func TestZoneRouter_RoutesByShardIndex(t *testing.T) {
	stores, zones := testZones(t)
	zr, err := NewZoneRouter(8, zones, stores)
	require.NoError(t, err)

	store, name, err := zr.StoreFor(0)
	require.NoError(t, err)
	assert.Equal(t, "zone-a", name)
	assert.Same(t, stores["zone-a"], store)

	_, name, err = zr.StoreFor(200)
	require.NoError(t, err)
	assert.Equal(t, "zone-b", name)
}

func TestZoneRouter_RejectsGaps(t *testing.T) {
	stores, zones := testZones(t)
	zones[1].Range.End = 200 // leaves [200, 256) unowned
	_, err := NewZoneRouter(8, zones, stores)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestZoneRouter_RejectsOverlap(t *testing.T) {
	stores, zones := testZones(t)
	zones[1].Range.Start = 100 // overlaps zone-a's [0, 128)
	_, err := NewZoneRouter(8, zones, stores)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestZoneRouter_RejectsMissingStore(t *testing.T) {
	stores, zones := testZones(t)
	delete(stores, "zone-b")
	_, err := NewZoneRouter(8, zones, stores)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}
