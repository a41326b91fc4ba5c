package examples

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := OpenCatalog(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalog_InsertAndLookup(t *testing.T) {
	c := testCatalog(t)

	require.NoError(t, c.InsertBatch([]Entry{
		{ExampleID: "e1", BuildingID: "b1", Longitude: 1, Latitude: 2, Shard: 3},
		{ExampleID: "e2", BuildingID: "b2", Longitude: 3, Latitude: 4, Shard: 0, Partial: true},
	}))

	shard, ok, err := c.ShardOf("e1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, shard)

	_, ok, err = c.ShardOf("unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalog_UpsertIsIdempotent(t *testing.T) {
	c := testCatalog(t)

	entry := Entry{ExampleID: "e1", BuildingID: "b1", Shard: 2}
	require.NoError(t, c.InsertBatch([]Entry{entry}))
	entry.Shard = 5
	require.NoError(t, c.InsertBatch([]Entry{entry}))

	shard, ok, err := c.ShardOf("e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, shard, "re-insert refreshes fields")

	s, err := c.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Total)
}

func TestCatalog_Counts(t *testing.T) {
	c := testCatalog(t)

	require.NoError(t, c.InsertBatch([]Entry{
		{ExampleID: "e1", BuildingID: "b1", Shard: 0},
		{ExampleID: "e2", BuildingID: "b2", Shard: 1, Partial: true},
		{ExampleID: "e3", BuildingID: "b3", Shard: 2},
	}))
	require.NoError(t, c.SetLabel("e1", "damaged_destroyed", LabelPositive, "train"))
	require.NoError(t, c.SetLabel("e2", "undamaged", LabelNegative, "test"))

	s, err := c.Counts()
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Total:     3,
		Partial:   1,
		Labeled:   2,
		Train:     1,
		Test:      1,
		Positives: 1,
		Negatives: 1,
	}, s)
}

func TestCatalog_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	c, err := OpenCatalog(path)
	require.NoError(t, err)
	require.NoError(t, c.InsertBatch([]Entry{{ExampleID: "e1", BuildingID: "b1"}}))
	require.NoError(t, c.Close())

	// Reopen and confirm the row survived.
	c, err = OpenCatalog(path)
	require.NoError(t, err)
	defer c.Close()
	s, err := c.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Total)
}
