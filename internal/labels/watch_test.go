package labels

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/canlilar/skai/internal/examples"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"),
		[]byte("example_id,value\ne1,undamaged\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jsonl"),
		[]byte(`{"example_id": "e2", "value": "damaged_destroyed"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("ignored"), 0o644))

	anns, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, anns, 2)
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

// countLabeled sums records across all labeled shards. Errors count as zero;
// the callers poll until the expected count appears.
func countLabeled(m *Merger) int {
	ctx := context.Background()
	n := 0
	for _, role := range []string{examples.RoleTrain, examples.RoleTest} {
		for s := 0; s < m.NumShards; s++ {
			recs, err := examples.ReadShard(ctx, m.Store, role, s, m.NumShards)
			if err != nil {
				return 0
			}
			n += len(recs)
		}
	}
	return n
}

func TestWatch(t *testing.T) {
	if testing.Short() {
		t.Skip("watch test waits out the settle timer")
	}
	store, catalog, ids := mergeFixture(t, 10, 2)
	m := testMerger(store, catalog, 2)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "first.csv"),
		[]byte("example_id,value\n"+ids[0]+",undamaged\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, dir) }()

	// The initial merge runs before any file event.
	require.Eventually(t, func() bool { return countLabeled(m) == 1 },
		5*time.Second, 50*time.Millisecond)

	// Dropping a second export re-merges after the settle window.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.csv"),
		[]byte("example_id,value\n"+ids[1]+",damaged_destroyed\n"), 0o644))
	require.Eventually(t, func() bool { return countLabeled(m) == 2 },
		10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}
