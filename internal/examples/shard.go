package examples

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/canlilar/skai/internal/blob"
)

// Shard file roles.
const (
	RoleUnlabeled = "unlabeled"
	RoleTrain     = "train"
	RoleTest      = "test"
)

// ShardKey names a shard file, e.g. "examples/unlabeled/unlabeled-00003-of-00010.rec".
func ShardKey(role string, index, numShards int) string {
	return fmt.Sprintf("examples/%s/%s-%05d-of-%05d.rec", role, role, index, numShards)
}

// WriteShard encodes records into one shard object. Records are sorted by
// example ID first, so shard bytes depend only on shard membership, never on
// the order workers produced them: re-runs are byte-identical.
func WriteShard(ctx context.Context, store blob.Store, role string, index, numShards int, recs []*Record) error {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ExampleID < recs[j].ExampleID })
	var buf bytes.Buffer
	for _, rec := range recs {
		if err := WriteRecord(&buf, rec); err != nil {
			return err
		}
	}
	key := ShardKey(role, index, numShards)
	if err := store.Put(ctx, key, &buf); err != nil {
		return fmt.Errorf("failed to write shard %s: %w", key, err)
	}
	return nil
}

// ReadShard loads and decodes one shard object. A missing shard yields no
// records: shards with no members are not written.
func ReadShard(ctx context.Context, store blob.Store, role string, index, numShards int) ([]*Record, error) {
	key := ShardKey(role, index, numShards)
	rc, err := store.Get(ctx, key)
	if err != nil {
		if blob.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rc.Close()
	recs, err := ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard %s: %w", key, err)
	}
	return recs, nil
}
