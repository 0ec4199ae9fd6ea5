package container

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memfabric/mmc/meta"
	"github.com/memfabric/mmc/mmcerr"
)

func TestInsertGetErase(t *testing.T) {
	c := New()
	obj := meta.NewObject("k1", 0)
	require.NoError(t, c.Insert("k1", obj))

	got, err := c.Get("k1")
	require.NoError(t, err)
	require.Same(t, obj, got)

	require.NoError(t, c.Erase("k1"))
	_, err = c.Get("k1")
	require.Error(t, err)
	require.Equal(t, mmcerr.UnmatchedKey, mmcerr.ToCode(err))
}

func TestInsertRejectsDuplicate(t *testing.T) {
	c := New()
	require.NoError(t, c.Insert("k1", meta.NewObject("k1", 0)))
	err := c.Insert("k1", meta.NewObject("k1", 0))
	require.Error(t, err)
	require.Equal(t, mmcerr.Duplicated, mmcerr.ToCode(err))
}

func TestEvictionCandidatesRespectsPriorityCeiling(t *testing.T) {
	c := New()
	require.NoError(t, c.Insert("low", meta.NewObject("low", 0)))
	require.NoError(t, c.Insert("high", meta.NewObject("high", 10)))

	cands := c.EvictionCandidates(10, 5)
	require.Len(t, cands, 1)
	require.Equal(t, "low", cands[0].Key)
}

func TestEvictionCandidatesOldestFirstPerShard(t *testing.T) {
	c := New()
	// Force several keys into the same shard by brute search, so LRU
	// ordering within one shard is actually exercised.
	keys := sameShardKeys(t, c, 3)
	for _, k := range keys {
		require.NoError(t, c.Insert(k, meta.NewObject(k, 0)))
	}
	cands := c.EvictionCandidates(len(keys), 0)
	require.Len(t, cands, len(keys))
	require.Equal(t, keys[0], cands[0].Key, "oldest insert should be evicted first")
}

func TestLenAndForEach(t *testing.T) {
	c := New()
	require.NoError(t, c.Insert("a", meta.NewObject("a", 0)))
	require.NoError(t, c.Insert("b", meta.NewObject("b", 0)))
	require.Equal(t, 2, c.Len())

	seen := map[string]bool{}
	c.ForEach(func(key string, obj *meta.Object) { seen[key] = true })
	require.True(t, seen["a"] && seen["b"])
}

func TestGetPromotesToFront(t *testing.T) {
	c := New()
	keys := sameShardKeys(t, c, 2)
	require.NoError(t, c.Insert(keys[0], meta.NewObject(keys[0], 0)))
	require.NoError(t, c.Insert(keys[1], meta.NewObject(keys[1], 0)))

	_, err := c.Get(keys[0])
	require.NoError(t, err)

	cands := c.EvictionCandidates(1, 0)
	require.Equal(t, keys[1], cands[0].Key, "touched key should no longer be the LRU tail")
}

// sameShardKeys brute-forces n distinct keys that hash into the same
// shard, so ordering tests aren't at the mercy of hash distribution.
func sameShardKeys(t *testing.T, c *Container, n int) []string {
	t.Helper()
	buckets := map[uint64][]string{}
	for i := 0; len(buckets[shardIndex(fmt.Sprintf("k%d", i))]) < n && i < 100000; i++ {
		k := fmt.Sprintf("k%d", i)
		idx := shardIndex(k)
		buckets[idx] = append(buckets[idx], k)
		if len(buckets[idx]) >= n {
			return buckets[idx]
		}
	}
	t.Fatal("could not find enough same-shard keys")
	return nil
}
