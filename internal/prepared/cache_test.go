package prepared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	c := NewCache(10)
	key := Key{Keyspace: "ks", Query: "select * from t"}
	entry := &Entry{ID: []byte{1, 2, 3}}

	c.Put(key, entry)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Same(t, entry, got)
	assert.Equal(t, 1, c.Len())
}

func TestCache_GetMiss(t *testing.T) {
	c := NewCache(10)
	_, ok := c.Get(Key{Keyspace: "ks", Query: "missing"})
	assert.False(t, ok)
}

func TestCache_PutOverwritesExistingKey(t *testing.T) {
	c := NewCache(10)
	key := Key{Keyspace: "ks", Query: "select 1"}

	c.Put(key, &Entry{ID: []byte{1}})
	c.Put(key, &Entry{ID: []byte{2}})

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte{2}, got.ID)
	assert.Equal(t, 1, c.Len(), "overwriting an existing key does not grow the cache")
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)

	k1 := Key{Keyspace: "ks", Query: "q1"}
	k2 := Key{Keyspace: "ks", Query: "q2"}
	k3 := Key{Keyspace: "ks", Query: "q3"}

	c.Put(k1, &Entry{ID: []byte{1}})
	c.Put(k2, &Entry{ID: []byte{2}})

	// Touch k1 so it is no longer the least recently used entry.
	_, _ = c.Get(k1)

	c.Put(k3, &Entry{ID: []byte{3}})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(k2)
	assert.False(t, ok, "k2 was the least recently used entry and should have been evicted")
	_, ok = c.Get(k1)
	assert.True(t, ok)
	_, ok = c.Get(k3)
	assert.True(t, ok)
}

func TestNewCache_NonPositiveSizeDefaultsTo500(t *testing.T) {
	c := NewCache(0)
	assert.Equal(t, 500, c.maxSize)

	c = NewCache(-5)
	assert.Equal(t, 500, c.maxSize)
}

func TestCache_Entries(t *testing.T) {
	c := NewCache(10)
	k1 := Key{Keyspace: "ks", Query: "q1"}
	k2 := Key{Keyspace: "ks", Query: "q2"}
	c.Put(k1, &Entry{ID: []byte{1}})
	c.Put(k2, &Entry{ID: []byte{2}})

	entries := c.Entries()
	require.Len(t, entries, 2)

	seen := map[Key]bool{}
	for _, e := range entries {
		seen[e.Key] = true
	}
	assert.True(t, seen[k1])
	assert.True(t, seen[k2])
}

func TestHandler_PrepareAllQueries_AdaptsCacheEntries(t *testing.T) {
	c := NewCache(10)
	c.Put(Key{Keyspace: "ks1", Query: "select 1"}, &Entry{ID: []byte{1}})
	c.Put(Key{Keyspace: "ks2", Query: "select 2"}, &Entry{ID: []byte{2}})

	h := NewHandler(c, nil, nil, false, nil)
	entries := h.PrepareAllQueries()

	require.Len(t, entries, 2)
	keyspaces := map[string]bool{}
	for _, e := range entries {
		keyspaces[e.Keyspace] = true
	}
	assert.True(t, keyspaces["ks1"])
	assert.True(t, keyspaces["ks2"])
}
