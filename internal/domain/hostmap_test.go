package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostMap_UpsertAddsAndReplaces(t *testing.T) {
	m := NewHostMap()
	h1 := NewHost(Endpoint("10.0.0.1:9042"))

	isNew := m.Upsert(h1)
	assert.True(t, isNew)
	assert.Equal(t, 1, m.Len())

	got, ok := m.Get(h1.Endpoint)
	require.True(t, ok)
	assert.Same(t, h1, got)

	h2 := NewHost(Endpoint("10.0.0.1:9042")) // same endpoint, different Host
	isNew = m.Upsert(h2)
	assert.False(t, isNew, "re-upserting an existing endpoint is a replace, not an add")
	assert.Equal(t, 1, m.Len())

	got, ok = m.Get(h1.Endpoint)
	require.True(t, ok)
	assert.Same(t, h2, got)
}

func TestHostMap_Remove(t *testing.T) {
	m := NewHostMap()
	h1 := NewHost(Endpoint("10.0.0.1:9042"))
	m.Upsert(h1)

	removed, ok := m.Remove(h1.Endpoint)
	assert.True(t, ok)
	assert.Same(t, h1, removed)
	assert.Equal(t, 0, m.Len())

	_, ok = m.Remove(h1.Endpoint)
	assert.False(t, ok, "removing an absent endpoint reports not-found")
}

func TestHostMap_Values_StableReferenceAcrossReads(t *testing.T) {
	m := NewHostMap()
	m.Upsert(NewHost(Endpoint("10.0.0.1:9042")))

	v1 := m.Values()
	v2 := m.Values()
	require.Equal(t, 1, len(v1))
	// Two reads with no intervening mutation see the identical backing slice.
	assert.Same(t, &v1[0], &v2[0])

	m.Upsert(NewHost(Endpoint("10.0.0.2:9042")))
	v3 := m.Values()
	assert.Equal(t, 2, len(v3))
}

func TestHostMap_Subscribe_NotifiesAddAndRemove(t *testing.T) {
	m := NewHostMap()

	var events []HostMapEvent
	var hosts []*Host
	m.Subscribe(func(event HostMapEvent, h *Host) {
		events = append(events, event)
		hosts = append(hosts, h)
	})

	h := NewHost(Endpoint("10.0.0.1:9042"))
	m.Upsert(h)
	m.Remove(h.Endpoint)

	require.Len(t, events, 2)
	assert.Equal(t, HostMapEventAdd, events[0])
	assert.Equal(t, HostMapEventRemove, events[1])
	assert.Same(t, h, hosts[0])
	assert.Same(t, h, hosts[1])
}

func TestHostMap_Reset(t *testing.T) {
	m := NewHostMap()
	m.Upsert(NewHost(Endpoint("10.0.0.1:9042")))
	m.Upsert(NewHost(Endpoint("10.0.0.2:9042")))
	require.Equal(t, 2, m.Len())

	m.Reset()
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Values())
}
