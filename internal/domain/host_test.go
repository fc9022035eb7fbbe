package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEndpoint(t *testing.T) {
	testCases := []struct {
		name     string
		host     string
		port     int
		expected Endpoint
	}{
		{"ipv4", "10.0.0.1", 9042, Endpoint("10.0.0.1:9042")},
		{"hostname", "cassandra-1.internal", 9042, Endpoint("cassandra-1.internal:9042")},
		{"ipv6 unbracketed", "::1", 9042, Endpoint("[::1]:9042")},
		{"ipv6 already bracketed", "[::1]", 9042, Endpoint("[::1]:9042")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NewEndpoint(tc.host, tc.port))
		})
	}
}

func TestNewHost_StartsDownAndIgnored(t *testing.T) {
	h := NewHost(Endpoint("10.0.0.1:9042"))

	assert.False(t, h.IsUp())
	assert.Equal(t, DistanceIgnored, h.Distance())
	assert.False(t, h.DownAt().IsZero())
	assert.True(t, h.UpSince().IsZero())
}

func TestHost_MarkUpMarkDown(t *testing.T) {
	h := NewHost(Endpoint("10.0.0.1:9042"))

	h.MarkUp()
	assert.True(t, h.IsUp())
	assert.True(t, h.DownAt().IsZero())
	assert.False(t, h.UpSince().IsZero())

	ok := h.MarkDown()
	assert.True(t, ok, "first MarkDown should win the transition")
	assert.False(t, h.IsUp())

	ok = h.MarkDown()
	assert.False(t, ok, "second MarkDown on an already-down host is a no-op")
}

func TestHost_SetDistance_ReportsChange(t *testing.T) {
	h := NewHost(Endpoint("10.0.0.1:9042"))

	changed := h.SetDistance(DistanceLocal)
	assert.True(t, changed)

	changed = h.SetDistance(DistanceLocal)
	assert.False(t, changed, "setting the same distance again is not a change")

	changed = h.SetDistance(DistanceRemote)
	assert.True(t, changed)
}

func TestHost_NextReconnectionDelay_NilScheduleIsZero(t *testing.T) {
	h := NewHost(Endpoint("10.0.0.1:9042"))
	assert.Equal(t, time.Duration(0), h.NextReconnectionDelay())
}

type fixedSchedule struct{ d time.Duration }

func (s fixedSchedule) Next() time.Duration { return s.d }

func TestHost_SetReconnectionSchedule(t *testing.T) {
	h := NewHost(Endpoint("10.0.0.1:9042"))
	h.SetReconnectionSchedule(fixedSchedule{d: 250 * time.Millisecond})

	require.Equal(t, 250*time.Millisecond, h.NextReconnectionDelay())
	require.Equal(t, 250*time.Millisecond, h.NextReconnectionDelay())
}

func TestDistance_String(t *testing.T) {
	assert.Equal(t, "local", DistanceLocal.String())
	assert.Equal(t, "remote", DistanceRemote.String())
	assert.Equal(t, "ignored", DistanceIgnored.String())
	assert.Equal(t, "unknown", Distance(99).String())
}
