package reconnection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialReconnectionPolicy_Defaults(t *testing.T) {
	p := NewExponentialReconnectionPolicy()
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 10*time.Minute, p.MaxDelay)
	assert.Equal(t, 0.15, p.JitterPercent)
}

func TestExponentialReconnectionPolicy_DoublesAndCaps(t *testing.T) {
	p := &ExponentialReconnectionPolicy{BaseDelay: time.Second, MaxDelay: 8 * time.Second, JitterPercent: 0}
	s := p.NewSchedule()

	d1 := s.Next()
	d2 := s.Next()
	d3 := s.Next()
	d4 := s.Next() // would be 8s uncapped, capped at MaxDelay

	assert.Equal(t, time.Second, d1)
	assert.Equal(t, 2*time.Second, d2)
	assert.Equal(t, 4*time.Second, d3)
	assert.Equal(t, 8*time.Second, d4)

	d5 := s.Next() // would be 16s, still capped
	assert.Equal(t, 8*time.Second, d5)
}

func TestExponentialReconnectionPolicy_EachScheduleAdvancesIndependently(t *testing.T) {
	p := &ExponentialReconnectionPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, JitterPercent: 0}

	s1 := p.NewSchedule()
	s2 := p.NewSchedule()

	require.Equal(t, time.Second, s1.Next())
	require.Equal(t, 2*time.Second, s1.Next())
	// s2 is a fresh schedule; it is unaffected by s1 having already advanced.
	require.Equal(t, time.Second, s2.Next())
}

func TestExponentialReconnectionPolicy_JitterStaysWithinBand(t *testing.T) {
	p := &ExponentialReconnectionPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, JitterPercent: 0.15}
	s := p.NewSchedule()

	d := s.Next()
	lower := time.Duration(float64(time.Second) * 0.85)
	upper := time.Duration(float64(time.Second) * 1.15)
	assert.True(t, d >= lower && d <= upper, "jittered delay %v outside [%v,%v]", d, lower, upper)
}

func TestConstantReconnectionPolicy_AlwaysSameDelay(t *testing.T) {
	p := &ConstantReconnectionPolicy{Delay: 5 * time.Second}
	s := p.NewSchedule()

	assert.Equal(t, 5*time.Second, s.Next())
	assert.Equal(t, 5*time.Second, s.Next())
	assert.Equal(t, 5*time.Second, s.Next())
}
