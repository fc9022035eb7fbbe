package speculative

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTracker_PercentileOnEmptyIsZero(t *testing.T) {
	tr := NewLatencyTracker(8)
	assert.Equal(t, time.Duration(0), tr.Percentile(99))
	assert.Equal(t, int64(0), tr.Count())
}

func TestLatencyTracker_PercentileOverSamples(t *testing.T) {
	tr := NewLatencyTracker(128)
	for i := 1; i <= 100; i++ {
		tr.Observe(time.Duration(i) * time.Millisecond)
	}

	assert.Equal(t, int64(100), tr.Count())
	// p100 (index == len) clamps to the highest observed sample.
	assert.Equal(t, 100*time.Millisecond, tr.Percentile(100))
	// p0 is the lowest observed sample.
	assert.Equal(t, 1*time.Millisecond, tr.Percentile(0))
}

func TestLatencyTracker_ReservoirCapsRetainedSamples(t *testing.T) {
	tr := NewLatencyTracker(10)
	for i := 0; i < 1000; i++ {
		tr.Observe(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, int64(1000), tr.Count(), "Count tracks total observations, not retained samples")
	assert.Len(t, tr.samples, 10, "reservoir never grows past its configured size")
}

func TestNewLatencyTracker_NonPositiveSizeDefaults(t *testing.T) {
	tr := NewLatencyTracker(0)
	assert.Equal(t, 128, tr.size)

	tr = NewLatencyTracker(-1)
	assert.Equal(t, 128, tr.size)
}

func TestConstantDelayPolicy_NewPlan(t *testing.T) {
	p := NewConstantDelayPolicy(50*time.Millisecond, 2)
	plan := p.NewPlan("ks")

	d, ok := plan.NextDelay(1)
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, d)

	d, ok = plan.NextDelay(2)
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, d)

	_, ok = plan.NextDelay(3)
	assert.False(t, ok, "plan exhausted past MaxSpeculativeExecutions")
}

func TestPercentileSpeculativeExecutionPolicy_FallsBackWithoutObservations(t *testing.T) {
	p := NewPercentileSpeculativeExecutionPolicy(99, 2)
	plan := p.NewPlan("ks")

	d, ok := plan.NextDelay(1)
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d, "no observations yet falls back to the documented default delay")
}

func TestPercentileSpeculativeExecutionPolicy_UsesObservedPercentile(t *testing.T) {
	p := NewPercentileSpeculativeExecutionPolicy(50, 1)
	for i := 1; i <= 10; i++ {
		p.Observe("ks", time.Duration(i)*10*time.Millisecond)
	}

	plan := p.NewPlan("ks")
	d, ok := plan.NextDelay(1)
	require.True(t, ok)
	assert.True(t, d > 0, "delay should be derived from observed latencies, not the fallback")
}

func TestPercentileSpeculativeExecutionPolicy_TracksPerKeyspace(t *testing.T) {
	p := NewPercentileSpeculativeExecutionPolicy(50, 1)
	p.Observe("ks_a", 500*time.Millisecond)

	// ks_b has no observations and must fall back independently of ks_a.
	plan := p.NewPlan("ks_b")
	d, _ := plan.NextDelay(1)
	assert.Equal(t, 100*time.Millisecond, d)
}
