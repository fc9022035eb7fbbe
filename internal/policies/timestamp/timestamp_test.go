package timestamp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonotonic_NeverGoesBackwards(t *testing.T) {
	g := NewMonotonic(nil)

	var last int64
	for i := 0; i < 1000; i++ {
		next := g.Next()
		assert.Greater(t, next, last, "each call must strictly increase the generated timestamp")
		last = next
	}
}

func TestMonotonic_ConcurrentCallsAreUnique(t *testing.T) {
	g := NewMonotonic(nil)

	const n = 200
	results := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func() { results <- g.Next() }()
	}

	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		v := <-results
		assert.False(t, seen[v], "timestamp %d generated more than once under concurrency", v)
		seen[v] = true
	}
}

func TestServerSideGenerator_AlwaysZero(t *testing.T) {
	g := ServerSideGenerator{}
	assert.Equal(t, int64(0), g.Next())
	assert.Equal(t, int64(0), g.Next())
}
