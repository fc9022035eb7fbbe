package translation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_ReturnsInputUnchanged(t *testing.T) {
	addr, port, err := Identity{}.Translate("10.0.0.1", 9042)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", addr)
	assert.Equal(t, 9042, port)
}

func TestStatic_RewritesKnownAddress(t *testing.T) {
	s := Static{Rewrites: map[string]string{"10.0.0.1": "public.example.com:19042"}}

	addr, port, err := s.Translate("10.0.0.1", 9042)
	require.NoError(t, err)
	assert.Equal(t, "public.example.com", addr)
	assert.Equal(t, 19042, port)
}

func TestStatic_PassesThroughUnknownAddress(t *testing.T) {
	s := Static{Rewrites: map[string]string{"10.0.0.1": "public.example.com:19042"}}

	addr, port, err := s.Translate("10.0.0.2", 9042)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", addr)
	assert.Equal(t, 9042, port)
}
