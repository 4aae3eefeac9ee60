package sequence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextContinuesFromSeed(t *testing.T) {
	s := New(41)
	require.Equal(t, uint64(42), s.Next())
	require.Equal(t, uint64(42), s.Current())
}

func TestObserveRequiresAdvance(t *testing.T) {
	s := New(0)
	require.True(t, s.Observe(1))
	require.True(t, s.Observe(5))
	require.Equal(t, uint64(5), s.Current())

	// A replayed value at or below the counter is a corruption signal.
	require.False(t, s.Observe(5))
	require.False(t, s.Observe(3))
	require.False(t, s.Observe(0))

	require.Equal(t, uint64(6), s.Next())
}
