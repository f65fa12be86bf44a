package idspace_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaylab/coreham/idspace"
)

func Test_Between_NoWrap(t *testing.T) {
	require.True(t, idspace.Between(5, 1, 10))
	require.False(t, idspace.Between(1, 1, 10))
	require.False(t, idspace.Between(10, 1, 10))
}

func Test_Between_Wraps(t *testing.T) {
	// ring of 16, interval (14, 2) wraps through 0
	require.True(t, idspace.Between(15, 14, 2))
	require.True(t, idspace.Between(0, 14, 2))
	require.True(t, idspace.Between(1, 14, 2))
	require.False(t, idspace.Between(5, 14, 2))
}

func Test_BetweenRightInclusive(t *testing.T) {
	require.True(t, idspace.BetweenRightInclusive(10, 1, 10))
	require.False(t, idspace.Between(10, 1, 10))
}

func Test_CircularDistance_Symmetric(t *testing.T) {
	require.Equal(t, idspace.CircularDistance(5, 60000, 16), idspace.CircularDistance(60000, 5, 16))
}

func Test_ClosestTo(t *testing.T) {
	got := idspace.ClosestTo(12345, []uint64{100, 20000, 40000, 60000}, 16)
	require.Equal(t, uint64(20000), got)
}
