package memutils_test

import (
	"testing"

	"github.com/drmkit/gemkit/memutils"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, uint64(0), memutils.AlignUp(uint64(0), 4096))
	require.Equal(t, uint64(4096), memutils.AlignUp(uint64(1), 4096))
	require.Equal(t, uint64(4096), memutils.AlignUp(uint64(4096), 4096))
	require.Equal(t, uint64(0x48000), memutils.AlignUp(uint64(0x48000), 0x1000))
	require.Equal(t, uint64(1<<32), memutils.AlignUp(uint64(1<<32)-1, 1<<32))
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, uint64(0), memutils.AlignDown(uint64(4095), 4096))
	require.Equal(t, uint64(4096), memutils.AlignDown(uint64(8191), 4096))
	require.Equal(t, uint64(8192), memutils.AlignDown(uint64(8192), 4096))
}

func TestIsAligned(t *testing.T) {
	require.True(t, memutils.IsAligned(uint64(0), 4096))
	require.True(t, memutils.IsAligned(uint64(1<<20), 4096))
	require.False(t, memutils.IsAligned(uint64(4097), 4096))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(uint64(1), "value"))
	require.NoError(t, memutils.CheckPow2(uint64(1<<47), "value"))

	err := memutils.CheckPow2(uint64(0), "value")
	require.Error(t, err)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)

	err = memutils.CheckPow2(uint64(12288), "value")
	require.Error(t, err)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
}
