package addrspace_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drmkit/gemkit/addrspace"
)

func TestCanonicalLowHalf(t *testing.T) {
	offset := uint64(0x40000)

	require.Equal(t, offset, addrspace.Canonical(offset))
	require.Equal(t, offset, addrspace.Decanonical(offset))
}

func TestCanonicalHighHalf(t *testing.T) {
	offset := uint64(1)<<47 | 0x1000

	canonical := addrspace.Canonical(offset)
	require.Equal(t, uint64(0xffff800000001000), canonical)
	require.Equal(t, offset, addrspace.Decanonical(canonical))
	require.Equal(t, canonical, addrspace.Canonical(canonical))
}
