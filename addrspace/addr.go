package addrspace

// AddressWidth is the width in bits of the GPU virtual addresses this
// package models. Bit AddressWidth-1 is the sign bit of the canonical
// form.
const AddressWidth = 48

// Canonical sign-extends offset's top address bit through the upper half
// of the 64-bit word, producing the form hardware expects for addresses in
// the upper half of the address space.
func Canonical(offset uint64) uint64 {
	return uint64(int64(offset<<(64-AddressWidth)) >> (64 - AddressWidth))
}

// Decanonical masks offset back down to the address width, undoing
// Canonical.
func Decanonical(offset uint64) uint64 {
	return offset & (1<<AddressWidth - 1)
}
