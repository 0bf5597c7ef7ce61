package metadata

import "math"

type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

// Suballocation is a live allocation within a block. Offset is the aligned offset handed to the
// consumer; Padding bytes immediately before Offset belong to the allocation as well.
type Suballocation struct {
	Offset   int
	Size     int
	Padding  int
	UserData any
}

// FreeRegion is a contiguous run of unused bytes within a block
type FreeRegion struct {
	Offset int
	Size   int
}

// End returns the offset one past the last byte of the region
func (r FreeRegion) End() int {
	return r.Offset + r.Size
}
