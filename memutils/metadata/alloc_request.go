package metadata

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where
// the metadata intends to allocate new memory. This allocation can be applied to the actual memory system
// consuming memutils, and then committed to the metadata with BlockMetadata.Alloc
type AllocationRequest struct {
	// BlockAllocationHandle is a numeric handle used to identify individual allocations within the metadata
	BlockAllocationHandle BlockAllocationHandle
	// Size is the number of bytes requested, not including padding
	Size int
	// Item is a Suballocation object indicating the aligned offset and padding of the allocation
	Item Suballocation

	// RegionOffset is the offset of the free region the allocation will be carved from
	RegionOffset int
}
