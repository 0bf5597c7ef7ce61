package memory

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/memutils/metadata"
)

// Allocation is a live region of device memory handed out by an Allocator. It is owned by exactly one
// resource, which must call Free once the resource no longer uses the memory.
type Allocation struct {
	pool   *memoryPool
	block  *memoryBlock
	handle metadata.BlockAllocationHandle

	offset  int
	size    int
	padding int

	deviceLocal         bool
	hostVisibleCoherent bool
	mappedData          unsafe.Pointer

	freed atomic.Bool
}

func (a *Allocation) init(pool *memoryPool, block *memoryBlock, request metadata.AllocationRequest) {
	a.pool = pool
	a.block = block
	a.handle = request.BlockAllocationHandle
	a.offset = request.Item.Offset
	a.size = request.Item.Size
	a.padding = request.Item.Padding
	a.deviceLocal = pool.deviceLocal
	a.hostVisibleCoherent = pool.hostVisibleCoherent

	if block.mappedData != nil {
		a.mappedData = unsafe.Add(block.mappedData, a.offset)
	}
}

// MemoryTypeIndex is the index of the memory type this allocation was made from
func (a *Allocation) MemoryTypeIndex() int { return a.pool.memoryTypeIndex }

// Offset is the aligned offset of the allocation within its block's device memory
func (a *Allocation) Offset() int { return a.offset }

// Size is the number of bytes that were requested
func (a *Allocation) Size() int { return a.size }

// Padding is the number of bytes directly before Offset that were consumed to satisfy alignment
func (a *Allocation) Padding() int { return a.padding }

// Memory is the native memory backing this allocation, shared with every other allocation in the same block
func (a *Allocation) Memory() gpu.DeviceMemory { return a.block.memory }

func (a *Allocation) IsDeviceLocal() bool         { return a.deviceLocal }
func (a *Allocation) IsHostVisibleCoherent() bool { return a.hostVisibleCoherent }

// MappedPointer returns a host pointer to the first byte of the allocation, or nil if the allocation's
// memory type is not host-visible
func (a *Allocation) MappedPointer() unsafe.Pointer { return a.mappedData }

// MappedBytes returns the allocation's mapped memory as a byte slice, or nil if the allocation's memory
// type is not host-visible
func (a *Allocation) MappedBytes() []byte {
	if a.mappedData == nil {
		return nil
	}

	return unsafe.Slice((*byte)(a.mappedData), a.size)
}

// Write copies data into mapped memory starting at offset bytes into the allocation
func (a *Allocation) Write(offset int, data []byte) error {
	mapped, err := a.mappedRange(offset, len(data))
	if err != nil {
		return err
	}

	copy(mapped, data)
	return nil
}

// Read copies len(out) bytes of mapped memory starting at offset bytes into the allocation
func (a *Allocation) Read(offset int, out []byte) error {
	mapped, err := a.mappedRange(offset, len(out))
	if err != nil {
		return err
	}

	copy(out, mapped)
	return nil
}

func (a *Allocation) mappedRange(offset, size int) ([]byte, error) {
	if a.mappedData == nil {
		return nil, errors.Wrapf(ErrNotMapped, "memory type %d", a.pool.memoryTypeIndex)
	}
	if offset < 0 || size < 0 || offset+size > a.size {
		return nil, errors.Wrapf(ErrOutOfBounds, "%d bytes at offset %d in an allocation of %d bytes", size, offset, a.size)
	}

	return a.MappedBytes()[offset : offset+size], nil
}

// Free returns the allocation, including its alignment padding, to its block. Calling Free again after
// it has succeeded is a no-op. If it fails, the allocation is not considered freed.
func (a *Allocation) Free() error {
	if !a.freed.CompareAndSwap(false, true) {
		return nil
	}

	err := a.pool.free(a)
	if err != nil {
		a.freed.Store(false)
		return err
	}

	a.mappedData = nil
	return nil
}

func (a *Allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("AlignedOffset").Int(a.offset)
	json.Name("RequestedSize").Int(a.size)
	json.Name("Padding").Int(a.padding)
	json.Name("DeviceLocal").Bool(a.deviceLocal)
	json.Name("HostVisibleCoherent").Bool(a.hostVisibleCoherent)
}
