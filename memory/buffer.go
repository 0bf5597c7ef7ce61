package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
)

const (
	// BufferUsageStaging is the usage of host-visible buffers that are only read by transfer commands
	BufferUsageStaging = core1_0.BufferUsageTransferSrc
	// BufferUsageUniform is the usage of uniform buffers that are written directly by the host
	BufferUsageUniform = core1_0.BufferUsageUniformBuffer
	// BufferUsageStorage is the usage of storage buffers that are filled through a staging buffer
	BufferUsageStorage = core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferDst
	// BufferUsageVertex is the usage of vertex buffers that are filled through a staging buffer
	BufferUsageVertex = core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageTransferDst
	// BufferUsageIndex is the usage of index buffers that are filled through a staging buffer
	BufferUsageIndex = core1_0.BufferUsageIndexBuffer | core1_0.BufferUsageTransferDst
)

// Buffer is a native buffer bound to memory drawn from an Allocator. Destroying the buffer returns its
// memory to the allocator.
type Buffer struct {
	buffer     gpu.Buffer
	allocation *Allocation
	size       int
	usage      core1_0.BufferUsageFlags
}

// NewBuffer creates a native buffer of size bytes, allocates memory for it according to preference,
// and binds the two together
func NewBuffer(allocator *Allocator, size int, usage core1_0.BufferUsageFlags, preference MemoryPreference) (*Buffer, error) {
	if size <= 0 {
		return nil, errors.Newf("attempted to create a buffer of %d bytes", size)
	}

	buffer, res, err := allocator.device.CreateBuffer(core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, gpu.WrapResult(res, err, "failed to create a buffer of %d bytes", size)
	}

	allocation, err := allocator.Allocate(*buffer.MemoryRequirements(), preference)
	if err != nil {
		buffer.Destroy()
		return nil, err
	}

	res, err = buffer.BindBufferMemory(allocation.Memory(), allocation.Offset())
	if err != nil {
		buffer.Destroy()
		_ = allocation.Free()
		return nil, gpu.WrapResult(res, err, "failed to bind buffer memory")
	}

	return &Buffer{
		buffer:     buffer,
		allocation: allocation,
		size:       size,
		usage:      usage,
	}, nil
}

// Native returns the underlying buffer
func (b *Buffer) Native() gpu.Buffer { return b.buffer }

func (b *Buffer) Allocation() *Allocation         { return b.allocation }
func (b *Buffer) Size() int                       { return b.size }
func (b *Buffer) Usage() core1_0.BufferUsageFlags { return b.usage }

// CopyToMapped writes data into the buffer's mapped memory at offset. The buffer's memory must be host-visible.
func (b *Buffer) CopyToMapped(data []byte, offset int) error {
	if offset < 0 || offset+len(data) > b.size {
		return errors.Wrapf(ErrOutOfBounds, "%d bytes at offset %d in a buffer of %d bytes", len(data), offset, b.size)
	}

	return b.allocation.Write(offset, data)
}

// Destroy destroys the native buffer and then frees its memory
func (b *Buffer) Destroy() error {
	if b.buffer == nil {
		return nil
	}

	b.buffer.Destroy()
	b.buffer = nil

	return b.allocation.Free()
}
