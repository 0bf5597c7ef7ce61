package memory

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/memory/internal/vulkan"
	"github.com/vkngwrapper/deferred/memutils/metadata"
	"golang.org/x/exp/slog"
)

type memoryBlock struct {
	id              int
	memory          gpu.DeviceMemory
	memoryTypeIndex int
	logger          *slog.Logger

	metadata     metadata.BlockMetadata
	deviceMemory *vulkan.DeviceMemoryProperties
	mappedData   unsafe.Pointer
}

func (b *memoryBlock) Init(
	logger *slog.Logger,
	deviceMemory *vulkan.DeviceMemoryProperties,
	newMemoryTypeIndex int,
	newMemory gpu.DeviceMemory,
	newSize int,
	id int,
) {
	if b.memory != nil {
		panic("attempting to initialize a device memory block that is already in use")
	}

	b.memoryTypeIndex = newMemoryTypeIndex
	b.id = id
	b.memory = newMemory
	b.deviceMemory = deviceMemory
	b.logger = logger

	b.metadata = metadata.NewFreeListBlockMetadata()
	b.metadata.Init(newSize)
}

// Map maps the whole block into host memory for the rest of its lifetime
func (b *memoryBlock) Map() error {
	if b.mappedData != nil {
		return nil
	}

	data, res, err := b.memory.Map(0, common.WholeSize)
	if err != nil {
		return gpu.WrapResult(res, err, "failed to map block %d of memory type %d", b.id, b.memoryTypeIndex)
	}

	b.mappedData = data
	return nil
}

// Destroy releases the block's native memory. If any allocations are still live they are logged,
// the memory is released anyway, and an error is returned.
func (b *memoryBlock) Destroy() error {
	if b.memory == nil {
		panic("attempting to destroy a memory block, but it did not have a backing vulkan memory handle")
	}

	var leakErr error
	if !b.metadata.IsEmpty() {
		// Log all remaining allocations
		err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			b.logUnreleasedMemory(offset, size, userData)
			return nil
		})
		if err != nil {
			b.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		leakErr = errors.Newf("%d allocations in block %d of memory type %d were not freed before the block was destroyed",
			b.metadata.AllocationCount(), b.id, b.memoryTypeIndex)
	}

	if b.mappedData != nil {
		b.memory.Unmap()
		b.mappedData = nil
	}

	b.deviceMemory.FreeVulkanMemory(b.memoryTypeIndex, b.metadata.Size(), b.memory)

	b.memory = nil
	b.metadata = nil
	return leakErr
}

func (b *memoryBlock) logUnreleasedMemory(offset, size int, userData any) {
	attrs := []slog.Attr{
		slog.Int("block.id", b.id),
		slog.Int("memoryType", b.memoryTypeIndex),
		slog.Int("offset", offset),
		slog.Int("size", size),
	}

	if allocation, ok := userData.(*Allocation); ok && allocation != nil {
		attrs = append(attrs, slog.Int("padding", allocation.padding))
	}

	b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation", attrs...)
}

func (b *memoryBlock) Validate() error {
	if b.memory == nil {
		return errors.New("no valid memory for this memory block")
	}
	if b.metadata.Size() < 1 {
		return errors.New("this memory block's metadata has an invalid size")
	}

	err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		allocation, isAllocation := userData.(*Allocation)
		if free && isAllocation {
			return errors.Errorf("an allocation at offset %d is marked as free but contains an allocation object", offset)
		} else if !free && (!isAllocation || allocation == nil) {
			return errors.Errorf("an allocation at offset %d is marked as allocated but has no allocation object", offset)
		}

		return nil
	})

	if err != nil {
		return err
	}

	return b.metadata.Validate()
}
