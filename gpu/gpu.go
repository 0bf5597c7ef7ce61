// Package gpu describes the small slice of a Vulkan device that the allocator, command and staging
// packages depend on. Structures and enums come straight from vkngwrapper's core1_0 package; only the
// handle types are abstracted, so that the rest of the module can be exercised without a live device.
// The production implementation lives in gpu/vkng.
package gpu

//go:generate mockgen -source gpu.go -destination ./mocks/gpu.go -package mocks

import (
	"time"
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Device is a logical device along with the memory properties of the physical device it was created from
type Device interface {
	// MemoryProperties returns the memory types and heaps of the physical device
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties

	AllocateMemory(allocationSize int, memoryTypeIndex int) (DeviceMemory, common.VkResult, error)
	CreateBuffer(info core1_0.BufferCreateInfo) (Buffer, common.VkResult, error)
	CreateImage(info core1_0.ImageCreateInfo) (Image, common.VkResult, error)
	CreateFence(signaled bool) (Fence, common.VkResult, error)
	CreateSemaphore() (Semaphore, common.VkResult, error)
	CreateCommandPool(queueFamilyIndex int) (CommandPool, common.VkResult, error)

	WaitIdle() (common.VkResult, error)
}

// DeviceMemory is a single native allocation of device memory
type DeviceMemory interface {
	// Map maps size bytes starting at offset into host address space. size may be common.WholeSize.
	Map(offset int, size int) (unsafe.Pointer, common.VkResult, error)
	Unmap()
	Free()
}

type Buffer interface {
	MemoryRequirements() *core1_0.MemoryRequirements
	BindBufferMemory(memory DeviceMemory, offset int) (common.VkResult, error)
	Destroy()
}

type Image interface {
	MemoryRequirements() *core1_0.MemoryRequirements
	BindImageMemory(memory DeviceMemory, offset int) (common.VkResult, error)
	Destroy()
}

// Fence is a binary GPU-to-host synchronization primitive
type Fence interface {
	// Status returns core1_0.VKSuccess if the fence is signaled and core1_0.VKNotReady if it is not
	Status() (common.VkResult, error)
	// Wait blocks for up to timeout until the fence is signaled. core1_0.VKTimeout is returned without
	// an error if the timeout elapsed first.
	Wait(timeout time.Duration) (common.VkResult, error)
	Reset() (common.VkResult, error)
	Destroy()
}

type Semaphore interface {
	Destroy()
}

type CommandPool interface {
	AllocateCommandBuffers(count int) ([]CommandBuffer, common.VkResult, error)
	FreeCommandBuffers(buffers []CommandBuffer)
	Destroy()
}

// CommandBuffer is a primary command buffer
type CommandBuffer interface {
	Begin(flags core1_0.CommandBufferUsageFlags) (common.VkResult, error)
	End() (common.VkResult, error)
	Reset() (common.VkResult, error)

	CmdCopyBuffer(src Buffer, dst Buffer, regions []core1_0.BufferCopy) error
	CmdCopyBufferToImage(src Buffer, dst Image, layout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error
	CmdPipelineBarrier(srcStageMask, dstStageMask core1_0.PipelineStageFlags, barriers []ImageBarrier) error
}

type Queue interface {
	// Submit submits work to the queue. fence may be nil.
	Submit(fence Fence, submits []SubmitInfo) (common.VkResult, error)
	WaitIdle() (common.VkResult, error)
}

// ImageBarrier is an image memory barrier that does not transfer queue family ownership
type ImageBarrier struct {
	SrcAccessMask    core1_0.AccessFlags
	DstAccessMask    core1_0.AccessFlags
	OldLayout        core1_0.ImageLayout
	NewLayout        core1_0.ImageLayout
	Image            Image
	SubresourceRange core1_0.ImageSubresourceRange
}

type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitDstStageMask []core1_0.PipelineStageFlags
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}
