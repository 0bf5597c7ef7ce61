package vkng

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/deferred/gpu"
)

type Fence struct {
	fence     core1_0.Fence
	callbacks *driver.AllocationCallbacks
}

func (f *Fence) Handle() core1_0.Fence { return f.fence }

func (f *Fence) Status() (common.VkResult, error) {
	return f.fence.Status()
}

func (f *Fence) Wait(timeout time.Duration) (common.VkResult, error) {
	return f.fence.Wait(timeout)
}

func (f *Fence) Reset() (common.VkResult, error) {
	return f.fence.Reset()
}

func (f *Fence) Destroy() {
	f.fence.Destroy(f.callbacks)
}

type CommandPool struct {
	device    core1_0.Device
	pool      core1_0.CommandPool
	callbacks *driver.AllocationCallbacks
}

func (p *CommandPool) Handle() core1_0.CommandPool { return p.pool }

func (p *CommandPool) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, common.VkResult, error) {
	nativeBuffers, res, err := p.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        p.pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, res, err
	}

	buffers := make([]gpu.CommandBuffer, 0, len(nativeBuffers))
	for _, nativeBuffer := range nativeBuffers {
		buffers = append(buffers, &CommandBuffer{buffer: nativeBuffer})
	}

	return buffers, res, nil
}

func (p *CommandPool) FreeCommandBuffers(buffers []gpu.CommandBuffer) {
	nativeBuffers := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		native, ok := buffer.(*CommandBuffer)
		if !ok {
			continue
		}
		nativeBuffers = append(nativeBuffers, native.buffer)
	}

	if len(nativeBuffers) > 0 {
		p.device.FreeCommandBuffers(nativeBuffers)
	}
}

func (p *CommandPool) Destroy() {
	p.pool.Destroy(p.callbacks)
}

type CommandBuffer struct {
	buffer core1_0.CommandBuffer
}

func (c *CommandBuffer) Handle() core1_0.CommandBuffer { return c.buffer }

func (c *CommandBuffer) Begin(flags core1_0.CommandBufferUsageFlags) (common.VkResult, error) {
	return c.buffer.Begin(core1_0.CommandBufferBeginInfo{Flags: flags})
}

func (c *CommandBuffer) End() (common.VkResult, error) {
	return c.buffer.End()
}

func (c *CommandBuffer) Reset() (common.VkResult, error) {
	return c.buffer.Reset(0)
}

func (c *CommandBuffer) CmdCopyBuffer(src gpu.Buffer, dst gpu.Buffer, regions []core1_0.BufferCopy) error {
	srcHandle, err := bufferHandle(src)
	if err != nil {
		return err
	}
	dstHandle, err := bufferHandle(dst)
	if err != nil {
		return err
	}

	return c.buffer.CmdCopyBuffer(srcHandle, dstHandle, regions)
}

func (c *CommandBuffer) CmdCopyBufferToImage(src gpu.Buffer, dst gpu.Image, layout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error {
	srcHandle, err := bufferHandle(src)
	if err != nil {
		return err
	}
	dstHandle, err := imageHandle(dst)
	if err != nil {
		return err
	}

	return c.buffer.CmdCopyBufferToImage(srcHandle, dstHandle, layout, regions)
}

func (c *CommandBuffer) CmdPipelineBarrier(srcStageMask, dstStageMask core1_0.PipelineStageFlags, barriers []gpu.ImageBarrier) error {
	imageBarriers := make([]core1_0.ImageMemoryBarrier, 0, len(barriers))
	for _, barrier := range barriers {
		image, err := imageHandle(barrier.Image)
		if err != nil {
			return err
		}

		imageBarriers = append(imageBarriers, core1_0.ImageMemoryBarrier{
			SrcAccessMask:       barrier.SrcAccessMask,
			DstAccessMask:       barrier.DstAccessMask,
			OldLayout:           barrier.OldLayout,
			NewLayout:           barrier.NewLayout,
			SrcQueueFamilyIndex: core1_0.QueueFamilyIgnored,
			DstQueueFamilyIndex: core1_0.QueueFamilyIgnored,
			Image:               image,
			SubresourceRange:    barrier.SubresourceRange,
		})
	}

	return c.buffer.CmdPipelineBarrier(srcStageMask, dstStageMask, 0, nil, nil, imageBarriers)
}

type Queue struct {
	queue core1_0.Queue
}

// WrapQueue adapts a queue retrieved directly from a core1_0.Device
func WrapQueue(queue core1_0.Queue) *Queue {
	return &Queue{queue: queue}
}

func (q *Queue) Handle() core1_0.Queue { return q.queue }

func (q *Queue) Submit(fence gpu.Fence, submits []gpu.SubmitInfo) (common.VkResult, error) {
	var nativeFence core1_0.Fence
	if fence != nil {
		native, ok := fence.(*Fence)
		if !ok {
			return core1_0.VKErrorUnknown, errors.Newf("fence of type %T was not created by vkng", fence)
		}
		nativeFence = native.fence
	}

	nativeSubmits := make([]core1_0.SubmitInfo, 0, len(submits))
	for _, submit := range submits {
		waitSemaphores, err := semaphoreHandles(submit.WaitSemaphores)
		if err != nil {
			return core1_0.VKErrorUnknown, err
		}
		signalSemaphores, err := semaphoreHandles(submit.SignalSemaphores)
		if err != nil {
			return core1_0.VKErrorUnknown, err
		}

		commandBuffers := make([]core1_0.CommandBuffer, 0, len(submit.CommandBuffers))
		for _, buffer := range submit.CommandBuffers {
			native, ok := buffer.(*CommandBuffer)
			if !ok {
				return core1_0.VKErrorUnknown, errors.Newf("command buffer of type %T was not allocated by vkng", buffer)
			}
			commandBuffers = append(commandBuffers, native.buffer)
		}

		nativeSubmits = append(nativeSubmits, core1_0.SubmitInfo{
			WaitSemaphores:   waitSemaphores,
			WaitDstStageMask: submit.WaitDstStageMask,
			CommandBuffers:   commandBuffers,
			SignalSemaphores: signalSemaphores,
		})
	}

	return q.queue.Submit(nativeFence, nativeSubmits)
}

func (q *Queue) WaitIdle() (common.VkResult, error) {
	return q.queue.WaitIdle()
}
