package command

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/deferred/gpu"
)

// CommandPool owns a native command pool and every command buffer allocated from it
type CommandPool struct {
	pool             gpu.CommandPool
	queueFamilyIndex int
	buffers          []*CommandBuffer
}

// NewCommandPool creates a command pool whose buffers can be individually reset
func NewCommandPool(device gpu.Device, queueFamilyIndex int) (*CommandPool, error) {
	pool, res, err := device.CreateCommandPool(queueFamilyIndex)
	if err != nil {
		return nil, gpu.WrapResult(res, err, "failed to create command pool for queue family %d", queueFamilyIndex)
	}

	return &CommandPool{
		pool:             pool,
		queueFamilyIndex: queueFamilyIndex,
	}, nil
}

func (p *CommandPool) QueueFamilyIndex() int { return p.queueFamilyIndex }

// AllocateBuffers adds count primary command buffers to the pool
func (p *CommandPool) AllocateBuffers(count int) error {
	if count <= 0 {
		return errors.Newf("attempted to allocate %d command buffers", count)
	}

	natives, res, err := p.pool.AllocateCommandBuffers(count)
	if err != nil {
		return gpu.WrapResult(res, err, "failed to allocate %d command buffers", count)
	}

	for _, native := range natives {
		p.buffers = append(p.buffers, newCommandBuffer(native))
	}

	return nil
}

// Buffers returns every command buffer allocated from the pool, in allocation order
func (p *CommandPool) Buffers() []*CommandBuffer {
	return p.buffers
}

// Destroy frees every command buffer and the pool itself. Fences still held by pending buffers are released.
func (p *CommandPool) Destroy() {
	natives := make([]gpu.CommandBuffer, 0, len(p.buffers))
	for _, buffer := range p.buffers {
		if buffer.fence != nil {
			buffer.fence.Destroy()
			buffer.fence = nil
		}
		natives = append(natives, buffer.buffer)
	}

	if len(natives) > 0 {
		p.pool.FreeCommandBuffers(natives)
	}
	p.buffers = nil

	p.pool.Destroy()
}
