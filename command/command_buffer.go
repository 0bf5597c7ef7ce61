package command

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
)

type CommandBufferState int32

const (
	CommandBufferInitial CommandBufferState = iota
	CommandBufferRecording
	CommandBufferExecutable
	CommandBufferPending
	CommandBufferInvalid
)

var commandBufferStateMapping = map[CommandBufferState]string{
	CommandBufferInitial:    "Initial",
	CommandBufferRecording:  "Recording",
	CommandBufferExecutable: "Executable",
	CommandBufferPending:    "Pending",
	CommandBufferInvalid:    "Invalid",
}

func (s CommandBufferState) String() string {
	return commandBufferStateMapping[s]
}

// CommandBuffer tracks the lifecycle of a primary command buffer. A buffer becomes pending when it is
// submitted with a fence and stays pending until IsPending observes that fence signaled.
type CommandBuffer struct {
	buffer gpu.CommandBuffer
	state  CommandBufferState
	fence  *Fence
}

func newCommandBuffer(buffer gpu.CommandBuffer) *CommandBuffer {
	return &CommandBuffer{buffer: buffer, state: CommandBufferInitial}
}

// Native returns the underlying command buffer
func (c *CommandBuffer) Native() gpu.CommandBuffer { return c.buffer }

func (c *CommandBuffer) State() CommandBufferState { return c.state }

// Record begins the buffer, passes it to record, and ends it. If record fails the buffer is reset to
// its initial state and the error is returned.
func (c *CommandBuffer) Record(flags core1_0.CommandBufferUsageFlags, record func(buffer *CommandBuffer) error) error {
	if c.state == CommandBufferPending || c.state == CommandBufferRecording {
		return errors.Wrapf(ErrInvalidState, "cannot record a command buffer in the %s state", c.state)
	}

	res, err := c.buffer.Begin(flags)
	if err != nil {
		return gpu.WrapResult(res, err, "failed to begin command buffer")
	}
	c.state = CommandBufferRecording

	err = record(c)
	if err != nil {
		return errors.CombineErrors(err, c.abort())
	}

	res, err = c.buffer.End()
	if err != nil {
		return errors.CombineErrors(gpu.WrapResult(res, err, "failed to end command buffer"), c.abort())
	}

	c.state = CommandBufferExecutable
	return nil
}

func (c *CommandBuffer) abort() error {
	c.state = CommandBufferInitial

	res, err := c.buffer.Reset()
	return gpu.WrapResult(res, err, "failed to reset command buffer")
}

func (c *CommandBuffer) onSubmit(fence *Fence) {
	c.state = CommandBufferPending
	c.fence = fence
}

// IsPending reports whether the buffer is still executing. A pending buffer whose fence has signaled
// is moved to the invalid state and releases the fence.
func (c *CommandBuffer) IsPending() (bool, error) {
	if c.state != CommandBufferPending {
		return false, nil
	}

	signaled, err := c.fence.Signaled()
	if err != nil {
		return true, err
	}
	if !signaled {
		return true, nil
	}

	c.retire()
	return false, nil
}

func (c *CommandBuffer) retire() {
	c.state = CommandBufferInvalid
	if c.fence != nil {
		c.fence.Destroy()
		c.fence = nil
	}
}

func (c *CommandBuffer) checkRecording() error {
	if c.state != CommandBufferRecording {
		return errors.Wrapf(ErrInvalidState, "cannot record commands into a command buffer in the %s state", c.state)
	}
	return nil
}

func (c *CommandBuffer) CopyBuffer(src gpu.Buffer, dst gpu.Buffer, regions ...core1_0.BufferCopy) error {
	if err := c.checkRecording(); err != nil {
		return err
	}

	return c.buffer.CmdCopyBuffer(src, dst, regions)
}

func (c *CommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image, layout core1_0.ImageLayout, regions ...core1_0.BufferImageCopy) error {
	if err := c.checkRecording(); err != nil {
		return err
	}

	return c.buffer.CmdCopyBufferToImage(src, dst, layout, regions)
}

// TransitionLayout records a barrier moving image from oldLayout to newLayout
func (c *CommandBuffer) TransitionLayout(image gpu.Image, oldLayout, newLayout core1_0.ImageLayout, subresourceRange core1_0.ImageSubresourceRange) error {
	if err := c.checkRecording(); err != nil {
		return err
	}

	return TransitionLayout(c.buffer, image, oldLayout, newLayout, subresourceRange)
}
