package command

import "github.com/cockroachdb/errors"

var (
	// ErrNoBufferAvailable is returned when every one-time command buffer of a queue is still pending
	ErrNoBufferAvailable = errors.New("no recordable command buffers available")
	// ErrFenceTimeout is returned when a fence did not signal before the timeout elapsed
	ErrFenceTimeout = errors.New("timed out waiting for fence")
	// ErrUnsupportedLayoutTransition is returned when an image layout transition involves a layout
	// with no known access mask and pipeline stage
	ErrUnsupportedLayoutTransition = errors.New("unsupported image layout transition")
	// ErrInvalidState is returned when a command buffer operation is not legal in the buffer's current state
	ErrInvalidState = errors.New("command buffer is in the wrong state")
)
