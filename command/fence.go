package command

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
)

// DefaultFenceTimeout is the timeout used when waiting on fences if no other timeout was configured
const DefaultFenceTimeout = time.Second

// Fence wraps a native fence. A fence returned from Queue.OneTimeRecordSubmit is shared between the
// caller and the command buffer it guards: the native fence is destroyed once both have called Destroy.
type Fence struct {
	fence gpu.Fence
	refs  atomic.Int32
}

// NewFence creates an unsignaled fence
func NewFence(device gpu.Device) (*Fence, error) {
	native, res, err := device.CreateFence(false)
	if err != nil {
		return nil, gpu.WrapResult(res, err, "failed to create fence")
	}

	fence := &Fence{fence: native}
	fence.refs.Store(1)
	return fence, nil
}

func (f *Fence) retain() {
	f.refs.Add(1)
}

// Native returns the underlying fence
func (f *Fence) Native() gpu.Fence { return f.fence }

// Signaled polls the fence without blocking
func (f *Fence) Signaled() (bool, error) {
	res, err := f.fence.Status()
	if err != nil {
		return false, gpu.WrapResult(res, err, "failed to retrieve fence status")
	}

	return res == core1_0.VKSuccess, nil
}

func (f *Fence) Reset() error {
	res, err := f.fence.Reset()
	return gpu.WrapResult(res, err, "failed to reset fence")
}

// Wait blocks until the fence is signaled or timeout elapses. ErrFenceTimeout is returned in the latter case.
func (f *Fence) Wait(timeout time.Duration) error {
	res, err := f.fence.Wait(timeout)
	if err != nil {
		return gpu.WrapResult(res, err, "failed to wait for fence")
	}
	if res == core1_0.VKTimeout {
		return errors.Wrapf(ErrFenceTimeout, "fence was not signaled within %s", timeout)
	}

	return nil
}

// Destroy releases one reference to the fence, destroying the native fence when none remain
func (f *Fence) Destroy() {
	remaining := f.refs.Add(-1)
	if remaining < 0 {
		panic("fence was destroyed more times than it was shared")
	}
	if remaining == 0 {
		f.fence.Destroy()
	}
}
