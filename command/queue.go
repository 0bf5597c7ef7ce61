package command

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"golang.org/x/exp/slog"
)

// QueueOptions contains optional settings when creating a Queue
type QueueOptions struct {
	// FenceTimeout bounds how long Destroy waits for each pending one-time buffer. It defaults to
	// DefaultFenceTimeout.
	FenceTimeout time.Duration
}

// SubmitOptions describes the semaphores a one-time submission waits on and signals. WaitStages must
// contain one entry for each entry in WaitSemaphores.
type SubmitOptions struct {
	WaitSemaphores   []gpu.Semaphore
	WaitStages       []core1_0.PipelineStageFlags
	SignalSemaphores []gpu.Semaphore
}

// Queue wraps a native queue along with a pool of one-time command buffers that are recorded and
// submitted in a single step. A Queue must only be used from one goroutine at a time.
type Queue struct {
	logger       *slog.Logger
	device       gpu.Device
	queue        gpu.Queue
	familyIndex  int
	fenceTimeout time.Duration

	oneTimePool *CommandPool
}

// NewQueue creates a Queue around nativeQueue, which must belong to the queue family at familyIndex.
// No one-time buffers exist until AllocateOneTimeBuffers is called.
func NewQueue(logger *slog.Logger, device gpu.Device, nativeQueue gpu.Queue, familyIndex int, options QueueOptions) (*Queue, error) {
	if logger == nil {
		return nil, errors.New("attempted to create a queue with a nil logger")
	}
	if device == nil || nativeQueue == nil {
		return nil, errors.New("attempted to create a queue without a device and native queue")
	}

	fenceTimeout := options.FenceTimeout
	if fenceTimeout <= 0 {
		fenceTimeout = DefaultFenceTimeout
	}

	pool, err := NewCommandPool(device, familyIndex)
	if err != nil {
		return nil, err
	}

	return &Queue{
		logger:       logger,
		device:       device,
		queue:        nativeQueue,
		familyIndex:  familyIndex,
		fenceTimeout: fenceTimeout,
		oneTimePool:  pool,
	}, nil
}

// Native returns the underlying queue
func (q *Queue) Native() gpu.Queue { return q.queue }

func (q *Queue) FamilyIndex() int            { return q.familyIndex }
func (q *Queue) FenceTimeout() time.Duration { return q.fenceTimeout }

// OneTimeBuffers returns every one-time command buffer owned by the queue
func (q *Queue) OneTimeBuffers() []*CommandBuffer {
	return q.oneTimePool.Buffers()
}

// AllocateOneTimeBuffers adds count command buffers to the queue's one-time pool. The number of
// one-time buffers bounds how many one-time submissions may be in flight at once.
func (q *Queue) AllocateOneTimeBuffers(count int) error {
	return q.oneTimePool.AllocateBuffers(count)
}

// HasReadyBuffer reports whether any one-time buffer is not pending. Buffers whose fences have
// signaled are retired as a side effect.
func (q *Queue) HasReadyBuffer() (bool, error) {
	buffer, err := q.readyOneTimeBuffer()
	if errors.Is(err, ErrNoBufferAvailable) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	return buffer != nil, nil
}

func (q *Queue) readyOneTimeBuffer() (*CommandBuffer, error) {
	for _, buffer := range q.oneTimePool.Buffers() {
		pending, err := buffer.IsPending()
		if err != nil {
			return nil, err
		}
		if !pending {
			return buffer, nil
		}
	}

	return nil, errors.Wrapf(ErrNoBufferAvailable, "all %d one-time buffers are pending", len(q.oneTimePool.Buffers()))
}

// OneTimeRecordSubmit records a ready one-time buffer with record and submits it with a new fence.
// The returned fence is shared with the buffer, and the caller must Destroy it once they are done
// waiting on it. If recording or submission fails, nothing is left pending.
func (q *Queue) OneTimeRecordSubmit(record func(buffer *CommandBuffer) error, submit SubmitOptions) (*Fence, error) {
	if len(submit.WaitSemaphores) != len(submit.WaitStages) {
		return nil, errors.Newf("%d wait semaphores were provided with %d wait stages", len(submit.WaitSemaphores), len(submit.WaitStages))
	}

	buffer, err := q.readyOneTimeBuffer()
	if err != nil {
		return nil, err
	}

	q.logger.Debug("Queue::OneTimeRecordSubmit",
		slog.Int("familyIndex", q.familyIndex),
		slog.String("bufferState", buffer.State().String()),
		slog.Int("waitSemaphores", len(submit.WaitSemaphores)),
		slog.Int("signalSemaphores", len(submit.SignalSemaphores)),
	)

	err = buffer.Record(core1_0.CommandBufferUsageOneTimeSubmit, record)
	if err != nil {
		return nil, err
	}

	fence, err := NewFence(q.device)
	if err != nil {
		return nil, err
	}

	res, err := q.queue.Submit(fence.fence, []gpu.SubmitInfo{
		{
			WaitSemaphores:   submit.WaitSemaphores,
			WaitDstStageMask: submit.WaitStages,
			CommandBuffers:   []gpu.CommandBuffer{buffer.buffer},
			SignalSemaphores: submit.SignalSemaphores,
		},
	})
	if err != nil {
		fence.Destroy()
		return nil, gpu.WrapResult(res, err, "failed to submit one-time command buffer to queue family %d", q.familyIndex)
	}

	buffer.onSubmit(fence)
	fence.retain()

	return fence, nil
}

// WaitIdle blocks until the queue has finished all submitted work
func (q *Queue) WaitIdle() error {
	res, err := q.queue.WaitIdle()
	return gpu.WrapResult(res, err, "failed to wait for queue family %d to go idle", q.familyIndex)
}

// Destroy waits for every pending one-time buffer, then frees the buffers and their pool. The pool is
// freed even if a wait fails, in which case the error is returned.
func (q *Queue) Destroy() error {
	var err error
	for _, buffer := range q.oneTimePool.Buffers() {
		if buffer.state != CommandBufferPending {
			continue
		}

		err = errors.CombineErrors(err, buffer.fence.Wait(q.fenceTimeout))
	}

	q.oneTimePool.Destroy()
	return err
}
