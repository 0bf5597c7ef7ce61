package command

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/gpu/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

type QueueRig struct {
	Device      *mocks.MockDevice
	NativeQueue *mocks.MockQueue
	Pool        *mocks.MockCommandPool
	Buffers     []*mocks.MockCommandBuffer
	Queue       *Queue
}

func readyQueue(t *testing.T, ctrl *gomock.Controller, bufferCount int) *QueueRig {
	rig := &QueueRig{
		Device:      mocks.NewMockDevice(ctrl),
		NativeQueue: mocks.NewMockQueue(ctrl),
		Pool:        mocks.NewMockCommandPool(ctrl),
	}

	rig.Device.EXPECT().CreateCommandPool(3).Return(rig.Pool, core1_0.VKSuccess, nil)

	var err error
	rig.Queue, err = NewQueue(slog.New(slog.NewTextHandler(io.Discard)), rig.Device, rig.NativeQueue, 3, QueueOptions{})
	require.NoError(t, err)

	if bufferCount == 0 {
		return rig
	}

	natives := make([]gpu.CommandBuffer, 0, bufferCount)
	for i := 0; i < bufferCount; i++ {
		buffer := mocks.NewMockCommandBuffer(ctrl)
		rig.Buffers = append(rig.Buffers, buffer)
		natives = append(natives, buffer)
	}
	rig.Pool.EXPECT().AllocateCommandBuffers(bufferCount).Return(natives, core1_0.VKSuccess, nil)

	require.NoError(t, rig.Queue.AllocateOneTimeBuffers(bufferCount))
	return rig
}

func expectRecording(buffer *mocks.MockCommandBuffer) {
	buffer.EXPECT().Begin(core1_0.CommandBufferUsageOneTimeSubmit).Return(core1_0.VKSuccess, nil)
	buffer.EXPECT().End().Return(core1_0.VKSuccess, nil)
}

func expectSubmit(ctrl *gomock.Controller, rig *QueueRig, buffer *mocks.MockCommandBuffer) *mocks.MockFence {
	fence := mocks.NewMockFence(ctrl)
	rig.Device.EXPECT().CreateFence(false).Return(fence, core1_0.VKSuccess, nil)
	rig.NativeQueue.EXPECT().Submit(fence, []gpu.SubmitInfo{
		{
			CommandBuffers: []gpu.CommandBuffer{buffer},
		},
	}).Return(core1_0.VKSuccess, nil)
	return fence
}

func noCommands(*CommandBuffer) error { return nil }

func TestQueueExhaustsBuffers(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyQueue(t, ctrl, 2)

	ready, err := rig.Queue.HasReadyBuffer()
	require.NoError(t, err)
	require.True(t, ready)

	expectRecording(rig.Buffers[0])
	firstFence := expectSubmit(ctrl, rig, rig.Buffers[0])
	first, err := rig.Queue.OneTimeRecordSubmit(noCommands, SubmitOptions{})
	require.NoError(t, err)
	require.Equal(t, firstFence, first.Native())

	firstFence.EXPECT().Status().Return(core1_0.VKNotReady, nil).AnyTimes()

	expectRecording(rig.Buffers[1])
	secondFence := expectSubmit(ctrl, rig, rig.Buffers[1])
	_, err = rig.Queue.OneTimeRecordSubmit(noCommands, SubmitOptions{})
	require.NoError(t, err)

	secondFence.EXPECT().Status().Return(core1_0.VKNotReady, nil).AnyTimes()

	ready, err = rig.Queue.HasReadyBuffer()
	require.NoError(t, err)
	require.False(t, ready)

	_, err = rig.Queue.OneTimeRecordSubmit(noCommands, SubmitOptions{})
	require.True(t, errors.Is(err, ErrNoBufferAvailable))

	require.Equal(t, CommandBufferPending, rig.Queue.OneTimeBuffers()[0].State())
	require.Equal(t, CommandBufferPending, rig.Queue.OneTimeBuffers()[1].State())
}

func TestQueueReusesRetiredBuffer(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyQueue(t, ctrl, 1)

	expectRecording(rig.Buffers[0])
	nativeFence := expectSubmit(ctrl, rig, rig.Buffers[0])
	fence, err := rig.Queue.OneTimeRecordSubmit(noCommands, SubmitOptions{})
	require.NoError(t, err)

	nativeFence.EXPECT().Status().Return(core1_0.VKNotReady, nil)
	ready, err := rig.Queue.HasReadyBuffer()
	require.NoError(t, err)
	require.False(t, ready)

	// The buffer releases its reference when the fence is seen signaled; the native fence survives
	// until the caller releases theirs
	nativeFence.EXPECT().Status().Return(core1_0.VKSuccess, nil)
	ready, err = rig.Queue.HasReadyBuffer()
	require.NoError(t, err)
	require.True(t, ready)
	require.Equal(t, CommandBufferInvalid, rig.Queue.OneTimeBuffers()[0].State())

	nativeFence.EXPECT().Wait(DefaultFenceTimeout).Return(core1_0.VKSuccess, nil)
	require.NoError(t, fence.Wait(DefaultFenceTimeout))

	nativeFence.EXPECT().Destroy()
	fence.Destroy()

	expectRecording(rig.Buffers[0])
	expectSubmit(ctrl, rig, rig.Buffers[0])
	_, err = rig.Queue.OneTimeRecordSubmit(noCommands, SubmitOptions{})
	require.NoError(t, err)
}

func TestQueueSubmitSemaphores(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyQueue(t, ctrl, 1)

	wait := mocks.NewMockSemaphore(ctrl)
	signal := mocks.NewMockSemaphore(ctrl)

	expectRecording(rig.Buffers[0])
	fence := mocks.NewMockFence(ctrl)
	rig.Device.EXPECT().CreateFence(false).Return(fence, core1_0.VKSuccess, nil)
	rig.NativeQueue.EXPECT().Submit(fence, []gpu.SubmitInfo{
		{
			WaitSemaphores:   []gpu.Semaphore{wait},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageTransfer},
			CommandBuffers:   []gpu.CommandBuffer{rig.Buffers[0]},
			SignalSemaphores: []gpu.Semaphore{signal},
		},
	}).Return(core1_0.VKSuccess, nil)

	_, err := rig.Queue.OneTimeRecordSubmit(noCommands, SubmitOptions{
		WaitSemaphores:   []gpu.Semaphore{wait},
		WaitStages:       []core1_0.PipelineStageFlags{core1_0.PipelineStageTransfer},
		SignalSemaphores: []gpu.Semaphore{signal},
	})
	require.NoError(t, err)

	_, err = rig.Queue.OneTimeRecordSubmit(noCommands, SubmitOptions{
		WaitSemaphores: []gpu.Semaphore{wait},
	})
	require.Error(t, err)
}

func TestQueueRecordFailureLeavesBufferReady(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyQueue(t, ctrl, 1)

	recordErr := errors.New("record failed")
	rig.Buffers[0].EXPECT().Begin(core1_0.CommandBufferUsageOneTimeSubmit).Return(core1_0.VKSuccess, nil)
	rig.Buffers[0].EXPECT().Reset().Return(core1_0.VKSuccess, nil)

	_, err := rig.Queue.OneTimeRecordSubmit(func(*CommandBuffer) error { return recordErr }, SubmitOptions{})
	require.True(t, errors.Is(err, recordErr))
	require.Equal(t, CommandBufferInitial, rig.Queue.OneTimeBuffers()[0].State())

	ready, err := rig.Queue.HasReadyBuffer()
	require.NoError(t, err)
	require.True(t, ready)
}

func TestQueueSubmitFailureDestroysFence(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyQueue(t, ctrl, 1)

	expectRecording(rig.Buffers[0])
	fence := mocks.NewMockFence(ctrl)
	rig.Device.EXPECT().CreateFence(false).Return(fence, core1_0.VKSuccess, nil)
	rig.NativeQueue.EXPECT().Submit(fence, gomock.Any()).Return(core1_0.VKErrorOutOfHostMemory, core1_0.VKErrorOutOfHostMemory.ToError())
	fence.EXPECT().Destroy()

	_, err := rig.Queue.OneTimeRecordSubmit(noCommands, SubmitOptions{})
	require.True(t, errors.Is(err, gpu.ErrOutOfDeviceMemory))
	require.Equal(t, CommandBufferExecutable, rig.Queue.OneTimeBuffers()[0].State())

	ready, err := rig.Queue.HasReadyBuffer()
	require.NoError(t, err)
	require.True(t, ready)
}

func TestQueueWithoutBuffers(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyQueue(t, ctrl, 0)

	ready, err := rig.Queue.HasReadyBuffer()
	require.NoError(t, err)
	require.False(t, ready)

	_, err = rig.Queue.OneTimeRecordSubmit(noCommands, SubmitOptions{})
	require.True(t, errors.Is(err, ErrNoBufferAvailable))

	require.Error(t, rig.Queue.AllocateOneTimeBuffers(0))
}

func TestQueueWaitIdle(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyQueue(t, ctrl, 0)

	rig.NativeQueue.EXPECT().WaitIdle().Return(core1_0.VKSuccess, nil)
	require.NoError(t, rig.Queue.WaitIdle())

	rig.NativeQueue.EXPECT().WaitIdle().Return(core1_0.VKErrorDeviceLost, core1_0.VKErrorDeviceLost.ToError())
	require.Error(t, rig.Queue.WaitIdle())
}

func TestQueueDestroyWaitsForPendingBuffers(t *testing.T) {
	ctrl := gomock.NewController(t)
	rig := readyQueue(t, ctrl, 2)

	expectRecording(rig.Buffers[0])
	nativeFence := expectSubmit(ctrl, rig, rig.Buffers[0])
	fence, err := rig.Queue.OneTimeRecordSubmit(noCommands, SubmitOptions{})
	require.NoError(t, err)
	fence.Destroy()

	nativeFence.EXPECT().Wait(DefaultFenceTimeout).Return(core1_0.VKSuccess, nil)
	nativeFence.EXPECT().Destroy()
	rig.Pool.EXPECT().FreeCommandBuffers([]gpu.CommandBuffer{rig.Buffers[0], rig.Buffers[1]})
	rig.Pool.EXPECT().Destroy()

	require.NoError(t, rig.Queue.Destroy())
}

func TestNewQueueValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	nativeQueue := mocks.NewMockQueue(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard))

	_, err := NewQueue(nil, device, nativeQueue, 0, QueueOptions{})
	require.Error(t, err)

	_, err = NewQueue(logger, device, nil, 0, QueueOptions{})
	require.Error(t, err)

	device.EXPECT().CreateCommandPool(0).Return(nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())
	_, err = NewQueue(logger, device, nativeQueue, 0, QueueOptions{})
	require.True(t, errors.Is(err, gpu.ErrOutOfDeviceMemory))

	pool := mocks.NewMockCommandPool(ctrl)
	device.EXPECT().CreateCommandPool(0).Return(pool, core1_0.VKSuccess, nil)
	queue, err := NewQueue(logger, device, nativeQueue, 0, QueueOptions{FenceTimeout: 5 * DefaultFenceTimeout})
	require.NoError(t, err)
	require.Equal(t, 5*DefaultFenceTimeout, queue.FenceTimeout())
	require.Equal(t, 0, queue.FamilyIndex())
}
