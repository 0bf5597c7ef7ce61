package command

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/gpu/mocks"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
	"go.uber.org/mock/gomock"
)

var colorRange = core1_0.ImageSubresourceRange{
	AspectMask:     core1_0.ImageAspectColor,
	BaseMipLevel:   0,
	LevelCount:     1,
	BaseArrayLayer: 0,
	LayerCount:     1,
}

func TestCommandBufferRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	native := mocks.NewMockCommandBuffer(ctrl)
	buffer := newCommandBuffer(native)
	require.Equal(t, CommandBufferInitial, buffer.State())
	require.Equal(t, "Initial", buffer.State().String())

	src := mocks.NewMockBuffer(ctrl)
	dst := mocks.NewMockBuffer(ctrl)
	region := core1_0.BufferCopy{SrcOffset: 16, DstOffset: 32, Size: 64}

	native.EXPECT().Begin(core1_0.CommandBufferUsageOneTimeSubmit).Return(core1_0.VKSuccess, nil)
	native.EXPECT().CmdCopyBuffer(src, dst, []core1_0.BufferCopy{region}).Return(nil)
	native.EXPECT().End().Return(core1_0.VKSuccess, nil)

	err := buffer.Record(core1_0.CommandBufferUsageOneTimeSubmit, func(buffer *CommandBuffer) error {
		require.Equal(t, CommandBufferRecording, buffer.State())
		return buffer.CopyBuffer(src, dst, region)
	})
	require.NoError(t, err)
	require.Equal(t, CommandBufferExecutable, buffer.State())

	err = buffer.CopyBuffer(src, dst, region)
	require.True(t, errors.Is(err, ErrInvalidState))

	pending, err := buffer.IsPending()
	require.NoError(t, err)
	require.False(t, pending)
}

func TestCommandBufferRecordWhilePending(t *testing.T) {
	ctrl := gomock.NewController(t)
	native := mocks.NewMockCommandBuffer(ctrl)
	nativeFence := mocks.NewMockFence(ctrl)
	buffer := newCommandBuffer(native)

	fence := &Fence{fence: nativeFence}
	fence.refs.Store(1)
	buffer.onSubmit(fence)

	err := buffer.Record(0, noCommands)
	require.True(t, errors.Is(err, ErrInvalidState))

	nativeFence.EXPECT().Status().Return(core1_0.VKNotReady, nil)
	pending, err := buffer.IsPending()
	require.NoError(t, err)
	require.True(t, pending)

	nativeFence.EXPECT().Status().Return(core1_0.VKErrorDeviceLost, core1_0.VKErrorDeviceLost.ToError())
	pending, err = buffer.IsPending()
	require.Error(t, err)
	require.True(t, pending)
	require.Equal(t, CommandBufferPending, buffer.State())

	nativeFence.EXPECT().Status().Return(core1_0.VKSuccess, nil)
	nativeFence.EXPECT().Destroy()
	pending, err = buffer.IsPending()
	require.NoError(t, err)
	require.False(t, pending)
	require.Equal(t, CommandBufferInvalid, buffer.State())
}

func TestCommandBufferRecordFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	native := mocks.NewMockCommandBuffer(ctrl)
	buffer := newCommandBuffer(native)

	native.EXPECT().Begin(gomock.Any()).Return(core1_0.VKErrorOutOfHostMemory, core1_0.VKErrorOutOfHostMemory.ToError())
	err := buffer.Record(0, noCommands)
	require.True(t, errors.Is(err, gpu.ErrOutOfDeviceMemory))
	require.Equal(t, CommandBufferInitial, buffer.State())

	native.EXPECT().Begin(gomock.Any()).Return(core1_0.VKSuccess, nil)
	native.EXPECT().End().Return(core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())
	native.EXPECT().Reset().Return(core1_0.VKSuccess, nil)
	err = buffer.Record(0, noCommands)
	require.True(t, errors.Is(err, gpu.ErrOutOfDeviceMemory))
	require.Equal(t, CommandBufferInitial, buffer.State())

	native.EXPECT().Begin(gomock.Any()).Return(core1_0.VKSuccess, nil)
	native.EXPECT().Reset().Return(core1_0.VKSuccess, nil)
	err = buffer.Record(0, func(buffer *CommandBuffer) error {
		return buffer.Record(0, noCommands)
	})
	require.True(t, errors.Is(err, ErrInvalidState))
	require.Equal(t, CommandBufferInitial, buffer.State())
}

func TestCommandBufferCopyBufferToImage(t *testing.T) {
	ctrl := gomock.NewController(t)
	native := mocks.NewMockCommandBuffer(ctrl)
	buffer := newCommandBuffer(native)

	src := mocks.NewMockBuffer(ctrl)
	image := mocks.NewMockImage(ctrl)
	region := core1_0.BufferImageCopy{
		BufferOffset: 256,
		ImageSubresource: core1_0.ImageSubresourceLayers{
			AspectMask: core1_0.ImageAspectColor,
			LayerCount: 1,
		},
		ImageExtent: core1_0.Extent3D{Width: 4, Height: 4, Depth: 1},
	}

	gomock.InOrder(
		native.EXPECT().Begin(gomock.Any()).Return(core1_0.VKSuccess, nil),
		native.EXPECT().CmdPipelineBarrier(core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageTransfer, []gpu.ImageBarrier{
			{
				SrcAccessMask:    0,
				DstAccessMask:    core1_0.AccessTransferWrite,
				OldLayout:        core1_0.ImageLayoutUndefined,
				NewLayout:        core1_0.ImageLayoutTransferDstOptimal,
				Image:            image,
				SubresourceRange: colorRange,
			},
		}).Return(nil),
		native.EXPECT().CmdCopyBufferToImage(src, image, core1_0.ImageLayoutTransferDstOptimal, []core1_0.BufferImageCopy{region}).Return(nil),
		native.EXPECT().End().Return(core1_0.VKSuccess, nil),
	)

	err := buffer.Record(0, func(buffer *CommandBuffer) error {
		err := buffer.TransitionLayout(image, core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal, colorRange)
		if err != nil {
			return err
		}
		return buffer.CopyBufferToImage(src, image, core1_0.ImageLayoutTransferDstOptimal, region)
	})
	require.NoError(t, err)
}

var layoutTestCases = map[string]struct {
	Layout core1_0.ImageLayout

	Access core1_0.AccessFlags
	Stage  core1_0.PipelineStageFlags
}{
	"Undefined": {
		Layout: core1_0.ImageLayoutUndefined,
		Access: 0,
		Stage:  core1_0.PipelineStageTopOfPipe,
	},
	"TransferDst": {
		Layout: core1_0.ImageLayoutTransferDstOptimal,
		Access: core1_0.AccessTransferWrite,
		Stage:  core1_0.PipelineStageTransfer,
	},
	"ShaderReadOnly": {
		Layout: core1_0.ImageLayoutShaderReadOnlyOptimal,
		Access: core1_0.AccessShaderRead,
		Stage:  core1_0.PipelineStageFragmentShader,
	},
	"DepthStencilAttachment": {
		Layout: core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		Access: core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite,
		Stage:  core1_0.PipelineStageEarlyFragmentTests,
	},
	"General": {
		Layout: core1_0.ImageLayoutGeneral,
		Access: core1_0.AccessShaderWrite,
		Stage:  core1_0.PipelineStageComputeShader,
	},
	"PresentSrc": {
		Layout: khr_swapchain.ImageLayoutPresentSrc,
		Access: 0,
		Stage:  core1_0.PipelineStageBottomOfPipe,
	},
}

func TestLayoutScope(t *testing.T) {
	for testName, testCase := range layoutTestCases {
		t.Run(testName, func(t *testing.T) {
			access, stage, err := LayoutScope(testCase.Layout)
			require.NoError(t, err)
			require.Equal(t, testCase.Access, access)
			require.Equal(t, testCase.Stage, stage)
		})
	}

	_, _, err := LayoutScope(core1_0.ImageLayoutColorAttachmentOptimal)
	require.True(t, errors.Is(err, ErrUnsupportedLayoutTransition))
}

func TestTransitionLayoutUnsupported(t *testing.T) {
	ctrl := gomock.NewController(t)
	native := mocks.NewMockCommandBuffer(ctrl)
	image := mocks.NewMockImage(ctrl)

	err := TransitionLayout(native, image, core1_0.ImageLayoutTransferSrcOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal, colorRange)
	require.True(t, errors.Is(err, ErrUnsupportedLayoutTransition))

	err = TransitionLayout(native, image, core1_0.ImageLayoutUndefined, core1_0.ImageLayoutColorAttachmentOptimal, colorRange)
	require.True(t, errors.Is(err, ErrUnsupportedLayoutTransition))

	require.NoError(t, CheckLayoutTransition(core1_0.ImageLayoutTransferDstOptimal, khr_swapchain.ImageLayoutPresentSrc))
	require.Error(t, CheckLayoutTransition(core1_0.ImageLayoutPreInitialized, core1_0.ImageLayoutGeneral))
}

func TestFence(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	nativeFence := mocks.NewMockFence(ctrl)

	device.EXPECT().CreateFence(false).Return(nativeFence, core1_0.VKSuccess, nil)
	fence, err := NewFence(device)
	require.NoError(t, err)

	nativeFence.EXPECT().Status().Return(core1_0.VKNotReady, nil)
	signaled, err := fence.Signaled()
	require.NoError(t, err)
	require.False(t, signaled)

	nativeFence.EXPECT().Wait(time.Millisecond).Return(core1_0.VKTimeout, nil)
	err = fence.Wait(time.Millisecond)
	require.True(t, errors.Is(err, ErrFenceTimeout))

	nativeFence.EXPECT().Wait(DefaultFenceTimeout).Return(core1_0.VKSuccess, nil)
	require.NoError(t, fence.Wait(DefaultFenceTimeout))

	nativeFence.EXPECT().Status().Return(core1_0.VKSuccess, nil)
	signaled, err = fence.Signaled()
	require.NoError(t, err)
	require.True(t, signaled)

	nativeFence.EXPECT().Reset().Return(core1_0.VKSuccess, nil)
	require.NoError(t, fence.Reset())

	nativeFence.EXPECT().Destroy()
	fence.Destroy()
	require.Panics(t, fence.Destroy)

	device.EXPECT().CreateFence(false).Return(nil, core1_0.VKErrorOutOfHostMemory, core1_0.VKErrorOutOfHostMemory.ToError())
	_, err = NewFence(device)
	require.True(t, errors.Is(err, gpu.ErrOutOfDeviceMemory))
}

func TestCommandPool(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	pool := mocks.NewMockCommandPool(ctrl)

	device.EXPECT().CreateCommandPool(1).Return(pool, core1_0.VKSuccess, nil)
	commandPool, err := NewCommandPool(device, 1)
	require.NoError(t, err)
	require.Equal(t, 1, commandPool.QueueFamilyIndex())
	require.Empty(t, commandPool.Buffers())

	first := mocks.NewMockCommandBuffer(ctrl)
	second := mocks.NewMockCommandBuffer(ctrl)
	third := mocks.NewMockCommandBuffer(ctrl)
	pool.EXPECT().AllocateCommandBuffers(2).Return([]gpu.CommandBuffer{first, second}, core1_0.VKSuccess, nil)
	pool.EXPECT().AllocateCommandBuffers(1).Return([]gpu.CommandBuffer{third}, core1_0.VKSuccess, nil)

	require.NoError(t, commandPool.AllocateBuffers(2))
	require.NoError(t, commandPool.AllocateBuffers(1))
	require.Len(t, commandPool.Buffers(), 3)
	require.Equal(t, third, commandPool.Buffers()[2].Native())

	pool.EXPECT().AllocateCommandBuffers(4).Return(nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())
	err = commandPool.AllocateBuffers(4)
	require.True(t, errors.Is(err, gpu.ErrOutOfDeviceMemory))
	require.Len(t, commandPool.Buffers(), 3)

	pool.EXPECT().FreeCommandBuffers([]gpu.CommandBuffer{first, second, third})
	pool.EXPECT().Destroy()
	commandPool.Destroy()
	require.Empty(t, commandPool.Buffers())
}
