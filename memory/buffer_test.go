package memory

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu/mocks"
	"go.uber.org/mock/gomock"
)

func TestNewBufferBindsAllocation(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, allocator := readyAllocator(t, ctrl, standardSetup(4096))

	memory, backing := expectBlock(ctrl, device, 4096, 2)

	nativeBuffer := mocks.NewMockBuffer(ctrl)
	device.EXPECT().CreateBuffer(core1_0.BufferCreateInfo{
		Size:        512,
		Usage:       BufferUsageUniform,
		SharingMode: core1_0.SharingModeExclusive,
	}).Return(nativeBuffer, core1_0.VKSuccess, nil)
	nativeBuffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{
		Size:           512,
		Alignment:      256,
		MemoryTypeBits: 0b111,
	})
	nativeBuffer.EXPECT().BindBufferMemory(memory, 0).Return(core1_0.VKSuccess, nil)

	buffer, err := NewBuffer(allocator, 512, BufferUsageUniform, MemoryPreferenceCPUToGPU)
	require.NoError(t, err)
	require.Equal(t, 512, buffer.Size())
	require.Equal(t, BufferUsageUniform, buffer.Usage())
	require.Equal(t, nativeBuffer, buffer.Native())
	require.Equal(t, 2, buffer.Allocation().MemoryTypeIndex())

	require.NoError(t, buffer.CopyToMapped([]byte{1, 2, 3, 4}, 508))
	require.Equal(t, []byte{1, 2, 3, 4}, backing[508:512])

	err = buffer.CopyToMapped([]byte{1, 2, 3, 4}, 509)
	require.True(t, errors.Is(err, ErrOutOfBounds))

	nativeBuffer.EXPECT().Destroy()
	require.NoError(t, buffer.Destroy())
	require.NoError(t, buffer.Destroy())
	require.Equal(t, 0, allocator.CalculateTotalStatistics().AllocationCount)

	require.NoError(t, allocator.Destroy())
}

func TestNewBufferBindFailureReleasesMemory(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, allocator := readyAllocator(t, ctrl, standardSetup(4096))

	expectBlock(ctrl, device, 4096, 0)

	nativeBuffer := mocks.NewMockBuffer(ctrl)
	device.EXPECT().CreateBuffer(gomock.Any()).Return(nativeBuffer, core1_0.VKSuccess, nil)
	nativeBuffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{
		Size:           1024,
		Alignment:      16,
		MemoryTypeBits: 0b001,
	})
	nativeBuffer.EXPECT().BindBufferMemory(gomock.Any(), 0).Return(core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())
	nativeBuffer.EXPECT().Destroy()

	_, err := NewBuffer(allocator, 1024, BufferUsageVertex, MemoryPreferenceGPUOnly)
	require.True(t, errors.Is(err, ErrOutOfDeviceMemory))
	require.Equal(t, 0, allocator.CalculateTotalStatistics().AllocationCount)

	require.NoError(t, allocator.Destroy())
}

func TestNewBufferNoCompatibleMemory(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, allocator := readyAllocator(t, ctrl, standardSetup(4096))

	nativeBuffer := mocks.EasyMockBuffer(ctrl, core1_0.MemoryRequirements{
		Size:           1024,
		Alignment:      16,
		MemoryTypeBits: 0b1000,
	})
	device.EXPECT().CreateBuffer(gomock.Any()).Return(nativeBuffer, core1_0.VKSuccess, nil)

	_, err := NewBuffer(allocator, 1024, BufferUsageStorage, MemoryPreferenceGPUOnly)
	require.True(t, errors.Is(err, ErrNoCompatibleMemoryType))

	_, err = NewBuffer(allocator, 0, BufferUsageStorage, MemoryPreferenceGPUOnly)
	require.Error(t, err)
}

func TestNewImageDefaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, allocator := readyAllocator(t, ctrl, standardSetup(4096))

	memory, _ := expectBlock(ctrl, device, 65536, 0)

	nativeImage := mocks.NewMockImage(ctrl)
	device.EXPECT().CreateImage(core1_0.ImageCreateInfo{
		ImageType:     core1_0.ImageType2D,
		Format:        core1_0.FormatR8G8B8A8SRGB,
		Extent:        core1_0.Extent3D{Width: 128, Height: 128, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         ImageUsageTexture,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	}).Return(nativeImage, core1_0.VKSuccess, nil)
	nativeImage.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{
		Size:           65536,
		Alignment:      1024,
		MemoryTypeBits: 0b111,
	})
	nativeImage.EXPECT().BindImageMemory(memory, 0).Return(core1_0.VKSuccess, nil)

	image, err := NewImage(allocator, ImageOptions{
		Format: core1_0.FormatR8G8B8A8SRGB,
		Extent: core1_0.Extent3D{Width: 128, Height: 128, Depth: 1},
		Usage:  ImageUsageTexture,
	}, MemoryPreferenceGPUOnly)
	require.NoError(t, err)
	require.Equal(t, nativeImage, image.Native())
	require.Equal(t, core1_0.FormatR8G8B8A8SRGB, image.Format())
	require.Equal(t, 0, image.Allocation().MemoryTypeIndex())
	require.True(t, image.Allocation().IsDeviceLocal())

	nativeImage.EXPECT().Destroy()
	require.NoError(t, image.Destroy())
	require.NoError(t, allocator.Destroy())
}

func TestNewImageInvalidExtent(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, allocator := readyAllocator(t, ctrl, standardSetup(4096))

	_, err := NewImage(allocator, ImageOptions{
		Format: core1_0.FormatR8G8B8A8SRGB,
		Extent: core1_0.Extent3D{Width: 128, Height: 0, Depth: 1},
		Usage:  ImageUsageTexture,
	}, MemoryPreferenceGPUOnly)
	require.Error(t, err)
}
