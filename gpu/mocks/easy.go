package mocks

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"go.uber.org/mock/gomock"
)

// EasyMockDeviceMemory returns a device memory mock of size bytes whose Map returns a pointer into the
// returned byte slice. Map, Unmap and Free may be called any number of times.
func EasyMockDeviceMemory(ctrl *gomock.Controller, size int) (*MockDeviceMemory, []byte) {
	backing := make([]byte, size)

	memory := NewMockDeviceMemory(ctrl)
	memory.EXPECT().Map(0, common.WholeSize).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil).AnyTimes()
	memory.EXPECT().Unmap().AnyTimes()
	memory.EXPECT().Free().AnyTimes()

	return memory, backing
}

// EasyMockDevice returns a device mock that reports the provided memory properties and satisfies every
// AllocateMemory call with an EasyMockDeviceMemory
func EasyMockDevice(ctrl *gomock.Controller, properties core1_0.PhysicalDeviceMemoryProperties) *MockDevice {
	device := NewMockDevice(ctrl)
	device.EXPECT().MemoryProperties().Return(&properties).AnyTimes()
	device.EXPECT().AllocateMemory(gomock.Any(), gomock.Any()).DoAndReturn(
		func(allocationSize int, memoryTypeIndex int) (gpu.DeviceMemory, common.VkResult, error) {
			memory, _ := EasyMockDeviceMemory(ctrl, allocationSize)
			return memory, core1_0.VKSuccess, nil
		}).AnyTimes()

	return device
}

// EasyMockBuffer returns a buffer mock that reports the provided memory requirements and accepts any
// number of binds and destroys
func EasyMockBuffer(ctrl *gomock.Controller, requirements core1_0.MemoryRequirements) *MockBuffer {
	buffer := NewMockBuffer(ctrl)
	buffer.EXPECT().MemoryRequirements().Return(&requirements).AnyTimes()
	buffer.EXPECT().BindBufferMemory(gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	buffer.EXPECT().Destroy().AnyTimes()

	return buffer
}

// EasyMockImage returns an image mock that reports the provided memory requirements and accepts any
// number of binds and destroys
func EasyMockImage(ctrl *gomock.Controller, requirements core1_0.MemoryRequirements) *MockImage {
	image := NewMockImage(ctrl)
	image.EXPECT().MemoryRequirements().Return(&requirements).AnyTimes()
	image.EXPECT().BindImageMemory(gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	image.EXPECT().Destroy().AnyTimes()

	return image
}
