// Package vkng implements the gpu interfaces over vkngwrapper's core 1.0 objects.
package vkng

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/extensions/v2/ext_memory_priority"
)

// DeviceOptions configures a Device
type DeviceOptions struct {
	// AllocationCallbacks is passed to every create, allocate, free and destroy call made through the Device
	AllocationCallbacks *driver.AllocationCallbacks
	// MemoryPriority is chained onto every memory allocation when VK_EXT_memory_priority is active. It should
	// be a value between 0 and 1; the zero value is replaced with 0.5, the default priority.
	MemoryPriority float32
}

// Device adapts a core1_0.Device and the core1_0.PhysicalDevice it was created from to gpu.Device
type Device struct {
	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device
	callbacks      *driver.AllocationCallbacks

	useMemoryPriority bool
	memoryPriority    float32
	memoryProperties  *core1_0.PhysicalDeviceMemoryProperties
}

var _ gpu.Device = &Device{}

func NewDevice(physicalDevice core1_0.PhysicalDevice, device core1_0.Device, options DeviceOptions) (*Device, error) {
	if physicalDevice == nil {
		return nil, errors.New("attempted to create a device with a nil physical device")
	}
	if device == nil {
		return nil, errors.New("attempted to create a device with a nil logical device")
	}

	priority := options.MemoryPriority
	if priority == 0 {
		priority = 0.5
	}
	if priority < 0 || priority > 1 {
		return nil, errors.Newf("memory priority must be between 0 and 1, but was %f", priority)
	}

	return &Device{
		physicalDevice:    physicalDevice,
		device:            device,
		callbacks:         options.AllocationCallbacks,
		useMemoryPriority: device.IsDeviceExtensionActive(ext_memory_priority.ExtensionName),
		memoryPriority:    priority,
		memoryProperties:  physicalDevice.MemoryProperties(),
	}, nil
}

// Handle returns the underlying core1_0.Device
func (d *Device) Handle() core1_0.Device { return d.device }

func (d *Device) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return d.memoryProperties
}

func (d *Device) AllocateMemory(allocationSize int, memoryTypeIndex int) (gpu.DeviceMemory, common.VkResult, error) {
	allocInfo := core1_0.MemoryAllocateInfo{
		AllocationSize:  allocationSize,
		MemoryTypeIndex: memoryTypeIndex,
	}

	if d.useMemoryPriority {
		priorityInfo := ext_memory_priority.MemoryPriorityAllocateInfo{
			Priority: d.memoryPriority,
		}
		priorityInfo.Next = allocInfo.Next
		allocInfo.Next = priorityInfo
	}

	memory, res, err := d.device.AllocateMemory(d.callbacks, allocInfo)
	if err != nil {
		return nil, res, err
	}

	return &DeviceMemory{memory: memory, callbacks: d.callbacks}, res, nil
}

func (d *Device) CreateBuffer(info core1_0.BufferCreateInfo) (gpu.Buffer, common.VkResult, error) {
	buffer, res, err := d.device.CreateBuffer(d.callbacks, info)
	if err != nil {
		return nil, res, err
	}

	return &Buffer{buffer: buffer, callbacks: d.callbacks}, res, nil
}

func (d *Device) CreateImage(info core1_0.ImageCreateInfo) (gpu.Image, common.VkResult, error) {
	image, res, err := d.device.CreateImage(d.callbacks, info)
	if err != nil {
		return nil, res, err
	}

	return &Image{image: image, callbacks: d.callbacks}, res, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, common.VkResult, error) {
	var flags core1_0.FenceCreateFlags
	if signaled {
		flags = core1_0.FenceCreateSignaled
	}

	fence, res, err := d.device.CreateFence(d.callbacks, core1_0.FenceCreateInfo{Flags: flags})
	if err != nil {
		return nil, res, err
	}

	return &Fence{fence: fence, callbacks: d.callbacks}, res, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, common.VkResult, error) {
	semaphore, res, err := d.device.CreateSemaphore(d.callbacks, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, res, err
	}

	return &Semaphore{semaphore: semaphore, callbacks: d.callbacks}, res, nil
}

func (d *Device) CreateCommandPool(queueFamilyIndex int) (gpu.CommandPool, common.VkResult, error) {
	pool, res, err := d.device.CreateCommandPool(d.callbacks, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: queueFamilyIndex,
	})
	if err != nil {
		return nil, res, err
	}

	return &CommandPool{device: d.device, pool: pool, callbacks: d.callbacks}, res, nil
}

// Queue retrieves the queueIndex'th queue from the provided queue family
func (d *Device) Queue(queueFamilyIndex, queueIndex int) *Queue {
	return &Queue{queue: d.device.GetQueue(queueFamilyIndex, queueIndex)}
}

func (d *Device) WaitIdle() (common.VkResult, error) {
	return d.device.WaitIdle()
}
