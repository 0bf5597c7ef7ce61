package vkng

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/deferred/gpu"
)

type DeviceMemory struct {
	memory    core1_0.DeviceMemory
	callbacks *driver.AllocationCallbacks
}

func (m *DeviceMemory) Handle() core1_0.DeviceMemory { return m.memory }

func (m *DeviceMemory) Map(offset int, size int) (unsafe.Pointer, common.VkResult, error) {
	return m.memory.Map(offset, size, 0)
}

func (m *DeviceMemory) Unmap() {
	m.memory.Unmap()
}

func (m *DeviceMemory) Free() {
	m.memory.Free(m.callbacks)
}

type Buffer struct {
	buffer    core1_0.Buffer
	callbacks *driver.AllocationCallbacks
}

func (b *Buffer) Handle() core1_0.Buffer { return b.buffer }

func (b *Buffer) MemoryRequirements() *core1_0.MemoryRequirements {
	return b.buffer.MemoryRequirements()
}

func (b *Buffer) BindBufferMemory(memory gpu.DeviceMemory, offset int) (common.VkResult, error) {
	nativeMemory, err := deviceMemoryHandle(memory)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return b.buffer.BindBufferMemory(nativeMemory, offset)
}

func (b *Buffer) Destroy() {
	b.buffer.Destroy(b.callbacks)
}

type Image struct {
	image     core1_0.Image
	callbacks *driver.AllocationCallbacks
}

// WrapImage adapts an image that was not created through Device, such as a swapchain image. Destroy
// must not be called on the result.
func WrapImage(image core1_0.Image) *Image {
	return &Image{image: image}
}

func (i *Image) Handle() core1_0.Image { return i.image }

func (i *Image) MemoryRequirements() *core1_0.MemoryRequirements {
	return i.image.MemoryRequirements()
}

func (i *Image) BindImageMemory(memory gpu.DeviceMemory, offset int) (common.VkResult, error) {
	nativeMemory, err := deviceMemoryHandle(memory)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return i.image.BindImageMemory(nativeMemory, offset)
}

func (i *Image) Destroy() {
	i.image.Destroy(i.callbacks)
}

type Semaphore struct {
	semaphore core1_0.Semaphore
	callbacks *driver.AllocationCallbacks
}

func (s *Semaphore) Handle() core1_0.Semaphore { return s.semaphore }

func (s *Semaphore) Destroy() {
	s.semaphore.Destroy(s.callbacks)
}

func deviceMemoryHandle(memory gpu.DeviceMemory) (core1_0.DeviceMemory, error) {
	native, ok := memory.(*DeviceMemory)
	if !ok {
		return nil, errors.Newf("device memory of type %T was not allocated by vkng", memory)
	}
	return native.memory, nil
}

func bufferHandle(buffer gpu.Buffer) (core1_0.Buffer, error) {
	native, ok := buffer.(*Buffer)
	if !ok {
		return nil, errors.Newf("buffer of type %T was not created by vkng", buffer)
	}
	return native.buffer, nil
}

func imageHandle(image gpu.Image) (core1_0.Image, error) {
	native, ok := image.(*Image)
	if !ok {
		return nil, errors.Newf("image of type %T was not created by vkng", image)
	}
	return native.image, nil
}

func semaphoreHandles(semaphores []gpu.Semaphore) ([]core1_0.Semaphore, error) {
	if len(semaphores) == 0 {
		return nil, nil
	}

	handles := make([]core1_0.Semaphore, 0, len(semaphores))
	for _, semaphore := range semaphores {
		native, ok := semaphore.(*Semaphore)
		if !ok {
			return nil, errors.Newf("semaphore of type %T was not created by vkng", semaphore)
		}
		handles = append(handles, native.semaphore)
	}
	return handles, nil
}
