package vulkan

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/memutils"
)

// DeviceMemoryProperties caches the memory types and heaps of a device and tracks how much native
// memory has been allocated from each heap
type DeviceMemoryProperties struct {
	// Number of real allocations that have been made from device memory
	blockCount [common.MaxMemoryHeaps]int32
	// Number of suballocations that have been doled out to resources
	allocationCount [common.MaxMemoryHeaps]int32
	// Size of real allocations that have been made from device memory
	blockBytes [common.MaxMemoryHeaps]int64
	// Size of suballocations that have been doled out to resources, including alignment padding
	allocationBytes [common.MaxMemoryHeaps]int64

	heapLimits []int

	device           gpu.Device
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
}

func NewDeviceMemoryProperties(device gpu.Device, heapSizeLimits []int) (*DeviceMemoryProperties, error) {
	memoryProperties := device.MemoryProperties()
	if memoryProperties == nil {
		return nil, errors.New("device did not report any memory properties")
	}

	heapCount := len(memoryProperties.MemoryHeaps)
	if heapCount > common.MaxMemoryHeaps {
		return nil, errors.Newf("device reported %d memory heaps, but at most %d are supported", heapCount, common.MaxMemoryHeaps)
	}

	if len(heapSizeLimits) > 0 && len(heapSizeLimits) != heapCount {
		return nil, errors.New("memory.CreateOptions.HeapSizeLimits was provided, but the length does not equal the number of device memory heaps")
	}

	limits := make([]int, heapCount)
	copy(limits, heapSizeLimits)

	return &DeviceMemoryProperties{
		heapLimits:       limits,
		device:           device,
		memoryProperties: memoryProperties,
	}, nil
}

func (m *DeviceMemoryProperties) MemoryTypeCount() int {
	return len(m.memoryProperties.MemoryTypes)
}

func (m *DeviceMemoryProperties) MemoryHeapCount() int {
	return len(m.memoryProperties.MemoryHeaps)
}

func (m *DeviceMemoryProperties) MemoryTypeIndexToHeapIndex(memTypeIndex int) int {
	return m.memoryProperties.MemoryTypes[memTypeIndex].HeapIndex
}

func (m *DeviceMemoryProperties) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex]
}

func (m *DeviceMemoryProperties) MemoryHeapProperties(heapIndex int) core1_0.MemoryHeap {
	return m.memoryProperties.MemoryHeaps[heapIndex]
}

func (m *DeviceMemoryProperties) IsMemoryTypeDeviceLocal(memoryTypeIndex int) bool {
	flags := m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags
	return flags&core1_0.MemoryPropertyDeviceLocal != 0
}

func (m *DeviceMemoryProperties) IsMemoryTypeHostVisible(memoryTypeIndex int) bool {
	flags := m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags
	return flags&core1_0.MemoryPropertyHostVisible != 0
}

func (m *DeviceMemoryProperties) IsMemoryTypeHostVisibleCoherent(memoryTypeIndex int) bool {
	flags := m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags
	return flags&(core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent) ==
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent
}

// MemoryTypeBitsWithProperties returns a bitmask with one bit set for every memory type that has
// all the provided property flags
func (m *DeviceMemoryProperties) MemoryTypeBitsWithProperties(flags core1_0.MemoryPropertyFlags) uint32 {
	var typeBits uint32

	for memoryTypeIndex, memoryType := range m.memoryProperties.MemoryTypes {
		if memoryType.PropertyFlags&flags == flags {
			typeBits |= 1 << memoryTypeIndex
		}
	}

	return typeBits
}

func (m *DeviceMemoryProperties) CalculateGlobalMemoryTypeBits() uint32 {
	var typeBits uint32

	memTypeCount := len(m.memoryProperties.MemoryTypes)
	for memoryTypeIndex := 0; memoryTypeIndex < memTypeCount; memoryTypeIndex++ {
		typeBits |= 1 << memoryTypeIndex
	}

	return typeBits
}

func (m *DeviceMemoryProperties) addBlockAllocation(heapIndex int, allocationSize int) {
	atomic.AddInt64(&m.blockBytes[heapIndex], int64(allocationSize))
	atomic.AddInt32(&m.blockCount[heapIndex], 1)
}

func (m *DeviceMemoryProperties) addBlockAllocationWithBudget(heapIndex, allocationSize, maxAllocatable int) (common.VkResult, error) {
	for {
		currentVal := atomic.LoadInt64(&m.blockBytes[heapIndex])
		targetVal := currentVal + int64(allocationSize)

		if targetVal > int64(maxAllocatable) {
			return core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
		}

		if atomic.CompareAndSwapInt64(&m.blockBytes[heapIndex], currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&m.blockCount[heapIndex], 1)
	return core1_0.VKSuccess, nil
}

func (m *DeviceMemoryProperties) removeBlockAllocation(heapIndex, allocationSize int) {
	newVal := atomic.AddInt64(&m.blockBytes[heapIndex], int64(-allocationSize))
	if newVal < 0 {
		panic(fmt.Sprintf("block bytes budget for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.blockCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("block count budget for heapIndex %d went negative", heapIndex))
	}
}

// AllocateVulkanMemory allocates a new native block of memory, enforcing the heap size limit for the
// memory type's heap if one was provided
func (m *DeviceMemoryProperties) AllocateVulkanMemory(memoryTypeIndex int, allocationSize int) (mem gpu.DeviceMemory, err error) {
	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	heapLimit := m.heapLimits[heapIndex]
	if heapLimit <= 0 {
		m.addBlockAllocation(heapIndex, allocationSize)
	} else {
		maxSize := heapLimit
		heapSize := m.memoryProperties.MemoryHeaps[heapIndex].Size
		if heapSize > 0 && heapSize < maxSize {
			maxSize = heapSize
		}

		res, err := m.addBlockAllocationWithBudget(heapIndex, allocationSize, maxSize)
		if err != nil {
			return nil, gpu.WrapResult(res, err, "heap %d would exceed its limit of %d bytes", heapIndex, maxSize)
		}
	}
	defer func() {
		// If we failed out, roll back the block allocation
		if err != nil {
			m.removeBlockAllocation(heapIndex, allocationSize)
		}
	}()

	mem, res, err := m.device.AllocateMemory(allocationSize, memoryTypeIndex)
	if err != nil {
		return nil, gpu.WrapResult(res, err, "failed to allocate %d bytes of memory type %d", allocationSize, memoryTypeIndex)
	}

	return mem, nil
}

func (m *DeviceMemoryProperties) FreeVulkanMemory(memoryTypeIndex int, size int, memory gpu.DeviceMemory) {
	memory.Free()

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	m.removeBlockAllocation(heapIndex, size)
}

func (m *DeviceMemoryProperties) AddAllocation(heapIndex int, size int) {
	atomic.AddInt64(&m.allocationBytes[heapIndex], int64(size))
	atomic.AddInt32(&m.allocationCount[heapIndex], 1)
}

func (m *DeviceMemoryProperties) RemoveAllocation(heapIndex int, size int) {
	newSizeVal := atomic.AddInt64(&m.allocationBytes[heapIndex], int64(-size))
	if newSizeVal < 0 {
		panic(fmt.Sprintf("allocation bytes budget for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.allocationCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("allocation count budget for heapIndex %d went negative", heapIndex))
	}
}

// HeapBudgets fills budgets with usage data for len(budgets) heaps, starting at firstHeap
func (m *DeviceMemoryProperties) HeapBudgets(firstHeap int, budgets []memutils.Budget) {
	for i := 0; i < len(budgets); i++ {
		heapIndex := firstHeap + i

		budgets[i].Statistics.BlockCount = int(atomic.LoadInt32(&m.blockCount[heapIndex]))
		budgets[i].Statistics.AllocationCount = int(atomic.LoadInt32(&m.allocationCount[heapIndex]))
		budgets[i].Statistics.BlockBytes = int(atomic.LoadInt64(&m.blockBytes[heapIndex]))
		budgets[i].Statistics.AllocationBytes = int(atomic.LoadInt64(&m.allocationBytes[heapIndex]))

		budgets[i].Usage = budgets[i].Statistics.BlockBytes
		if m.heapLimits[heapIndex] > 0 {
			budgets[i].Budget = m.heapLimits[heapIndex]
		} else {
			budgets[i].Budget = m.memoryProperties.MemoryHeaps[heapIndex].Size * 8 / 10
		}
	}
}
