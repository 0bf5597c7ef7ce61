package memory

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/memory/internal/vulkan"
	"github.com/vkngwrapper/deferred/memutils"
	"github.com/vkngwrapper/deferred/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Allocator sub-allocates device memory for buffers and images. Each memory type has its own pool of
// blocks guarded by its own mutex, so allocations from different memory types never contend.
type Allocator struct {
	logger       *slog.Logger
	device       gpu.Device
	deviceMemory *vulkan.DeviceMemoryProperties
	createFlags  CreateFlags
	pageSize     int

	globalMemoryTypeBits        uint32
	deviceLocalTypeBits         uint32
	hostVisibleCoherentTypeBits uint32

	pools []*memoryPool
}

// Device returns the device this allocator allocates from
func (a *Allocator) Device() gpu.Device { return a.device }

// PageSize returns the granularity that new blocks are sized to
func (a *Allocator) PageSize() int { return a.pageSize }

// MemoryTypeCount returns the number of memory types reported by the device
func (a *Allocator) MemoryTypeCount() int { return a.deviceMemory.MemoryTypeCount() }

// MemoryTypeProperties returns the properties of the memory type at the provided index. It panics if
// memoryTypeIndex is not a memory type of the device.
func (a *Allocator) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	a.checkMemoryTypeIndex(memoryTypeIndex)
	return a.deviceMemory.MemoryTypeProperties(memoryTypeIndex)
}

func (a *Allocator) checkMemoryTypeIndex(memoryTypeIndex int) {
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(a.pools) {
		panic(fmt.Sprintf("memory type index %d is out of range for a device with %d memory types", memoryTypeIndex, len(a.pools)))
	}
}

// FindMemoryTypeIndex narrows memoryTypeBits according to preference and returns the lowest memory type
// index that remains. ErrNoCompatibleMemoryType is returned if memoryTypeBits contains no memory type
// the device actually has.
func (a *Allocator) FindMemoryTypeIndex(memoryTypeBits uint32, preference MemoryPreference) (int, error) {
	a.logger.Debug("Allocator::FindMemoryTypeIndex",
		slog.Uint64("memoryTypeBits", uint64(memoryTypeBits)),
		slog.String("preference", preference.String()),
	)

	memoryTypeBits &= a.globalMemoryTypeBits

	switch preference {
	case MemoryPreferenceGPUOnly:
		memoryTypeBits = preferTypeBits(memoryTypeBits, a.deviceLocalTypeBits)
	case MemoryPreferenceCPUOnly:
		memoryTypeBits = preferTypeBits(memoryTypeBits, a.hostVisibleCoherentTypeBits)
	case MemoryPreferenceCPUToGPU:
		memoryTypeBits = preferTypeBits(memoryTypeBits, a.hostVisibleCoherentTypeBits)
		memoryTypeBits = preferTypeBits(memoryTypeBits, a.deviceLocalTypeBits)
	default:
		return -1, errors.Newf("unknown memory preference %d", preference)
	}

	memoryTypeIndex := memutils.LowestBitIndex(memoryTypeBits)
	if memoryTypeIndex < 0 {
		return -1, errors.Wrapf(ErrNoCompatibleMemoryType, "preference %s", preference)
	}

	return memoryTypeIndex, nil
}

// preferTypeBits narrows typeBits to preferredBits, unless that would leave nothing
func preferTypeBits(typeBits, preferredBits uint32) uint32 {
	if typeBits&preferredBits != 0 {
		return typeBits & preferredBits
	}
	return typeBits
}

// Allocate finds a region of memory that satisfies the provided requirements. The region is taken from
// the first block of the chosen memory type that has room for it, or from a new block if none do.
func (a *Allocator) Allocate(requirements core1_0.MemoryRequirements, preference MemoryPreference) (*Allocation, error) {
	a.logger.Debug("Allocator::Allocate",
		slog.Int("size", requirements.Size),
		slog.Int("alignment", requirements.Alignment),
		slog.String("preference", preference.String()),
	)

	if requirements.Size <= 0 {
		return nil, errors.Newf("attempted to allocate %d bytes", requirements.Size)
	}
	if requirements.Alignment < 0 {
		return nil, errors.Newf("invalid alignment %d", requirements.Alignment)
	}
	if requirements.Alignment > 0 {
		memutils.DebugCheckPow2(uint(requirements.Alignment), "allocation alignment")
	}

	memoryTypeIndex, err := a.FindMemoryTypeIndex(requirements.MemoryTypeBits, preference)
	if err != nil {
		return nil, err
	}

	alloc, err := a.pools[memoryTypeIndex].Allocate(requirements.Size, uint(requirements.Alignment))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %d bytes from memory type %d", requirements.Size, memoryTypeIndex)
	}

	return alloc, nil
}

// Destroy releases all device memory owned by the allocator. Any allocation that has not been freed is
// logged and reported in the returned error, but its memory is released regardless.
func (a *Allocator) Destroy() error {
	var err error
	for _, pool := range a.pools {
		err = errors.CombineErrors(err, pool.Destroy())
	}

	return err
}

// BlockCount returns the number of blocks that have been allocated for the provided memory type. It
// panics if memoryTypeIndex is not a memory type of the device.
func (a *Allocator) BlockCount(memoryTypeIndex int) int {
	a.checkMemoryTypeIndex(memoryTypeIndex)
	return a.pools[memoryTypeIndex].BlockCount()
}

// FreeRegions returns a snapshot of the free regions of one block, in ascending offset order
func (a *Allocator) FreeRegions(memoryTypeIndex int, blockIndex int) ([]metadata.FreeRegion, error) {
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(a.pools) {
		return nil, errors.Newf("invalid memory type index %d", memoryTypeIndex)
	}

	return a.pools[memoryTypeIndex].FreeRegions(blockIndex)
}

// CalculateStatistics returns detailed statistics for all blocks of the provided memory type. It panics
// if memoryTypeIndex is not a memory type of the device.
func (a *Allocator) CalculateStatistics(memoryTypeIndex int) memutils.DetailedStatistics {
	a.checkMemoryTypeIndex(memoryTypeIndex)
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.pools[memoryTypeIndex].AddDetailedStatistics(&stats)
	return stats
}

// CalculateTotalStatistics returns summary statistics for every block the allocator owns
func (a *Allocator) CalculateTotalStatistics() memutils.Statistics {
	var stats memutils.Statistics
	for _, pool := range a.pools {
		pool.AddStatistics(&stats)
	}
	return stats
}

// HeapBudgets returns block and allocation usage for every memory heap
func (a *Allocator) HeapBudgets() []memutils.Budget {
	budgets := make([]memutils.Budget, a.deviceMemory.MemoryHeapCount())
	a.deviceMemory.HeapBudgets(0, budgets)
	return budgets
}

// Validate runs internal consistency checks over every block. It is expensive and intended for tests
// and diagnostics.
func (a *Allocator) Validate() error {
	for _, pool := range a.pools {
		if err := pool.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// BuildStatsString returns a json document describing every memory type, the blocks allocated from it,
// and, for each block, its allocations and free regions, followed by totals across all memory types
func (a *Allocator) BuildStatsString() string {
	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	var total memutils.DetailedStatistics
	total.Clear()

	typesObj := rootObj.Name("MemoryTypes").Object()
	for memoryTypeIndex, pool := range a.pools {
		typeObj := typesObj.Name(strconv.Itoa(memoryTypeIndex)).Object()

		memoryType := a.deviceMemory.MemoryTypeProperties(memoryTypeIndex)
		typeObj.Name("HeapIndex").Int(memoryType.HeapIndex)
		typeObj.Name("Flags").String(memoryType.PropertyFlags.String())

		stats := a.CalculateStatistics(memoryTypeIndex)
		total.AddDetailedStatistics(&stats)

		statsObj := typeObj.Name("Stats").Object()
		printDetailedStatistics(&statsObj, &stats)
		statsObj.End()

		pool.PrintDetailedMap(typeObj)
		typeObj.End()
	}
	typesObj.End()

	totalObj := rootObj.Name("Total").Object()
	printDetailedStatistics(&totalObj, &total)
	totalObj.End()

	rootObj.End()
	return string(writer.Bytes())
}

func printStatistics(json *jwriter.ObjectState, stats *memutils.Statistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedBytes").Int(stats.UnusedBytes())
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	printStatistics(json, &stats.Statistics)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}
