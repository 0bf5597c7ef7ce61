package metadata

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/deferred/memutils"
)

// FreeListBlockMetadata is a BlockMetadata implementation that keeps an offset-ordered list of free
// regions and places new allocations in the first region that can hold them once alignment padding
// is accounted for. Freed ranges are merged with their neighbors immediately, so no two free regions
// are ever adjacent.
type FreeListBlockMetadata struct {
	BlockMetadataBase

	freeRegions []FreeRegion
	sumFreeSize int
	allocations *swiss.Map[BlockAllocationHandle, Suballocation]
}

var _ BlockMetadata = &FreeListBlockMetadata{}

func NewFreeListBlockMetadata() *FreeListBlockMetadata {
	return &FreeListBlockMetadata{
		allocations: swiss.NewMap[BlockAllocationHandle, Suballocation](42),
	}
}

func (m *FreeListBlockMetadata) Init(size int) {
	m.BlockMetadataBase.Init(size)
	m.Clear()
}

func (m *FreeListBlockMetadata) Clear() {
	m.freeRegions = m.freeRegions[:0]
	m.sumFreeSize = m.size
	if m.size > 0 {
		m.freeRegions = append(m.freeRegions, FreeRegion{Offset: 0, Size: m.size})
	}
	m.allocations.Clear()
}

func (m *FreeListBlockMetadata) AllocationCount() int {
	return m.allocations.Count()
}

func (m *FreeListBlockMetadata) FreeRegionsCount() int {
	return len(m.freeRegions)
}

func (m *FreeListBlockMetadata) SumFreeSize() int {
	return m.sumFreeSize
}

func (m *FreeListBlockMetadata) IsEmpty() bool {
	return m.allocations.Count() == 0
}

func (m *FreeListBlockMetadata) FreeRegions() []FreeRegion {
	regions := make([]FreeRegion, len(m.freeRegions))
	copy(regions, m.freeRegions)
	return regions
}

func (m *FreeListBlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint) (bool, AllocationRequest, error) {
	if allocSize <= 0 {
		return false, AllocationRequest{}, errors.Newf("invalid allocation size %d", allocSize)
	}

	for _, region := range m.freeRegions {
		alignedOffset := memutils.AlignUp(region.Offset, allocAlignment)
		padding := alignedOffset - region.Offset

		if padding+allocSize > region.Size {
			continue
		}

		return true, AllocationRequest{
			BlockAllocationHandle: BlockAllocationHandle(alignedOffset),
			Size:                  allocSize,
			Item: Suballocation{
				Offset:  alignedOffset,
				Size:    allocSize,
				Padding: padding,
			},
			RegionOffset: region.Offset,
		}, nil
	}

	return false, AllocationRequest{}, nil
}

func (m *FreeListBlockMetadata) findRegion(offset int) (int, bool) {
	index := sort.Search(len(m.freeRegions), func(i int) bool {
		return m.freeRegions[i].Offset >= offset
	})

	return index, index < len(m.freeRegions) && m.freeRegions[index].Offset == offset
}

func (m *FreeListBlockMetadata) Alloc(request AllocationRequest, userData any) error {
	regionIndex, found := m.findRegion(request.RegionOffset)
	if !found {
		return errors.Newf("no free region at offset %d", request.RegionOffset)
	}

	region := &m.freeRegions[regionIndex]
	consumed := request.Item.Padding + request.Item.Size
	if request.Item.Offset-request.Item.Padding != region.Offset || consumed > region.Size {
		return errors.Newf("free region at offset %d of size %d cannot hold an allocation of %d bytes with %d bytes of padding",
			region.Offset, region.Size, request.Item.Size, request.Item.Padding)
	}

	region.Offset += consumed
	region.Size -= consumed
	if region.Size == 0 {
		m.freeRegions = append(m.freeRegions[:regionIndex], m.freeRegions[regionIndex+1:]...)
	}
	m.sumFreeSize -= consumed

	item := request.Item
	item.UserData = userData
	m.allocations.Put(request.BlockAllocationHandle, item)

	memutils.DebugValidate(m)
	return nil
}

func (m *FreeListBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	alloc, ok := m.allocations.Get(allocHandle)
	if !ok {
		return errors.Newf("no live allocation with handle %d", allocHandle)
	}

	freed := FreeRegion{Offset: alloc.Offset - alloc.Padding, Size: alloc.Size + alloc.Padding}
	if err := m.insertFreeRegion(freed); err != nil {
		return err
	}

	m.allocations.Delete(allocHandle)
	m.sumFreeSize += freed.Size

	memutils.DebugValidate(m)
	return nil
}

func (m *FreeListBlockMetadata) insertFreeRegion(freed FreeRegion) error {
	// Index of the first region that starts after the freed range
	index := sort.Search(len(m.freeRegions), func(i int) bool {
		return m.freeRegions[i].Offset > freed.Offset
	})

	if index > 0 && m.freeRegions[index-1].End() > freed.Offset {
		return errors.Newf("freed range at offset %d overlaps free region at offset %d", freed.Offset, m.freeRegions[index-1].Offset)
	}
	if index < len(m.freeRegions) && freed.End() > m.freeRegions[index].Offset {
		return errors.Newf("freed range at offset %d overlaps free region at offset %d", freed.Offset, m.freeRegions[index].Offset)
	}

	mergeLeft := index > 0 && m.freeRegions[index-1].End() == freed.Offset
	mergeRight := index < len(m.freeRegions) && freed.End() == m.freeRegions[index].Offset

	switch {
	case mergeLeft && mergeRight:
		m.freeRegions[index-1].Size += freed.Size + m.freeRegions[index].Size
		m.freeRegions = append(m.freeRegions[:index], m.freeRegions[index+1:]...)
	case mergeLeft:
		m.freeRegions[index-1].Size += freed.Size
	case mergeRight:
		m.freeRegions[index].Offset = freed.Offset
		m.freeRegions[index].Size += freed.Size
	default:
		m.freeRegions = append(m.freeRegions, FreeRegion{})
		copy(m.freeRegions[index+1:], m.freeRegions[index:])
		m.freeRegions[index] = freed
	}

	return nil
}

func (m *FreeListBlockMetadata) getAllocation(allocHandle BlockAllocationHandle) (Suballocation, error) {
	alloc, ok := m.allocations.Get(allocHandle)
	if !ok {
		return Suballocation{}, errors.Newf("no live allocation with handle %d", allocHandle)
	}
	return alloc, nil
}

func (m *FreeListBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return 0, err
	}
	return alloc.Offset, nil
}

func (m *FreeListBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return nil, err
	}
	return alloc.UserData, nil
}

func (m *FreeListBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	alloc, err := m.getAllocation(allocHandle)
	if err != nil {
		return err
	}
	alloc.UserData = userData
	m.allocations.Put(allocHandle, alloc)
	return nil
}

func (m *FreeListBlockMetadata) sortedAllocations() []BlockAllocationHandle {
	handles := make([]BlockAllocationHandle, 0, m.allocations.Count())
	m.allocations.Iter(func(handle BlockAllocationHandle, _ Suballocation) bool {
		handles = append(handles, handle)
		return false
	})
	sort.Slice(handles, func(i, j int) bool {
		return handles[i] < handles[j]
	})
	return handles
}

func (m *FreeListBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	handles := m.sortedAllocations()

	freeIndex := 0
	for _, handle := range handles {
		alloc, _ := m.allocations.Get(handle)
		start := alloc.Offset - alloc.Padding

		for freeIndex < len(m.freeRegions) && m.freeRegions[freeIndex].Offset < start {
			region := m.freeRegions[freeIndex]
			if err := handleBlock(NoAllocation, region.Offset, region.Size, nil, true); err != nil {
				return err
			}
			freeIndex++
		}

		if err := handleBlock(handle, start, alloc.Size+alloc.Padding, alloc.UserData, false); err != nil {
			return err
		}
	}

	for ; freeIndex < len(m.freeRegions); freeIndex++ {
		region := m.freeRegions[freeIndex]
		if err := handleBlock(NoAllocation, region.Offset, region.Size, nil, true); err != nil {
			return err
		}
	}

	return nil
}

func (m *FreeListBlockMetadata) Validate() error {
	if m.sumFreeSize > m.size || m.sumFreeSize < 0 {
		return errors.Newf("invalid metadata free size %d for block of size %d", m.sumFreeSize, m.size)
	}

	calculatedFree := 0
	for i, region := range m.freeRegions {
		if region.Size <= 0 {
			return errors.Newf("free region at offset %d has size %d", region.Offset, region.Size)
		}
		if region.Offset < 0 || region.End() > m.size {
			return errors.Newf("free region at offset %d of size %d lies outside the block", region.Offset, region.Size)
		}
		if i > 0 {
			prev := m.freeRegions[i-1]
			if prev.End() > region.Offset {
				return errors.Newf("free region at offset %d overlaps or precedes free region at offset %d", region.Offset, prev.Offset)
			}
			if prev.End() == region.Offset {
				return errors.Newf("free regions at offsets %d and %d are adjacent but were not merged", prev.Offset, region.Offset)
			}
		}
		calculatedFree += region.Size
	}

	if calculatedFree != m.sumFreeSize {
		return errors.Newf("free regions add up to %d bytes but metadata records %d", calculatedFree, m.sumFreeSize)
	}

	cursor := 0
	covered := 0
	err := m.VisitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if offset < cursor {
			return errors.Newf("region at offset %d overlaps the previous region ending at %d", offset, cursor)
		}
		cursor = offset + size
		covered += size
		return nil
	})
	if err != nil {
		return err
	}

	if covered != m.size {
		return errors.Newf("allocations and free regions cover %d bytes of a %d byte block", covered, m.size)
	}

	return nil
}

func (m *FreeListBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	for _, region := range m.freeRegions {
		stats.AddUnusedRange(region.Size)
	}

	m.allocations.Iter(func(_ BlockAllocationHandle, alloc Suballocation) bool {
		stats.AddAllocation(alloc.Size + alloc.Padding)
		return false
	})
}

func (m *FreeListBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocations.Count()
	stats.BlockBytes += m.size
	stats.AllocationBytes += m.size - m.sumFreeSize
}

func (m *FreeListBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	m.BlockMetadataBase.BlockJsonData(json, m.sumFreeSize, m.allocations.Count(), len(m.freeRegions))
}
