package memory

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/deferred/internal/utils"
	"github.com/vkngwrapper/deferred/memory/internal/vulkan"
	"github.com/vkngwrapper/deferred/memutils"
	"github.com/vkngwrapper/deferred/memutils/metadata"
	"golang.org/x/exp/slog"
)

// memoryPool owns every block allocated from a single memory type. The mutex guards the block list
// and the metadata of every block in it.
type memoryPool struct {
	logger       *slog.Logger
	deviceMemory *vulkan.DeviceMemoryProperties

	memoryTypeIndex     int
	heapIndex           int
	pageSize            int
	hostVisible         bool
	deviceLocal         bool
	hostVisibleCoherent bool

	mutex       utils.OptionalRWMutex
	blocks      []*memoryBlock
	nextBlockID int
}

func newMemoryPool(logger *slog.Logger, useMutex bool, deviceMemory *vulkan.DeviceMemoryProperties, memoryTypeIndex int, pageSize int) *memoryPool {
	return &memoryPool{
		logger:       logger,
		deviceMemory: deviceMemory,

		memoryTypeIndex:     memoryTypeIndex,
		heapIndex:           deviceMemory.MemoryTypeIndexToHeapIndex(memoryTypeIndex),
		pageSize:            pageSize,
		hostVisible:         deviceMemory.IsMemoryTypeHostVisible(memoryTypeIndex),
		deviceLocal:         deviceMemory.IsMemoryTypeDeviceLocal(memoryTypeIndex),
		hostVisibleCoherent: deviceMemory.IsMemoryTypeHostVisibleCoherent(memoryTypeIndex),

		mutex: utils.OptionalRWMutex{UseMutex: useMutex},
	}
}

func (p *memoryPool) BlockCount() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return len(p.blocks)
}

// Allocate carves size bytes aligned to alignment out of the first block with a large enough free
// region, growing the pool by one block if none has room
func (p *memoryPool) Allocate(size int, alignment uint) (*Allocation, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, block := range p.blocks {
		success, request, err := block.metadata.CreateAllocationRequest(size, alignment)
		if err != nil {
			return nil, err
		}
		if !success {
			continue
		}

		alloc, err := p.commitAllocation(block, request)
		if err != nil {
			return nil, err
		}

		p.logger.Debug("    Returned from existing block",
			slog.Int("block.id", block.id),
			slog.Int("offset", alloc.offset),
		)
		return alloc, nil
	}

	block, err := p.createBlock(memutils.AlignUp(size, uint(p.pageSize)))
	if err != nil {
		return nil, err
	}

	success, request, err := block.metadata.CreateAllocationRequest(size, alignment)
	if err != nil {
		return nil, err
	}
	if !success {
		panic("a newly-created memory block could not hold the allocation it was created for")
	}

	alloc, err := p.commitAllocation(block, request)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("    Created new block",
		slog.Int("block.id", block.id),
		slog.Int("offset", alloc.offset),
	)
	return alloc, nil
}

func (p *memoryPool) createBlock(blockSize int) (*memoryBlock, error) {
	memory, err := p.deviceMemory.AllocateVulkanMemory(p.memoryTypeIndex, blockSize)
	if err != nil {
		return nil, err
	}

	block := &memoryBlock{}
	block.Init(p.logger, p.deviceMemory, p.memoryTypeIndex, memory, blockSize, p.nextBlockID)

	if p.hostVisible {
		err = block.Map()
		if err != nil {
			p.deviceMemory.FreeVulkanMemory(p.memoryTypeIndex, blockSize, memory)
			return nil, err
		}
	}

	p.nextBlockID++
	p.blocks = append(p.blocks, block)

	p.logger.LogAttrs(context.Background(), slog.LevelInfo, "Allocated new memory block",
		slog.Int("block.id", block.id),
		slog.Int("memoryType", p.memoryTypeIndex),
		slog.Int("size", blockSize),
		slog.Bool("mapped", block.mappedData != nil),
	)

	return block, nil
}

func (p *memoryPool) commitAllocation(block *memoryBlock, request metadata.AllocationRequest) (*Allocation, error) {
	alloc := &Allocation{}
	alloc.init(p, block, request)

	err := block.metadata.Alloc(request, alloc)
	if err != nil {
		return nil, err
	}

	p.deviceMemory.AddAllocation(p.heapIndex, request.Item.Size+request.Item.Padding)
	memutils.DebugValidate(block)

	return alloc, nil
}

func (p *memoryPool) free(alloc *Allocation) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	block := alloc.block
	if block == nil || block.metadata == nil {
		return errors.Wrapf(ErrUnknownAllocation, "allocation at offset %d belongs to a destroyed block", alloc.offset)
	}

	userData, err := block.metadata.AllocationUserData(alloc.handle)
	if err != nil || userData != alloc {
		return errors.Wrapf(ErrUnknownAllocation, "block %d of memory type %d has no allocation at offset %d", block.id, p.memoryTypeIndex, alloc.offset)
	}

	err = block.metadata.Free(alloc.handle)
	if err != nil {
		return err
	}

	p.deviceMemory.RemoveAllocation(p.heapIndex, alloc.size+alloc.padding)
	memutils.DebugValidate(block)

	return nil
}

// Destroy releases every block in the pool. Blocks that still hold allocations are released anyway
// and reported in the returned error.
func (p *memoryPool) Destroy() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var err error
	for _, block := range p.blocks {
		err = errors.CombineErrors(err, block.Destroy())
	}
	p.blocks = nil

	return err
}

func (p *memoryPool) FreeRegions(blockIndex int) ([]metadata.FreeRegion, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if blockIndex < 0 || blockIndex >= len(p.blocks) {
		return nil, errors.Newf("memory type %d has no block at index %d", p.memoryTypeIndex, blockIndex)
	}

	return p.blocks[blockIndex].metadata.FreeRegions(), nil
}

func (p *memoryPool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	for _, block := range p.blocks {
		block.metadata.AddDetailedStatistics(stats)
	}
}

func (p *memoryPool) AddStatistics(stats *memutils.Statistics) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	for _, block := range p.blocks {
		block.metadata.AddStatistics(stats)
	}
}

func (p *memoryPool) Validate() error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	for _, block := range p.blocks {
		if err := block.Validate(); err != nil {
			return errors.Wrapf(err, "block %d of memory type %d failed validation", block.id, p.memoryTypeIndex)
		}
	}

	return nil
}

func (p *memoryPool) PrintDetailedMap(json jwriter.ObjectState) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	blocksObj := json.Name("Blocks").Object()
	defer blocksObj.End()

	for _, block := range p.blocks {
		blockObj := blocksObj.Name(strconv.Itoa(block.id)).Object()

		blockObj.Name("Mapped").Bool(block.mappedData != nil)
		block.metadata.BlockJsonData(blockObj)

		p.printDetailedMapAllocations(block.metadata, blockObj)

		blockObj.End()
	}
}

func (p *memoryPool) printDetailedMapAllocations(md metadata.BlockMetadata, json jwriter.ObjectState) {
	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = md.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			obj.Name("Offset").Int(offset)
			obj.Name("Size").Int(size)
			if free {
				obj.Name("Type").String("Free")
				return nil
			}

			obj.Name("Type").String("Allocation")
			if alloc, isAllocation := userData.(*Allocation); isAllocation && alloc != nil {
				alloc.printParameters(&obj)
			}
			return nil
		})
}
