package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/memory/internal/vulkan"
	"github.com/vkngwrapper/deferred/memutils"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// thread at a time or are synchronized by some other mechanism, but performance may improve because
	// internal mutexes are not used.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
}

const (
	// DefaultPageSize is the value that is used as the PageSize when none is provided via CreateOptions.
	// It is equal to 1Mb.
	DefaultPageSize int = 1024 * 1024
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// PageSize is the granularity of new memory blocks: every block is sized to the smallest multiple
	// of PageSize that can hold the allocation that caused it to be created. It must be a power of two.
	PageSize int

	// HeapSizeLimits can be left empty. If it is provided, though, it must be a slice
	// with a number of entries corresponding to the number of heaps in the device. Each entry
	// must be either the maximum number of bytes that should be allocated from the corresponding
	// device memory heap, or 0 indicating no limit.
	//
	// Growing a pool past its heap's limit fails with ErrOutOfDeviceMemory.
	HeapSizeLimits []int
}

// New creates a new Allocator
//
// logger - Receives allocator diagnostics: block creation at info level, individual allocations at debug
// level and leaked allocations at error level
//
// device - The Device that memory will be allocated from
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, device gpu.Device, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		return nil, errors.New("attempted to create an allocator with a nil logger")
	}
	if device == nil {
		return nil, errors.New("attempted to create an allocator with a nil device")
	}

	pageSize := options.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < 0 {
		return nil, errors.Wrapf(memutils.PowerOfTwoError, "page size is %d", pageSize)
	}
	if err := memutils.CheckPow2(pageSize, "page size"); err != nil {
		return nil, err
	}

	deviceMemory, err := vulkan.NewDeviceMemoryProperties(device, options.HeapSizeLimits)
	if err != nil {
		return nil, err
	}

	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	allocator := &Allocator{
		logger:       logger,
		device:       device,
		deviceMemory: deviceMemory,
		createFlags:  options.Flags,
		pageSize:     pageSize,

		globalMemoryTypeBits:        deviceMemory.CalculateGlobalMemoryTypeBits(),
		deviceLocalTypeBits:         deviceMemory.MemoryTypeBitsWithProperties(core1_0.MemoryPropertyDeviceLocal),
		hostVisibleCoherentTypeBits: deviceMemory.MemoryTypeBitsWithProperties(core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent),
	}

	// Initialize memory pools
	typeCount := deviceMemory.MemoryTypeCount()
	allocator.pools = make([]*memoryPool, typeCount)
	for memoryTypeIndex := 0; memoryTypeIndex < typeCount; memoryTypeIndex++ {
		allocator.pools[memoryTypeIndex] = newMemoryPool(logger, useMutex, deviceMemory, memoryTypeIndex, pageSize)
	}

	logger.Debug("Allocator::New",
		slog.Int("memoryTypes", typeCount),
		slog.Int("pageSize", pageSize),
		slog.String("flags", options.Flags.String()),
	)

	return allocator, nil
}
