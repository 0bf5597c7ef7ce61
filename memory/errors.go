package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/deferred/gpu"
)

var (
	// ErrOutOfDeviceMemory is returned, possibly wrapped, when a new block could not be allocated because
	// the device, the host or a configured heap limit ran out of memory
	ErrOutOfDeviceMemory = gpu.ErrOutOfDeviceMemory
	// ErrNoCompatibleMemoryType is returned when no memory type satisfies a resource's memory type bits
	ErrNoCompatibleMemoryType = errors.New("no compatible memory type")
	// ErrUnknownAllocation is returned when an allocation is released into a block that does not know it
	ErrUnknownAllocation = errors.New("allocation is not owned by this block")
	// ErrNotMapped is returned when host access is attempted on an allocation whose memory is not host-visible
	ErrNotMapped = errors.New("allocation is not mapped into host memory")
	// ErrOutOfBounds is returned when a host read or write would reach outside an allocation
	ErrOutOfBounds = errors.New("access is outside the bounds of the allocation")
)
