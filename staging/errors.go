package staging

import "github.com/cockroachdb/errors"

var (
	// ErrExceedsCapacity is returned when a single copy is larger than the whole staging buffer
	ErrExceedsCapacity = errors.New("data size exceeds staging buffer capacity")
	// ErrNotHostVisible is returned when the staging buffer's memory could not be mapped into host memory
	ErrNotHostVisible = errors.New("staging buffer memory is not host-visible")
)
