package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// ErrOutOfDeviceMemory marks errors produced when the device or host could not satisfy a native allocation
var ErrOutOfDeviceMemory = errors.New("out of device memory")

// WrapResult converts the (result, error) pair returned by a native call into a single error. Memory
// exhaustion results are marked with ErrOutOfDeviceMemory so they can be detected with errors.Is.
// A nil error is returned when err is nil.
func WrapResult(res common.VkResult, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	switch res {
	case core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfHostMemory:
		err = errors.Mark(err, ErrOutOfDeviceMemory)
	}

	return errors.Wrapf(err, format, args...)
}
