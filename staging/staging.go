package staging

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/command"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/memory"
	"github.com/vkngwrapper/deferred/memutils"
	"golang.org/x/exp/slog"
)

// imageCopyAlignment is the texel block size image data is staged at
const imageCopyAlignment uint = 16

// Options contains optional settings when creating a StagingBuffer
type Options struct {
	// FenceTimeout bounds how long Flush waits for the transfer it submitted. It defaults to
	// command.DefaultFenceTimeout.
	FenceTimeout time.Duration
}

// StagingBuffer batches host data bound for device-local buffers and images. Data is written into a
// persistently-mapped host-visible buffer and the corresponding transfer commands are queued; Flush
// submits them all at once on the transfer queue. A StagingBuffer must only be used from one goroutine
// at a time.
type StagingBuffer struct {
	logger       *slog.Logger
	queue        *command.Queue
	buffer       *memory.Buffer
	mapped       []byte
	capacity     int
	usedBytes    int
	fenceTimeout time.Duration

	bufferCopies []stagedBufferCopy
	imageCopies  []stagedImageCopy

	// inFlight is set when a flushed transfer did not finish within the fence timeout. Staging
	// memory may not be written until it signals.
	inFlight *command.Fence
}

// New creates a staging buffer of capacity bytes from allocator. Transfers are submitted to queue,
// which should have at least one one-time command buffer allocated.
func New(logger *slog.Logger, allocator *memory.Allocator, queue *command.Queue, capacity int, options Options) (*StagingBuffer, error) {
	if logger == nil {
		return nil, errors.New("attempted to create a staging buffer with a nil logger")
	}
	if allocator == nil || queue == nil {
		return nil, errors.New("attempted to create a staging buffer without an allocator and queue")
	}
	if capacity <= 0 {
		return nil, errors.Newf("attempted to create a staging buffer with a capacity of %d bytes", capacity)
	}

	fenceTimeout := options.FenceTimeout
	if fenceTimeout <= 0 {
		fenceTimeout = command.DefaultFenceTimeout
	}

	buffer, err := memory.NewBuffer(allocator, capacity, memory.BufferUsageStaging, memory.MemoryPreferenceCPUToGPU)
	if err != nil {
		return nil, err
	}

	mapped := buffer.Allocation().MappedBytes()
	if mapped == nil {
		err = errors.Wrapf(ErrNotHostVisible, "memory type %d", buffer.Allocation().MemoryTypeIndex())
		return nil, errors.CombineErrors(err, buffer.Destroy())
	}

	logger.Debug("StagingBuffer::New",
		slog.Int("capacity", capacity),
		slog.Int("memoryType", buffer.Allocation().MemoryTypeIndex()),
	)

	return &StagingBuffer{
		logger:       logger,
		queue:        queue,
		buffer:       buffer,
		mapped:       mapped,
		capacity:     capacity,
		fenceTimeout: fenceTimeout,
	}, nil
}

// Buffer returns the host-visible buffer that staged data is written to
func (s *StagingBuffer) Buffer() *memory.Buffer { return s.buffer }

func (s *StagingBuffer) Capacity() int       { return s.capacity }
func (s *StagingBuffer) UsedBytes() int      { return s.usedBytes }
func (s *StagingBuffer) RemainingSpace() int { return s.capacity - s.usedBytes }

// PendingCopies returns the number of buffer and image copies that will be submitted by the next Flush
func (s *StagingBuffer) PendingCopies() (buffers, images int) {
	return len(s.bufferCopies), len(s.imageCopies)
}

// QueueBufferCopy stages src to be copied into dst at dstOffset. If src does not fit in the remaining
// space, the staging buffer is flushed first.
func (s *StagingBuffer) QueueBufferCopy(src []byte, dst gpu.Buffer, dstOffset int) error {
	size := len(src)
	if size > s.capacity {
		return errors.Wrapf(ErrExceedsCapacity, "%d bytes do not fit in a staging buffer of %d bytes", size, s.capacity)
	}
	if size == 0 {
		return nil
	}

	err := s.reserve(s.usedBytes, size)
	if err != nil {
		return err
	}

	srcOffset := s.usedBytes
	s.usedBytes += copy(s.mapped[srcOffset:], src)
	s.bufferCopies = append(s.bufferCopies, stagedBufferCopy{
		dst: dst,
		region: core1_0.BufferCopy{
			SrcOffset: srcOffset,
			DstOffset: dstOffset,
			Size:      size,
		},
	})

	return nil
}

// QueueBufferCopies stages srcs to be copied back to back into dst starting at baseDstOffset. When they
// fit in the staging buffer together they are copied with a single region; otherwise each is staged
// individually, flushing as needed.
func (s *StagingBuffer) QueueBufferCopies(srcs [][]byte, dst gpu.Buffer, baseDstOffset int) error {
	totalSize := 0
	for _, src := range srcs {
		totalSize += len(src)
	}

	if totalSize > s.capacity {
		dstOffset := baseDstOffset
		for _, src := range srcs {
			err := s.QueueBufferCopy(src, dst, dstOffset)
			if err != nil {
				return err
			}
			dstOffset += len(src)
		}
		return nil
	}
	if totalSize == 0 {
		return nil
	}

	err := s.reserve(s.usedBytes, totalSize)
	if err != nil {
		return err
	}

	srcOffset := s.usedBytes
	for _, src := range srcs {
		s.usedBytes += copy(s.mapped[s.usedBytes:], src)
	}
	s.bufferCopies = append(s.bufferCopies, stagedBufferCopy{
		dst: dst,
		region: core1_0.BufferCopy{
			SrcOffset: srcOffset,
			DstOffset: baseDstOffset,
			Size:      totalSize,
		},
	})

	return nil
}

// QueueImageCopy stages the data of src to be copied into dst. The destination is transitioned from
// options.PreLayout to transfer-destination layout before the copy and to options.PostLayout after it.
func (s *StagingBuffer) QueueImageCopy(src ImageSource, dst gpu.Image, options ImageCopyOptions) error {
	options = options.withDefaults()

	err := command.CheckLayoutTransition(options.PreLayout, core1_0.ImageLayoutTransferDstOptimal)
	if err != nil {
		return err
	}
	err = command.CheckLayoutTransition(core1_0.ImageLayoutTransferDstOptimal, options.PostLayout)
	if err != nil {
		return err
	}

	size := src.DataSize()
	if size > s.capacity {
		return errors.Wrapf(ErrExceedsCapacity, "image data of %d bytes does not fit in a staging buffer of %d bytes", size, s.capacity)
	}
	if size <= 0 {
		return errors.Newf("image source reported a data size of %d bytes", size)
	}

	err = s.reserve(memutils.AlignUp(s.usedBytes, imageCopyAlignment), size)
	if err != nil {
		return err
	}

	srcOffset := memutils.AlignUp(s.usedBytes, imageCopyAlignment)

	err = src.LoadData(s.mapped[srcOffset : srcOffset+size])
	if err != nil {
		return errors.Wrap(err, "failed to load image data into the staging buffer")
	}

	s.usedBytes = srcOffset + size
	s.imageCopies = append(s.imageCopies, stagedImageCopy{
		dst:              dst,
		preLayout:        options.PreLayout,
		postLayout:       options.PostLayout,
		subresourceRange: options.subresourceRange(),
		region: core1_0.BufferImageCopy{
			BufferOffset:     srcOffset,
			ImageSubresource: options.Subresource,
			ImageOffset:      options.DestOffset,
			ImageExtent:      src.Extent(),
		},
	})

	return nil
}

// reserve makes sure size bytes starting at offset can be written: the staging buffer is flushed if
// they do not fit, and any transfer still reading staging memory is waited on
func (s *StagingBuffer) reserve(offset, size int) error {
	if offset+size > s.capacity {
		err := s.Flush()
		if err != nil {
			return err
		}
	}

	return s.awaitInFlight()
}

func (s *StagingBuffer) awaitInFlight() error {
	if s.inFlight == nil {
		return nil
	}

	err := s.inFlight.Wait(s.fenceTimeout)
	if err != nil {
		return err
	}

	s.inFlight.Destroy()
	s.inFlight = nil
	return nil
}

// Flush records every staged copy into one one-time command buffer, submits it, and waits for it to
// complete. Flushing with nothing staged does nothing. If the wait times out, the staged copies are
// still considered submitted, ErrFenceTimeout is returned, and staging memory is not reused until the
// transfer completes.
func (s *StagingBuffer) Flush() error {
	if len(s.bufferCopies) == 0 && len(s.imageCopies) == 0 {
		return nil
	}

	s.logger.Debug("StagingBuffer::Flush",
		slog.Int("usedBytes", s.usedBytes),
		slog.Int("bufferCopies", len(s.bufferCopies)),
		slog.Int("imageCopies", len(s.imageCopies)),
	)

	ready, err := s.queue.HasReadyBuffer()
	if err != nil {
		return err
	}
	if !ready {
		err = s.queue.WaitIdle()
		if err != nil {
			return err
		}
	}

	fence, err := s.queue.OneTimeRecordSubmit(s.recordCopies, command.SubmitOptions{})
	if err != nil {
		return err
	}

	s.bufferCopies = s.bufferCopies[:0]
	s.imageCopies = s.imageCopies[:0]
	s.usedBytes = 0

	err = fence.Wait(s.fenceTimeout)
	if err != nil {
		s.inFlight = fence
		return err
	}

	fence.Destroy()
	return nil
}

func (s *StagingBuffer) recordCopies(cmd *command.CommandBuffer) error {
	src := s.buffer.Native()

	for _, staged := range s.bufferCopies {
		err := cmd.CopyBuffer(src, staged.dst, staged.region)
		if err != nil {
			return err
		}
	}

	for _, staged := range s.imageCopies {
		err := cmd.TransitionLayout(staged.dst, staged.preLayout, core1_0.ImageLayoutTransferDstOptimal, staged.subresourceRange)
		if err != nil {
			return err
		}

		err = cmd.CopyBufferToImage(src, staged.dst, core1_0.ImageLayoutTransferDstOptimal, staged.region)
		if err != nil {
			return err
		}

		err = cmd.TransitionLayout(staged.dst, core1_0.ImageLayoutTransferDstOptimal, staged.postLayout, staged.subresourceRange)
		if err != nil {
			return err
		}
	}

	return nil
}

// Destroy waits for any transfer still reading staging memory and releases the staging buffer. Copies
// that were staged but never flushed are discarded.
func (s *StagingBuffer) Destroy() error {
	err := s.awaitInFlight()

	if len(s.bufferCopies) > 0 || len(s.imageCopies) > 0 {
		s.logger.Warn("StagingBuffer::Destroy discarded staged copies",
			slog.Int("bufferCopies", len(s.bufferCopies)),
			slog.Int("imageCopies", len(s.imageCopies)),
		)
	}
	s.bufferCopies = nil
	s.imageCopies = nil
	s.mapped = nil

	return errors.CombineErrors(err, s.buffer.Destroy())
}
