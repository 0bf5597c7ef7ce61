package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
)

// ImageUsageTexture is the usage of sampled images that are filled through a staging buffer
const ImageUsageTexture = core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst

// ImageOptions describes an image to create. Format, Extent and Usage are required; every other field
// has a default.
type ImageOptions struct {
	Format core1_0.Format
	Extent core1_0.Extent3D
	Usage  core1_0.ImageUsageFlags

	// Samples defaults to core1_0.Samples1
	Samples core1_0.SampleCountFlags
	// Type defaults to core1_0.ImageType2D
	Type core1_0.ImageType
	// MipLevels defaults to 1
	MipLevels int
	// ArrayLayers defaults to 1
	ArrayLayers int
	// Tiling defaults to core1_0.ImageTilingOptimal
	Tiling core1_0.ImageTiling
	// Flags is passed to the native image create call unchanged
	Flags core1_0.ImageCreateFlags
}

func (o *ImageOptions) createInfo() core1_0.ImageCreateInfo {
	info := core1_0.ImageCreateInfo{
		Flags:         o.Flags,
		ImageType:     o.Type,
		Format:        o.Format,
		Extent:        o.Extent,
		MipLevels:     o.MipLevels,
		ArrayLayers:   o.ArrayLayers,
		Samples:       o.Samples,
		Tiling:        o.Tiling,
		Usage:         o.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	}

	if info.ImageType == 0 {
		info.ImageType = core1_0.ImageType2D
	}
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	if info.ArrayLayers == 0 {
		info.ArrayLayers = 1
	}
	if info.Samples == 0 {
		info.Samples = core1_0.Samples1
	}

	return info
}

// Image is a native image bound to memory drawn from an Allocator. Destroying the image returns its
// memory to the allocator.
type Image struct {
	image      gpu.Image
	allocation *Allocation
	format     core1_0.Format
	extent     core1_0.Extent3D
}

// NewImage creates a native image, allocates memory for it according to preference, and binds the two together
func NewImage(allocator *Allocator, options ImageOptions, preference MemoryPreference) (*Image, error) {
	if options.Extent.Width <= 0 || options.Extent.Height <= 0 || options.Extent.Depth <= 0 {
		return nil, errors.Newf("attempted to create an image with extent %dx%dx%d",
			options.Extent.Width, options.Extent.Height, options.Extent.Depth)
	}

	info := options.createInfo()
	image, res, err := allocator.device.CreateImage(info)
	if err != nil {
		return nil, gpu.WrapResult(res, err, "failed to create a %s image", info.Format)
	}

	allocation, err := allocator.Allocate(*image.MemoryRequirements(), preference)
	if err != nil {
		image.Destroy()
		return nil, err
	}

	res, err = image.BindImageMemory(allocation.Memory(), allocation.Offset())
	if err != nil {
		image.Destroy()
		_ = allocation.Free()
		return nil, gpu.WrapResult(res, err, "failed to bind image memory")
	}

	return &Image{
		image:      image,
		allocation: allocation,
		format:     info.Format,
		extent:     info.Extent,
	}, nil
}

// Native returns the underlying image
func (i *Image) Native() gpu.Image { return i.image }

func (i *Image) Allocation() *Allocation  { return i.allocation }
func (i *Image) Format() core1_0.Format   { return i.format }
func (i *Image) Extent() core1_0.Extent3D { return i.extent }

// Destroy destroys the native image and then frees its memory
func (i *Image) Destroy() error {
	if i.image == nil {
		return nil
	}

	i.image.Destroy()
	i.image = nil

	return i.allocation.Free()
}
