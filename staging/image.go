package staging

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
)

// ImageSource is image data that can be written directly into staging memory
type ImageSource interface {
	// DataSize is the number of bytes LoadData writes
	DataSize() int
	Extent() core1_0.Extent3D
	// LoadData writes the image's texels into dst, which is exactly DataSize bytes long
	LoadData(dst []byte) error
}

// ImageCopyOptions controls how a staged image copy is applied to its destination
type ImageCopyOptions struct {
	// PreLayout is the layout the destination image is in before the copy. It defaults to
	// core1_0.ImageLayoutUndefined, which discards the image's previous contents.
	PreLayout core1_0.ImageLayout
	// PostLayout is the layout the destination image is transitioned to after the copy. It defaults to
	// core1_0.ImageLayoutShaderReadOnlyOptimal.
	PostLayout core1_0.ImageLayout
	// Subresource defaults to the color aspect of mip level 0, array layer 0
	Subresource core1_0.ImageSubresourceLayers
	DestOffset  core1_0.Offset3D
}

func (o ImageCopyOptions) withDefaults() ImageCopyOptions {
	if o.PostLayout == core1_0.ImageLayoutUndefined {
		o.PostLayout = core1_0.ImageLayoutShaderReadOnlyOptimal
	}
	if o.Subresource.LayerCount == 0 {
		o.Subresource = core1_0.ImageSubresourceLayers{
			AspectMask:     core1_0.ImageAspectColor,
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		}
	}

	return o
}

func (o ImageCopyOptions) subresourceRange() core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     o.Subresource.AspectMask,
		BaseMipLevel:   o.Subresource.MipLevel,
		LevelCount:     1,
		BaseArrayLayer: o.Subresource.BaseArrayLayer,
		LayerCount:     o.Subresource.LayerCount,
	}
}

type stagedBufferCopy struct {
	dst    gpu.Buffer
	region core1_0.BufferCopy
}

type stagedImageCopy struct {
	dst              gpu.Image
	preLayout        core1_0.ImageLayout
	postLayout       core1_0.ImageLayout
	subresourceRange core1_0.ImageSubresourceRange
	region           core1_0.BufferImageCopy
}
