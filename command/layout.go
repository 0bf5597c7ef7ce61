package command

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/extensions/v2/khr_swapchain"
)

type layoutScope struct {
	access core1_0.AccessFlags
	stage  core1_0.PipelineStageFlags
}

var layoutScopes = map[core1_0.ImageLayout]layoutScope{
	core1_0.ImageLayoutUndefined: {
		access: 0,
		stage:  core1_0.PipelineStageTopOfPipe,
	},
	core1_0.ImageLayoutTransferDstOptimal: {
		access: core1_0.AccessTransferWrite,
		stage:  core1_0.PipelineStageTransfer,
	},
	core1_0.ImageLayoutShaderReadOnlyOptimal: {
		access: core1_0.AccessShaderRead,
		stage:  core1_0.PipelineStageFragmentShader,
	},
	core1_0.ImageLayoutDepthStencilAttachmentOptimal: {
		access: core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite,
		stage:  core1_0.PipelineStageEarlyFragmentTests,
	},
	core1_0.ImageLayoutGeneral: {
		access: core1_0.AccessShaderWrite,
		stage:  core1_0.PipelineStageComputeShader,
	},
	khr_swapchain.ImageLayoutPresentSrc: {
		access: 0,
		stage:  core1_0.PipelineStageBottomOfPipe,
	},
}

// LayoutScope returns the access mask and pipeline stage that work using an image in the provided layout
// is synchronized against
func LayoutScope(layout core1_0.ImageLayout) (core1_0.AccessFlags, core1_0.PipelineStageFlags, error) {
	scope, ok := layoutScopes[layout]
	if !ok {
		return 0, 0, errors.Wrapf(ErrUnsupportedLayoutTransition, "layout %s", layout)
	}

	return scope.access, scope.stage, nil
}

// CheckLayoutTransition returns ErrUnsupportedLayoutTransition if either layout is unknown
func CheckLayoutTransition(oldLayout, newLayout core1_0.ImageLayout) error {
	if _, _, err := LayoutScope(oldLayout); err != nil {
		return err
	}
	_, _, err := LayoutScope(newLayout)
	return err
}

// TransitionLayout records a pipeline barrier that moves the subresource range of image from oldLayout
// to newLayout
func TransitionLayout(
	commandBuffer gpu.CommandBuffer,
	image gpu.Image,
	oldLayout, newLayout core1_0.ImageLayout,
	subresourceRange core1_0.ImageSubresourceRange,
) error {
	srcAccess, srcStage, err := LayoutScope(oldLayout)
	if err != nil {
		return err
	}
	dstAccess, dstStage, err := LayoutScope(newLayout)
	if err != nil {
		return err
	}

	return commandBuffer.CmdPipelineBarrier(srcStage, dstStage, []gpu.ImageBarrier{
		{
			SrcAccessMask:    srcAccess,
			DstAccessMask:    dstAccess,
			OldLayout:        oldLayout,
			NewLayout:        newLayout,
			Image:            image,
			SubresourceRange: subresourceRange,
		},
	})
}
