package pipeline

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// multisampled reports whether the pass renders into offscreen multisampled targets and
// resolves into the chain image, or renders into the chain image directly.
func multisampled(samples core1_0.SampleCountFlags) bool {
	return samples != core1_0.Samples1
}

// renderPassInfo describes the single-subpass pass: multisampled colour, multisampled depth
// and a single-sample resolve target that is presented. With one sample the colour
// attachment is the chain image itself and there is nothing to resolve.
func renderPassInfo(colorFormat, depthFormat core1_0.Format, samples core1_0.SampleCountFlags) core1_0.RenderPassCreateInfo {
	colorFinalLayout := core1_0.ImageLayoutColorAttachmentOptimal
	if !multisampled(samples) {
		colorFinalLayout = khr_swapchain.ImageLayoutPresentSrc
	}

	attachments := []core1_0.AttachmentDescription{
		{
			Format:         colorFormat,
			Samples:        samples,
			LoadOp:         core1_0.AttachmentLoadOpClear,
			StoreOp:        core1_0.AttachmentStoreOpStore,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutUndefined,
			FinalLayout:    colorFinalLayout,
		},
		{
			Format:         depthFormat,
			Samples:        samples,
			LoadOp:         core1_0.AttachmentLoadOpClear,
			StoreOp:        core1_0.AttachmentStoreOpDontCare,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutUndefined,
			FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	subpass := core1_0.SubpassDescription{
		PipelineBindPoint: core1_0.PipelineBindPointGraphics,
		ColorAttachments: []core1_0.AttachmentReference{
			{
				Attachment: 0,
				Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
			},
		},
		DepthStencilAttachment: &core1_0.AttachmentReference{
			Attachment: 1,
			Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}

	if multisampled(samples) {
		attachments = append(attachments, core1_0.AttachmentDescription{
			Format:         colorFormat,
			Samples:        core1_0.Samples1,
			LoadOp:         core1_0.AttachmentLoadOpDontCare,
			StoreOp:        core1_0.AttachmentStoreOpStore,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutUndefined,
			FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
		})

		subpass.ResolveAttachments = []core1_0.AttachmentReference{
			{
				Attachment: 2,
				Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
			},
		}
	}

	return core1_0.RenderPassCreateInfo{
		Attachments: attachments,
		Subpasses:   []core1_0.SubpassDescription{subpass},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	}
}

// framebufferAttachments orders views to match renderPassInfo.
func framebufferAttachments(color, depth, chainView core1_0.ImageView, samples core1_0.SampleCountFlags) []core1_0.ImageView {
	if !multisampled(samples) {
		return []core1_0.ImageView{chainView, depth}
	}

	return []core1_0.ImageView{color, depth, chainView}
}
