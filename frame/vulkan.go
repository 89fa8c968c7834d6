package frame

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/renderloop/device"
)

// Target resolves the live chain handle and per-image command buffers. Both change when
// the chain is rebuilt; the sync objects do not.
type Target interface {
	Swapchain() khr_swapchain.Swapchain
	CommandBuffer(image int) core1_0.CommandBuffer
}

// VulkanGPU owns the per-slot acquire semaphores, render-finished semaphores and fences
// and submits to the device's graphics and present queues.
type VulkanGPU struct {
	ctx    *device.Context
	target Target

	imageAvailable []core1_0.Semaphore
	renderFinished []core1_0.Semaphore
	inFlight       []core1_0.Fence
}

var _ GPU = (*VulkanGPU)(nil)

// NewVulkanGPU creates sync objects for framesInFlight slots. Fences start signaled so the
// first wait on each slot returns immediately.
func NewVulkanGPU(ctx *device.Context, target Target, framesInFlight int) (*VulkanGPU, error) {
	g := &VulkanGPU{ctx: ctx, target: target}

	for i := 0; i < framesInFlight; i++ {
		semaphore, _, err := ctx.Driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			g.Destroy()
			return nil, errors.Wrapf(err, "create acquire semaphore %d", i)
		}
		g.imageAvailable = append(g.imageAvailable, semaphore)

		semaphore, _, err = ctx.Driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			g.Destroy()
			return nil, errors.Wrapf(err, "create render-finished semaphore %d", i)
		}
		g.renderFinished = append(g.renderFinished, semaphore)

		fence, _, err := ctx.Driver.CreateFence(nil, core1_0.FenceCreateInfo{
			Flags: core1_0.FenceCreateSignaled,
		})
		if err != nil {
			g.Destroy()
			return nil, errors.Wrapf(err, "create in-flight fence %d", i)
		}
		g.inFlight = append(g.inFlight, fence)
	}

	return g, nil
}

func (g *VulkanGPU) WaitFrame(slot int) error {
	_, err := g.ctx.Driver.WaitForFences(true, common.NoTimeout, g.inFlight[slot])
	return err
}

func (g *VulkanGPU) ResetFrame(slot int) error {
	_, err := g.ctx.Driver.ResetFences(g.inFlight[slot])
	return err
}

func (g *VulkanGPU) AcquireImage(slot int) (int, Status, error) {
	imageIndex, res, err := g.ctx.SwapchainExtension.AcquireNextImage(g.target.Swapchain(), common.NoTimeout, &g.imageAvailable[slot], nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return -1, StatusOutOfDate, nil
	} else if err != nil {
		return -1, StatusOK, err
	}

	if res == khr_swapchain.VKSuboptimal {
		return imageIndex, StatusSuboptimal, nil
	}
	return imageIndex, StatusOK, nil
}

func (g *VulkanGPU) Submit(slot, image int) error {
	_, err := g.ctx.Driver.QueueSubmit(g.ctx.GraphicsQueue, &g.inFlight[slot],
		core1_0.SubmitInfo{
			WaitSemaphores:   []core1_0.Semaphore{g.imageAvailable[slot]},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
			CommandBuffers:   []core1_0.CommandBuffer{g.target.CommandBuffer(image)},
			SignalSemaphores: []core1_0.Semaphore{g.renderFinished[slot]},
		},
	)
	return err
}

func (g *VulkanGPU) Present(slot, image int) (Status, error) {
	res, err := g.ctx.SwapchainExtension.QueuePresent(g.ctx.PresentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{g.renderFinished[slot]},
		Swapchains:     []khr_swapchain.Swapchain{g.target.Swapchain()},
		ImageIndices:   []int{image},
	})
	if res == khr_swapchain.VKErrorOutOfDate {
		return StatusOutOfDate, nil
	} else if res == khr_swapchain.VKSuboptimal {
		return StatusSuboptimal, nil
	} else if err != nil {
		return StatusOK, err
	}

	return StatusOK, nil
}

func (g *VulkanGPU) WaitIdle() error {
	return g.ctx.WaitIdle()
}

// Destroy releases every sync object. The device must be idle.
func (g *VulkanGPU) Destroy() {
	for _, fence := range g.inFlight {
		g.ctx.Driver.DestroyFence(fence, nil)
	}
	g.inFlight = nil

	for _, semaphore := range g.renderFinished {
		g.ctx.Driver.DestroySemaphore(semaphore, nil)
	}
	g.renderFinished = nil

	for _, semaphore := range g.imageAvailable {
		g.ctx.Driver.DestroySemaphore(semaphore, nil)
	}
	g.imageAvailable = nil
}
