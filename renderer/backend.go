package renderer

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderloop/commands"
	"github.com/vkngwrapper/renderloop/descriptor"
	"github.com/vkngwrapper/renderloop/device"
	"github.com/vkngwrapper/renderloop/pipeline"
	"github.com/vkngwrapper/renderloop/resource"
	"github.com/vkngwrapper/renderloop/swapchain"
	"golang.org/x/exp/slog"
)

// backend creates and destroys everything whose lifetime follows the chain, and records
// the fixed part of every frame around the scene's commands.
type backend interface {
	newChain() (*swapchain.Chain, error)
	destroyChain(chain *swapchain.Chain)

	newBinder(groups []descriptor.Group, imageCount int) (*descriptor.Binder, error)

	buildPipeline(chain *swapchain.Chain, layouts []core1_0.DescriptorSetLayout) (*pipeline.Pipeline, error)
	destroyPipeline(p *pipeline.Pipeline)

	allocateCommands(count int) (*commands.Set, error)
	freeCommands(set *commands.Set)

	beginPass(p *pipeline.Pipeline, commandBuffer core1_0.CommandBuffer, image int) error
	bindFrameSet(p *pipeline.Pipeline, commandBuffer core1_0.CommandBuffer, setIndex int, set *descriptor.Set)
	endPass(p *pipeline.Pipeline, commandBuffer core1_0.CommandBuffer)
}

type vulkanBackend struct {
	ctx      *device.Context
	dev      *resource.VulkanDevice
	window   Window
	pipeline pipeline.Config
	logger   *slog.Logger
}

var _ backend = (*vulkanBackend)(nil)

func (b *vulkanBackend) newChain() (*swapchain.Chain, error) {
	return swapchain.New(b.ctx, b.window, b.logger)
}

func (b *vulkanBackend) destroyChain(chain *swapchain.Chain) {
	chain.Destroy()
}

func (b *vulkanBackend) newBinder(groups []descriptor.Group, imageCount int) (*descriptor.Binder, error) {
	return descriptor.New(b.ctx.Driver, groups, imageCount, b.logger)
}

func (b *vulkanBackend) buildPipeline(chain *swapchain.Chain, layouts []core1_0.DescriptorSetLayout) (*pipeline.Pipeline, error) {
	return pipeline.Build(b.ctx, b.dev, chain, layouts, b.pipeline, b.logger)
}

func (b *vulkanBackend) destroyPipeline(p *pipeline.Pipeline) {
	p.Destroy()
}

func (b *vulkanBackend) allocateCommands(count int) (*commands.Set, error) {
	return commands.Allocate(b.ctx.Driver, b.ctx.CommandPool, count)
}

func (b *vulkanBackend) freeCommands(set *commands.Set) {
	set.Free(b.ctx.Driver)
}

func (b *vulkanBackend) beginPass(p *pipeline.Pipeline, commandBuffer core1_0.CommandBuffer, image int) error {
	return p.Begin(commandBuffer, image)
}

func (b *vulkanBackend) bindFrameSet(p *pipeline.Pipeline, commandBuffer core1_0.CommandBuffer, setIndex int, set *descriptor.Set) {
	b.ctx.Driver.CmdBindDescriptorSets(commandBuffer, core1_0.PipelineBindPointGraphics, p.Layout,
		setIndex, []core1_0.DescriptorSet{set.Handle}, nil)
}

func (b *vulkanBackend) endPass(p *pipeline.Pipeline, commandBuffer core1_0.CommandBuffer) {
	p.End(commandBuffer)
}
