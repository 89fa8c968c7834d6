// Package pipeline builds everything that depends on the chain's format and extent: the
// render pass, the shared multisampled colour and depth targets, the graphics pipeline and
// one framebuffer per chain image.
package pipeline

import (
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderloop/device"
	"github.com/vkngwrapper/renderloop/resource"
	"github.com/vkngwrapper/renderloop/swapchain"
	"golang.org/x/exp/slog"
)

// minSampleShading is the fraction of samples shaded individually when sample-rate
// shading is on.
const minSampleShading = 0.2

// VertexLayout is the vertex input state.
type VertexLayout struct {
	Bindings   []core1_0.VertexInputBindingDescription
	Attributes []core1_0.VertexInputAttributeDescription
}

// Config is the fixed pipeline description. Shader paths are resolved against Shaders.
type Config struct {
	Shaders        fs.FS
	VertexShader   string
	FragmentShader string

	Vertex     VertexLayout
	ClearColor [4]float32
}

// Validate checks the parts of the config that are not left to the driver.
func (c Config) Validate() error {
	if c.Shaders == nil {
		return errors.New("no shader file system")
	}

	if c.VertexShader == "" || c.FragmentShader == "" {
		return errors.New("vertex and fragment shader paths are required")
	}

	bindings := map[int]bool{}
	for _, binding := range c.Vertex.Bindings {
		if bindings[binding.Binding] {
			return errors.Newf("vertex binding %d declared twice", binding.Binding)
		}
		bindings[binding.Binding] = true
	}

	locations := map[int]bool{}
	for _, attribute := range c.Vertex.Attributes {
		if !bindings[attribute.Binding] {
			return errors.Newf("vertex attribute at location %d reads undeclared binding %d", attribute.Location, attribute.Binding)
		}
		if locations[attribute.Location] {
			return errors.Newf("vertex location %d declared twice", attribute.Location)
		}
		locations[attribute.Location] = true
	}

	return nil
}

// Pipeline is one generation of chain-dependent rendering state.
type Pipeline struct {
	RenderPass   core1_0.RenderPass
	Layout       core1_0.PipelineLayout
	Handle       core1_0.Pipeline
	Framebuffers []core1_0.Framebuffer

	// Color is nil when rendering single-sampled straight into the chain image.
	Color *resource.Image
	Depth *resource.Image

	Extent     core1_0.Extent2D
	ClearColor [4]float32

	driver core1_0.CoreDeviceDriver
	dev    resource.Device
}

// Build creates the render pass, targets, pipeline and framebuffers for chain.
// setLayouts become descriptor sets 0..n-1 of the pipeline layout.
func Build(ctx *device.Context, dev resource.Device, chain *swapchain.Chain, setLayouts []core1_0.DescriptorSetLayout, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Extent:     chain.Extent,
		ClearColor: cfg.ClearColor,
		driver:     ctx.Driver,
		dev:        dev,
	}

	err = p.build(ctx, chain, setLayouts, cfg)
	if err != nil {
		p.Destroy()
		return nil, err
	}

	logger.Debug("built pipeline",
		slog.Int("framebuffers", len(p.Framebuffers)),
		slog.String("samples", ctx.Samples.String()),
		slog.Bool("sampleShading", ctx.SampleShading))
	return p, nil
}

func (p *Pipeline) build(ctx *device.Context, chain *swapchain.Chain, setLayouts []core1_0.DescriptorSetLayout, cfg Config) error {
	var err error
	p.RenderPass, _, err = p.driver.CreateRenderPass(nil, renderPassInfo(chain.Format, ctx.DepthFormat, ctx.Samples))
	if err != nil {
		return errors.Wrap(err, "create render pass")
	}

	err = p.createTargets(ctx, chain)
	if err != nil {
		return err
	}

	p.Layout, _, err = p.driver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: setLayouts,
	})
	if err != nil {
		return errors.Wrap(err, "create pipeline layout")
	}

	err = p.createGraphicsPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	return p.createFramebuffers(ctx, chain)
}

func (p *Pipeline) createTargets(ctx *device.Context, chain *swapchain.Chain) error {
	var err error

	if multisampled(ctx.Samples) {
		p.Color, err = p.dev.CreateImage(resource.ImageInfo{
			Width:      chain.Extent.Width,
			Height:     chain.Extent.Height,
			MipLevels:  1,
			Samples:    ctx.Samples,
			Format:     chain.Format,
			Tiling:     core1_0.ImageTilingOptimal,
			Usage:      core1_0.ImageUsageTransientAttachment | core1_0.ImageUsageColorAttachment,
			Properties: core1_0.MemoryPropertyDeviceLocal,
			Aspect:     core1_0.ImageAspectColor,
		})
		if err != nil {
			return errors.Wrap(err, "create colour target")
		}
	}

	p.Depth, err = p.dev.CreateImage(resource.ImageInfo{
		Width:      chain.Extent.Width,
		Height:     chain.Extent.Height,
		MipLevels:  1,
		Samples:    ctx.Samples,
		Format:     ctx.DepthFormat,
		Tiling:     core1_0.ImageTilingOptimal,
		Usage:      core1_0.ImageUsageDepthStencilAttachment,
		Properties: core1_0.MemoryPropertyDeviceLocal,
		Aspect:     core1_0.ImageAspectDepth,
	})
	return errors.Wrap(err, "create depth target")
}

func viewportState(extent core1_0.Extent2D) *core1_0.PipelineViewportStateCreateInfo {
	return &core1_0.PipelineViewportStateCreateInfo{
		Viewports: []core1_0.Viewport{
			{
				X:        0,
				Y:        0,
				Width:    float32(extent.Width),
				Height:   float32(extent.Height),
				MinDepth: 0,
				MaxDepth: 1,
			},
		},
		Scissors: []core1_0.Rect2D{
			{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: extent,
			},
		},
	}
}

func multisampleState(samples core1_0.SampleCountFlags, sampleShading bool) *core1_0.PipelineMultisampleStateCreateInfo {
	state := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  false,
		RasterizationSamples: samples,
		MinSampleShading:     1.0,
	}

	if sampleShading && multisampled(samples) {
		state.SampleShadingEnable = true
		state.MinSampleShading = minSampleShading
	}

	return state
}

func colorBlendState() *core1_0.PipelineColorBlendStateCreateInfo {
	return &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments: []core1_0.PipelineColorBlendAttachmentState{
			{
				BlendEnabled:        true,
				SrcColorBlendFactor: core1_0.BlendFactorSrcAlpha,
				DstColorBlendFactor: core1_0.BlendFactorOneMinusSrcAlpha,
				ColorBlendOp:        core1_0.BlendOpAdd,
				SrcAlphaBlendFactor: core1_0.BlendFactorOne,
				DstAlphaBlendFactor: core1_0.BlendFactorZero,
				AlphaBlendOp:        core1_0.BlendOpAdd,
				ColorWriteMask:      core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
			},
		},
	}
}

func (p *Pipeline) createGraphicsPipeline(ctx *device.Context, cfg Config) error {
	vertShader, err := loadShader(p.driver, cfg.Shaders, cfg.VertexShader)
	if err != nil {
		return err
	}
	defer p.driver.DestroyShaderModule(vertShader, nil)

	fragShader, err := loadShader(p.driver, cfg.Shaders, cfg.FragmentShader)
	if err != nil {
		return err
	}
	defer p.driver.DestroyShaderModule(fragShader, nil)

	pipelines, _, err := p.driver.CreateGraphicsPipelines(nil, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{
					Stage:  core1_0.StageVertex,
					Module: vertShader,
					Name:   "main",
				},
				{
					Stage:  core1_0.StageFragment,
					Module: fragShader,
					Name:   "main",
				},
			},
			VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
				VertexBindingDescriptions:   cfg.Vertex.Bindings,
				VertexAttributeDescriptions: cfg.Vertex.Attributes,
			},
			InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
				Topology:               core1_0.PrimitiveTopologyTriangleList,
				PrimitiveRestartEnable: false,
			},
			ViewportState: viewportState(p.Extent),
			RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
				DepthClampEnable:        false,
				RasterizerDiscardEnable: false,

				PolygonMode: core1_0.PolygonModeFill,
				CullMode:    core1_0.CullModeBack,
				FrontFace:   core1_0.FrontFaceCounterClockwise,

				DepthBiasEnable: false,

				LineWidth: 1.0,
			},
			MultisampleState: multisampleState(ctx.Samples, ctx.SampleShading),
			DepthStencilState: &core1_0.PipelineDepthStencilStateCreateInfo{
				DepthTestEnable:  true,
				DepthWriteEnable: true,
				DepthCompareOp:   core1_0.CompareOpLess,
			},
			ColorBlendState:   colorBlendState(),
			Layout:            p.Layout,
			RenderPass:        p.RenderPass,
			Subpass:           0,
			BasePipelineIndex: -1,
		},
	)
	if err != nil {
		return errors.Wrap(err, "create graphics pipeline")
	}

	p.Handle = pipelines[0]
	return nil
}

func (p *Pipeline) createFramebuffers(ctx *device.Context, chain *swapchain.Chain) error {
	var colorView core1_0.ImageView
	if p.Color != nil {
		colorView = p.Color.View
	}

	for idx, imageView := range chain.Views {
		framebuffer, _, err := p.driver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass:  p.RenderPass,
			Layers:      1,
			Attachments: framebufferAttachments(colorView, p.Depth.View, imageView, ctx.Samples),
			Width:       chain.Extent.Width,
			Height:      chain.Extent.Height,
		})
		if err != nil {
			return errors.Wrapf(err, "create framebuffer %d", idx)
		}

		p.Framebuffers = append(p.Framebuffers, framebuffer)
	}

	return nil
}

// Begin opens the render pass on the framebuffer for imageIndex and binds the pipeline.
func (p *Pipeline) Begin(commandBuffer core1_0.CommandBuffer, imageIndex int) error {
	err := p.driver.CmdBeginRenderPass(commandBuffer, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  p.RenderPass,
			Framebuffer: p.Framebuffers[imageIndex],
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: p.Extent,
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{p.ClearColor[0], p.ClearColor[1], p.ClearColor[2], p.ClearColor[3]},
				core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
			},
		})
	if err != nil {
		return errors.Wrap(err, "begin render pass")
	}

	p.driver.CmdBindPipeline(commandBuffer, core1_0.PipelineBindPointGraphics, p.Handle)
	return nil
}

func (p *Pipeline) End(commandBuffer core1_0.CommandBuffer) {
	p.driver.CmdEndRenderPass(commandBuffer)
}

// Destroy releases everything Build created, in reverse order. The GPU must be done with
// every framebuffer.
func (p *Pipeline) Destroy() {
	for _, framebuffer := range p.Framebuffers {
		p.driver.DestroyFramebuffer(framebuffer, nil)
	}
	p.Framebuffers = nil

	if p.Handle.Initialized() {
		p.driver.DestroyPipeline(p.Handle, nil)
		p.Handle = core1_0.Pipeline{}
	}

	if p.Layout.Initialized() {
		p.driver.DestroyPipelineLayout(p.Layout, nil)
		p.Layout = core1_0.PipelineLayout{}
	}

	p.dev.DestroyImage(p.Depth)
	p.Depth = nil
	p.dev.DestroyImage(p.Color)
	p.Color = nil

	if p.RenderPass.Initialized() {
		p.driver.DestroyRenderPass(p.RenderPass, nil)
		p.RenderPass = core1_0.RenderPass{}
	}
}
