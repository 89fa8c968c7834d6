// Package renderer composes the device, chain, pipeline, descriptor binder, command
// buffers and frame synchronizer into one frame loop, and owns the order in which they are
// built, rebuilt and torn down.
package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/renderloop/commands"
	"github.com/vkngwrapper/renderloop/descriptor"
	"github.com/vkngwrapper/renderloop/device"
	"github.com/vkngwrapper/renderloop/frame"
	"github.com/vkngwrapper/renderloop/pipeline"
	"github.com/vkngwrapper/renderloop/resource"
	"github.com/vkngwrapper/renderloop/swapchain"
	"golang.org/x/exp/slog"
)

// Window is the window system side: the drawable the chain is sized to, the instance
// extensions it needs and the native surface over it.
type Window interface {
	frame.Window
	InstanceExtensions() []string
	CreateSurface(instance core1_0.CoreInstanceDriver, extension khr_surface.ExtensionDriver) (khr_surface.Surface, error)
}

// Scene is the application side of a frame.
type Scene interface {
	// UpdateUniforms writes imageIndex's per-frame uniform data. The GPU is done with it.
	UpdateUniforms(imageIndex int, uniforms *Uniforms) error
	// RecordCommands issues draws inside the render pass. The pipeline, and the frame
	// group's set if the renderer owns one, are already bound.
	RecordCommands(p *pipeline.Pipeline, imageIndex int, commandBuffer core1_0.CommandBuffer) error
	// ChainRebuilt runs after every chain rebuild, before the next frame is recorded. When
	// imageCount differs from the previous chain, the binder has dropped every per-frame set
	// and the scene must create its own again.
	ChainRebuilt(imageCount int) error
}

// Renderer is not safe for concurrent use. Everything except asset uploads happens on the
// thread that calls DrawFrame.
type Renderer struct {
	opts   Options
	logger *slog.Logger
	window Window
	scene  Scene

	instance         *device.Instance
	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface
	ctx              *device.Context
	dev              *resource.VulkanDevice
	uploader         *resource.Uploader

	backend backend
	// buffers is where frame uniforms are created; dev outside of tests.
	buffers resource.Device

	binder     *descriptor.Binder
	frameGroup frameLayout
	uniforms   *frameUniforms
	frameSets  []*descriptor.Set

	chain    *swapchain.Chain
	pipeline *pipeline.Pipeline
	commands *commands.Set

	gpu  *frame.VulkanGPU
	sync *frame.Synchronizer
}

var (
	_ frame.Chain    = (*Renderer)(nil)
	_ frame.Producer = (*Renderer)(nil)
	_ frame.Target   = (*Renderer)(nil)
)

// New brings up everything up to the first frame. On failure whatever was created is
// released again.
func New(global core1_0.GlobalDriver, window Window, opts Options) (*Renderer, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FramesInFlight == 0 {
		opts.FramesInFlight = frame.DefaultFramesInFlight
	}
	if opts.FramesInFlight < 0 {
		return nil, errors.Newf("frames in flight must be positive, got %d", opts.FramesInFlight)
	}

	err := opts.Pipeline.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid pipeline config")
	}

	frameGroup, err := resolveFrameGroup(opts.Groups, opts.FrameGroup)
	if err != nil {
		return nil, err
	}

	r := &Renderer{
		opts:       opts,
		logger:     opts.Logger,
		window:     window,
		frameGroup: frameGroup,
	}

	err = r.init(global)
	if err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

func (r *Renderer) init(global core1_0.GlobalDriver) error {
	var err error
	r.instance, err = device.NewInstance(r.opts.Device, global, r.window.InstanceExtensions(), r.logger)
	if err != nil {
		return err
	}

	r.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(r.instance.Driver)
	r.surface, err = r.window.CreateSurface(r.instance.Driver, r.surfaceExtension)
	if err != nil {
		return errors.Wrap(err, "create surface")
	}

	r.ctx, err = device.New(r.opts.Device, r.instance.Driver, r.surfaceExtension, r.surface, r.logger)
	if err != nil {
		return err
	}
	r.dev = resource.NewVulkanDevice(r.ctx)
	r.buffers = r.dev
	r.uploader = resource.NewUploader(r.dev, r.logger)
	r.backend = &vulkanBackend{
		ctx:      r.ctx,
		dev:      r.dev,
		window:   r.window,
		pipeline: r.opts.Pipeline,
		logger:   r.logger,
	}

	err = r.createChain()
	if err != nil {
		return err
	}

	r.gpu, err = frame.NewVulkanGPU(r.ctx, r, r.opts.FramesInFlight)
	if err != nil {
		return err
	}

	r.sync, err = frame.NewSynchronizer(r.gpu, r, r.window, r, frame.Options{
		FramesInFlight: r.opts.FramesInFlight,
		Logger:         r.logger,
	})
	return err
}

// createChain builds the first chain, then the binder sized to it, the frame resources and
// everything else that depends on the chain.
func (r *Renderer) createChain() error {
	var err error
	r.chain, err = r.backend.newChain()
	if err != nil {
		return err
	}

	r.binder, err = r.backend.newBinder(r.opts.Groups, r.chain.ImageCount())
	if err != nil {
		return err
	}

	err = r.createFrameResources()
	if err != nil {
		return err
	}

	return r.createChainDependents()
}

// createFrameResources creates one uniform buffer per frame-group binding per chain image
// and the per-frame sets over them.
func (r *Renderer) createFrameResources() error {
	if !r.frameGroup.owned() {
		return nil
	}

	var err error
	r.uniforms, err = newFrameUniforms(r.buffers, r.frameGroup.sizes, r.binder.ImageCount())
	if err != nil {
		return err
	}

	r.frameSets, err = r.binder.CreateFrameSets(r.opts.FrameGroup, r.uniforms.buffers, nil)
	return err
}

func (r *Renderer) destroyFrameResources() {
	r.frameSets = nil
	r.uniforms.destroy()
	r.uniforms = nil
}

// createChainDependents builds the pipeline and command buffers for the current chain.
func (r *Renderer) createChainDependents() error {
	var err error
	r.pipeline, err = r.backend.buildPipeline(r.chain, r.binder.Layouts())
	if err != nil {
		return err
	}

	r.commands, err = r.backend.allocateCommands(r.chain.ImageCount())
	return err
}

func (r *Renderer) destroyChainDependents() {
	if r.commands != nil {
		r.backend.freeCommands(r.commands)
		r.commands = nil
	}

	if r.pipeline != nil {
		r.backend.destroyPipeline(r.pipeline)
		r.pipeline = nil
	}
}

// SetScene installs the application side of the frame. It must be set before DrawFrame.
func (r *Renderer) SetScene(scene Scene) {
	r.scene = scene
}

// DrawFrame runs one iteration of the frame loop.
func (r *Renderer) DrawFrame() error {
	if r.scene == nil {
		return errors.AssertionFailedf("draw frame with no scene")
	}

	return r.sync.DrawFrame()
}

// NotifyResized forwards a window resize; the chain is rebuilt after the next present.
func (r *Renderer) NotifyResized() {
	r.sync.NotifyResized()
}

func (r *Renderer) Stats() frame.Stats {
	return r.sync.Stats()
}

// WaitIdle drains the device. Resources the scene created must only be destroyed after it.
func (r *Renderer) WaitIdle() error {
	return r.ctx.WaitIdle()
}

func (r *Renderer) Context() *device.Context {
	return r.ctx
}

func (r *Renderer) Device() *resource.VulkanDevice {
	return r.dev
}

func (r *Renderer) Uploader() *resource.Uploader {
	return r.uploader
}

func (r *Renderer) Binder() *descriptor.Binder {
	return r.binder
}

// Extent is the current chain extent.
func (r *Renderer) Extent() core1_0.Extent2D {
	return r.chain.Extent
}

func (r *Renderer) ImageCount() int {
	return r.chain.ImageCount()
}

func (r *Renderer) Generation() uuid.UUID {
	if r.chain == nil {
		return uuid.Nil
	}
	return r.chain.Generation
}

// Rebuild tears down the command buffers, the pipeline and the chain, in that order, and
// builds them back up against the current surface. The descriptor pool and the per-frame
// uniforms are only rebuilt when the image count changes. The scene hears about every
// rebuild. Called with the device idle.
func (r *Renderer) Rebuild() error {
	r.destroyChainDependents()
	if r.chain != nil {
		r.backend.destroyChain(r.chain)
		r.chain = nil
	}

	chain, err := r.backend.newChain()
	if err != nil {
		return err
	}
	r.chain = chain

	if imageCount := chain.ImageCount(); imageCount != r.binder.ImageCount() {
		r.logger.Info("chain image count changed",
			slog.Int("previous", r.binder.ImageCount()),
			slog.Int("images", imageCount))

		r.destroyFrameResources()
		err = r.binder.Reset(imageCount)
		if err != nil {
			return err
		}

		err = r.createFrameResources()
		if err != nil {
			return err
		}
	}

	err = r.createChainDependents()
	if err != nil {
		return err
	}

	if r.scene == nil {
		return nil
	}
	return errors.Wrap(r.scene.ChainRebuilt(chain.ImageCount()), "scene chain rebuild")
}

func (r *Renderer) UpdateUniforms(image int) error {
	if r.uniforms == nil {
		return r.scene.UpdateUniforms(image, &Uniforms{Image: image, Extent: r.chain.Extent, dev: r.buffers})
	}

	return r.scene.UpdateUniforms(image, r.uniforms.forImage(image, r.chain.Extent))
}

// Record re-records image's command buffer from scratch.
func (r *Renderer) Record(image int) error {
	commandBuffer, err := r.commands.Begin(image, 0)
	if err != nil {
		return err
	}

	err = r.record(commandBuffer, image)
	endErr := r.commands.End()
	if err != nil {
		return err
	}
	return endErr
}

func (r *Renderer) record(commandBuffer core1_0.CommandBuffer, image int) error {
	err := r.backend.beginPass(r.pipeline, commandBuffer, image)
	if err != nil {
		return err
	}

	if r.frameGroup.owned() {
		r.backend.bindFrameSet(r.pipeline, commandBuffer, r.frameGroup.setIndex, r.frameSets[image])
	}

	err = r.scene.RecordCommands(r.pipeline, image, commandBuffer)
	r.backend.endPass(r.pipeline, commandBuffer)
	return err
}

func (r *Renderer) Swapchain() khr_swapchain.Swapchain {
	return r.chain.Handle
}

func (r *Renderer) CommandBuffer(image int) core1_0.CommandBuffer {
	return r.commands.Buffer(image)
}

// Close waits for the device and destroys everything in reverse order of creation. It is
// safe on a partially initialized Renderer.
func (r *Renderer) Close() {
	if r.ctx != nil && r.ctx.Driver != nil {
		err := r.ctx.WaitIdle()
		if err != nil {
			r.logger.Error("wait for device idle at shutdown", slog.Any("error", err))
		}
	}

	if r.gpu != nil {
		r.gpu.Destroy()
		r.gpu = nil
	}

	if r.backend != nil {
		r.destroyChainDependents()

		if r.chain != nil {
			r.backend.destroyChain(r.chain)
			r.chain = nil
		}
	}

	r.destroyFrameResources()

	if r.binder != nil {
		r.binder.Destroy()
		r.binder = nil
	}

	if r.ctx != nil {
		r.ctx.Destroy()
		r.ctx = nil
	}

	if r.surface.Initialized() {
		r.surfaceExtension.DestroySurface(r.surface, nil)
		r.surface = khr_surface.Surface{}
	}

	if r.instance != nil {
		r.instance.Destroy()
		r.instance = nil
	}
}
