// Package swapchain owns the presentable-image chain: the surface-owned images the
// display rotates through and one view over each.
package swapchain

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/renderloop/device"
	"github.com/vkngwrapper/renderloop/resource"
	"golang.org/x/exp/slog"
)

// Drawable reports the size of the surface the chain presents to, in pixels.
type Drawable interface {
	DrawableSize() (width, height int)
}

// Chain is one generation of the presentable-image chain. It is invalidated as a unit:
// images are never destroyed individually, and a resize or stale present replaces the
// whole Chain.
type Chain struct {
	Handle khr_swapchain.Swapchain
	Images []core1_0.Image
	Views  []core1_0.ImageView

	Format      core1_0.Format
	Extent      core1_0.Extent2D
	PresentMode khr_surface.PresentMode

	// Generation identifies this chain. Every rebuild draws a fresh one.
	Generation uuid.UUID

	ctx *device.Context
}

// New re-queries surface support and builds a chain sized to the drawable.
func New(ctx *device.Context, drawable Drawable, logger *slog.Logger) (*Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}

	support, err := ctx.SurfaceSupport()
	if err != nil {
		return nil, err
	}

	width, height := drawable.DrawableSize()
	settings, err := Plan(support, width, height)
	if err != nil {
		return nil, err
	}

	if settings.Extent.Width == 0 || settings.Extent.Height == 0 {
		return nil, errors.Newf("surface reports a %dx%d extent", settings.Extent.Width, settings.Extent.Height)
	}

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int

	if !ctx.Families.Shared() {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = ctx.Families.Unique()
	}

	handle, _, err := ctx.SwapchainExtension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: ctx.Surface,

		MinImageCount:    settings.ImageCount,
		ImageFormat:      settings.SurfaceFormat.Format,
		ImageColorSpace:  settings.SurfaceFormat.ColorSpace,
		ImageExtent:      settings.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   support.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    settings.PresentMode,
		Clipped:        true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}

	chain := &Chain{
		Handle:      handle,
		Format:      settings.SurfaceFormat.Format,
		Extent:      settings.Extent,
		PresentMode: settings.PresentMode,
		Generation:  uuid.New(),
		ctx:         ctx,
	}

	err = chain.createImageViews()
	if err != nil {
		chain.Destroy()
		return nil, err
	}

	logger.Info("created swapchain",
		slog.String("generation", chain.Generation.String()),
		slog.Int("width", chain.Extent.Width),
		slog.Int("height", chain.Extent.Height),
		slog.Int("images", len(chain.Images)),
		slog.String("format", chain.Format.String()),
		slog.Any("presentMode", chain.PresentMode))

	return chain, nil
}

func (c *Chain) createImageViews() error {
	images, _, err := c.ctx.SwapchainExtension.GetSwapchainImages(c.Handle)
	if err != nil {
		return errors.Wrap(err, "get swapchain images")
	}
	c.Images = images

	for idx, image := range images {
		view, err := resource.CreateImageView(c.ctx.Driver, image, c.Format, core1_0.ImageAspectColor, 1)
		if err != nil {
			return errors.Wrapf(err, "create view for swapchain image %d", idx)
		}

		c.Views = append(c.Views, view)
	}

	return nil
}

// ImageCount is the number of images the driver actually created, which may exceed the
// requested minimum.
func (c *Chain) ImageCount() int {
	return len(c.Images)
}

// Destroy releases the views and then the chain. The device must be idle.
func (c *Chain) Destroy() {
	for _, view := range c.Views {
		c.ctx.Driver.DestroyImageView(view, nil)
	}
	c.Views = nil
	c.Images = nil

	if c.Handle.Initialized() {
		c.ctx.SwapchainExtension.DestroySwapchain(c.Handle, nil)
		c.Handle = khr_swapchain.Swapchain{}
	}
}
