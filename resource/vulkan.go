package resource

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderloop/device"
)

// VulkanDevice allocates resources with one dedicated allocation each and runs transfer
// work on the graphics queue.
type VulkanDevice struct {
	ctx *device.Context
}

var _ Device = (*VulkanDevice)(nil)

func NewVulkanDevice(ctx *device.Context) *VulkanDevice {
	return &VulkanDevice{ctx: ctx}
}

func (d *VulkanDevice) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (*Buffer, error) {
	if size <= 0 {
		return nil, errors.Newf("cannot create a buffer of %d bytes", size)
	}

	driver := d.ctx.Driver
	handle, _, err := driver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create buffer")
	}

	buffer := &Buffer{
		Handle:     handle,
		Size:       size,
		Usage:      usage,
		Properties: properties,
	}

	memRequirements := driver.GetBufferMemoryRequirements(handle)
	memoryTypeIndex, err := d.ctx.FindMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		d.DestroyBuffer(buffer)
		return nil, err
	}

	buffer.Memory, _, err = driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		d.DestroyBuffer(buffer)
		return nil, errors.Wrap(err, "allocate buffer memory")
	}

	_, err = driver.BindBufferMemory(handle, buffer.Memory, 0)
	if err != nil {
		d.DestroyBuffer(buffer)
		return nil, errors.Wrap(err, "bind buffer memory")
	}

	return buffer, nil
}

func (d *VulkanDevice) DestroyBuffer(buffer *Buffer) {
	if buffer == nil {
		return
	}

	if buffer.Handle.Initialized() {
		d.ctx.Driver.DestroyBuffer(buffer.Handle, nil)
		buffer.Handle = core1_0.Buffer{}
	}

	if buffer.Memory.Initialized() {
		d.ctx.Driver.FreeMemory(buffer.Memory, nil)
		buffer.Memory = core1_0.DeviceMemory{}
	}
}

func (d *VulkanDevice) CreateImage(info ImageInfo) (*Image, error) {
	if info.MipLevels < 1 {
		info.MipLevels = 1
	}
	if info.Samples == 0 {
		info.Samples = core1_0.Samples1
	}
	if info.Aspect == 0 {
		info.Aspect = core1_0.ImageAspectColor
	}

	driver := d.ctx.Driver
	handle, _, err := driver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:     info.MipLevels,
		ArrayLayers:   1,
		Format:        info.Format,
		Tiling:        info.Tiling,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         info.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       info.Samples,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create image")
	}

	image := &Image{
		ImageInfo: info,
		Handle:    handle,
		Layout:    core1_0.ImageLayoutUndefined,
	}

	memReqs := driver.GetImageMemoryRequirements(handle)
	memoryIndex, err := d.ctx.FindMemoryType(memReqs.MemoryTypeBits, info.Properties)
	if err != nil {
		d.DestroyImage(image)
		return nil, err
	}

	image.Memory, _, err = driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		d.DestroyImage(image)
		return nil, errors.Wrap(err, "allocate image memory")
	}

	_, err = driver.BindImageMemory(handle, image.Memory, 0)
	if err != nil {
		d.DestroyImage(image)
		return nil, errors.Wrap(err, "bind image memory")
	}

	image.View, err = CreateImageView(driver, handle, info.Format, info.Aspect, info.MipLevels)
	if err != nil {
		d.DestroyImage(image)
		return nil, err
	}

	return image, nil
}

func (d *VulkanDevice) DestroyImage(image *Image) {
	if image == nil {
		return
	}

	if image.View.Initialized() {
		d.ctx.Driver.DestroyImageView(image.View, nil)
		image.View = core1_0.ImageView{}
	}

	if image.Handle.Initialized() {
		d.ctx.Driver.DestroyImage(image.Handle, nil)
		image.Handle = core1_0.Image{}
	}

	if image.Memory.Initialized() {
		d.ctx.Driver.FreeMemory(image.Memory, nil)
		image.Memory = core1_0.DeviceMemory{}
	}
}

func (d *VulkanDevice) mapped(buffer *Buffer, offset, size int) ([]byte, error) {
	if !buffer.HostVisible() {
		return nil, errors.Newf("buffer memory is not host visible (%s)", buffer.Properties)
	}

	if offset < 0 || size < 0 || offset+size > buffer.Size {
		return nil, errors.Newf("range [%d, %d) outside buffer of %d bytes", offset, offset+size, buffer.Size)
	}

	memoryPtr, _, err := d.ctx.Driver.MapMemory(buffer.Memory, offset, size, 0)
	if err != nil {
		return nil, errors.Wrap(err, "map memory")
	}

	return unsafe.Slice((*byte)(memoryPtr), size), nil
}

func (d *VulkanDevice) Write(buffer *Buffer, offset int, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	memory, err := d.mapped(buffer, offset, len(data))
	if err != nil {
		return err
	}
	defer d.ctx.Driver.UnmapMemory(buffer.Memory)

	copy(memory, data)
	return nil
}

func (d *VulkanDevice) Read(buffer *Buffer, offset, size int) ([]byte, error) {
	memory, err := d.mapped(buffer, offset, size)
	if err != nil {
		return nil, err
	}
	defer d.ctx.Driver.UnmapMemory(buffer.Memory)

	out := make([]byte, size)
	copy(out, memory)
	return out, nil
}

func (d *VulkanDevice) SupportsLinearBlit(format core1_0.Format) bool {
	return d.ctx.SupportsLinearBlit(format)
}

func (d *VulkanDevice) Execute(record func(cmd Commands) error) error {
	driver := d.ctx.Driver

	buffers, _, err := driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.ctx.CommandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return errors.Wrap(err, "allocate single-use command buffer")
	}

	buffer := buffers[0]
	defer driver.FreeCommandBuffers(buffer)

	_, err = driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return errors.Wrap(err, "begin single-use command buffer")
	}

	err = record(&singleUse{driver: driver, buffer: buffer})
	if err != nil {
		// The buffer must leave the recording state before it is freed
		_, _ = driver.EndCommandBuffer(buffer)
		return err
	}

	_, err = driver.EndCommandBuffer(buffer)
	if err != nil {
		return errors.Wrap(err, "end single-use command buffer")
	}

	_, err = driver.QueueSubmit(d.ctx.GraphicsQueue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return errors.Wrap(err, "submit single-use command buffer")
	}

	_, err = driver.QueueWaitIdle(d.ctx.GraphicsQueue)
	return errors.Wrap(err, "wait for transfer")
}

// NewTexture creates a linear, repeating, anisotropic sampler covering every mip level of
// image.
func (d *VulkanDevice) NewTexture(image *Image) (*Texture, error) {
	sampler, _, err := d.ctx.Driver.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: true,
		MaxAnisotropy:    d.ctx.MaxAnisotropy,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
		MinLod:     0,
		MaxLod:     float32(image.MipLevels),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create sampler")
	}

	return &Texture{Image: image, Sampler: sampler}, nil
}

// DestroyTexture releases the sampler and the image under it.
func (d *VulkanDevice) DestroyTexture(texture *Texture) {
	if texture == nil {
		return
	}

	if texture.Sampler.Initialized() {
		d.ctx.Driver.DestroySampler(texture.Sampler, nil)
		texture.Sampler = core1_0.Sampler{}
	}

	d.DestroyImage(texture.Image)
}

// CreateImageView creates a 2D view over mipLevels levels of image.
func CreateImageView(driver core1_0.CoreDeviceDriver, image core1_0.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags, mipLevels int) (core1_0.ImageView, error) {
	imageView, _, err := driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	return imageView, errors.Wrap(err, "create image view")
}

type singleUse struct {
	driver core1_0.CoreDeviceDriver
	buffer core1_0.CommandBuffer
}

func (c *singleUse) CopyBuffer(src, dst *Buffer, size int) error {
	if size > src.Size || size > dst.Size {
		return errors.AssertionFailedf("copy of %d bytes from %d-byte buffer into %d-byte buffer", size, src.Size, dst.Size)
	}

	err := c.driver.CmdCopyBuffer(c.buffer, src.Handle, dst.Handle,
		core1_0.BufferCopy{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      size,
		},
	)
	return errors.Wrap(err, "record buffer copy")
}

func (c *singleUse) CopyBufferToImage(src *Buffer, dst *Image) error {
	if dst.Layout != core1_0.ImageLayoutTransferDstOptimal {
		return errors.AssertionFailedf("copy into image in layout %s", dst.Layout)
	}

	err := c.driver.CmdCopyBufferToImage(c.buffer, src.Handle, dst.Handle, core1_0.ImageLayoutTransferDstOptimal,
		core1_0.BufferImageCopy{
			BufferOffset:      0,
			BufferRowLength:   0,
			BufferImageHeight: 0,

			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     dst.Aspect,
				MipLevel:       0,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
			ImageExtent: core1_0.Extent3D{Width: dst.Width, Height: dst.Height, Depth: 1},
		},
	)
	return errors.Wrap(err, "record buffer to image copy")
}

func (c *singleUse) TransitionLayout(image *Image, oldLayout, newLayout core1_0.ImageLayout) error {
	transition, err := LayoutTransition(oldLayout, newLayout)
	if err != nil {
		return err
	}

	err = c.driver.CmdPipelineBarrier(c.buffer, transition.SrcStage, transition.DstStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               image.Handle,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     image.Aspect,
				BaseMipLevel:   0,
				LevelCount:     image.MipLevels,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			SrcAccessMask: transition.SrcAccess,
			DstAccessMask: transition.DstAccess,
		},
	})
	if err != nil {
		return errors.Wrap(err, "record layout transition")
	}

	image.Layout = newLayout
	return nil
}

func (c *singleUse) levelBarrier(image *Image, level int, oldLayout, newLayout core1_0.ImageLayout) error {
	transition, err := LayoutTransition(oldLayout, newLayout)
	if err != nil {
		return err
	}

	err = c.driver.CmdPipelineBarrier(c.buffer, transition.SrcStage, transition.DstStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               image.Handle,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     image.Aspect,
				BaseMipLevel:   level,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			SrcAccessMask: transition.SrcAccess,
			DstAccessMask: transition.DstAccess,
		},
	})
	return errors.Wrapf(err, "record barrier for mip level %d", level)
}

func (c *singleUse) GenerateMipmaps(image *Image) error {
	if image.Layout != core1_0.ImageLayoutTransferDstOptimal {
		return errors.AssertionFailedf("mipmap generation from layout %s", image.Layout)
	}

	mipWidth := image.Width
	mipHeight := image.Height
	for i := 1; i < image.MipLevels; i++ {
		err := c.levelBarrier(image, i-1, core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutTransferSrcOptimal)
		if err != nil {
			return err
		}

		nextMipWidth := mipWidth
		nextMipHeight := mipHeight

		if nextMipWidth > 1 {
			nextMipWidth /= 2
		}
		if nextMipHeight > 1 {
			nextMipHeight /= 2
		}

		err = c.driver.CmdBlitImage(c.buffer, image.Handle, core1_0.ImageLayoutTransferSrcOptimal, image.Handle, core1_0.ImageLayoutTransferDstOptimal, []core1_0.ImageBlit{
			{
				SrcSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     image.Aspect,
					MipLevel:       i - 1,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
				SrcOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: mipWidth, Y: mipHeight, Z: 1},
				},

				DstSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     image.Aspect,
					MipLevel:       i,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
				DstOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: nextMipWidth, Y: nextMipHeight, Z: 1},
				},
			},
		}, core1_0.FilterLinear)
		if err != nil {
			return errors.Wrapf(err, "blit mip level %d", i)
		}

		err = c.levelBarrier(image, i-1, core1_0.ImageLayoutTransferSrcOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
		if err != nil {
			return err
		}

		mipWidth = nextMipWidth
		mipHeight = nextMipHeight
	}

	err := c.levelBarrier(image, image.MipLevels-1, core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
	if err != nil {
		return err
	}

	image.Layout = core1_0.ImageLayoutShaderReadOnlyOptimal
	return nil
}
