// Package resource owns GPU buffers and images and moves data into them.
//
// Resources have no reference counting. Whoever creates a resource destroys it, and only
// once no pending fence can still reference it.
package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// ErrSizeMismatch reports a copy between buffers of different sizes.
var ErrSizeMismatch = errors.New("mismatched buffer size")

// Buffer is a buffer handle plus its dedicated memory allocation.
type Buffer struct {
	Handle     core1_0.Buffer
	Memory     core1_0.DeviceMemory
	Size       int
	Count      int
	Usage      core1_0.BufferUsageFlags
	Properties core1_0.MemoryPropertyFlags
}

// HostVisible reports whether the CPU may map the buffer's memory.
func (b *Buffer) HostVisible() bool {
	return b.Properties&core1_0.MemoryPropertyHostVisible != 0
}

// ImageInfo describes a 2D image to create.
type ImageInfo struct {
	Width, Height int
	MipLevels     int
	Samples       core1_0.SampleCountFlags
	Format        core1_0.Format
	Tiling        core1_0.ImageTiling
	Usage         core1_0.ImageUsageFlags
	Properties    core1_0.MemoryPropertyFlags
	Aspect        core1_0.ImageAspectFlags
}

// Image is an image handle, its memory and a view covering all mip levels.
// Layout tracks the layout the last recorded transition left it in.
type Image struct {
	ImageInfo

	Handle core1_0.Image
	Memory core1_0.DeviceMemory
	View   core1_0.ImageView
	Layout core1_0.ImageLayout
}

// Texture is a sampled image.
type Texture struct {
	Image   *Image
	Sampler core1_0.Sampler
}

// Device is the allocation and submission surface the uploader needs.
type Device interface {
	CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (*Buffer, error)
	DestroyBuffer(buffer *Buffer)
	CreateImage(info ImageInfo) (*Image, error)
	DestroyImage(image *Image)

	// Write copies data into host-visible memory at offset.
	Write(buffer *Buffer, offset int, data []byte) error
	// Read copies size bytes out of host-visible memory at offset.
	Read(buffer *Buffer, offset, size int) ([]byte, error)

	// Execute records into a single-use command buffer, submits it and waits for the
	// queue to go idle before returning. Load-time only.
	Execute(record func(cmd Commands) error) error

	SupportsLinearBlit(format core1_0.Format) bool
}

// Commands are the transfer operations recorded inside Device.Execute.
type Commands interface {
	CopyBuffer(src, dst *Buffer, size int) error
	CopyBufferToImage(src *Buffer, dst *Image) error
	TransitionLayout(image *Image, oldLayout, newLayout core1_0.ImageLayout) error
	// GenerateMipmaps blits level 0 down the chain. Every level must be in
	// TransferDstOptimal; every level ends in ShaderReadOnlyOptimal.
	GenerateMipmaps(image *Image) error
}

// Transition is the stage/access pair on each side of an image layout barrier.
type Transition struct {
	SrcStage  core1_0.PipelineStageFlags
	DstStage  core1_0.PipelineStageFlags
	SrcAccess core1_0.AccessFlags
	DstAccess core1_0.AccessFlags
}

// LayoutTransition returns the barrier masks for a supported layout edge.
func LayoutTransition(oldLayout, newLayout core1_0.ImageLayout) (Transition, error) {
	switch {
	case oldLayout == core1_0.ImageLayoutUndefined && newLayout == core1_0.ImageLayoutTransferDstOptimal:
		return Transition{
			SrcStage:  core1_0.PipelineStageTopOfPipe,
			DstStage:  core1_0.PipelineStageTransfer,
			SrcAccess: 0,
			DstAccess: core1_0.AccessTransferWrite,
		}, nil
	case oldLayout == core1_0.ImageLayoutTransferDstOptimal && newLayout == core1_0.ImageLayoutShaderReadOnlyOptimal:
		return Transition{
			SrcStage:  core1_0.PipelineStageTransfer,
			DstStage:  core1_0.PipelineStageFragmentShader,
			SrcAccess: core1_0.AccessTransferWrite,
			DstAccess: core1_0.AccessShaderRead,
		}, nil
	case oldLayout == core1_0.ImageLayoutTransferDstOptimal && newLayout == core1_0.ImageLayoutTransferSrcOptimal:
		return Transition{
			SrcStage:  core1_0.PipelineStageTransfer,
			DstStage:  core1_0.PipelineStageTransfer,
			SrcAccess: core1_0.AccessTransferWrite,
			DstAccess: core1_0.AccessTransferRead,
		}, nil
	case oldLayout == core1_0.ImageLayoutTransferSrcOptimal && newLayout == core1_0.ImageLayoutShaderReadOnlyOptimal:
		return Transition{
			SrcStage:  core1_0.PipelineStageTransfer,
			DstStage:  core1_0.PipelineStageFragmentShader,
			SrcAccess: core1_0.AccessTransferRead,
			DstAccess: core1_0.AccessShaderRead,
		}, nil
	}

	return Transition{}, errors.Errorf("unexpected layout transition: %s -> %s", oldLayout, newLayout)
}

// BytesPerPixel reports the texel size of the colour formats the uploader accepts.
func BytesPerPixel(format core1_0.Format) (int, error) {
	switch format {
	case core1_0.FormatR8G8B8A8SRGB, core1_0.FormatR8G8B8A8UnsignedNormalized,
		core1_0.FormatB8G8R8A8SRGB, core1_0.FormatB8G8R8A8UnsignedNormalized:
		return 4, nil
	case core1_0.FormatR8UnsignedNormalized:
		return 1, nil
	}

	return 0, errors.Errorf("unsupported texture format %s", format)
}

// MipLevels is the full mip chain length for a width x height image.
func MipLevels(width, height int) int {
	largest := width
	if height > largest {
		largest = height
	}

	levels := 1
	for largest > 1 {
		largest /= 2
		levels++
	}
	return levels
}
