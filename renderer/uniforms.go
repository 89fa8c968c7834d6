package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderloop/resource"
)

// Uniforms is the host-visible uniform storage of one chain image. It is only handed out
// after the frame fence guarding that image has been waited on.
type Uniforms struct {
	Image  int
	Extent core1_0.Extent2D

	dev     resource.Device
	buffers []*resource.Buffer
}

// Len is the number of uniform bindings in the frame group.
func (u *Uniforms) Len() int {
	return len(u.buffers)
}

// Write copies data to the start of binding's buffer.
func (u *Uniforms) Write(binding int, data []byte) error {
	if binding < 0 || binding >= len(u.buffers) {
		return errors.AssertionFailedf("uniform binding %d out of range [0, %d)", binding, len(u.buffers))
	}

	buffer := u.buffers[binding]
	if len(data) > buffer.Size {
		return errors.Wrapf(resource.ErrSizeMismatch, "%d bytes into %d-byte uniform binding %d", len(data), buffer.Size, binding)
	}

	return u.dev.Write(buffer, 0, data)
}

// WriteUniform encodes value and writes it to binding.
func WriteUniform[T any](u *Uniforms, binding int, value T) error {
	data, err := resource.Encode([]T{value})
	if err != nil {
		return err
	}

	return u.Write(binding, data)
}

// frameUniforms is the per-image, per-binding uniform buffer grid.
type frameUniforms struct {
	dev     resource.Device
	buffers [][]*resource.Buffer
}

func newFrameUniforms(dev resource.Device, sizes []int, imageCount int) (*frameUniforms, error) {
	u := &frameUniforms{dev: dev}

	for image := 0; image < imageCount; image++ {
		var perImage []*resource.Buffer
		for binding, size := range sizes {
			buffer, err := dev.CreateBuffer(size, core1_0.BufferUsageUniformBuffer,
				core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
			if err != nil {
				u.buffers = append(u.buffers, perImage)
				u.destroy()
				return nil, errors.Wrapf(err, "create uniform buffer %d for image %d", binding, image)
			}
			perImage = append(perImage, buffer)
		}
		u.buffers = append(u.buffers, perImage)
	}

	return u, nil
}

func (u *frameUniforms) forImage(image int, extent core1_0.Extent2D) *Uniforms {
	return &Uniforms{
		Image:   image,
		Extent:  extent,
		dev:     u.dev,
		buffers: u.buffers[image],
	}
}

func (u *frameUniforms) destroy() {
	if u == nil {
		return
	}

	for _, perImage := range u.buffers {
		for _, buffer := range perImage {
			u.dev.DestroyBuffer(buffer)
		}
	}
	u.buffers = nil
}
