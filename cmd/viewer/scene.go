package main

import (
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderloop/descriptor"
	"github.com/vkngwrapper/renderloop/pipeline"
	"github.com/vkngwrapper/renderloop/renderer"
	"github.com/vkngwrapper/renderloop/resource"
)

const (
	cameraGroup   = "camera"
	materialGroup = "material"
)

type Vertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
	TexCoord mgl32.Vec2
}

type UniformBufferObject struct {
	Model mgl32.Mat4
	View  mgl32.Mat4
	Proj  mgl32.Mat4
}

func vertexLayout() pipeline.VertexLayout {
	v := Vertex{}
	return pipeline.VertexLayout{
		Bindings: []core1_0.VertexInputBindingDescription{
			{
				Binding:   0,
				Stride:    int(unsafe.Sizeof(v)),
				InputRate: core1_0.VertexInputRateVertex,
			},
		},
		Attributes: []core1_0.VertexInputAttributeDescription{
			{
				Binding:  0,
				Location: 0,
				Format:   core1_0.FormatR32G32B32SignedFloat,
				Offset:   int(unsafe.Offsetof(v.Position)),
			},
			{
				Binding:  0,
				Location: 1,
				Format:   core1_0.FormatR32G32B32SignedFloat,
				Offset:   int(unsafe.Offsetof(v.Color)),
			},
			{
				Binding:  0,
				Location: 2,
				Format:   core1_0.FormatR32G32SignedFloat,
				Offset:   int(unsafe.Offsetof(v.TexCoord)),
			},
		},
	}
}

// bindingGroups is set 0, the camera uniforms rewritten every frame, and set 1, the
// model's texture.
func bindingGroups() []descriptor.Group {
	return []descriptor.Group{
		{
			Name:      cameraGroup,
			Frequency: descriptor.PerFrame,
			Bindings: []descriptor.Binding{
				{
					Type:   core1_0.DescriptorTypeUniformBuffer,
					Stages: core1_0.StageVertex,
					Size:   int(unsafe.Sizeof(UniformBufferObject{})),
				},
			},
		},
		{
			Name:      materialGroup,
			Frequency: descriptor.Static,
			Instances: 1,
			Bindings: []descriptor.Binding{
				{
					Type:   core1_0.DescriptorTypeCombinedImageSampler,
					Stages: core1_0.StageFragment,
				},
			},
		},
	}
}

type scene struct {
	driver core1_0.CoreDeviceDriver
	dev    *resource.VulkanDevice

	vertices *resource.Buffer
	indices  *resource.Buffer
	texture  *resource.Texture
	material *descriptor.Set
}

var _ renderer.Scene = (*scene)(nil)

// uniforms spins the model a quarter turn per second around Z.
func uniforms(seconds float64, extent core1_0.Extent2D) UniformBufferObject {
	timePeriod := math.Mod(seconds, 4.0)

	ubo := UniformBufferObject{}
	ubo.Model = mgl32.HomogRotate3DZ(float32(timePeriod * math.Pi / 2.0))
	ubo.View = mgl32.LookAtV(
		mgl32.Vec3{2, 2, 2},
		mgl32.Vec3{0, 0, 0},
		mgl32.Vec3{0, 0, 1},
	)

	aspectRatio := float32(extent.Width) / float32(extent.Height)

	near := float32(0.1)
	far := float32(10.0)
	fovy := float32(math.Pi / 4.0)

	ubo.Proj = mgl32.Perspective(fovy, aspectRatio, near, far)
	// Clip space Y points down
	ubo.Proj[5] *= -1

	return ubo
}

func (s *scene) UpdateUniforms(imageIndex int, frame *renderer.Uniforms) error {
	return renderer.WriteUniform(frame, 0, uniforms(hrtime.Now().Seconds(), frame.Extent))
}

func (s *scene) RecordCommands(p *pipeline.Pipeline, imageIndex int, commandBuffer core1_0.CommandBuffer) error {
	s.driver.CmdBindVertexBuffers(commandBuffer, 0, []core1_0.Buffer{s.vertices.Handle}, []int{0})
	s.driver.CmdBindIndexBuffer(commandBuffer, s.indices.Handle, 0, core1_0.IndexTypeUInt32)
	s.driver.CmdBindDescriptorSets(commandBuffer, core1_0.PipelineBindPointGraphics, p.Layout, 1, []core1_0.DescriptorSet{
		s.material.Handle,
	}, nil)
	s.driver.CmdDrawIndexed(commandBuffer, s.indices.Count, 1, 0, 0, 0)
	return nil
}

// ChainRebuilt has nothing to do: the camera sets belong to the renderer and the material
// set is static, which the binder rewrites in place.
func (s *scene) ChainRebuilt(imageCount int) error {
	return nil
}

// destroy releases the scene's buffers and texture. The device must be idle.
func (s *scene) destroy() {
	s.dev.DestroyTexture(s.texture)
	s.dev.DestroyBuffer(s.indices)
	s.dev.DestroyBuffer(s.vertices)
}
