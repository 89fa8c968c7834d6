package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"testing/fstest"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderloop/resource"
)

const quadMaterial = `newmtl plain
Kd 1 1 1
`

const quadMesh = `mtllib quad.mtl
o quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
usemtl plain
f 1/1 2/2 3/3 4/4
`

func encodePNG(t *testing.T) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{B: 255, A: 255})

	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestLoadAssets(t *testing.T) {
	fsys := fstest.MapFS{
		"meshes/quad.obj": {Data: []byte(quadMesh)},
		"meshes/quad.mtl": {Data: []byte(quadMaterial)},
		"images/tex.png":  {Data: encodePNG(t)},
	}

	m, p, err := loadAssets(fsys, assetPaths{
		Mesh:     "meshes/quad.obj",
		Material: "meshes/quad.mtl",
		Texture:  "images/tex.png",
	})
	require.NoError(t, err)

	require.Len(t, m.Vertices, 4)
	require.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, m.Indices)
	require.Equal(t, mgl32.Vec3{1, 1, 0}, m.Vertices[2].Position)
	require.Equal(t, mgl32.Vec2{1, 0}, m.Vertices[2].TexCoord)
	require.Equal(t, mgl32.Vec3{1, 1, 1}, m.Vertices[0].Color)

	require.Equal(t, 2, p.Width)
	require.Equal(t, 1, p.Height)
	require.Equal(t, []byte{255, 0, 0, 255, 0, 0, 255, 255}, p.RGBA)
}

func TestLoadAssetsMissingFile(t *testing.T) {
	fsys := fstest.MapFS{
		"meshes/quad.obj": {Data: []byte(quadMesh)},
		"meshes/quad.mtl": {Data: []byte(quadMaterial)},
	}

	_, _, err := loadAssets(fsys, assetPaths{
		Mesh:     "meshes/quad.obj",
		Material: "meshes/quad.mtl",
		Texture:  "images/missing.png",
	})
	require.Error(t, err)
}

func TestVertexEncoding(t *testing.T) {
	encoded, err := resource.Encode([]Vertex{{}, {}})
	require.NoError(t, err)
	require.Len(t, encoded, 2*int(unsafe.Sizeof(Vertex{})))

	layout := vertexLayout()
	require.Equal(t, 32, layout.Bindings[0].Stride)
	require.Equal(t, 24, layout.Attributes[2].Offset)
}

func TestUniformsProjection(t *testing.T) {
	ubo := uniforms(1.0, core1_0.Extent2D{Width: 800, Height: 600})

	require.InDelta(t, 0, ubo.Model.At(0, 0), 1e-6)
	require.Less(t, ubo.Proj[5], float32(0))

	groups := bindingGroups()
	require.Equal(t, int(unsafe.Sizeof(UniformBufferObject{})), groups[0].Bindings[0].Size)
	require.Equal(t, 192, groups[0].Bindings[0].Size)
}

func TestParseOptions(t *testing.T) {
	model := []string{"-mesh", "meshes/room.obj", "-texture", "images/room.png"}

	opts, err := parseOptions(model)
	require.NoError(t, err)
	require.Equal(t, 800, opts.Width)
	require.Equal(t, 2, opts.FramesInFlight)
	require.Equal(t, "meshes/room.mtl", opts.Assets.Material)
	require.Equal(t, core1_0.SampleCountFlags(0), opts.deviceConfig().MaxSamples)

	opts, err = parseOptions(append([]string{"-msaa", "4", "-validation", "-material", "meshes/shared.mtl"}, model...))
	require.NoError(t, err)
	require.Equal(t, core1_0.Samples4, opts.deviceConfig().MaxSamples)
	require.True(t, opts.deviceConfig().EnableValidation)
	require.Equal(t, "meshes/shared.mtl", opts.Assets.Material)

	for _, args := range [][]string{
		nil,
		{"-mesh", "meshes/room.obj"},
		{"-texture", "images/room.png"},
		append([]string{"-msaa", "3"}, model...),
		append([]string{"-frames", "0"}, model...),
		append([]string{"-width", "0"}, model...),
	} {
		_, err = parseOptions(args)
		require.Error(t, err, args)
	}
}
