package main

import (
	"image"
	"image/draw"
	"image/png"
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"
)

type mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

type pixels struct {
	RGBA          []byte
	Width, Height int
}

type assetPaths struct {
	Mesh     string
	Material string
	Texture  string
}

// loadAssets decodes the mesh and the texture concurrently. Nothing here touches the
// device; uploads happen afterwards on the render thread.
func loadAssets(fsys fs.FS, paths assetPaths) (*mesh, *pixels, error) {
	var m *mesh
	var p *pixels

	var g errgroup.Group
	g.Go(func() error {
		var err error
		m, err = loadMesh(fsys, paths.Mesh, paths.Material)
		return err
	})
	g.Go(func() error {
		var err error
		p, err = loadTexture(fsys, paths.Texture)
		return err
	})

	err := g.Wait()
	if err != nil {
		return nil, nil, err
	}
	return m, p, nil
}

func (m *mesh) addVertex(decoder *obj.Decoder, uniqueVertices map[int]uint32, face obj.Face, faceIndex int) {
	vertInd := face.Vertices[faceIndex]
	index, vertexExists := uniqueVertices[vertInd]

	if !vertexExists {
		vert := Vertex{Position: mgl32.Vec3{
			decoder.Vertices[vertInd*3],
			decoder.Vertices[vertInd*3+1],
			decoder.Vertices[vertInd*3+2],
		}, Color: mgl32.Vec3{1, 1, 1}}

		if faceIndex < len(face.Uvs) {
			uvInd := face.Uvs[faceIndex]
			vert.TexCoord = mgl32.Vec2{
				decoder.Uvs[uvInd*2],
				1.0 - decoder.Uvs[uvInd*2+1],
			}
		}

		index = uint32(len(m.Vertices))
		m.Vertices = append(m.Vertices, vert)
		uniqueVertices[vertInd] = index
	}

	m.Indices = append(m.Indices, index)
}

func loadMesh(fsys fs.FS, meshPath, materialPath string) (*mesh, error) {
	meshFile, err := fsys.Open(meshPath)
	if err != nil {
		return nil, errors.Wrap(err, "open mesh")
	}
	defer meshFile.Close()

	matFile, err := fsys.Open(materialPath)
	if err != nil {
		return nil, errors.Wrap(err, "open material")
	}
	defer matFile.Close()

	decoder, err := obj.DecodeReader(meshFile, matFile)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", meshPath)
	}

	m := &mesh{}
	uniqueVertices := make(map[int]uint32)

	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			// Faces are fans; split them into triangles
			for i := 2; i < len(face.Vertices); i++ {
				m.addVertex(decoder, uniqueVertices, face, 0)
				m.addVertex(decoder, uniqueVertices, face, i-1)
				m.addVertex(decoder, uniqueVertices, face, i)
			}
		}
	}

	if len(m.Indices) == 0 {
		return nil, errors.Newf("mesh %s has no faces", meshPath)
	}

	return m, nil
}

func loadTexture(fsys fs.FS, path string) (*pixels, error) {
	file, err := fsys.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open texture")
	}
	defer file.Close()

	decodedImage, err := png.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	bounds := decodedImage.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), decodedImage, bounds.Min, draw.Src)

	return &pixels{
		RGBA:   rgba.Pix,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
