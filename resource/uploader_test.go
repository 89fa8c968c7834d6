package resource

import (
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// fakeDevice keeps every allocation in host memory and executes recorded commands
// immediately.
type fakeDevice struct {
	memory map[*Buffer][]byte
	pixels map[*Image][]byte
	live   map[any]bool

	executions int
	noBlit     bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		memory: map[*Buffer][]byte{},
		pixels: map[*Image][]byte{},
		live:   map[any]bool{},
	}
}

func (d *fakeDevice) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (*Buffer, error) {
	buffer := &Buffer{Size: size, Usage: usage, Properties: properties}
	d.memory[buffer] = make([]byte, size)
	d.live[buffer] = true
	return buffer, nil
}

func (d *fakeDevice) DestroyBuffer(buffer *Buffer) {
	delete(d.live, buffer)
}

func (d *fakeDevice) CreateImage(info ImageInfo) (*Image, error) {
	image := &Image{ImageInfo: info, Layout: core1_0.ImageLayoutUndefined}
	d.live[image] = true
	return image, nil
}

func (d *fakeDevice) DestroyImage(image *Image) {
	delete(d.live, image)
}

func (d *fakeDevice) Write(buffer *Buffer, offset int, data []byte) error {
	if !buffer.HostVisible() {
		return errors.New("not host visible")
	}
	copy(d.memory[buffer][offset:], data)
	return nil
}

func (d *fakeDevice) Read(buffer *Buffer, offset, size int) ([]byte, error) {
	if !buffer.HostVisible() {
		return nil, errors.New("not host visible")
	}
	out := make([]byte, size)
	copy(out, d.memory[buffer][offset:offset+size])
	return out, nil
}

func (d *fakeDevice) Execute(record func(cmd Commands) error) error {
	d.executions++
	return record(&fakeCommands{dev: d})
}

func (d *fakeDevice) SupportsLinearBlit(core1_0.Format) bool {
	return !d.noBlit
}

type fakeCommands struct {
	dev *fakeDevice
}

func (c *fakeCommands) CopyBuffer(src, dst *Buffer, size int) error {
	if !c.dev.live[src] || !c.dev.live[dst] {
		return errors.AssertionFailedf("copy between dead buffers")
	}
	copy(c.dev.memory[dst][:size], c.dev.memory[src][:size])
	return nil
}

func (c *fakeCommands) CopyBufferToImage(src *Buffer, dst *Image) error {
	if dst.Layout != core1_0.ImageLayoutTransferDstOptimal {
		return errors.AssertionFailedf("copy into image in layout %s", dst.Layout)
	}
	c.dev.pixels[dst] = append([]byte(nil), c.dev.memory[src]...)
	return nil
}

func (c *fakeCommands) TransitionLayout(image *Image, oldLayout, newLayout core1_0.ImageLayout) error {
	if image.Layout != oldLayout {
		return errors.AssertionFailedf("image is in %s, not %s", image.Layout, oldLayout)
	}
	_, err := LayoutTransition(oldLayout, newLayout)
	if err != nil {
		return err
	}
	image.Layout = newLayout
	return nil
}

func (c *fakeCommands) GenerateMipmaps(image *Image) error {
	image.Layout = core1_0.ImageLayoutShaderReadOnlyOptimal
	return nil
}

func TestUploadBufferRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	for _, size := range []int{1, 3, 64, 1000, 65536} {
		dev := newFakeDevice()
		uploader := NewUploader(dev, nil)

		data := make([]byte, size)
		rng.Read(data)

		buffer, err := uploader.UploadBuffer(data, size, core1_0.BufferUsageVertexBuffer|core1_0.BufferUsageTransferSrc)
		require.NoError(t, err)
		require.Equal(t, size, buffer.Size)
		require.Equal(t, size, buffer.Count)
		require.False(t, buffer.HostVisible())
		require.NotZero(t, buffer.Usage&core1_0.BufferUsageTransferDst)

		readBack, err := uploader.ReadBuffer(buffer)
		require.NoError(t, err)
		require.Equal(t, data, readBack)

		// Only the destination survives; both staging buffers are gone
		require.Len(t, dev.live, 1)
		require.True(t, dev.live[buffer])
		require.Equal(t, 2, dev.executions)
	}
}

func TestUploadSliceRecordsCount(t *testing.T) {
	dev := newFakeDevice()
	uploader := NewUploader(dev, nil)

	indices := []uint32{0, 1, 2, 2, 3, 0}
	buffer, err := UploadSlice(uploader, indices, core1_0.BufferUsageIndexBuffer)
	require.NoError(t, err)
	require.Equal(t, 6, buffer.Count)
	require.Equal(t, 24, buffer.Size)
}

func TestUploadBufferRejectsEmpty(t *testing.T) {
	uploader := NewUploader(newFakeDevice(), nil)

	_, err := uploader.UploadBuffer(nil, 0, core1_0.BufferUsageVertexBuffer)
	require.Error(t, err)
}

func TestReadBufferNeedsTransferSource(t *testing.T) {
	dev := newFakeDevice()
	uploader := NewUploader(dev, nil)

	buffer, err := uploader.UploadBuffer([]byte{1, 2, 3, 4}, 1, core1_0.BufferUsageUniformBuffer)
	require.NoError(t, err)

	_, err = uploader.ReadBuffer(buffer)
	require.Error(t, err)
}

func TestCopyBufferSizeMismatch(t *testing.T) {
	dev := newFakeDevice()
	uploader := NewUploader(dev, nil)

	src, err := dev.CreateBuffer(16, core1_0.BufferUsageTransferSrc, stagingProperties)
	require.NoError(t, err)
	dst, err := dev.CreateBuffer(32, core1_0.BufferUsageTransferDst, core1_0.MemoryPropertyDeviceLocal)
	require.NoError(t, err)

	err = uploader.CopyBuffer(src, dst)
	require.Error(t, err)
	require.True(t, errors.IsAssertionFailure(err))
	require.True(t, errors.Is(err, ErrSizeMismatch))
	require.Zero(t, dev.executions)
}

func TestUploadImage(t *testing.T) {
	dev := newFakeDevice()
	uploader := NewUploader(dev, nil)

	pixels := make([]byte, 4*4*4)
	for i := range pixels {
		pixels[i] = byte(i)
	}

	image, err := uploader.UploadImage(pixels, 4, 4, core1_0.FormatR8G8B8A8SRGB, 1)
	require.NoError(t, err)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, image.Layout)
	require.Equal(t, pixels, dev.pixels[image])
	require.Zero(t, image.Usage&core1_0.ImageUsageTransferSrc)
	require.Equal(t, 1, dev.executions)
	require.Len(t, dev.live, 1)
}

func TestUploadImageMipmapped(t *testing.T) {
	dev := newFakeDevice()
	uploader := NewUploader(dev, nil)

	levels := MipLevels(8, 4)
	require.Equal(t, 4, levels)

	image, err := uploader.UploadImage(make([]byte, 8*4*4), 8, 4, core1_0.FormatR8G8B8A8SRGB, levels)
	require.NoError(t, err)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, image.Layout)
	require.NotZero(t, image.Usage&core1_0.ImageUsageTransferSrc)

	dev.noBlit = true
	_, err = uploader.UploadImage(make([]byte, 8*4*4), 8, 4, core1_0.FormatR8G8B8A8SRGB, levels)
	require.Error(t, err)
}

func TestUploadImageValidation(t *testing.T) {
	dev := newFakeDevice()
	uploader := NewUploader(dev, nil)

	_, err := uploader.UploadImage(make([]byte, 15), 2, 2, core1_0.FormatR8G8B8A8SRGB, 1)
	require.ErrorIs(t, err, ErrSizeMismatch)

	_, err = uploader.UploadImage(make([]byte, 16), 2, 2, core1_0.FormatD32SignedFloat, 1)
	require.Error(t, err)

	_, err = uploader.UploadImage(nil, 0, 0, core1_0.FormatR8G8B8A8SRGB, 1)
	require.Error(t, err)

	require.Empty(t, dev.live)
}

func TestLayoutTransition(t *testing.T) {
	transition, err := LayoutTransition(core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
	require.NoError(t, err)
	require.Equal(t, Transition{
		SrcStage:  core1_0.PipelineStageTopOfPipe,
		DstStage:  core1_0.PipelineStageTransfer,
		DstAccess: core1_0.AccessTransferWrite,
	}, transition)

	transition, err = LayoutTransition(core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
	require.NoError(t, err)
	require.Equal(t, Transition{
		SrcStage:  core1_0.PipelineStageTransfer,
		DstStage:  core1_0.PipelineStageFragmentShader,
		SrcAccess: core1_0.AccessTransferWrite,
		DstAccess: core1_0.AccessShaderRead,
	}, transition)

	_, err = LayoutTransition(core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.ImageLayoutUndefined)
	require.Error(t, err)
}

func TestMipLevels(t *testing.T) {
	require.Equal(t, 1, MipLevels(1, 1))
	require.Equal(t, 10, MipLevels(512, 300))
	require.Equal(t, 12, MipLevels(1024, 2048))
}
