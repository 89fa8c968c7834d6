package resource

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"
)

const stagingProperties = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

// Uploader moves host data into device-local resources through a host-visible staging
// buffer. Every call blocks until the transfer queue is idle, so it belongs to load time;
// per-frame data goes straight into host-visible uniform buffers instead.
type Uploader struct {
	dev    Device
	logger *slog.Logger
}

func NewUploader(dev Device, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Uploader{dev: dev, logger: logger}
}

// Encode packs a slice of fixed-size values the way the device reads them.
func Encode[T any](data []T) ([]byte, error) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return nil, errors.Wrap(err, "encode buffer contents")
	}

	return buf.Bytes(), nil
}

// UploadSlice encodes data and uploads it as a device-local buffer whose Count is len(data).
func UploadSlice[T any](u *Uploader, data []T, usage core1_0.BufferUsageFlags) (*Buffer, error) {
	encoded, err := Encode(data)
	if err != nil {
		return nil, err
	}

	return u.UploadBuffer(encoded, len(data), usage)
}

// UploadBuffer creates a device-local buffer holding data. usage is extended with
// TransferDst; count is recorded on the buffer for draw calls.
func (u *Uploader) UploadBuffer(data []byte, count int, usage core1_0.BufferUsageFlags) (*Buffer, error) {
	if len(data) == 0 {
		return nil, errors.New("cannot upload an empty buffer")
	}

	staging, err := u.stage(data)
	if err != nil {
		return nil, err
	}
	defer u.dev.DestroyBuffer(staging)

	dst, err := u.dev.CreateBuffer(len(data), usage|core1_0.BufferUsageTransferDst, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return nil, err
	}
	dst.Count = count

	err = u.dev.Execute(func(cmd Commands) error {
		return cmd.CopyBuffer(staging, dst, len(data))
	})
	if err != nil {
		u.dev.DestroyBuffer(dst)
		return nil, err
	}

	u.logger.Debug("uploaded buffer", slog.Int("bytes", len(data)), slog.Int("count", count))
	return dst, nil
}

// UploadImage creates a device-local sampled image from tightly packed pixels and leaves
// it in ShaderReadOnlyOptimal. With mipLevels > 1 the remaining levels are generated by
// linear blits, which the format must support.
func (u *Uploader) UploadImage(pixels []byte, width, height int, format core1_0.Format, mipLevels int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Newf("cannot upload a %dx%d image", width, height)
	}

	bytesPerPixel, err := BytesPerPixel(format)
	if err != nil {
		return nil, err
	}

	if len(pixels) != width*height*bytesPerPixel {
		return nil, errors.Wrapf(ErrSizeMismatch, "%dx%d %s image needs %d bytes, got %d",
			width, height, format, width*height*bytesPerPixel, len(pixels))
	}

	if mipLevels < 1 {
		mipLevels = 1
	}

	usage := core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled
	if mipLevels > 1 {
		if !u.dev.SupportsLinearBlit(format) {
			return nil, errors.Errorf("texture image format %s does not support linear blitting", format)
		}
		usage |= core1_0.ImageUsageTransferSrc
	}

	staging, err := u.stage(pixels)
	if err != nil {
		return nil, err
	}
	defer u.dev.DestroyBuffer(staging)

	dst, err := u.dev.CreateImage(ImageInfo{
		Width:      width,
		Height:     height,
		MipLevels:  mipLevels,
		Samples:    core1_0.Samples1,
		Format:     format,
		Tiling:     core1_0.ImageTilingOptimal,
		Usage:      usage,
		Properties: core1_0.MemoryPropertyDeviceLocal,
		Aspect:     core1_0.ImageAspectColor,
	})
	if err != nil {
		return nil, err
	}

	err = u.dev.Execute(func(cmd Commands) error {
		err := cmd.TransitionLayout(dst, core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
		if err != nil {
			return err
		}

		err = cmd.CopyBufferToImage(staging, dst)
		if err != nil {
			return err
		}

		if mipLevels > 1 {
			return cmd.GenerateMipmaps(dst)
		}

		return cmd.TransitionLayout(dst, core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
	})
	if err != nil {
		u.dev.DestroyImage(dst)
		return nil, err
	}

	u.logger.Debug("uploaded image",
		slog.Int("width", width),
		slog.Int("height", height),
		slog.Int("mipLevels", mipLevels),
		slog.String("format", format.String()))
	return dst, nil
}

// ReadBuffer copies src into a fresh host-visible staging buffer and returns its bytes.
// src must have been created with TransferSrc usage.
func (u *Uploader) ReadBuffer(src *Buffer) ([]byte, error) {
	if src.Usage&core1_0.BufferUsageTransferSrc == 0 {
		return nil, errors.Newf("buffer usage %s does not allow reading back", src.Usage)
	}

	staging, err := u.dev.CreateBuffer(src.Size, core1_0.BufferUsageTransferDst, stagingProperties)
	if err != nil {
		return nil, err
	}
	defer u.dev.DestroyBuffer(staging)

	err = u.dev.Execute(func(cmd Commands) error {
		return cmd.CopyBuffer(src, staging, src.Size)
	})
	if err != nil {
		return nil, err
	}

	return u.dev.Read(staging, 0, staging.Size)
}

// CopyBuffer copies all of src into dst. The two must be the same size.
func (u *Uploader) CopyBuffer(src, dst *Buffer) error {
	if src.Size != dst.Size {
		return errors.NewAssertionErrorWithWrappedErrf(ErrSizeMismatch, "copy from %d-byte buffer into %d-byte buffer", src.Size, dst.Size)
	}

	return u.dev.Execute(func(cmd Commands) error {
		return cmd.CopyBuffer(src, dst, src.Size)
	})
}

func (u *Uploader) stage(data []byte) (*Buffer, error) {
	staging, err := u.dev.CreateBuffer(len(data), core1_0.BufferUsageTransferSrc, stagingProperties)
	if err != nil {
		return nil, err
	}

	err = u.dev.Write(staging, 0, data)
	if err != nil {
		u.dev.DestroyBuffer(staging)
		return nil, err
	}

	return staging, nil
}
