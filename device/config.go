package device

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// Config is the immutable startup configuration for instance and device creation.
// It is passed by value; nothing in this package keeps process-wide mutable state.
type Config struct {
	ApplicationName string

	EnableValidation bool
	ValidationLayers []string

	// DeviceExtensions must all be present on a candidate GPU for it to be selected.
	DeviceExtensions []string

	// DepthFormats is the depth-stencil preference list; the first format supporting
	// optimal-tiling depth attachments wins.
	DepthFormats []core1_0.Format

	// MaxSamples caps the multisample count. Zero means no cap.
	MaxSamples core1_0.SampleCountFlags

	SampleShading bool
}

// DefaultConfig matches the settings the viewer ships with.
func DefaultConfig() Config {
	return Config{
		ApplicationName:  "renderloop",
		EnableValidation: false,
		ValidationLayers: []string{"VK_LAYER_KHRONOS_validation"},
		DeviceExtensions: []string{khr_swapchain.ExtensionName},
		DepthFormats: []core1_0.Format{
			core1_0.FormatD32SignedFloat,
			core1_0.FormatD32SignedFloatS8UnsignedInt,
			core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
		},
		SampleShading: true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ApplicationName == "" {
		c.ApplicationName = d.ApplicationName
	}
	if len(c.ValidationLayers) == 0 {
		c.ValidationLayers = d.ValidationLayers
	}
	if len(c.DeviceExtensions) == 0 {
		c.DeviceExtensions = d.DeviceExtensions
	}
	if len(c.DepthFormats) == 0 {
		c.DepthFormats = d.DepthFormats
	}
	return c
}
