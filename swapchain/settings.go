package swapchain

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/renderloop/device"
)

// Settings are the creation parameters derived from one surface support report.
type Settings struct {
	SurfaceFormat khr_surface.SurfaceFormat
	PresentMode   khr_surface.PresentMode
	Extent        core1_0.Extent2D
	ImageCount    int
}

// Plan derives chain settings from a surface report and the live drawable size.
// A zero drawable is rejected; callers wait for a non-zero size before planning.
func Plan(support device.SurfaceSupport, drawableWidth, drawableHeight int) (Settings, error) {
	if support.Capabilities == nil {
		return Settings{}, errors.New("no surface capabilities")
	}

	if len(support.Formats) == 0 {
		return Settings{}, errors.New("no surface formats")
	}

	if len(support.PresentModes) == 0 {
		return Settings{}, errors.New("no present modes")
	}

	if drawableWidth <= 0 || drawableHeight <= 0 {
		return Settings{}, errors.Newf("cannot plan a chain for a %dx%d drawable", drawableWidth, drawableHeight)
	}

	return Settings{
		SurfaceFormat: ChooseSurfaceFormat(support.Formats),
		PresentMode:   ChoosePresentMode(support.PresentModes),
		Extent:        ChooseExtent(support.Capabilities, drawableWidth, drawableHeight),
		ImageCount:    ChooseImageCount(support.Capabilities),
	}, nil
}

// ChooseSurfaceFormat prefers 8-bit BGRA sRGB, falling back to the first reported format.
func ChooseSurfaceFormat(availableFormats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

// ChoosePresentMode prefers mailbox. FIFO is always supported so it is the fallback.
func ChoosePresentMode(availablePresentModes []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, presentMode := range availablePresentModes {
		if presentMode == khr_surface.PresentModeMailbox {
			return presentMode
		}
	}

	return khr_surface.PresentModeFIFO
}

// ChooseExtent uses the surface's fixed extent when it reports one, otherwise the
// drawable size clamped into [MinImageExtent, MaxImageExtent].
func ChooseExtent(capabilities *khr_surface.SurfaceCapabilities, drawableWidth, drawableHeight int) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	return core1_0.Extent2D{
		Width:  clamp(drawableWidth, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width),
		Height: clamp(drawableHeight, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height),
	}
}

// ChooseImageCount asks for one image more than the minimum so the CPU does not stall
// on the driver releasing the oldest image. A MaxImageCount of zero means unbounded.
func ChooseImageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}

	return imageCount
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
