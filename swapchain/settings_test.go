package swapchain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/renderloop/device"
)

func support(caps khr_surface.SurfaceCapabilities) device.SurfaceSupport {
	return device.SurfaceSupport{
		Capabilities: &caps,
		Formats: []khr_surface.SurfaceFormat{
			{Format: core1_0.FormatR8G8B8A8UnsignedNormalized, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
			{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
		},
		PresentModes: []khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox},
	}
}

func TestChooseSurfaceFormat(t *testing.T) {
	preferred := khr_surface.SurfaceFormat{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}
	other := khr_surface.SurfaceFormat{Format: core1_0.FormatR8G8B8A8UnsignedNormalized, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}

	require.Equal(t, preferred, ChooseSurfaceFormat([]khr_surface.SurfaceFormat{other, preferred}))
	require.Equal(t, other, ChooseSurfaceFormat([]khr_surface.SurfaceFormat{other}))
}

func TestChoosePresentMode(t *testing.T) {
	require.Equal(t, khr_surface.PresentModeMailbox, ChoosePresentMode([]khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox}))
	require.Equal(t, khr_surface.PresentModeFIFO, ChoosePresentMode([]khr_surface.PresentMode{khr_surface.PresentModeImmediate}))
	require.Equal(t, khr_surface.PresentModeFIFO, ChoosePresentMode(nil))
}

func TestChooseExtentFixed(t *testing.T) {
	caps := &khr_surface.SurfaceCapabilities{
		CurrentExtent:  core1_0.Extent2D{Width: 1280, Height: 720},
		MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
	}

	require.Equal(t, core1_0.Extent2D{Width: 1280, Height: 720}, ChooseExtent(caps, 640, 480))
}

func TestChooseExtentClamped(t *testing.T) {
	caps := &khr_surface.SurfaceCapabilities{
		CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
		MinImageExtent: core1_0.Extent2D{Width: 100, Height: 100},
		MaxImageExtent: core1_0.Extent2D{Width: 1920, Height: 1080},
	}

	require.Equal(t, core1_0.Extent2D{Width: 800, Height: 600}, ChooseExtent(caps, 800, 600))
	require.Equal(t, core1_0.Extent2D{Width: 100, Height: 100}, ChooseExtent(caps, 20, 50))
	require.Equal(t, core1_0.Extent2D{Width: 1920, Height: 1080}, ChooseExtent(caps, 5000, 3000))
}

func TestChooseImageCount(t *testing.T) {
	testCases := []struct {
		name     string
		min, max int
		expected int
	}{
		{name: "unbounded", min: 2, max: 0, expected: 3},
		{name: "room for one more", min: 2, max: 8, expected: 3},
		{name: "capped", min: 3, max: 3, expected: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			caps := &khr_surface.SurfaceCapabilities{MinImageCount: tc.min, MaxImageCount: tc.max}
			require.Equal(t, tc.expected, ChooseImageCount(caps))
		})
	}
}

func TestPlanStaysWithinCapabilities(t *testing.T) {
	rng := rand.New(rand.NewSource(17))

	for i := 0; i < 1000; i++ {
		minWidth := 1 + rng.Intn(500)
		minHeight := 1 + rng.Intn(500)
		minCount := 1 + rng.Intn(4)
		maxCount := 0
		if rng.Intn(2) == 0 {
			maxCount = minCount + rng.Intn(3)
		}

		caps := khr_surface.SurfaceCapabilities{
			MinImageCount:  minCount,
			MaxImageCount:  maxCount,
			CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
			MinImageExtent: core1_0.Extent2D{Width: minWidth, Height: minHeight},
			MaxImageExtent: core1_0.Extent2D{Width: minWidth + rng.Intn(4000), Height: minHeight + rng.Intn(4000)},
		}

		settings, err := Plan(support(caps), 1+rng.Intn(8000), 1+rng.Intn(8000))
		require.NoError(t, err)

		require.GreaterOrEqual(t, settings.Extent.Width, caps.MinImageExtent.Width)
		require.LessOrEqual(t, settings.Extent.Width, caps.MaxImageExtent.Width)
		require.GreaterOrEqual(t, settings.Extent.Height, caps.MinImageExtent.Height)
		require.LessOrEqual(t, settings.Extent.Height, caps.MaxImageExtent.Height)

		require.GreaterOrEqual(t, settings.ImageCount, caps.MinImageCount)
		if caps.MaxImageCount > 0 {
			require.LessOrEqual(t, settings.ImageCount, caps.MaxImageCount)
		}
	}
}

func TestPlanIsIdempotent(t *testing.T) {
	report := support(khr_surface.SurfaceCapabilities{
		MinImageCount:  2,
		CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
		MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
	})

	first, err := Plan(report, 1024, 768)
	require.NoError(t, err)
	second, err := Plan(report, 1024, 768)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, core1_0.FormatB8G8R8A8SRGB, first.SurfaceFormat.Format)
	require.Equal(t, khr_surface.PresentModeMailbox, first.PresentMode)
}

func TestPlanRejectsZeroDrawable(t *testing.T) {
	report := support(khr_surface.SurfaceCapabilities{
		MinImageCount:  2,
		CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
		MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
	})

	_, err := Plan(report, 0, 0)
	require.Error(t, err)

	_, err = Plan(report, 800, 0)
	require.Error(t, err)

	_, err = Plan(device.SurfaceSupport{}, 800, 600)
	require.Error(t, err)
}
