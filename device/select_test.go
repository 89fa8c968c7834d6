package device

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

func TestFindQueueFamilies(t *testing.T) {
	testCases := []struct {
		name     string
		families []queueFamily
		complete bool
		graphics int
		present  int
		shared   bool
	}{
		{
			name:     "single family does both",
			families: []queueFamily{{Graphics: true, Present: true}},
			complete: true,
			graphics: 0,
			present:  0,
			shared:   true,
		},
		{
			name:     "split families",
			families: []queueFamily{{Graphics: true}, {Present: true}},
			complete: true,
			graphics: 0,
			present:  1,
		},
		{
			name:     "present before graphics",
			families: []queueFamily{{Present: true}, {}, {Graphics: true}},
			complete: true,
			graphics: 2,
			present:  0,
		},
		{
			name:     "no present",
			families: []queueFamily{{Graphics: true}, {Graphics: true}},
		},
		{
			name: "empty",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			indices := findQueueFamilies(tc.families)
			require.Equal(t, tc.complete, indices.IsComplete())
			if !tc.complete {
				return
			}

			require.Equal(t, tc.graphics, *indices.GraphicsFamily)
			require.Equal(t, tc.present, *indices.PresentFamily)
			require.Equal(t, tc.shared, indices.Shared())
			if tc.shared {
				require.Len(t, indices.Unique(), 1)
			} else {
				require.Equal(t, []int{tc.graphics, tc.present}, indices.Unique())
			}
		})
	}
}

func TestHasExtensions(t *testing.T) {
	available := map[string]struct{}{
		khr_swapchain.ExtensionName: {},
		"VK_KHR_maintenance1":       {},
	}

	require.True(t, hasExtensions(available, []string{khr_swapchain.ExtensionName}))
	require.True(t, hasExtensions(available, nil))
	require.False(t, hasExtensions(available, []string{khr_swapchain.ExtensionName, "VK_KHR_ray_query"}))
}

func TestFindSupportedDepthFormat(t *testing.T) {
	preference := DefaultConfig().DepthFormats

	t.Run("first supported wins", func(t *testing.T) {
		format, found := findSupportedFormat(preference, core1_0.ImageTilingOptimal, core1_0.FormatFeatureDepthStencilAttachment,
			func(format core1_0.Format) (core1_0.FormatFeatureFlags, core1_0.FormatFeatureFlags) {
				if format == core1_0.FormatD32SignedFloat {
					return 0, 0
				}
				return 0, core1_0.FormatFeatureDepthStencilAttachment
			})
		require.True(t, found)
		require.Equal(t, core1_0.FormatD32SignedFloatS8UnsignedInt, format)
	})

	t.Run("linear features ignored for optimal tiling", func(t *testing.T) {
		_, found := findSupportedFormat(preference, core1_0.ImageTilingOptimal, core1_0.FormatFeatureDepthStencilAttachment,
			func(core1_0.Format) (core1_0.FormatFeatureFlags, core1_0.FormatFeatureFlags) {
				return core1_0.FormatFeatureDepthStencilAttachment, 0
			})
		require.False(t, found)
	})
}

func TestMaxUsableSampleCount(t *testing.T) {
	all := core1_0.Samples1 | core1_0.Samples2 | core1_0.Samples4 | core1_0.Samples8

	require.Equal(t, core1_0.Samples8, maxUsableSampleCount(all, all, 0))
	require.Equal(t, core1_0.Samples4, maxUsableSampleCount(all, core1_0.Samples1|core1_0.Samples4, 0))
	require.Equal(t, core1_0.Samples2, maxUsableSampleCount(all, all, core1_0.Samples2))
	require.Equal(t, core1_0.Samples1, maxUsableSampleCount(core1_0.Samples1, all, 0))
}

func TestSurfaceSupportAdequate(t *testing.T) {
	caps := &khr_surface.SurfaceCapabilities{MinImageCount: 2}

	require.False(t, SurfaceSupport{}.Adequate())
	require.False(t, SurfaceSupport{Capabilities: caps, PresentModes: []khr_surface.PresentMode{khr_surface.PresentModeFIFO}}.Adequate())
	require.True(t, SurfaceSupport{
		Capabilities: caps,
		Formats:      []khr_surface.SurfaceFormat{{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}},
		PresentModes: []khr_surface.PresentMode{khr_surface.PresentModeFIFO},
	}.Adequate())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{EnableValidation: true}.withDefaults()

	require.Equal(t, "renderloop", cfg.ApplicationName)
	require.True(t, cfg.EnableValidation)
	require.Equal(t, []string{"VK_LAYER_KHRONOS_validation"}, cfg.ValidationLayers)
	require.Equal(t, []string{khr_swapchain.ExtensionName}, cfg.DeviceExtensions)
	require.Len(t, cfg.DepthFormats, 3)

	require.True(t, HasStencilComponent(core1_0.FormatD24UnsignedNormalizedS8UnsignedInt))
	require.False(t, HasStencilComponent(core1_0.FormatD32SignedFloat))
}
