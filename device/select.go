package device

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// QueueFamilyIndices records which queue families serve graphics and presentation.
// The two may coincide.
type QueueFamilyIndices struct {
	GraphicsFamily *int
	PresentFamily  *int
}

func (i *QueueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.PresentFamily != nil
}

// Shared reports whether graphics and present run on the same family.
func (i *QueueFamilyIndices) Shared() bool {
	return i.IsComplete() && *i.GraphicsFamily == *i.PresentFamily
}

// Unique lists the distinct families, graphics first.
func (i *QueueFamilyIndices) Unique() []int {
	families := []int{*i.GraphicsFamily}
	if *i.PresentFamily != *i.GraphicsFamily {
		families = append(families, *i.PresentFamily)
	}
	return families
}

// queueFamily is the slice of a queue family's properties that selection cares about.
type queueFamily struct {
	Graphics bool
	Present  bool
}

// findQueueFamilies walks the families in order, keeping the most recent graphics and
// present candidates, and stops as soon as both are known. A family that does both
// therefore wins over a later split only if it comes first.
func findQueueFamilies(families []queueFamily) QueueFamilyIndices {
	indices := QueueFamilyIndices{}

	for idx, family := range families {
		if family.Graphics {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = idx
		}

		if family.Present {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = idx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices
}

func hasExtensions[T any](available map[string]T, required []string) bool {
	for _, ext := range required {
		if _, ok := available[ext]; !ok {
			return false
		}
	}
	return true
}

// SurfaceSupport is the surface capability/format/present-mode report for one GPU.
type SurfaceSupport struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

// Adequate is true when the surface can be presented to at all.
func (s SurfaceSupport) Adequate() bool {
	return s.Capabilities != nil && len(s.Formats) > 0 && len(s.PresentModes) > 0
}

// findSupportedFormat returns the first candidate whose tiling features contain all of
// the requested features.
func findSupportedFormat(candidates []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags, props func(core1_0.Format) (linear, optimal core1_0.FormatFeatureFlags)) (core1_0.Format, bool) {
	for _, format := range candidates {
		linear, optimal := props(format)

		if tiling == core1_0.ImageTilingLinear && (linear&features) == features {
			return format, true
		} else if tiling == core1_0.ImageTilingOptimal && (optimal&features) == features {
			return format, true
		}
	}

	return 0, false
}

var sampleCountsDescending = []core1_0.SampleCountFlags{
	core1_0.Samples64,
	core1_0.Samples32,
	core1_0.Samples16,
	core1_0.Samples8,
	core1_0.Samples4,
	core1_0.Samples2,
}

// maxUsableSampleCount picks the highest count both colour and depth framebuffers
// support, optionally capped.
func maxUsableSampleCount(colorCounts, depthCounts, limit core1_0.SampleCountFlags) core1_0.SampleCountFlags {
	counts := colorCounts & depthCounts

	for _, count := range sampleCountsDescending {
		if limit != 0 && count > limit {
			continue
		}
		if counts&count != 0 {
			return count
		}
	}

	return core1_0.Samples1
}

// HasStencilComponent reports whether a depth format also carries stencil bits.
func HasStencilComponent(format core1_0.Format) bool {
	return format == core1_0.FormatD32SignedFloatS8UnsignedInt || format == core1_0.FormatD24UnsignedNormalizedS8UnsignedInt
}
