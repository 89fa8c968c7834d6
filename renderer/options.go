package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderloop/descriptor"
	"github.com/vkngwrapper/renderloop/device"
	"github.com/vkngwrapper/renderloop/pipeline"
	"golang.org/x/exp/slog"
)

// Options configures a Renderer.
type Options struct {
	Device         device.Config
	FramesInFlight int
	Pipeline       pipeline.Config

	// Groups become descriptor sets 0..n-1 of the pipeline layout, in order.
	Groups []descriptor.Group
	// FrameGroup names the per-frame group whose uniform buffers the renderer owns. Its set
	// is bound before RecordCommands runs, and it is recreated when a rebuilt chain has a
	// different image count. Empty means the scene binds everything itself, and any
	// per-frame sets it created are dropped on such a rebuild; see Scene.ChainRebuilt.
	FrameGroup string

	Logger *slog.Logger
}

// frameLayout is where the renderer-owned per-frame group sits and the size of each of its
// uniform bindings.
type frameLayout struct {
	setIndex int
	sizes    []int
}

func (l frameLayout) owned() bool {
	return l.setIndex >= 0
}

// resolveFrameGroup finds the frame group and checks that the renderer can own all of it:
// only sized uniform bindings.
func resolveFrameGroup(groups []descriptor.Group, name string) (frameLayout, error) {
	layout := frameLayout{setIndex: -1}
	if name == "" {
		return layout, nil
	}

	for idx, group := range groups {
		if group.Name != name {
			continue
		}

		if group.Frequency != descriptor.PerFrame {
			return layout, errors.Newf("frame group %q is %s", name, group.Frequency)
		}

		for bindingIdx, binding := range group.Bindings {
			if binding.Type != core1_0.DescriptorTypeUniformBuffer {
				return layout, errors.Newf("frame group %q binding %d is not a uniform buffer", name, bindingIdx)
			}
			if binding.Size <= 0 {
				return layout, errors.Newf("frame group %q binding %d needs an explicit size", name, bindingIdx)
			}
			layout.sizes = append(layout.sizes, binding.Size)
		}

		layout.setIndex = idx
		return layout, nil
	}

	return layout, errors.Newf("frame group %q is not declared", name)
}
