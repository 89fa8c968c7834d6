package main

import (
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
	"github.com/vkngwrapper/renderloop/renderer"
)

// sdlWindow adapts an SDL window to the renderer.
type sdlWindow struct {
	window *sdl.Window
	closed bool
}

var _ renderer.Window = (*sdlWindow)(nil)

func (w *sdlWindow) DrawableSize() (int, int) {
	width, height := w.window.VulkanGetDrawableSize()
	return int(width), int(height)
}

// WaitEvents sleeps until SDL has something. It is only called while the drawable is
// zero, so the one event that matters is a quit.
func (w *sdlWindow) WaitEvents() bool {
	event := sdl.WaitEvent()
	if _, quit := event.(*sdl.QuitEvent); quit {
		w.closed = true
	}
	return !w.closed
}

func (w *sdlWindow) InstanceExtensions() []string {
	return w.window.VulkanGetInstanceExtensions()
}

func (w *sdlWindow) CreateSurface(instance core1_0.CoreInstanceDriver, extension khr_surface.ExtensionDriver) (khr_surface.Surface, error) {
	return vkng_sdl2.CreateSurface(instance.Instance(), extension, w.window)
}
