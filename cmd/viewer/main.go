// Command viewer spins a textured OBJ model in an SDL window on top of the renderloop
// frame loop.
//
// The model is not part of the repository, so -mesh and -texture are required. The
// shaders are compiled into the asset directory by go generate, which needs glslc.
package main

//go:generate glslc assets/shaders/shader.vert -o assets/shaders/vert.spv
//go:generate glslc assets/shaders/shader.frag -o assets/shaders/frag.spv

import (
	"flag"
	"fmt"
	"log"
	"math/bits"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderloop/device"
	"github.com/vkngwrapper/renderloop/frame"
	"github.com/vkngwrapper/renderloop/pipeline"
	"github.com/vkngwrapper/renderloop/renderer"
	"github.com/vkngwrapper/renderloop/resource"
	"golang.org/x/exp/slog"
)

type options struct {
	Width, Height  int
	AssetDir       string
	Assets         assetPaths
	VertexShader   string
	FragmentShader string

	Validation     bool
	FramesInFlight int
	MaxSamples     int
	Mipmaps        bool
	Debug          bool
}

func parseOptions(args []string) (options, error) {
	var opts options

	flags := flag.NewFlagSet("viewer", flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: viewer -mesh model.obj -texture model.png [flags]\n\n")
		fmt.Fprintf(flags.Output(), "Asset paths are relative to -assets. Run go generate ./cmd/viewer first to compile the shaders.\n\n")
		flags.PrintDefaults()
	}
	flags.IntVar(&opts.Width, "width", 800, "initial window width")
	flags.IntVar(&opts.Height, "height", 600, "initial window height")
	flags.StringVar(&opts.AssetDir, "assets", "cmd/viewer/assets", "directory that asset paths are relative to")
	flags.StringVar(&opts.Assets.Mesh, "mesh", "", "OBJ mesh (required)")
	flags.StringVar(&opts.Assets.Material, "material", "", "MTL file for the mesh (default: the mesh path with a .mtl extension)")
	flags.StringVar(&opts.Assets.Texture, "texture", "", "PNG texture (required)")
	flags.StringVar(&opts.VertexShader, "vert", "shaders/vert.spv", "SPIR-V vertex shader, built by go generate")
	flags.StringVar(&opts.FragmentShader, "frag", "shaders/frag.spv", "SPIR-V fragment shader, built by go generate")
	flags.BoolVar(&opts.Validation, "validation", false, "enable the Khronos validation layer")
	flags.IntVar(&opts.FramesInFlight, "frames", frame.DefaultFramesInFlight, "frames in flight")
	flags.IntVar(&opts.MaxSamples, "msaa", 0, "cap on the multisample count (power of two, 0 for no cap)")
	flags.BoolVar(&opts.Mipmaps, "mipmaps", true, "generate a mip chain for the texture")
	flags.BoolVar(&opts.Debug, "debug", false, "log at debug level")

	err := flags.Parse(args)
	if err != nil {
		return opts, err
	}

	if opts.Assets.Mesh == "" || opts.Assets.Texture == "" {
		flags.Usage()
		return opts, errors.New("-mesh and -texture are required")
	}
	if opts.Assets.Material == "" {
		opts.Assets.Material = strings.TrimSuffix(opts.Assets.Mesh, path.Ext(opts.Assets.Mesh)) + ".mtl"
	}

	if opts.Width <= 0 || opts.Height <= 0 {
		return opts, errors.Newf("window size %dx%d must be positive", opts.Width, opts.Height)
	}
	if opts.FramesInFlight < 1 {
		return opts, errors.Newf("frames in flight must be positive, got %d", opts.FramesInFlight)
	}
	if opts.MaxSamples < 0 || bits.OnesCount(uint(opts.MaxSamples)) > 1 {
		return opts, errors.Newf("msaa cap %d is not a power of two", opts.MaxSamples)
	}

	return opts, nil
}

func (o options) deviceConfig() device.Config {
	cfg := device.DefaultConfig()
	cfg.ApplicationName = "viewer"
	cfg.EnableValidation = o.Validation
	cfg.MaxSamples = core1_0.SampleCountFlags(o.MaxSamples)
	return cfg
}

type viewer struct {
	opts   options
	logger *slog.Logger

	window   *sdlWindow
	renderer *renderer.Renderer
	scene    *scene
}

func (v *viewer) Run() error {
	err := v.initWindow()
	if err != nil {
		return err
	}
	defer v.cleanup()

	err = v.initRenderer()
	if err != nil {
		return err
	}

	err = v.loadScene()
	if err != nil {
		return err
	}

	return v.mainLoop()
}

func (v *viewer) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return errors.Wrap(err, "init sdl")
	}

	window, err := sdl.CreateWindow("Vulkan", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, int32(v.opts.Width), int32(v.opts.Height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return errors.Wrap(err, "create window")
	}
	v.window = &sdlWindow{window: window}

	return nil
}

func (v *viewer) initRenderer() error {
	globalDriver, err := core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return errors.Wrap(err, "load vulkan")
	}

	v.renderer, err = renderer.New(globalDriver, v.window, renderer.Options{
		Device:         v.opts.deviceConfig(),
		FramesInFlight: v.opts.FramesInFlight,
		Pipeline: pipeline.Config{
			Shaders:        os.DirFS(v.opts.AssetDir),
			VertexShader:   v.opts.VertexShader,
			FragmentShader: v.opts.FragmentShader,
			Vertex:         vertexLayout(),
			ClearColor:     [4]float32{0, 0, 0, 1},
		},
		Groups:     bindingGroups(),
		FrameGroup: cameraGroup,
		Logger:     v.logger,
	})
	return err
}

func (v *viewer) loadScene() error {
	m, p, err := loadAssets(os.DirFS(v.opts.AssetDir), v.opts.Assets)
	if err != nil {
		return err
	}

	v.scene = &scene{
		driver: v.renderer.Context().Driver,
		dev:    v.renderer.Device(),
	}
	uploader := v.renderer.Uploader()

	v.scene.vertices, err = resource.UploadSlice(uploader, m.Vertices, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return err
	}

	v.scene.indices, err = resource.UploadSlice(uploader, m.Indices, core1_0.BufferUsageIndexBuffer)
	if err != nil {
		return err
	}

	mipLevels := 1
	if v.opts.Mipmaps {
		mipLevels = resource.MipLevels(p.Width, p.Height)
	}

	image, err := uploader.UploadImage(p.RGBA, p.Width, p.Height, core1_0.FormatR8G8B8A8SRGB, mipLevels)
	if err != nil {
		return err
	}

	v.scene.texture, err = v.renderer.Device().NewTexture(image)
	if err != nil {
		v.renderer.Device().DestroyImage(image)
		return err
	}

	v.scene.material, err = v.renderer.Binder().CreateSet(materialGroup, nil, []*resource.Texture{v.scene.texture})
	if err != nil {
		return err
	}

	v.logger.Info("loaded scene",
		slog.Int("vertices", len(m.Vertices)),
		slog.Int("indices", len(m.Indices)),
		slog.Int("textureWidth", p.Width),
		slog.Int("textureHeight", p.Height),
		slog.Int("mipLevels", mipLevels))

	v.renderer.SetScene(v.scene)
	return nil
}

func (v *viewer) mainLoop() error {
	rendering := true

appLoop:
	for true {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				break appLoop
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED:
					rendering = true
				case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
					rendering = true
					v.renderer.NotifyResized()
				}
			}
		}

		if rendering {
			err := v.renderer.DrawFrame()
			if errors.Is(err, frame.ErrWindowClosed) {
				break appLoop
			} else if err != nil {
				return err
			}
		}
	}

	stats := v.renderer.Stats()
	v.logger.Info("frame loop finished",
		slog.Uint64("frames", stats.Frames),
		slog.Uint64("skipped", stats.Skipped),
		slog.Uint64("recreations", stats.Recreations),
		slog.Uint64("imageWaits", stats.ImageWaits))

	return nil
}

func (v *viewer) cleanup() {
	if v.renderer != nil {
		err := v.renderer.WaitIdle()
		if err != nil {
			v.logger.Error("wait for device idle", slog.Any("error", err))
		}

		if v.scene != nil {
			v.scene.destroy()
		}
		v.renderer.Close()
	}

	if v.window != nil {
		v.window.window.Destroy()
	}
	sdl.Quit()
}

func main() {
	runtime.LockOSThread()

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		log.Fatalf("%+v\n", err)
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	app := &viewer{
		opts:   opts,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}

	err = app.Run()
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
}
