package device

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"golang.org/x/exp/slog"
)

// ErrNoSuitableDevice is returned when no enumerated GPU can drive the surface.
var ErrNoSuitableDevice = errors.New("failed to find a suitable GPU")

// Context is the device half of the renderer: one physical GPU, one logical device, its
// graphics and present queues and the command pool bound to the graphics family.
// It is created once and destroyed once; only queue submissions happen in between.
type Context struct {
	Config Config

	Instance core1_0.CoreInstanceDriver
	Driver   core1_0.CoreDeviceDriver

	Surface            khr_surface.Surface
	SurfaceExtension   khr_surface.ExtensionDriver
	SwapchainExtension khr_swapchain.ExtensionDriver

	PhysicalDevice core1_0.PhysicalDevice
	Families       QueueFamilyIndices
	GraphicsQueue  core1_0.Queue
	PresentQueue   core1_0.Queue
	CommandPool    core1_0.CommandPool

	DepthFormat   core1_0.Format
	Samples       core1_0.SampleCountFlags
	SampleShading bool
	MaxAnisotropy float32

	logger *slog.Logger
}

type candidate struct {
	device        core1_0.PhysicalDevice
	families      QueueFamilyIndices
	depthFormat   core1_0.Format
	sampleShading bool
}

// New selects the first suitable GPU for the surface and opens a logical device on it.
func New(cfg Config, instance core1_0.CoreInstanceDriver, surfaceExtension khr_surface.ExtensionDriver, surface khr_surface.Surface, logger *slog.Logger) (*Context, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	ctx := &Context{
		Config:           cfg,
		Instance:         instance,
		Surface:          surface,
		SurfaceExtension: surfaceExtension,
		logger:           logger,
	}

	picked, err := ctx.pickPhysicalDevice()
	if err != nil {
		return nil, err
	}

	err = ctx.createLogicalDevice(picked)
	if err != nil {
		return nil, err
	}

	err = ctx.createCommandPool()
	if err != nil {
		ctx.Driver.DestroyDevice(nil)
		return nil, err
	}

	return ctx, nil
}

func (c *Context) pickPhysicalDevice() (candidate, error) {
	physicalDevices, _, err := c.Instance.EnumeratePhysicalDevices()
	if err != nil {
		return candidate{}, errors.Wrap(err, "enumerate physical devices")
	}

	if len(physicalDevices) == 0 {
		return candidate{}, errors.Wrap(ErrNoSuitableDevice, "no GPUs with Vulkan support")
	}

	for _, device := range physicalDevices {
		picked, suitable, err := c.evaluate(device)
		if err != nil {
			return candidate{}, err
		}

		if suitable {
			c.logger.Info("selected physical device",
				slog.Int("graphicsFamily", *picked.families.GraphicsFamily),
				slog.Int("presentFamily", *picked.families.PresentFamily),
				slog.String("depthFormat", picked.depthFormat.String()))
			return picked, nil
		}
	}

	return candidate{}, ErrNoSuitableDevice
}

func (c *Context) evaluate(device core1_0.PhysicalDevice) (candidate, bool, error) {
	picked := candidate{device: device}

	queueFamilies := c.Instance.GetPhysicalDeviceQueueFamilyProperties(device)
	families := make([]queueFamily, 0, len(queueFamilies))
	for idx, family := range queueFamilies {
		supported, _, err := c.SurfaceExtension.GetPhysicalDeviceSurfaceSupport(c.Surface, device, idx)
		if err != nil {
			return picked, false, errors.Wrapf(err, "query present support for family %d", idx)
		}

		families = append(families, queueFamily{
			Graphics: (family.QueueFlags & core1_0.QueueGraphics) != 0,
			Present:  supported,
		})
	}

	picked.families = findQueueFamilies(families)
	if !picked.families.IsComplete() {
		return picked, false, nil
	}

	extensions, _, err := c.Instance.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return picked, false, errors.Wrap(err, "enumerate device extensions")
	}

	if !hasExtensions(extensions, c.Config.DeviceExtensions) {
		return picked, false, nil
	}

	support, err := querySurfaceSupport(c.SurfaceExtension, c.Surface, device)
	if err != nil {
		return picked, false, err
	}

	if !support.Adequate() {
		return picked, false, nil
	}

	depthFormat, found := findSupportedFormat(c.Config.DepthFormats, core1_0.ImageTilingOptimal, core1_0.FormatFeatureDepthStencilAttachment,
		func(format core1_0.Format) (core1_0.FormatFeatureFlags, core1_0.FormatFeatureFlags) {
			props := c.Instance.GetPhysicalDeviceFormatProperties(device, format)
			return props.LinearTilingFeatures, props.OptimalTilingFeatures
		})
	if !found {
		return picked, false, nil
	}
	picked.depthFormat = depthFormat

	features := c.Instance.GetPhysicalDeviceFeatures(device)
	if !features.SamplerAnisotropy {
		return picked, false, nil
	}
	picked.sampleShading = c.Config.SampleShading && features.SampleRateShading

	return picked, true, nil
}

func (c *Context) createLogicalDevice(picked candidate) error {
	properties, err := c.Instance.GetPhysicalDeviceProperties(picked.device)
	if err != nil {
		return errors.Wrap(err, "read physical device properties")
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range picked.families.Unique() {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, c.Config.DeviceExtensions...)

	// Portability drivers (MoltenVK) refuse device creation without the subset extension
	extensions, _, err := c.Instance.EnumerateDeviceExtensionProperties(picked.device)
	if err != nil {
		return errors.Wrap(err, "enumerate device extensions")
	}

	if _, supported := extensions[khr_portability_subset.ExtensionName]; supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	c.Driver, _, err = c.Instance.CreateDevice(picked.device, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueFamilyOptions,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: true,
			SampleRateShading: picked.sampleShading,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return errors.Wrap(err, "create logical device")
	}

	c.PhysicalDevice = picked.device
	c.Families = picked.families
	c.DepthFormat = picked.depthFormat
	c.SampleShading = picked.sampleShading
	c.Samples = maxUsableSampleCount(
		properties.Limits.FramebufferColorSampleCounts,
		properties.Limits.FramebufferDepthSampleCounts,
		c.Config.MaxSamples)
	c.MaxAnisotropy = properties.Limits.MaxSamplerAnisotropy

	c.GraphicsQueue = c.Driver.GetQueue(*picked.families.GraphicsFamily, 0)
	c.PresentQueue = c.Driver.GetQueue(*picked.families.PresentFamily, 0)
	c.SwapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(c.Driver)

	c.logger.Debug("opened logical device", slog.String("samples", c.Samples.String()))
	return nil
}

func (c *Context) createCommandPool() error {
	// Per-image buffers are re-recorded every frame, which needs individual reset
	pool, _, err := c.Driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: *c.Families.GraphicsFamily,
	})
	if err != nil {
		return errors.Wrap(err, "create command pool")
	}

	c.CommandPool = pool
	return nil
}

// SurfaceSupport re-queries the surface. Capabilities change whenever the drawable is
// resized, so the chain calls this on every (re)creation instead of caching it.
func (c *Context) SurfaceSupport() (SurfaceSupport, error) {
	return querySurfaceSupport(c.SurfaceExtension, c.Surface, c.PhysicalDevice)
}

func querySurfaceSupport(ext khr_surface.ExtensionDriver, surface khr_surface.Surface, device core1_0.PhysicalDevice) (SurfaceSupport, error) {
	var details SurfaceSupport
	var err error

	details.Capabilities, _, err = ext.GetPhysicalDeviceSurfaceCapabilities(surface, device)
	if err != nil {
		return details, errors.Wrap(err, "query surface capabilities")
	}

	details.Formats, _, err = ext.GetPhysicalDeviceSurfaceFormats(surface, device)
	if err != nil {
		return details, errors.Wrap(err, "query surface formats")
	}

	details.PresentModes, _, err = ext.GetPhysicalDeviceSurfacePresentModes(surface, device)
	if err != nil {
		return details, errors.Wrap(err, "query surface present modes")
	}

	return details, nil
}

// FindMemoryType returns the first memory type allowed by typeFilter that has every
// requested property flag.
func (c *Context) FindMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := c.Instance.GetPhysicalDeviceMemoryProperties(c.PhysicalDevice)
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Newf("failed to find memory type for filter %x with flags %s", typeFilter, properties)
}

// SupportsLinearBlit reports whether images of format can be the source of a linear blit.
func (c *Context) SupportsLinearBlit(format core1_0.Format) bool {
	properties := c.Instance.GetPhysicalDeviceFormatProperties(c.PhysicalDevice, format)
	return (properties.OptimalTilingFeatures & core1_0.FormatFeatureSampledImageFilterLinear) != 0
}

// WaitIdle blocks until every queue on the device has drained.
func (c *Context) WaitIdle() error {
	_, err := c.Driver.DeviceWaitIdle()
	return errors.Wrap(err, "wait for device idle")
}

// Destroy releases the command pool and then the device. All GPU work must be complete.
func (c *Context) Destroy() {
	if c.CommandPool.Initialized() {
		c.Driver.DestroyCommandPool(c.CommandPool, nil)
		c.CommandPool = core1_0.CommandPool{}
	}

	if c.Driver != nil {
		c.Driver.DestroyDevice(nil)
		c.Driver = nil
	}
}
