package vulkan

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
)

var (
	loaderOnce sync.Once
	loaderErr  error
)

// initLoader binds the Vulkan entry points once per process. A nil proc
// address loads the system library directly.
func initLoader(procAddr unsafe.Pointer) error {
	loaderOnce.Do(func() {
		if procAddr != nil {
			vk.SetGetInstanceProcAddr(procAddr)
		} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loaderErr = errors.Wrap(err, "failed to load the Vulkan library")
			return
		}
		if err := vk.Init(); err != nil {
			loaderErr = errors.Wrap(err, "failed to initialize vk")
		}
	})
	return loaderErr
}

// Device is the Vulkan implementation of device.Device. Native objects
// never leave the package: callers hold registry handles.
type Device struct {
	context  *VulkanContext
	locks    *VulkanLockPool
	cfg      core.RendererConfig
	surface  SurfaceProvider
	validate bool

	commandPool    vk.CommandPool
	descriptorPool vk.DescriptorPool

	handles        atomic.Uint64
	buffers        *registry[*vulkanBuffer]
	images         *registry[*vulkanImage]
	views          *registry[vk.ImageView]
	samplers       *registry[vk.Sampler]
	shaders        *registry[vk.ShaderModule]
	setLayouts     *registry[vk.DescriptorSetLayout]
	sets           *registry[vk.DescriptorSet]
	pipeLayouts    *registry[vk.PipelineLayout]
	pipelines      *registry[vk.Pipeline]
	renderPasses   *registry[*vulkanRenderPass]
	framebuffers   *registry[vk.Framebuffer]
	fences         *registry[vk.Fence]
	semaphores     *registry[vk.Semaphore]
}

var _ device.Device = (*Device)(nil)

// NewDevice opens a device that presents to the surface of p.
func NewDevice(appName string, cfg core.RendererConfig, p SurfaceProvider) (*Device, error) {
	if p == nil {
		return nil, errors.New("a presenting device needs a surface provider")
	}
	return newDevice(appName, cfg, p)
}

// NewHeadlessDevice opens a device without a surface, for compute and
// offscreen work.
func NewHeadlessDevice(appName string, cfg core.RendererConfig) (*Device, error) {
	return newDevice(appName, cfg, nil)
}

func newDevice(appName string, cfg core.RendererConfig, p SurfaceProvider) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var procAddr unsafe.Pointer
	if p != nil {
		procAddr = p.GetInstanceProcAddress()
		if procAddr == nil {
			return nil, errors.New("GetInstanceProcAddr is nil")
		}
	}
	if err := initLoader(procAddr); err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	d := &Device{
		context:  &VulkanContext{Allocator: nil},
		locks:    NewVulkanLockPool(),
		cfg:      cfg,
		surface:  p,
		validate: cfg.Validation,
	}
	d.buffers = newRegistry[*vulkanBuffer](&d.handles)
	d.images = newRegistry[*vulkanImage](&d.handles)
	d.views = newRegistry[vk.ImageView](&d.handles)
	d.samplers = newRegistry[vk.Sampler](&d.handles)
	d.shaders = newRegistry[vk.ShaderModule](&d.handles)
	d.setLayouts = newRegistry[vk.DescriptorSetLayout](&d.handles)
	d.sets = newRegistry[vk.DescriptorSet](&d.handles)
	d.pipeLayouts = newRegistry[vk.PipelineLayout](&d.handles)
	d.pipelines = newRegistry[vk.Pipeline](&d.handles)
	d.renderPasses = newRegistry[*vulkanRenderPass](&d.handles)
	d.framebuffers = newRegistry[vk.Framebuffer](&d.handles)
	d.fences = newRegistry[vk.Fence](&d.handles)
	d.semaphores = newRegistry[vk.Semaphore](&d.handles)

	if err := d.createInstance(appName); err != nil {
		return nil, err
	}
	if p != nil {
		core.LogDebug("Creating Vulkan surface...")
		surface, err := p.CreateSurface(d.context.Instance)
		if err != nil {
			d.destroyInstance()
			return nil, errors.Wrap(err, "failed to create platform surface")
		}
		d.context.Surface = surface
		core.LogDebug("Vulkan surface created.")
	}
	if err := DeviceCreate(d.context); err != nil {
		d.destroyInstance()
		return nil, err
	}
	d.locks.SetQueueFamily(d.context.Device.QueueIndex)
	if err := d.createPools(); err != nil {
		d.Close()
		return nil, err
	}
	core.LogInfo("Vulkan device initialized successfully (headless=%t).", p == nil)
	return d, nil
}

func (d *Device) logical() vk.Device {
	return d.context.Device.LogicalDevice
}

func (d *Device) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima RHI"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var requiredExtensions []string
	if d.surface != nil {
		requiredExtensions = append(requiredExtensions, "VK_KHR_surface")
		requiredExtensions = append(requiredExtensions, d.surface.RequiredExtensions()...)
	}
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	if d.validate {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	requiredExtensions = dedupe(requiredExtensions)
	core.LogDebug("Required extensions: %v", requiredExtensions)
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	var layers []string
	if d.validate {
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkLayers(layers); err != nil {
			return err
		}
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if err := vkCheck("vkCreateInstance", vk.CreateInstance(&createInfo, d.context.Allocator, &instance)); err != nil {
		return err
	}
	if err := vk.InitInstance(instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	d.context.Instance = instance
	core.LogInfo("Vulkan Instance created.")

	if d.validate {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		d.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func checkLayers(required []string) error {
	var count uint32
	if err := vkCheck("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := vkCheck("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
		return err
	}
	for _, name := range required {
		found := false
		for i := range available {
			available[i].Deref()
			if cString(available[i].LayerName[:]) == name {
				found = true
				break
			}
		}
		if !found {
			err := errors.Errorf("required validation layer is missing: %s", name)
			core.LogError(err.Error())
			return err
		}
	}
	core.LogInfo("All required validation layers are present.")
	return nil
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, s := range list {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// createPools sizes the descriptor pool from the renderer config: every
// resource kind gets DescriptorsPerKind descriptors.
func (d *Device) createPools() error {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.context.Device.QueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var commandPool vk.CommandPool
	if err := vkCheck("vkCreateCommandPool", vk.CreateCommandPool(d.logical(), &poolInfo, d.context.Allocator, &commandPool)); err != nil {
		return err
	}
	d.commandPool = commandPool

	perKind := uint32(d.cfg.DescriptorsPerKind)
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: perKind},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: perKind},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: perKind},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: perKind},
	}
	var descriptorPool vk.DescriptorPool
	if err := vkCheck("vkCreateDescriptorPool", vk.CreateDescriptorPool(d.logical(), &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       uint32(d.cfg.MaxDescriptorSets),
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, d.context.Allocator, &descriptorPool)); err != nil {
		return err
	}
	d.descriptorPool = descriptorPool
	core.LogDebug("Descriptor pool created: %d sets, %d descriptors per kind.", d.cfg.MaxDescriptorSets, perKind)
	return nil
}

func (d *Device) WaitIdle() error {
	return d.locks.SafeQueueCall(d.context.Device.QueueIndex, func() error {
		return vkCheck("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.logical()))
	})
}

// Destroy releases one native object. Unknown handles are ignored.
func (d *Device) Destroy(kind device.ObjectType, h device.Handle) {
	dev := d.logical()
	alloc := d.context.Allocator
	switch kind {
	case device.ObjectBuffer:
		if b, ok := d.buffers.take(h); ok {
			b.destroy(dev, alloc)
		}
	case device.ObjectImage:
		if img, ok := d.images.take(h); ok {
			img.destroy(dev, alloc)
		}
	case device.ObjectImageView:
		if v, ok := d.views.take(h); ok {
			vk.DestroyImageView(dev, v, alloc)
		}
	case device.ObjectSampler:
		if s, ok := d.samplers.take(h); ok {
			vk.DestroySampler(dev, s, alloc)
		}
	case device.ObjectShaderModule:
		if m, ok := d.shaders.take(h); ok {
			vk.DestroyShaderModule(dev, m, alloc)
		}
	case device.ObjectDescriptorSetLayout:
		if l, ok := d.setLayouts.take(h); ok {
			vk.DestroyDescriptorSetLayout(dev, l, alloc)
		}
	case device.ObjectPipelineLayout:
		if l, ok := d.pipeLayouts.take(h); ok {
			vk.DestroyPipelineLayout(dev, l, alloc)
		}
	case device.ObjectPipeline:
		if p, ok := d.pipelines.take(h); ok {
			vk.DestroyPipeline(dev, p, alloc)
		}
	case device.ObjectRenderPass:
		if rp, ok := d.renderPasses.take(h); ok {
			vk.DestroyRenderPass(dev, rp.handle, alloc)
		}
	case device.ObjectFramebuffer:
		if fb, ok := d.framebuffers.take(h); ok {
			vk.DestroyFramebuffer(dev, fb, alloc)
		}
	case device.ObjectFence:
		if f, ok := d.fences.take(h); ok {
			vk.DestroyFence(dev, f, alloc)
		}
	case device.ObjectSemaphore:
		if s, ok := d.semaphores.take(h); ok {
			vk.DestroySemaphore(dev, s, alloc)
		}
	default:
		core.LogWarn("cannot destroy object of kind %s", kind)
	}
}

// Close destroys everything still registered, then the device and the
// instance. Objects are released in the opposite order of creation.
func (d *Device) Close() {
	if d.context.Device != nil && d.context.Device.LogicalDevice != nil {
		dev := d.logical()
		alloc := d.context.Allocator
		vk.DeviceWaitIdle(dev)

		d.framebuffers.drain(func(fb vk.Framebuffer) { vk.DestroyFramebuffer(dev, fb, alloc) })
		d.pipelines.drain(func(p vk.Pipeline) { vk.DestroyPipeline(dev, p, alloc) })
		d.renderPasses.drain(func(rp *vulkanRenderPass) { vk.DestroyRenderPass(dev, rp.handle, alloc) })
		d.pipeLayouts.drain(func(l vk.PipelineLayout) { vk.DestroyPipelineLayout(dev, l, alloc) })
		d.sets.drain(func(vk.DescriptorSet) {})
		d.setLayouts.drain(func(l vk.DescriptorSetLayout) { vk.DestroyDescriptorSetLayout(dev, l, alloc) })
		d.shaders.drain(func(m vk.ShaderModule) { vk.DestroyShaderModule(dev, m, alloc) })
		d.samplers.drain(func(s vk.Sampler) { vk.DestroySampler(dev, s, alloc) })
		d.views.drain(func(v vk.ImageView) { vk.DestroyImageView(dev, v, alloc) })
		d.images.drain(func(img *vulkanImage) { img.destroy(dev, alloc) })
		d.buffers.drain(func(b *vulkanBuffer) { b.destroy(dev, alloc) })
		d.fences.drain(func(f vk.Fence) { vk.DestroyFence(dev, f, alloc) })
		d.semaphores.drain(func(s vk.Semaphore) { vk.DestroySemaphore(dev, s, alloc) })

		if d.descriptorPool != vk.NullDescriptorPool {
			vk.DestroyDescriptorPool(dev, d.descriptorPool, alloc)
			d.descriptorPool = vk.NullDescriptorPool
		}
		if d.commandPool != vk.NullCommandPool {
			vk.DestroyCommandPool(dev, d.commandPool, alloc)
			d.commandPool = vk.NullCommandPool
		}
		DeviceDestroy(d.context)
	}
	d.destroyInstance()
	core.LogInfo("Vulkan device shut down.")
}

func (d *Device) destroyInstance() {
	if d.context.Instance == nil {
		return
	}
	if d.context.Surface != vk.NullSurface {
		vk.DestroySurface(d.context.Instance, d.context.Surface, d.context.Allocator)
		d.context.Surface = vk.NullSurface
	}
	if d.context.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.context.Instance, d.context.debugMessenger, nil)
		d.context.debugMessenger = vk.NullDebugReportCallback
	}
	vk.DestroyInstance(d.context.Instance, d.context.Allocator)
	d.context.Instance = nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
