package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// SurfaceProvider is the window side of a presenting device.
type SurfaceProvider interface {
	// GetInstanceProcAddress returns the loader entry point of the
	// windowing library.
	GetInstanceProcAddress() unsafe.Pointer
	RequiredExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)
	// FramebufferSize is the current drawable size in pixels.
	FramebufferSize() (uint32, uint32)
}

type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	// Surface is nil for a headless context.
	Surface vk.Surface

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice
}

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	// One family serves graphics, compute, transfer and, when there is a
	// surface, presentation.
	QueueIndex uint32
	Queue      vk.Queue

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	SwapchainSupport VulkanSwapchainSupportInfo
	DepthFormat      vk.Format
}

func (vc *VulkanContext) Headless() bool {
	return vc.Surface == vk.NullSurface
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (memoryProperties.MemoryTypes[i].PropertyFlags&propertyFlags) == propertyFlags {
			return i, nil
		}
	}
	err := errors.Errorf("unable to find a memory type for filter %#x and flags %#x", typeFilter, uint32(propertyFlags))
	core.LogWarn(err.Error())
	return 0, err
}
