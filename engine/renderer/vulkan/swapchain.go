package vulkan

import (
	"context"
	"math"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Swapchain presents to the device surface. Its images are registered on
// the device as borrowed images, so callers use them like any other
// render target; recreation hands out new handles.
type Swapchain struct {
	dev         *Device
	handle      vk.Swapchain
	imageFormat vk.SurfaceFormat
	format      metadata.Format
	extent      metadata.Extent2D
	images      []device.Image
	views       []device.ImageView
	// stale forces a rebuild on the next Acquire.
	stale bool
}

var _ device.Swapchain = (*Swapchain)(nil)

func NewSwapchain(d *Device) (*Swapchain, error) {
	if d.context.Headless() {
		return nil, errors.New("a headless device has no surface to present to")
	}
	sc := &Swapchain{dev: d}
	if err := sc.create(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *Swapchain) create() error {
	d := sc.dev
	support := &d.context.Device.SwapchainSupport
	if err := DeviceQuerySwapchainSupport(d.context.Device.PhysicalDevice, d.context.Surface, support); err != nil {
		return err
	}
	if len(support.Formats) == 0 {
		return errors.New("surface reports no formats")
	}

	// Choose a swap surface format.
	sc.imageFormat = support.Formats[0]
	for _, f := range support.Formats {
		if f.Format == vk.FormatB8g8r8a8Srgb && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			sc.imageFormat = f
			break
		}
	}
	format, ok := formatFromVk(sc.imageFormat.Format)
	if !ok {
		return errors.Errorf("surface format %d has no engine equivalent", sc.imageFormat.Format)
	}
	sc.format = format

	presentMode := vk.PresentModeFifo
	for _, mode := range support.PresentModes {
		if mode == vk.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	capabilities := support.Capabilities
	swapchainExtent := capabilities.CurrentExtent
	if swapchainExtent.Width == math.MaxUint32 {
		w, h := d.surface.FramebufferSize()
		swapchainExtent = vk.Extent2D{Width: w, Height: h}
	}
	// Clamp to the value allowed by the GPU.
	swapchainExtent.Width = clamp(swapchainExtent.Width, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width)
	swapchainExtent.Height = clamp(swapchainExtent.Height, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height)

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}

	old := sc.handle
	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.imageFormat.Format,
		ImageColorSpace:  sc.imageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit | vk.ImageUsageTransferSrcBit),
		// One queue family does graphics and present.
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}

	var swapchainHandle vk.Swapchain
	err := d.locks.SafeCall(SwapchainManagement, func() error {
		return vkCheck("vkCreateSwapchain", vk.CreateSwapchain(d.logical(), &swapchainCreateInfo, d.context.Allocator, &swapchainHandle))
	})
	if err != nil {
		return err
	}
	sc.release()
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(d.logical(), old, d.context.Allocator)
	}
	sc.handle = swapchainHandle
	sc.extent = metadata.Extent2D{Width: swapchainExtent.Width, Height: swapchainExtent.Height}

	var count uint32
	if err := vkCheck("vkGetSwapchainImages", vk.GetSwapchainImages(d.logical(), sc.handle, &count, nil)); err != nil {
		return err
	}
	images := make([]vk.Image, count)
	if err := vkCheck("vkGetSwapchainImages", vk.GetSwapchainImages(d.logical(), sc.handle, &count, images)); err != nil {
		return err
	}

	sc.images = make([]device.Image, 0, count)
	sc.views = make([]device.ImageView, 0, count)
	for _, img := range images {
		view, err := d.createView(img, sc.imageFormat.Format, vk.ImageAspectFlags(vk.ImageAspectColorBit), vk.ImageViewType2d, 1, 1)
		if err != nil {
			return err
		}
		sc.images = append(sc.images, device.Image(d.images.add(&vulkanImage{handle: img, format: format})))
		sc.views = append(sc.views, device.ImageView(d.views.add(view)))
	}
	core.LogInfo("Swapchain created: %d images, %dx%d, format %s.", count, sc.extent.Width, sc.extent.Height, sc.format)
	return nil
}

// release unregisters the current images and destroys their views. The
// images themselves go away with the swapchain.
func (sc *Swapchain) release() {
	for _, v := range sc.views {
		sc.dev.Destroy(device.ObjectImageView, device.Handle(v))
	}
	for _, img := range sc.images {
		sc.dev.Destroy(device.ObjectImage, device.Handle(img))
	}
	sc.images, sc.views = nil, nil
}

func (sc *Swapchain) recreate() error {
	if err := sc.dev.WaitIdle(); err != nil {
		return err
	}
	sc.stale = false
	return sc.create()
}

// Invalidate marks the swapchain for recreation, for surfaces that do not
// report resizes themselves.
func (sc *Swapchain) Invalidate() {
	sc.stale = true
}

func (sc *Swapchain) Acquire(ctx context.Context, signal device.Semaphore) (uint32, error) {
	semaphore, ok := sc.dev.semaphores.get(device.Handle(signal))
	if !ok {
		return 0, errors.Errorf("unknown semaphore %d", signal)
	}
	if sc.stale {
		if err := sc.recreate(); err != nil {
			return 0, err
		}
		return 0, core.ErrSwapchainBooting
	}
	timeoutNs := uint64(math.MaxUint64)
	if deadline, ok := ctx.Deadline(); ok {
		timeoutNs = uint64(max(time.Until(deadline), 0).Nanoseconds())
	}
	var index uint32
	result := vk.AcquireNextImage(sc.dev.logical(), sc.handle, timeoutNs, semaphore, vk.NullFence, &index)
	switch result {
	case vk.Success, vk.Suboptimal:
		// A suboptimal image is still presentable; Present recreates.
		return index, nil
	case vk.ErrorOutOfDate:
		// Trigger swapchain recreation, then boot out of the frame.
		if err := sc.recreate(); err != nil {
			return 0, err
		}
		return 0, core.ErrSwapchainBooting
	case vk.Timeout, vk.NotReady:
		return 0, errors.Wrap(context.DeadlineExceeded, "swapchain image acquisition")
	default:
		return 0, vkCheck("vkAcquireNextImage", result)
	}
}

func (sc *Swapchain) Present(index uint32, wait []device.Semaphore) error {
	semaphores, err := sc.dev.nativeSemaphores(wait)
	if err != nil {
		return err
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(semaphores)),
		PWaitSemaphores:    semaphores,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.handle},
		PImageIndices:      []uint32{index},
	}
	var result vk.Result
	_ = sc.dev.locks.SafeQueueCall(sc.dev.context.Device.QueueIndex, func() error {
		result = vk.QueuePresent(sc.dev.context.Device.Queue, &presentInfo)
		return nil
	})
	switch result {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		// Out of date, suboptimal or resized.
		if err := sc.recreate(); err != nil {
			return err
		}
		return core.ErrSwapchainBooting
	default:
		return vkCheck("vkQueuePresent", result)
	}
}

func (sc *Swapchain) ImageCount() int           { return len(sc.images) }
func (sc *Swapchain) Format() metadata.Format   { return sc.format }
func (sc *Swapchain) Extent() metadata.Extent2D { return sc.extent }

func (sc *Swapchain) Image(i uint32) device.Image {
	if int(i) >= len(sc.images) {
		return 0
	}
	return sc.images[i]
}

func (sc *Swapchain) View(i uint32) device.ImageView {
	if int(i) >= len(sc.views) {
		return 0
	}
	return sc.views[i]
}

// Destroy must run before the device is closed.
func (sc *Swapchain) Destroy() {
	if sc.handle == vk.NullSwapchain {
		return
	}
	_ = sc.dev.WaitIdle()
	sc.release()
	vk.DestroySwapchain(sc.dev.logical(), sc.handle, sc.dev.context.Allocator)
	sc.handle = vk.NullSwapchain
}

func clamp(v, lo, hi uint32) uint32 {
	return min(max(v, lo), hi)
}
