package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type vulkanImage struct {
	handle vk.Image
	memory vk.DeviceMemory
	format metadata.Format
	// Swapchain images belong to the swapchain and are never freed here.
	owned bool
}

func (img *vulkanImage) destroy(dev vk.Device, alloc *vk.AllocationCallbacks) {
	if !img.owned {
		return
	}
	if img.handle != vk.NullImage {
		vk.DestroyImage(dev, img.handle, alloc)
		img.handle = vk.NullImage
	}
	if img.memory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, img.memory, alloc)
		img.memory = vk.NullDeviceMemory
	}
}

// CreateImage creates an image and its default view covering every mip
// level and layer.
func (d *Device) CreateImage(desc metadata.ImageDesc) (device.Image, device.ImageView, error) {
	desc = desc.Normalized()
	format := vkFormat(desc.Format)
	if format == vk.FormatUndefined {
		return 0, 0, errors.Errorf("image %q has no native format for %s", desc.Name, desc.Format)
	}
	imageType, viewType := vk.ImageType2d, vk.ImageViewType2d
	if desc.Type == metadata.ImageType3D {
		imageType, viewType = vk.ImageType3d, vk.ImageViewType3d
	}
	tiling, props := vk.ImageTilingOptimal, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if desc.Staging {
		tiling = vk.ImageTilingLinear
		props = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: imageType,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Size.Width,
			Height: desc.Size.Height,
			Depth:  desc.Size.Depth,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.ArrayLayers,
		Samples:       vkSamples(desc.Samples),
		Tiling:        tiling,
		Usage:         vkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var handle vk.Image
	if err := vkCheck("vkCreateImage", vk.CreateImage(d.logical(), &createInfo, d.context.Allocator, &handle)); err != nil {
		return 0, 0, errors.Wrapf(err, "image %q", desc.Name)
	}
	img := &vulkanImage{handle: handle, format: desc.Format, owned: true}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logical(), handle, &req)
	memory, err := d.allocate(req, props)
	if err != nil {
		img.destroy(d.logical(), d.context.Allocator)
		return 0, 0, errors.Wrapf(err, "image %q", desc.Name)
	}
	img.memory = memory
	if err := vkCheck("vkBindImageMemory", vk.BindImageMemory(d.logical(), handle, memory, 0)); err != nil {
		img.destroy(d.logical(), d.context.Allocator)
		return 0, 0, err
	}

	view, err := d.createView(handle, format, aspectMask(desc.Format), viewType, desc.MipLevels, desc.ArrayLayers)
	if err != nil {
		img.destroy(d.logical(), d.context.Allocator)
		return 0, 0, errors.Wrapf(err, "image %q", desc.Name)
	}
	core.LogDebug("created image %q %dx%dx%d %s", desc.Name, desc.Size.Width, desc.Size.Height, desc.Size.Depth, desc.Format)
	return device.Image(d.images.add(img)), device.ImageView(d.views.add(view)), nil
}

func (d *Device) createView(image vk.Image, format vk.Format, aspect vk.ImageAspectFlags, viewType vk.ImageViewType, levels, layers uint32) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     levels,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	}
	var view vk.ImageView
	if err := vkCheck("vkCreateImageView", vk.CreateImageView(d.logical(), &viewInfo, d.context.Allocator, &view)); err != nil {
		return vk.NullImageView, err
	}
	return view, nil
}

func (d *Device) image(h device.Image) vk.Image {
	if img, ok := d.images.get(device.Handle(h)); ok {
		return img.handle
	}
	core.LogWarn("unknown image handle %d", h)
	return vk.NullImage
}

func (d *Device) view(h device.ImageView) vk.ImageView {
	if v, ok := d.views.get(device.Handle(h)); ok {
		return v
	}
	core.LogWarn("unknown image view handle %d", h)
	return vk.NullImageView
}

func (d *Device) CreateSampler(state metadata.SamplerState) (device.Sampler, error) {
	anisotropy := vk.Bool32(vk.False)
	maxAnisotropy := float32(1)
	if state.AnisotropyEnable && d.context.Device.Features.SamplerAnisotropy == vk.True {
		anisotropy = vk.True
		limits := d.context.Device.Properties.Limits
		limits.Deref()
		maxAnisotropy = limits.MaxSamplerAnisotropy
	}
	compare := vk.Bool32(vk.False)
	if state.CompareEnable {
		compare = vk.True
	}
	createInfo := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        vkFilter(state.Filter),
		MinFilter:        vkFilter(state.Filter),
		MipmapMode:       vkMipmapMode(state.MipmapFilter),
		AddressModeU:     vkAddressMode(state.AddressMode),
		AddressModeV:     vkAddressMode(state.AddressMode),
		AddressModeW:     vkAddressMode(state.AddressMode),
		AnisotropyEnable: anisotropy,
		MaxAnisotropy:    maxAnisotropy,
		CompareEnable:    compare,
		CompareOp:        vkCompareOp(state.CompareOp),
		MinLod:           0,
		MaxLod:           state.MaxLod,
		BorderColor:      vkBorderColor(state.BorderColor),
	}
	var sampler vk.Sampler
	err := d.locks.SafeCall(ResourceManagement, func() error {
		return vkCheck("vkCreateSampler", vk.CreateSampler(d.logical(), &createInfo, d.context.Allocator, &sampler))
	})
	if err != nil {
		return 0, err
	}
	return device.Sampler(d.samplers.add(sampler)), nil
}
