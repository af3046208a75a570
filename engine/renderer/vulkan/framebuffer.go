package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
)

func (d *Device) CreateFramebuffer(info device.FramebufferInfo) (device.Framebuffer, error) {
	rp, ok := d.renderPasses.get(device.Handle(info.RenderPass))
	if !ok {
		return 0, errors.Errorf("unknown render pass %d", info.RenderPass)
	}
	attachments := make([]vk.ImageView, len(info.Views))
	for i, h := range info.Views {
		v, ok := d.views.get(device.Handle(h))
		if !ok {
			return 0, errors.Errorf("unknown image view %d at attachment %d", h, i)
		}
		attachments[i] = v
	}
	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.handle,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           info.Extent.Width,
		Height:          info.Extent.Height,
		Layers:          1,
	}
	var framebuffer vk.Framebuffer
	if err := vkCheck("vkCreateFramebuffer", vk.CreateFramebuffer(d.logical(), &framebufferCreateInfo, d.context.Allocator, &framebuffer)); err != nil {
		return 0, err
	}
	return device.Framebuffer(d.framebuffers.add(framebuffer)), nil
}
