package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// vulkanRenderPass remembers which attachments are depth so clear values
// can be packed into the right half of the native union.
type vulkanRenderPass struct {
	handle vk.RenderPass
	depth  []bool
}

// CreateRenderPass builds a single subpass pass. Color attachments come
// first; a depth attachment, if any, is last.
func (d *Device) CreateRenderPass(info device.RenderPassInfo) (device.RenderPass, error) {
	if len(info.Attachments) == 0 {
		return 0, errors.Wrap(core.ErrNoAttachments, "render pass")
	}
	attachmentDescriptions := make([]vk.AttachmentDescription, len(info.Attachments))
	var colorRefs []vk.AttachmentReference
	var depthRef *vk.AttachmentReference
	depth := make([]bool, len(info.Attachments))
	for i, a := range info.Attachments {
		depth[i] = a.Depth
		attachmentDescriptions[i] = vk.AttachmentDescription{
			Format:         vkFormat(a.Format),
			Samples:        vkSamples(a.Samples),
			LoadOp:         vkLoadOp(a.Load),
			StoreOp:        vkStoreOp(a.Store),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vkImageLayout(a.InitialLayout),
			FinalLayout:    vkImageLayout(a.FinalLayout),
		}
		if a.Depth {
			if a.Format.HasStencil() {
				attachmentDescriptions[i].StencilLoadOp = vkLoadOp(a.Load)
				attachmentDescriptions[i].StencilStoreOp = vkStoreOp(a.Store)
			}
			depthRef = &vk.AttachmentReference{
				Attachment: uint32(i),
				Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
			}
			continue
		}
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    uint32(len(colorRefs)),
		PColorAttachments:       colorRefs,
		PDepthStencilAttachment: depthRef,
	}

	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit)
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		SrcAccessMask: 0,
		DstStageMask:  stages,
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit |
			vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var renderPass vk.RenderPass
	if err := vkCheck("vkCreateRenderPass", vk.CreateRenderPass(d.logical(), &renderpassCreateInfo, d.context.Allocator, &renderPass)); err != nil {
		return 0, err
	}
	return device.RenderPass(d.renderPasses.add(&vulkanRenderPass{handle: renderPass, depth: depth})), nil
}

func (rp *vulkanRenderPass) clearValues(values []metadata.ClearValues) []vk.ClearValue {
	out := make([]vk.ClearValue, len(values))
	for i, v := range values {
		if i < len(rp.depth) && rp.depth[i] {
			out[i] = vk.NewClearDepthStencil(v.Depth, v.Stencil)
			continue
		}
		out[i] = vk.NewClearValue(v.Color[:])
	}
	return out
}
