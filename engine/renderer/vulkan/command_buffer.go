package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type commandBufferState int

const (
	commandBufferReady commandBufferState = iota
	commandBufferRecording
	commandBufferInRenderPass
	commandBufferRecordingEnded
)

// commandBuffer records into a primary native command buffer taken from
// the device pool.
type commandBuffer struct {
	dev    *Device
	handle vk.CommandBuffer
	state  commandBufferState
}

var _ device.CommandBuffer = (*commandBuffer)(nil)

func (d *Device) AllocateCommandBuffers(n int) ([]device.CommandBuffer, error) {
	if n <= 0 {
		return nil, errors.Errorf("cannot allocate %d command buffers", n)
	}
	handles := make([]vk.CommandBuffer, n)
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(n),
	}
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return vkCheck("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.logical(), &allocateInfo, handles))
	})
	if err != nil {
		return nil, err
	}
	out := make([]device.CommandBuffer, n)
	for i, h := range handles {
		out[i] = &commandBuffer{dev: d, handle: h}
	}
	core.LogDebug("Allocated %d command buffers.", n)
	return out, nil
}

func (d *Device) freeCommandBuffer(cb *commandBuffer) {
	_ = d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(d.logical(), d.commandPool, 1, []vk.CommandBuffer{cb.handle})
		return nil
	})
	cb.handle = nil
}

// ImmediateSubmit records fn into a throwaway command buffer, submits it
// behind its own fence and waits for the queue to finish it.
func (d *Device) ImmediateSubmit(fn func(cmd device.CommandBuffer) error) error {
	handles := make([]vk.CommandBuffer, 1)
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return vkCheck("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.logical(), &allocateInfo, handles))
	})
	if err != nil {
		return err
	}
	cb := &commandBuffer{dev: d, handle: handles[0]}
	defer d.freeCommandBuffer(cb)

	if err := cb.begin(vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)); err != nil {
		return err
	}
	if err := fn(cb); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}

	var fence vk.Fence
	fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if err := vkCheck("vkCreateFence", vk.CreateFence(d.logical(), &fenceInfo, d.context.Allocator, &fence)); err != nil {
		return err
	}
	defer vk.DestroyFence(d.logical(), fence, d.context.Allocator)

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.handle},
	}
	err = d.locks.SafeQueueCall(d.context.Device.QueueIndex, func() error {
		return vkCheck("vkQueueSubmit", vk.QueueSubmit(d.context.Device.Queue, 1, []vk.SubmitInfo{submitInfo}, fence))
	})
	if err != nil {
		return err
	}
	return d.waitNative(fence, d.cfg.FenceTimeout())
}

func (cb *commandBuffer) begin(flags vk.CommandBufferUsageFlags) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: flags,
	}
	if err := vkCheck("vkBeginCommandBuffer", vk.BeginCommandBuffer(cb.handle, &beginInfo)); err != nil {
		return err
	}
	cb.state = commandBufferRecording
	return nil
}

func (cb *commandBuffer) Begin() error {
	return cb.begin(vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit))
}

func (cb *commandBuffer) End() error {
	if cb.state == commandBufferInRenderPass {
		return errors.Wrap(core.ErrProtocol, "command buffer ended inside a render pass")
	}
	if err := vkCheck("vkEndCommandBuffer", vk.EndCommandBuffer(cb.handle)); err != nil {
		return err
	}
	cb.state = commandBufferRecordingEnded
	return nil
}

func (cb *commandBuffer) Reset() error {
	if err := vkCheck("vkResetCommandBuffer", vk.ResetCommandBuffer(cb.handle, 0)); err != nil {
		return err
	}
	cb.state = commandBufferReady
	return nil
}

func (cb *commandBuffer) BeginRenderPass(info device.RenderPassBeginInfo) {
	rp, ok := cb.dev.renderPasses.get(device.Handle(info.RenderPass))
	if !ok {
		core.LogError("begin render pass: unknown render pass %d", info.RenderPass)
		return
	}
	fb, ok := cb.dev.framebuffers.get(device.Handle(info.Framebuffer))
	if !ok {
		core.LogError("begin render pass: unknown framebuffer %d", info.Framebuffer)
		return
	}
	clearValues := rp.clearValues(info.ClearValues)
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.handle,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: info.Area.Offset.X, Y: info.Area.Offset.Y},
			Extent: vk.Extent2D{Width: info.Area.Extent.Width, Height: info.Area.Extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cb.handle, &beginInfo, vk.SubpassContentsInline)
	cb.state = commandBufferInRenderPass
}

func (cb *commandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(cb.handle)
	cb.state = commandBufferRecording
}

func (cb *commandBuffer) BindPipeline(bp device.BindPoint, p device.Pipeline) {
	pipeline, ok := cb.dev.pipelines.get(device.Handle(p))
	if !ok {
		core.LogError("bind pipeline: unknown pipeline %d", p)
		return
	}
	vk.CmdBindPipeline(cb.handle, vkBindPoint(bp), pipeline)
}

func (cb *commandBuffer) BindDescriptorSets(bp device.BindPoint, layout device.PipelineLayout, first uint32, sets []device.DescriptorSet) {
	if len(sets) == 0 {
		return
	}
	pl, ok := cb.dev.pipeLayouts.get(device.Handle(layout))
	if !ok {
		core.LogError("bind descriptor sets: unknown pipeline layout %d", layout)
		return
	}
	native := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		set, ok := cb.dev.sets.get(device.Handle(s))
		if !ok {
			core.LogError("bind descriptor sets: unknown set %d", s)
			return
		}
		native[i] = set
	}
	vk.CmdBindDescriptorSets(cb.handle, vkBindPoint(bp), pl, first, uint32(len(native)), native, 0, nil)
}

func (cb *commandBuffer) BindVertexBuffers(first uint32, buffers []device.Buffer, offsets []uint64) {
	if len(buffers) == 0 {
		return
	}
	native := make([]vk.Buffer, len(buffers))
	nativeOffsets := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		native[i] = cb.dev.buffer(b)
		if i < len(offsets) {
			nativeOffsets[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(cb.handle, first, uint32(len(native)), native, nativeOffsets)
}

func (cb *commandBuffer) BindIndexBuffer(b device.Buffer, offset uint64, t device.IndexType) {
	vk.CmdBindIndexBuffer(cb.handle, cb.dev.buffer(b), vk.DeviceSize(offset), vkIndexType(t))
}

func (cb *commandBuffer) SetViewport(v metadata.Viewport) {
	vk.CmdSetViewport(cb.handle, 0, 1, []vk.Viewport{{
		X:        v.X,
		Y:        v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}})
}

func (cb *commandBuffer) SetScissor(r metadata.Rect2D) {
	vk.CmdSetScissor(cb.handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.Offset.X, Y: r.Offset.Y},
		Extent: vk.Extent2D{Width: r.Extent.Width, Height: r.Extent.Height},
	}})
}

func (cb *commandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(cb.handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (cb *commandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(cb.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (cb *commandBuffer) DrawIndirect(b device.Buffer, offset uint64, drawCount, stride uint32) {
	vk.CmdDrawIndirect(cb.handle, cb.dev.buffer(b), vk.DeviceSize(offset), drawCount, stride)
}

// Dispatch is fenced by global barriers: earlier reads and writes finish
// before the shader runs, and later work sees what it wrote.
func (cb *commandBuffer) Dispatch(x, y, z uint32) {
	cb.memoryBarrier(
		vk.PipelineStageAllCommandsBit,
		vk.PipelineStageComputeShaderBit,
		vk.AccessMemoryWriteBit,
		vk.AccessShaderReadBit|vk.AccessShaderWriteBit,
	)
	vk.CmdDispatch(cb.handle, x, y, z)
	cb.memoryBarrier(
		vk.PipelineStageComputeShaderBit,
		vk.PipelineStageComputeShaderBit|vk.PipelineStageVertexInputBit|vk.PipelineStageDrawIndirectBit|vk.PipelineStageTransferBit,
		vk.AccessShaderWriteBit,
		vk.AccessShaderReadBit|vk.AccessVertexAttributeReadBit|vk.AccessIndirectCommandReadBit|vk.AccessTransferReadBit,
	)
}

func (cb *commandBuffer) memoryBarrier(srcStage, dstStage vk.PipelineStageFlagBits, srcAccess, dstAccess vk.AccessFlagBits) {
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(srcAccess),
		DstAccessMask: vk.AccessFlags(dstAccess),
	}
	vk.CmdPipelineBarrier(cb.handle,
		vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage),
		vk.DependencyFlags(0),
		1, []vk.MemoryBarrier{barrier},
		0, nil,
		0, nil)
}

// transferDone makes a copy visible to everything recorded after it.
func (cb *commandBuffer) transferDone() {
	cb.memoryBarrier(
		vk.PipelineStageTransferBit,
		vk.PipelineStageAllCommandsBit,
		vk.AccessTransferWriteBit,
		vk.AccessMemoryReadBit|vk.AccessMemoryWriteBit,
	)
}

func (cb *commandBuffer) CopyBuffer(src, dst device.Buffer, srcOffset, dstOffset, size uint64) {
	vk.CmdCopyBuffer(cb.handle, cb.dev.buffer(src), cb.dev.buffer(dst), 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
	cb.transferDone()
}

func (cb *commandBuffer) imageRegion(img device.Image, region device.BufferImageCopy) vk.BufferImageCopy {
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if native, ok := cb.dev.images.get(device.Handle(img)); ok {
		aspect = aspectMask(native.format)
	}
	return vk.BufferImageCopy{
		BufferOffset: vk.DeviceSize(region.BufferOffset),
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: aspect,
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{
			Width:  region.Extent.Width,
			Height: region.Extent.Height,
			Depth:  max(region.Extent.Depth, 1),
		},
	}
}

func (cb *commandBuffer) CopyBufferToImage(src device.Buffer, dst device.Image, layout metadata.ImageLayout, region device.BufferImageCopy) {
	vk.CmdCopyBufferToImage(cb.handle, cb.dev.buffer(src), cb.dev.image(dst), vkImageLayout(layout), 1,
		[]vk.BufferImageCopy{cb.imageRegion(dst, region)})
	cb.transferDone()
}

func (cb *commandBuffer) CopyImageToBuffer(src device.Image, layout metadata.ImageLayout, dst device.Buffer, region device.BufferImageCopy) {
	vk.CmdCopyImageToBuffer(cb.handle, cb.dev.image(src), vkImageLayout(layout), cb.dev.buffer(dst), 1,
		[]vk.BufferImageCopy{cb.imageRegion(src, region)})
	cb.transferDone()
}

func (cb *commandBuffer) CopyImage(src device.Image, srcLayout metadata.ImageLayout, dst device.Image, dstLayout metadata.ImageLayout, extent metadata.Extent3D) {
	subresource := func(h device.Image) vk.ImageSubresourceLayers {
		aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
		if native, ok := cb.dev.images.get(device.Handle(h)); ok {
			aspect = aspectMask(native.format)
		}
		return vk.ImageSubresourceLayers{AspectMask: aspect, LayerCount: 1}
	}
	vk.CmdCopyImage(cb.handle, cb.dev.image(src), vkImageLayout(srcLayout), cb.dev.image(dst), vkImageLayout(dstLayout), 1, []vk.ImageCopy{{
		SrcSubresource: subresource(src),
		DstSubresource: subresource(dst),
		Extent: vk.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  max(extent.Depth, 1),
		},
	}})
	cb.transferDone()
}

func (cb *commandBuffer) TransitionImage(img device.Image, format metadata.Format, from, to metadata.ImageLayout) error {
	if from == to {
		return nil
	}
	src, dst, ok := transitionMasks(from, to)
	if !ok {
		return errors.Wrapf(core.ErrUnsupportedTransition, "%s -> %s", from, to)
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(src.access),
		DstAccessMask:       vk.AccessFlags(dst.access),
		OldLayout:           vkImageLayout(from),
		NewLayout:           vkImageLayout(to),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               cb.dev.image(img),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectMask(format),
			BaseMipLevel:   0,
			LevelCount:     vk.RemainingMipLevels,
			BaseArrayLayer: 0,
			LayerCount:     vk.RemainingArrayLayers,
		},
	}
	vk.CmdPipelineBarrier(cb.handle,
		vk.PipelineStageFlags(src.stages), vk.PipelineStageFlags(dst.stages),
		vk.DependencyFlags(0),
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{barrier})
	return nil
}
