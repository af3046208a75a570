package device

import (
	"context"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Device creates native objects and submits recorded work. Every method
// may be called from the recording thread only; backends serialize their
// own queue access.
type Device interface {
	CreateShaderModule(code []uint32) (ShaderModule, error)
	CreateBuffer(desc metadata.BufferDesc) (Buffer, error)
	CreateImage(desc metadata.ImageDesc) (Image, ImageView, error)
	CreateSampler(state metadata.SamplerState) (Sampler, error)
	CreateDescriptorSetLayout(bindings []LayoutBinding) (DescriptorSetLayout, error)
	CreatePipelineLayout(layouts []DescriptorSetLayout) (PipelineLayout, error)
	CreateGraphicsPipeline(info GraphicsPipelineInfo) (Pipeline, error)
	CreateComputePipeline(info ComputePipelineInfo) (Pipeline, error)
	CreateRenderPass(info RenderPassInfo) (RenderPass, error)
	CreateFramebuffer(info FramebufferInfo) (Framebuffer, error)

	// WriteBuffer and ReadBuffer only work on staging (host visible) buffers.
	WriteBuffer(b Buffer, offset uint64, data []byte) error
	ReadBuffer(b Buffer, offset uint64, out []byte) error

	// AllocateDescriptorSet takes a set from the fixed capacity pool and
	// fails with core.ErrPoolExhausted once it is empty.
	AllocateDescriptorSet(layout DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSet(set DescriptorSet, writes []DescriptorWrite) error

	AllocateCommandBuffers(n int) ([]CommandBuffer, error)

	CreateFence(signaled bool) (Fence, error)
	WaitFence(ctx context.Context, f Fence) error
	FenceSignaled(f Fence) (bool, error)
	ResetFence(f Fence) error
	CreateSemaphore() (Semaphore, error)

	// Submit queues cmd. A nil cmd submits an empty batch that only waits
	// and signals.
	Submit(cmd CommandBuffer, info SubmitInfo) error
	// ImmediateSubmit records fn into a one time command buffer, submits it
	// and blocks until it completes.
	ImmediateSubmit(fn func(cmd CommandBuffer) error) error
	WaitIdle() error

	Destroy(kind ObjectType, h Handle)
}

// CommandBuffer records native commands.
type CommandBuffer interface {
	Begin() error
	End() error
	Reset() error

	BeginRenderPass(info RenderPassBeginInfo)
	EndRenderPass()

	BindPipeline(bp BindPoint, p Pipeline)
	BindDescriptorSets(bp BindPoint, layout PipelineLayout, first uint32, sets []DescriptorSet)
	BindVertexBuffers(first uint32, buffers []Buffer, offsets []uint64)
	BindIndexBuffer(b Buffer, offset uint64, t IndexType)

	SetViewport(v metadata.Viewport)
	SetScissor(r metadata.Rect2D)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	DrawIndirect(b Buffer, offset uint64, drawCount, stride uint32)
	Dispatch(x, y, z uint32)

	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64)
	CopyBufferToImage(src Buffer, dst Image, layout metadata.ImageLayout, region BufferImageCopy)
	CopyImageToBuffer(src Image, layout metadata.ImageLayout, dst Buffer, region BufferImageCopy)
	CopyImage(src Image, srcLayout metadata.ImageLayout, dst Image, dstLayout metadata.ImageLayout, extent metadata.Extent3D)

	// TransitionImage records a layout barrier. Pairs the backend has no
	// access masks for fail with core.ErrUnsupportedTransition.
	TransitionImage(img Image, format metadata.Format, from, to metadata.ImageLayout) error
}

// Swapchain hands out presentable images.
type Swapchain interface {
	// Acquire returns the next image index and signals the semaphore once
	// it is ready. An out of date swapchain is recreated and the call
	// returns core.ErrSwapchainBooting.
	Acquire(ctx context.Context, signal Semaphore) (uint32, error)
	Present(index uint32, wait []Semaphore) error
	ImageCount() int
	Format() metadata.Format
	Extent() metadata.Extent2D
	Image(i uint32) Image
	View(i uint32) ImageView
}
