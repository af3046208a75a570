package device

import "github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"

// LayoutBinding is one entry of a descriptor set layout.
type LayoutBinding struct {
	Slot   uint32
	Kind   metadata.ResourceKind
	Stages metadata.StageFlags
}

// DescriptorWrite points a set slot at a buffer range or an image view.
// It is comparable so written contents can be diffed cheaply.
type DescriptorWrite struct {
	Slot    uint32
	Kind    metadata.ResourceKind
	Buffer  Buffer
	Offset  uint64
	Range   uint64
	View    ImageView
	Sampler Sampler
	Layout  metadata.ImageLayout
}

type ShaderStageInfo struct {
	Stage  metadata.ShaderStage
	Module ShaderModule
	Entry  string
}

type GraphicsPipelineInfo struct {
	Stages               []ShaderStageInfo
	Setting              metadata.GfxSetting
	Layout               PipelineLayout
	RenderPass           RenderPass
	ColorAttachmentCount int
}

type ComputePipelineInfo struct {
	Stage  ShaderStageInfo
	Layout PipelineLayout
}

type AttachmentInfo struct {
	Format        metadata.Format
	Samples       metadata.MSAASamples
	Load          metadata.LoadOp
	Store         metadata.StoreOp
	Depth         bool
	InitialLayout metadata.ImageLayout
	FinalLayout   metadata.ImageLayout
}

// RenderPassInfo lists color attachments first and the optional depth
// attachment last.
type RenderPassInfo struct {
	Attachments []AttachmentInfo
}

type FramebufferInfo struct {
	RenderPass RenderPass
	Views      []ImageView
	Extent     metadata.Extent2D
}

type RenderPassBeginInfo struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Area        metadata.Rect2D
	ClearValues []metadata.ClearValues
}

// SubmitInfo gates a submission. Wait semaphores are waited at the color
// attachment output stage.
type SubmitInfo struct {
	Wait   []Semaphore
	Signal []Semaphore
	Fence  Fence
}

type BufferImageCopy struct {
	BufferOffset uint64
	Extent       metadata.Extent3D
}
