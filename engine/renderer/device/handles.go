package device

import "fmt"

// Handle is an opaque native object reference. Zero is never a valid handle.
type Handle uint64

func (h Handle) Valid() bool {
	return h != 0
}

type (
	Buffer              Handle
	Image               Handle
	ImageView           Handle
	Sampler             Handle
	ShaderModule        Handle
	DescriptorSetLayout Handle
	DescriptorSet       Handle
	PipelineLayout      Handle
	Pipeline            Handle
	RenderPass          Handle
	Framebuffer         Handle
	Fence               Handle
	Semaphore           Handle
)

// ObjectType names the kind of a handle passed to Device.Destroy.
type ObjectType int

const (
	ObjectBuffer ObjectType = iota
	ObjectImage
	ObjectImageView
	ObjectSampler
	ObjectShaderModule
	ObjectDescriptorSetLayout
	ObjectPipelineLayout
	ObjectPipeline
	ObjectRenderPass
	ObjectFramebuffer
	ObjectFence
	ObjectSemaphore
)

func (o ObjectType) String() string {
	names := [...]string{
		"buffer", "image", "image-view", "sampler", "shader-module",
		"descriptor-set-layout", "pipeline-layout", "pipeline",
		"render-pass", "framebuffer", "fence", "semaphore",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return fmt.Sprintf("ObjectType(%d)", int(o))
}

type BindPoint int

const (
	BindPointGraphics BindPoint = iota
	BindPointCompute
)

func (b BindPoint) String() string {
	if b == BindPointCompute {
		return "compute"
	}
	return "graphics"
}

type IndexType int

const (
	IndexTypeUint16 IndexType = iota
	IndexTypeUint32
)
