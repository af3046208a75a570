package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

var formats = map[metadata.Format]vk.Format{
	metadata.FormatUndefined:      vk.FormatUndefined,
	metadata.FormatR8Uint:         vk.FormatR8Uint,
	metadata.FormatR32Uint:        vk.FormatR32Uint,
	metadata.FormatR32Float:       vk.FormatR32Sfloat,
	metadata.FormatRGB8Unorm:      vk.FormatR8g8b8Unorm,
	metadata.FormatRGBA8Unorm:     vk.FormatR8g8b8a8Unorm,
	metadata.FormatBGRA8Unorm:     vk.FormatB8g8r8a8Unorm,
	metadata.FormatBGRA8Srgb:      vk.FormatB8g8r8a8Srgb,
	metadata.FormatRGBA32Float:    vk.FormatR32g32b32a32Sfloat,
	metadata.FormatD32Float:       vk.FormatD32Sfloat,
	metadata.FormatD24UnormS8Uint: vk.FormatD24UnormS8Uint,
}

func vkFormat(f metadata.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

// formatFromVk maps a native format back, reporting false for the ones the
// renderer has no name for.
func formatFromVk(f vk.Format) (metadata.Format, bool) {
	for k, v := range formats {
		if v == f && k != metadata.FormatUndefined {
			return k, true
		}
	}
	return metadata.FormatUndefined, false
}

func vkSamples(s metadata.MSAASamples) vk.SampleCountFlagBits {
	if s == 0 {
		return vk.SampleCount1Bit
	}
	// The flag bits share the power of two encoding.
	return vk.SampleCountFlagBits(s)
}

func vkImageLayout(l metadata.ImageLayout) vk.ImageLayout {
	switch l {
	case metadata.ImageLayoutGeneral:
		return vk.ImageLayoutGeneral
	case metadata.ImageLayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case metadata.ImageLayoutDepthAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case metadata.ImageLayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case metadata.ImageLayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case metadata.ImageLayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case metadata.ImageLayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

func vkLoadOp(op metadata.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case metadata.LoadOpClear:
		return vk.AttachmentLoadOpClear
	case metadata.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	}
	return vk.AttachmentLoadOpLoad
}

func vkStoreOp(op metadata.StoreOp) vk.AttachmentStoreOp {
	if op == metadata.StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

func vkBufferUsage(u metadata.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if u.Has(metadata.BufferUsageVertex) {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if u.Has(metadata.BufferUsageIndex) {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if u.Has(metadata.BufferUsageStorage) {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if u.Has(metadata.BufferUsageUniform) {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if u.Has(metadata.BufferUsageIndirect) {
		flags |= vk.BufferUsageIndirectBufferBit
	}
	if u.Has(metadata.BufferUsageTransferSrc) {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if u.Has(metadata.BufferUsageTransferDst) {
		flags |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(flags)
}

func vkImageUsage(u metadata.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if u.Has(metadata.ImageUsageSampled) {
		flags |= vk.ImageUsageSampledBit
	}
	if u.Has(metadata.ImageUsageStorage) {
		flags |= vk.ImageUsageStorageBit
	}
	if u.Has(metadata.ImageUsageColorAttachment) {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if u.Has(metadata.ImageUsageDepthAttachment) {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u.Has(metadata.ImageUsageTransferSrc) {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if u.Has(metadata.ImageUsageTransferDst) {
		flags |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(flags)
}

func vkDescriptorType(k metadata.ResourceKind) vk.DescriptorType {
	switch k {
	case metadata.ResourceStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case metadata.ResourceSampledImage:
		return vk.DescriptorTypeCombinedImageSampler
	case metadata.ResourceStorageImage:
		return vk.DescriptorTypeStorageImage
	}
	return vk.DescriptorTypeUniformBuffer
}

func vkShaderStage(s metadata.ShaderStage) vk.ShaderStageFlagBits {
	switch s {
	case metadata.ShaderStagePixel:
		return vk.ShaderStageFragmentBit
	case metadata.ShaderStageCompute:
		return vk.ShaderStageComputeBit
	}
	return vk.ShaderStageVertexBit
}

func vkStageFlags(f metadata.StageFlags) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlagBits
	if f.Has(metadata.StageVertex) {
		flags |= vk.ShaderStageVertexBit
	}
	if f.Has(metadata.StagePixel) {
		flags |= vk.ShaderStageFragmentBit
	}
	if f.Has(metadata.StageCompute) {
		flags |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(flags)
}

func vkFilter(f metadata.FilterType) vk.Filter {
	if f == metadata.FilterLinear {
		return vk.FilterLinear
	}
	return vk.FilterNearest
}

func vkMipmapMode(f metadata.FilterType) vk.SamplerMipmapMode {
	if f == metadata.FilterLinear {
		return vk.SamplerMipmapModeLinear
	}
	return vk.SamplerMipmapModeNearest
}

func vkAddressMode(m metadata.AddressMode) vk.SamplerAddressMode {
	switch m {
	case metadata.AddressModeClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case metadata.AddressModeClampToBorder:
		return vk.SamplerAddressModeClampToBorder
	}
	return vk.SamplerAddressModeRepeat
}

func vkBorderColor(c metadata.BorderColor) vk.BorderColor {
	if c == metadata.BorderColorWhite {
		return vk.BorderColorFloatOpaqueWhite
	}
	return vk.BorderColorFloatOpaqueBlack
}

func vkCompareOp(op metadata.CompOp) vk.CompareOp {
	switch op {
	case metadata.CompOpLess:
		return vk.CompareOpLess
	case metadata.CompOpEqual:
		return vk.CompareOpEqual
	case metadata.CompOpLessEqual:
		return vk.CompareOpLessOrEqual
	case metadata.CompOpGreater:
		return vk.CompareOpGreater
	case metadata.CompOpNotEqual:
		return vk.CompareOpNotEqual
	case metadata.CompOpGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	case metadata.CompOpAlways:
		return vk.CompareOpAlways
	}
	return vk.CompareOpNever
}

func vkTopology(t metadata.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case metadata.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	case metadata.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case metadata.TopologyLineStrip:
		return vk.PrimitiveTopologyLineStrip
	case metadata.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case metadata.TopologyTriangleFan:
		return vk.PrimitiveTopologyTriangleFan
	}
	return vk.PrimitiveTopologyTriangleList
}

func vkPolygonMode(m metadata.PolygonMode) vk.PolygonMode {
	switch m {
	case metadata.PolygonLine:
		return vk.PolygonModeLine
	case metadata.PolygonPoint:
		return vk.PolygonModePoint
	}
	return vk.PolygonModeFill
}

func vkCullMode(m metadata.CullMode) vk.CullModeFlags {
	switch m {
	case metadata.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.CullBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func vkFrontFace(f metadata.FrontFace) vk.FrontFace {
	if f == metadata.FrontFaceCounterClockwise {
		return vk.FrontFaceCounterClockwise
	}
	return vk.FrontFaceClockwise
}

func vkAttribFormat(t metadata.AttribType) vk.Format {
	switch t {
	case metadata.AttribVec1:
		return vk.FormatR32Sfloat
	case metadata.AttribVec2:
		return vk.FormatR32g32Sfloat
	case metadata.AttribVec3:
		return vk.FormatR32g32b32Sfloat
	case metadata.AttribVec4:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.AttribVec3Unorm:
		return vk.FormatR8g8b8Unorm
	case metadata.AttribVec4Unorm:
		return vk.FormatR8g8b8a8Unorm
	case metadata.AttribColor32:
		return vk.FormatB8g8r8a8Unorm
	}
	return vk.FormatUndefined
}

var colorWriteAll = vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit)

func vkBlendAttachment(b metadata.BlendSetting) vk.PipelineColorBlendAttachmentState {
	state := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.False,
		SrcColorBlendFactor: vk.BlendFactorOne,
		DstColorBlendFactor: vk.BlendFactorZero,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorOne,
		DstAlphaBlendFactor: vk.BlendFactorZero,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask:      colorWriteAll,
	}
	switch b {
	case metadata.BlendAdd:
		state.BlendEnable = vk.True
		state.DstColorBlendFactor = vk.BlendFactorOne
		state.DstAlphaBlendFactor = vk.BlendFactorOne
	case metadata.BlendMixed:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		state.DstColorBlendFactor = vk.BlendFactorOne
	case metadata.BlendAlpha:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		state.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		state.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
	}
	return state
}

func vkIndexType(t device.IndexType) vk.IndexType {
	if t == device.IndexTypeUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func vkBindPoint(bp device.BindPoint) vk.PipelineBindPoint {
	if bp == device.BindPointCompute {
		return vk.PipelineBindPointCompute
	}
	return vk.PipelineBindPointGraphics
}

func aspectMask(f metadata.Format) vk.ImageAspectFlags {
	if !f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	if f.HasStencil() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
}

// layoutAccess is how an image is touched while it rests in one layout.
type layoutAccess struct {
	access vk.AccessFlagBits
	stages vk.PipelineStageFlagBits
}

const shaderStages = vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit

var layoutAccesses = map[metadata.ImageLayout]layoutAccess{
	metadata.ImageLayoutUndefined: {0, vk.PipelineStageTopOfPipeBit},
	metadata.ImageLayoutGeneral: {
		vk.AccessShaderReadBit | vk.AccessShaderWriteBit,
		shaderStages,
	},
	metadata.ImageLayoutColorAttachment: {
		vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit,
		vk.PipelineStageColorAttachmentOutputBit,
	},
	metadata.ImageLayoutDepthAttachment: {
		vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit,
		vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit,
	},
	metadata.ImageLayoutShaderReadOnly: {vk.AccessShaderReadBit, shaderStages},
	metadata.ImageLayoutTransferSrc:    {vk.AccessTransferReadBit, vk.PipelineStageTransferBit},
	metadata.ImageLayoutTransferDst:    {vk.AccessTransferWriteBit, vk.PipelineStageTransferBit},
	metadata.ImageLayoutPresentSrc:     {0, vk.PipelineStageColorAttachmentOutputBit},
}

// transitionMasks returns the source and destination halves of a layout
// barrier. Moving into Undefined, or from or to a layout without an
// entry, is not supported.
func transitionMasks(from, to metadata.ImageLayout) (src, dst layoutAccess, ok bool) {
	if to == metadata.ImageLayoutUndefined {
		return src, dst, false
	}
	src, okSrc := layoutAccesses[from]
	dst, okDst := layoutAccesses[to]
	return src, dst, okSrc && okDst
}
