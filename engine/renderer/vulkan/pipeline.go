package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func boolean(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

func vertexInput(decl metadata.VertexDecl) vk.PipelineVertexInputStateCreateInfo {
	bindings := make([]vk.VertexInputBindingDescription, len(decl.Bindings))
	for i, b := range decl.Bindings {
		rate := vk.VertexInputRateVertex
		if b.Instance {
			rate = vk.VertexInputRateInstance
		}
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: rate,
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(decl.Attributes))
	for i, a := range decl.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   vkAttribFormat(a.Format),
			Offset:   a.Offset,
		}
	}
	return vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
}

// CreateGraphicsPipeline bakes a GfxSetting into a pipeline. Viewport and
// scissor stay dynamic so one pipeline serves every render area.
func (d *Device) CreateGraphicsPipeline(info device.GraphicsPipelineInfo) (device.Pipeline, error) {
	layout, ok := d.pipeLayouts.get(device.Handle(info.Layout))
	if !ok {
		return 0, errors.Errorf("unknown pipeline layout %d", info.Layout)
	}
	rp, ok := d.renderPasses.get(device.Handle(info.RenderPass))
	if !ok {
		return 0, errors.Errorf("unknown render pass %d", info.RenderPass)
	}
	if len(info.Stages) == 0 {
		return 0, errors.Wrap(core.ErrNoShader, "graphics pipeline")
	}
	stages := make([]vk.PipelineShaderStageCreateInfo, len(info.Stages))
	for i, s := range info.Stages {
		stage, err := d.shaderStage(s)
		if err != nil {
			return 0, err
		}
		stages[i] = stage
	}
	setting := info.Setting

	vertexInputInfo := vertexInput(setting.VertexDecl)
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vkTopology(setting.InputAssembly.Topology),
		PrimitiveRestartEnable: boolean(setting.InputAssembly.PrimitiveRestart),
	}

	// Counts only; the values come from the dynamic state.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	polygonMode := setting.Rasterize.PolygonMode
	if polygonMode != metadata.PolygonFill && d.context.Device.Features.FillModeNonSolid != vk.True {
		core.LogWarn("fillModeNonSolid is not supported, falling back to fill")
		polygonMode = metadata.PolygonFill
	}
	lineWidth := setting.Rasterize.LineWidth
	if lineWidth <= 0 {
		lineWidth = 1
	}
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        boolean(setting.Rasterize.DepthClamp),
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vkPolygonMode(polygonMode),
		LineWidth:               lineWidth,
		CullMode:                vkCullMode(setting.Rasterize.CullMode),
		FrontFace:               vkFrontFace(setting.Rasterize.FrontFace),
		DepthBiasEnable:         boolean(setting.Rasterize.DepthBias),
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vkSamples(setting.Samples),
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       boolean(setting.Depth.DepthTest),
		DepthWriteEnable:      boolean(setting.Depth.DepthWrite),
		DepthCompareOp:        vkCompareOp(setting.Depth.CompareOp),
		DepthBoundsTestEnable: vk.False,
		StencilTestEnable:     boolean(setting.Depth.StencilTest),
		MaxDepthBounds:        1,
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, info.ColorAttachmentCount)
	for i := range blendAttachments {
		blendAttachments[i] = vkBlendAttachment(setting.BlendFor(i))
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicState,
		Layout:              layout,
		RenderPass:          rp.handle,
		Subpass:             0,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	err := d.locks.SafeCall(ResourceManagement, func() error {
		return vkCheck("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(d.logical(), vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, d.context.Allocator, pipelines))
	})
	if err != nil {
		return 0, err
	}
	core.LogDebug("Graphics pipeline created.")
	return device.Pipeline(d.pipelines.add(pipelines[0])), nil
}

func (d *Device) CreateComputePipeline(info device.ComputePipelineInfo) (device.Pipeline, error) {
	layout, ok := d.pipeLayouts.get(device.Handle(info.Layout))
	if !ok {
		return 0, errors.Errorf("unknown pipeline layout %d", info.Layout)
	}
	stage, err := d.shaderStage(info.Stage)
	if err != nil {
		return 0, err
	}
	createInfo := vk.ComputePipelineCreateInfo{
		SType:             vk.StructureTypeComputePipelineCreateInfo,
		Stage:             stage,
		Layout:            layout,
		BasePipelineIndex: -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	err = d.locks.SafeCall(ResourceManagement, func() error {
		return vkCheck("vkCreateComputePipelines", vk.CreateComputePipelines(d.logical(), vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{createInfo}, d.context.Allocator, pipelines))
	})
	if err != nil {
		return 0, err
	}
	core.LogDebug("Compute pipeline created.")
	return device.Pipeline(d.pipelines.add(pipelines[0])), nil
}
