package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func TestFormatRoundTrip(t *testing.T) {
	for f, native := range formats {
		if f == metadata.FormatUndefined {
			continue
		}
		back, ok := formatFromVk(native)
		require.True(t, ok, "format %s", f)
		assert.Equal(t, f, back)
	}
	_, ok := formatFromVk(vk.FormatBc1RgbUnormBlock)
	assert.False(t, ok)
	assert.Equal(t, vk.FormatUndefined, vkFormat(metadata.Format(255)))
}

func TestSamplesDefaultToOne(t *testing.T) {
	assert.Equal(t, vk.SampleCount1Bit, vkSamples(0))
	assert.Equal(t, vk.SampleCount4Bit, vkSamples(metadata.MSAASamples4))
}

func TestAspectMask(t *testing.T) {
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), aspectMask(metadata.FormatRGBA8Unorm))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), aspectMask(metadata.FormatD32Float))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), aspectMask(metadata.FormatD24UnormS8Uint))
}

func TestTransitionMasks(t *testing.T) {
	src, dst, ok := transitionMasks(metadata.ImageLayoutUndefined, metadata.ImageLayoutTransferDst)
	require.True(t, ok)
	assert.Zero(t, src.access)
	assert.Equal(t, vk.PipelineStageTopOfPipeBit, src.stages)
	assert.Equal(t, vk.AccessTransferWriteBit, dst.access)
	assert.Equal(t, vk.PipelineStageTransferBit, dst.stages)

	src, dst, ok = transitionMasks(metadata.ImageLayoutColorAttachment, metadata.ImageLayoutShaderReadOnly)
	require.True(t, ok)
	assert.Equal(t, vk.PipelineStageColorAttachmentOutputBit, src.stages)
	assert.Equal(t, vk.AccessShaderReadBit, dst.access)

	_, _, ok = transitionMasks(metadata.ImageLayoutShaderReadOnly, metadata.ImageLayoutUndefined)
	assert.False(t, ok, "nothing transitions into undefined")
	_, _, ok = transitionMasks(metadata.ImageLayout(99), metadata.ImageLayoutGeneral)
	assert.False(t, ok)
}

func TestBlendAttachments(t *testing.T) {
	opaque := vkBlendAttachment(metadata.BlendOpaque)
	assert.Equal(t, vk.Bool32(vk.False), opaque.BlendEnable)
	assert.Equal(t, colorWriteAll, opaque.ColorWriteMask)

	alpha := vkBlendAttachment(metadata.BlendAlpha)
	assert.Equal(t, vk.Bool32(vk.True), alpha.BlendEnable)
	assert.Equal(t, vk.BlendFactorSrcAlpha, alpha.SrcColorBlendFactor)
	assert.Equal(t, vk.BlendFactorOneMinusSrcAlpha, alpha.DstColorBlendFactor)

	add := vkBlendAttachment(metadata.BlendAdd)
	assert.Equal(t, vk.BlendFactorOne, add.SrcColorBlendFactor)
	assert.Equal(t, vk.BlendFactorOne, add.DstColorBlendFactor)
}

func TestClearValuesFollowAttachmentKind(t *testing.T) {
	rp := &vulkanRenderPass{depth: []bool{false, true}}
	values := rp.clearValues([]metadata.ClearValues{
		{Color: [4]float32{1, 0, 0, 1}},
		{Depth: 1, Stencil: 0},
	})
	require.Len(t, values, 2)
	assert.Equal(t, vk.NewClearValue([]float32{1, 0, 0, 1}), values[0])
	assert.Equal(t, vk.NewClearDepthStencil(1, 0), values[1])
}
