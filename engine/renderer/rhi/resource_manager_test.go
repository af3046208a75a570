package rhi

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func newManager(t *testing.T) (*fakeDevice, *ResourceManager) {
	t.Helper()
	dev := newFakeDevice()
	m, err := NewResourceManager(dev, NewDescriptorSetCache(dev, 16), 4)
	require.NoError(t, err)
	return dev, m
}

func colorTarget(view device.ImageView, w, h uint32) *Texture {
	return &Texture{
		desc: metadata.ImageDesc{
			Size:   metadata.Extent3D{Width: w, Height: h, Depth: 1},
			Format: metadata.FormatRGBA8Unorm,
			Usage:  metadata.ImageUsageColorAttachment | metadata.ImageUsageSampled,
		},
		image: device.Image(view + 100),
		view:  view,
	}
}

func depthTarget(view device.ImageView, w, h uint32) *Texture {
	return &Texture{
		desc: metadata.ImageDesc{
			Size:   metadata.Extent3D{Width: w, Height: h, Depth: 1},
			Format: metadata.FormatD32Float,
			Usage:  metadata.ImageUsageDepthAttachment,
		},
		view: view,
	}
}

func testShaders(t *testing.T, m *ResourceManager) (*Shader, *Shader) {
	t.Helper()
	vs, err := m.CreateShader(metadata.ShaderStageVertex, []uint32{0x07230203, 1, 2})
	require.NoError(t, err)
	ps, err := m.CreateShader(metadata.ShaderStagePixel, []uint32{0x07230203, 3, 4})
	require.NoError(t, err)
	return vs, ps
}

func TestRenderPassAndFramebufferScenario(t *testing.T) {
	dev, m := newManager(t)
	cmd := &fakeCmd{dev: dev}
	black := metadata.ClearColor(metadata.FormatRGBA8Unorm, [4]float32{0, 0, 0, 1})

	m.SetColorAttachments(ColorAttachment(colorTarget(1, 64, 64), black))
	_, err := m.BeginRenderPass(cmd)
	require.NoError(t, err)
	m.EndRenderPass(cmd)
	assert.Equal(t, 1, m.RenderPassCount())
	assert.Equal(t, 1, m.FramebufferCount())

	m.ClearAttachments()
	m.SetColorAttachments(ColorAttachment(colorTarget(2, 64, 64), black))
	_, err = m.BeginRenderPass(cmd)
	require.NoError(t, err)
	m.EndRenderPass(cmd)
	assert.Equal(t, 1, m.RenderPassCount(), "same formats and ops share the render pass")
	assert.Equal(t, 2, m.FramebufferCount(), "a different view needs its own framebuffer")

	require.Len(t, cmd.begins, 2)
	assert.Equal(t, cmd.begins[0].RenderPass, cmd.begins[1].RenderPass)
	assert.NotEqual(t, cmd.begins[0].Framebuffer, cmd.begins[1].Framebuffer)
}

func TestCacheIdempotence(t *testing.T) {
	_, m := newManager(t)
	m.SetColorAttachments(ColorAttachment(colorTarget(1, 32, 32), metadata.ClearColor(metadata.FormatRGBA8Unorm, [4]float32{})))

	rp1, err := m.GetRenderPass()
	require.NoError(t, err)
	rp2, err := m.GetRenderPass()
	require.NoError(t, err)
	assert.Equal(t, rp1, rp2)

	fb1, err := m.GetFramebuffer()
	require.NoError(t, err)
	fb2, err := m.GetFramebuffer()
	require.NoError(t, err)
	assert.Equal(t, fb1, fb2)

	vs, ps := testShaders(t, m)
	layout, err := m.descriptors.GetPipelineLayout([]Signature{uboSig})
	require.NoError(t, err)
	setting := metadata.DefaultGfxSetting()
	p1, err := m.GetGraphicsPipeline(vs, ps, setting, layout)
	require.NoError(t, err)
	p2, err := m.GetGraphicsPipeline(vs, ps, metadata.DefaultGfxSetting(), layout)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, m.PipelineCount())

	setting.Blend = []metadata.BlendSetting{metadata.BlendAlpha}
	p3, err := m.GetGraphicsPipeline(vs, ps, setting, layout)
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)
	assert.Equal(t, PipelineID(1), p3.ID)
	assert.Equal(t, 2, m.PipelineCount())
}

func TestPipelineRequiresAttachments(t *testing.T) {
	_, m := newManager(t)
	vs, ps := testShaders(t, m)
	layout, err := m.descriptors.GetPipelineLayout(nil)
	require.NoError(t, err)

	_, err = m.GetGraphicsPipeline(vs, ps, metadata.DefaultGfxSetting(), layout)
	assert.ErrorIs(t, err, core.ErrNoAttachments)
	assert.Equal(t, 0, m.PipelineCount())

	m.SetColorAttachments(ColorAttachment(colorTarget(1, 8, 8), metadata.AttachmentDesc{}))
	_, err = m.GetGraphicsPipeline(vs, nil, metadata.DefaultGfxSetting(), layout)
	assert.ErrorIs(t, err, core.ErrNoShader)
}

func TestRenderAreaMismatch(t *testing.T) {
	dev, m := newManager(t)
	m.SetColorAttachments(ColorAttachment(colorTarget(1, 64, 64), metadata.AttachmentDesc{}))
	m.SetDepthAttachment(DepthAttachment(depthTarget(2, 32, 32), metadata.ClearDepth(metadata.FormatD32Float, 1)))

	_, err := m.BeginRenderPass(&fakeCmd{dev: dev})
	assert.ErrorIs(t, err, core.ErrRenderAreaMismatch)
	assert.Equal(t, 0, m.RenderPassCount())

	m.ClearAttachments()
	_, err = m.GetRenderPass()
	assert.ErrorIs(t, err, core.ErrNoAttachments)
}

func TestClearValuesFollowDeclarationOrder(t *testing.T) {
	dev, m := newManager(t)
	cmd := &fakeCmd{dev: dev}
	red := metadata.ClearColor(metadata.FormatRGBA8Unorm, [4]float32{1, 0, 0, 1})
	blue := metadata.ClearColor(metadata.FormatRGBA8Unorm, [4]float32{0, 0, 1, 1})

	m.SetDepthAttachment(DepthAttachment(depthTarget(3, 16, 16), metadata.ClearDepth(metadata.FormatD32Float, 0.5)))
	m.SetColorAttachments(
		ColorAttachment(colorTarget(1, 16, 16), red),
		ColorAttachment(colorTarget(2, 16, 16), blue),
	)
	area, err := m.BeginRenderPass(cmd)
	require.NoError(t, err)
	assert.Equal(t, metadata.Extent2D{Width: 16, Height: 16}, area)

	clears := cmd.begins[0].ClearValues
	require.Len(t, clears, 3)
	assert.Equal(t, red.ClearValue, clears[0])
	assert.Equal(t, blue.ClearValue, clears[1])
	assert.Equal(t, float32(0.5), clears[2].Depth)

	info := dev.renderPass[cmd.begins[0].RenderPass]
	require.Len(t, info.Attachments, 3)
	assert.True(t, info.Attachments[2].Depth)
	assert.Equal(t, metadata.ImageLayoutDepthAttachment, info.Attachments[2].FinalLayout)
	assert.Equal(t, metadata.ImageLayoutShaderReadOnly, info.Attachments[0].FinalLayout)
}

func TestLoadOpKeepsContents(t *testing.T) {
	dev, m := newManager(t)
	tex := colorTarget(1, 16, 16)
	tex.layout = tex.RestLayout()
	m.SetColorAttachments(ColorAttachment(tex, metadata.AttachmentDesc{LoadOp: metadata.LoadOpLoad}))
	rp, err := m.GetRenderPass()
	require.NoError(t, err)
	info := dev.renderPass[m.renderPasses.at(int(rp))]
	assert.Equal(t, metadata.ImageLayoutShaderReadOnly, info.Attachments[0].InitialLayout)

	m.SetColorAttachments(ColorAttachment(tex, metadata.ClearColor(metadata.FormatRGBA8Unorm, [4]float32{})))
	rp2, err := m.GetRenderPass()
	require.NoError(t, err)
	assert.NotEqual(t, rp, rp2, "load and clear are different render passes")
	info = dev.renderPass[m.renderPasses.at(int(rp2))]
	assert.Equal(t, metadata.ImageLayoutUndefined, info.Attachments[0].InitialLayout)
}

func TestLoadOpOnFreshTargetStartsUndefined(t *testing.T) {
	dev, m := newManager(t)
	cmd := &fakeCmd{dev: dev}
	swap := wrapSwapchainImage(uuid.New(), 7, 8, metadata.FormatBGRA8Srgb, metadata.Extent2D{Width: 16, Height: 16})
	m.SetColorAttachments(ColorAttachment(swap, metadata.AttachmentDesc{LoadOp: metadata.LoadOpLoad}))

	_, err := m.BeginRenderPass(cmd)
	require.NoError(t, err)
	m.EndRenderPass(cmd)
	first := dev.renderPass[cmd.begins[0].RenderPass]
	assert.Equal(t, metadata.ImageLayoutUndefined, first.Attachments[0].InitialLayout)
	assert.Equal(t, metadata.ImageLayoutPresentSrc, first.Attachments[0].FinalLayout)

	_, err = m.BeginRenderPass(cmd)
	require.NoError(t, err)
	second := dev.renderPass[cmd.begins[1].RenderPass]
	assert.Equal(t, metadata.ImageLayoutPresentSrc, second.Attachments[0].InitialLayout, "later passes load from the presented image")
	assert.Equal(t, 2, m.RenderPassCount())
}

func TestEndRenderPassLeavesTargetsAtRest(t *testing.T) {
	dev, m := newManager(t)
	cmd := &fakeCmd{dev: dev}
	tex := colorTarget(1, 16, 16)
	m.SetColorAttachments(ColorAttachment(tex, metadata.AttachmentDesc{}))
	_, err := m.BeginRenderPass(cmd)
	require.NoError(t, err)
	m.EndRenderPass(cmd)
	assert.Equal(t, metadata.ImageLayoutShaderReadOnly, tex.Layout())
}

func TestShaderCacheIsContentAddressed(t *testing.T) {
	dev, m := newManager(t)
	a, err := m.CreateShader(metadata.ShaderStageVertex, []uint32{1, 2, 3})
	require.NoError(t, err)
	b, err := m.CreateShader(metadata.ShaderStageVertex, []uint32{1, 2, 3})
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, dev.count("CreateShaderModule"))

	c, err := m.CreateShader(metadata.ShaderStagePixel, []uint32{1, 2, 3})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID, "the stage is part of the identity")

	_, err = m.CreateShader(metadata.ShaderStagePixel, nil)
	assert.Error(t, err)
}

func TestComputePipelineCache(t *testing.T) {
	_, m := newManager(t)
	cs, err := m.CreateShader(metadata.ShaderStageCompute, []uint32{9, 9})
	require.NoError(t, err)
	layout, err := m.descriptors.GetPipelineLayout([]Signature{{{Slot: 0, Kind: metadata.ResourceStorageBuffer, Stages: metadata.StageCompute}}})
	require.NoError(t, err)

	p1, err := m.GetComputePipeline(cs, layout)
	require.NoError(t, err)
	p2, err := m.GetComputePipeline(cs, layout)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, device.BindPointCompute, p1.BindPoint)

	_, err = m.GetComputePipeline(nil, layout)
	assert.ErrorIs(t, err, core.ErrNoShader)
}

func TestSamplerCacheRetiresEvicted(t *testing.T) {
	dev := newFakeDevice()
	c, err := NewSamplerCache(dev, 1)
	require.NoError(t, err)

	s1, err := c.Get(metadata.DefaultSamplerState())
	require.NoError(t, err)
	again, err := c.Get(metadata.DefaultSamplerState())
	require.NoError(t, err)
	assert.Equal(t, s1, again)

	_, err = c.Get(metadata.LinearSamplerState())
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.Retired())
	assert.Equal(t, 0, dev.destroyed[device.ObjectSampler], "evicted samplers stay alive")

	c.Destroy()
	assert.Equal(t, 2, dev.destroyed[device.ObjectSampler])
}

func TestResourceManagerDestroy(t *testing.T) {
	dev, m := newManager(t)
	cmd := &fakeCmd{dev: dev}
	m.SetColorAttachments(ColorAttachment(colorTarget(1, 8, 8), metadata.AttachmentDesc{}))
	_, err := m.BeginRenderPass(cmd)
	require.NoError(t, err)
	vs, ps := testShaders(t, m)
	layout, err := m.descriptors.GetPipelineLayout(nil)
	require.NoError(t, err)
	_, err = m.GetGraphicsPipeline(vs, ps, metadata.DefaultGfxSetting(), layout)
	require.NoError(t, err)

	m.Destroy()
	assert.Equal(t, 1, dev.destroyed[device.ObjectPipeline])
	assert.Equal(t, 1, dev.destroyed[device.ObjectFramebuffer])
	assert.Equal(t, 1, dev.destroyed[device.ObjectRenderPass])
	assert.Equal(t, 2, dev.destroyed[device.ObjectShaderModule])
	assert.Equal(t, 0, m.PipelineCount())
}
