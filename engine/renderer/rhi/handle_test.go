package rhi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type handleRig struct {
	dev       *fakeDevice
	swapchain *fakeSwapchain
	h         *Handle
	vs, ps    *Shader
	vertices  *Buffer
	ubo       *Buffer
}

func testConfig() core.RendererConfig {
	cfg := core.DefaultRendererConfig()
	cfg.CommandBufferBatch = 2
	cfg.MaxCommandBuffers = 4
	cfg.FenceTimeoutMS = 0
	return cfg
}

func newHandleRig(t *testing.T) *handleRig {
	t.Helper()
	dev := newFakeDevice()
	sc := newFakeSwapchain(dev, 2)
	h, err := NewHandle(dev, sc, testConfig())
	require.NoError(t, err)

	r := &handleRig{dev: dev, swapchain: sc, h: h}
	r.vs, err = h.CreateVertexShader([]uint32{0x07230203, 1})
	require.NoError(t, err)
	r.ps, err = h.CreatePixelShader([]uint32{0x07230203, 2})
	require.NoError(t, err)
	r.vertices, err = h.CreateBuffer(metadata.BufferDesc{Name: "triangle", Usage: metadata.BufferUsageVertex, ElementNum: 3, Stride: 24})
	require.NoError(t, err)
	r.ubo, err = h.CreateBuffer(metadata.BufferDesc{Name: "globals", Usage: metadata.BufferUsageUniform, ElementNum: 1, Stride: 64})
	require.NoError(t, err)
	return r
}

func triangleSetting() metadata.GfxSetting {
	s := metadata.DefaultGfxSetting()
	s.VertexDecl = metadata.VertexDecl{
		Bindings: []metadata.VertexBindingDesc{{Binding: 0, Stride: 24}},
		Attributes: []metadata.VertexAttributeDesc{
			{Location: 0, Binding: 0, Offset: 0, Format: metadata.AttribVec3},
			{Location: 1, Binding: 0, Offset: 12, Format: metadata.AttribVec3},
		},
	}
	return s
}

func (r *handleRig) activeCmd() *fakeCmd {
	return r.h.cmd.(*fakeCmd)
}

func TestTriangleFrame(t *testing.T) {
	r := newHandleRig(t)
	black := metadata.ClearColor(metadata.FormatUndefined, [4]float32{0, 0, 0, 1})

	r.h.BeginFrame(context.Background()).
		BeginCommand().
		SetDefaultAttachments(black).
		BeginRenderPass().
		SetVertexShader(r.vs).
		SetPixelShader(r.ps).
		SetUniformBuffer(metadata.StageVertex, 0, 0, r.ubo).
		SetVertexStream(0, r.vertices, 0).
		SetGraphicsPipeline(triangleSetting()).
		DrawPrimitive(0, 0, 0).
		EndRenderPass().
		EndCommand().
		Commit().
		EndFrame()
	require.NoError(t, r.h.Err())

	cmd := r.dev.cmds[0]
	assert.Contains(t, cmd.calls, "Draw 3 1 0 0", "vertex count comes from the bound stream")
	assert.Equal(t, 1, cmd.count("BindPipeline graphics"))
	assert.Equal(t, 1, cmd.count("BindDescriptorSets graphics"))

	info := r.dev.renderPass[cmd.begins[0].RenderPass]
	assert.Equal(t, metadata.FormatBGRA8Srgb, info.Attachments[0].Format, "default attachments follow the swapchain format")
	assert.Equal(t, metadata.ImageLayoutPresentSrc, info.Attachments[0].FinalLayout)

	require.Len(t, r.dev.submits, 2)
	commit, end := r.dev.submits[0], r.dev.submits[1]
	assert.Equal(t, []device.Semaphore{r.h.frames[0].imageAvailable}, commit.Wait)
	assert.Empty(t, end.Wait, "image available is consumed by the first commit")
	assert.Equal(t, []device.Semaphore{r.h.frames[0].renderFinished}, end.Signal)
	assert.Equal(t, r.h.frames[0].fence, end.Fence)
	assert.Equal(t, []uint32{0}, r.swapchain.presents)
	assert.Equal(t, 1, r.h.slot)
	assert.Equal(t, uint64(1), r.h.FrameNumber())

	s := r.h.Stats()
	assert.Equal(t, 1, s.RenderPasses)
	assert.Equal(t, 1, s.Framebuffers)
	assert.Equal(t, 1, s.Pipelines)
	assert.Equal(t, 1, s.Sets)
}

func TestFramebufferPerSwapchainImage(t *testing.T) {
	r := newHandleRig(t)
	clear := metadata.ClearColor(metadata.FormatUndefined, [4]float32{0, 0, 0, 1})
	for i := 0; i < 4; i++ {
		r.h.BeginFrame(context.Background()).
			BeginCommand().
			SetDefaultAttachments(clear).
			BeginRenderPass().
			EndRenderPass().
			EndCommand().
			Commit().
			EndFrame()
	}
	require.NoError(t, r.h.Err())
	s := r.h.Stats()
	assert.Equal(t, 1, s.RenderPasses)
	assert.Equal(t, 2, s.Framebuffers)
	assert.Equal(t, []uint32{0, 1, 0, 1}, r.swapchain.presents)
	assert.Equal(t, uint64(1), s.RenderPassCache.Misses)
	assert.Equal(t, uint64(2), s.FramebufferCache.Misses)
}

func TestDescriptorSetSharedAcrossPipelines(t *testing.T) {
	r := newHandleRig(t)
	ps2, err := r.h.CreatePixelShader([]uint32{0x07230203, 3})
	require.NoError(t, err)
	other, err := r.h.CreateBuffer(metadata.BufferDesc{Name: "other", Usage: metadata.BufferUsageUniform, ElementNum: 1, Stride: 64})
	require.NoError(t, err)

	r.h.BeginFrame(context.Background()).
		BeginCommand().
		SetDefaultAttachments(metadata.ClearColor(metadata.FormatUndefined, [4]float32{})).
		BeginRenderPass().
		SetVertexShader(r.vs).
		SetPixelShader(r.ps).
		SetUniformBuffer(metadata.StageVertex, 0, 0, r.ubo).
		SetVertexStream(0, r.vertices, 0).
		SetGraphicsPipeline(triangleSetting()).
		DrawPrimitive(0, 0, 0).
		SetPixelShader(ps2).
		SetGraphicsPipeline(triangleSetting()).
		DrawPrimitive(0, 0, 0)
	require.NoError(t, r.h.Err())

	s := r.h.Stats()
	assert.Equal(t, 2, s.Pipelines)
	assert.Equal(t, 1, s.Sets, "an identical signature reuses the set")
	assert.Equal(t, 1, s.Layouts)
	assert.Equal(t, 1, r.dev.count("UpdateDescriptorSet"), "same handles, no rewrite")

	r.h.SetUniformBuffer(metadata.StageVertex, 0, 0, other).DrawPrimitive(0, 0, 0)
	require.NoError(t, r.h.Err())
	assert.Equal(t, 2, r.h.Stats().Sets, "the set of the first draws stays as it was bound")
	assert.Equal(t, 2, r.dev.count("UpdateDescriptorSet"))
}

func TestPerFrameUniformsSettleIntoOneSetEach(t *testing.T) {
	r := newHandleRig(t)
	other, err := r.h.CreateBuffer(metadata.BufferDesc{Name: "globals 1", Usage: metadata.BufferUsageUniform, ElementNum: 1, Stride: 64})
	require.NoError(t, err)
	ubos := []*Buffer{r.ubo, other}

	for frame := 0; frame < 6; frame++ {
		r.h.BeginFrame(context.Background()).
			BeginCommand().
			SetDefaultAttachments(metadata.ClearColor(metadata.FormatUndefined, [4]float32{})).
			BeginRenderPass().
			SetVertexShader(r.vs).
			SetPixelShader(r.ps).
			SetUniformBuffer(metadata.StageVertex, 0, 0, ubos[frame%2]).
			SetVertexStream(0, r.vertices, 0).
			SetGraphicsPipeline(triangleSetting()).
			DrawPrimitive(0, 0, 0).
			EndRenderPass().
			EndCommand().
			Commit().
			EndFrame()
		require.NoError(t, r.h.Err())
	}
	assert.Equal(t, 2, r.h.Stats().Sets)
	assert.Equal(t, 2, r.dev.count("UpdateDescriptorSet"), "no set is rewritten while a frame may still read it")
}

func TestErrorOutlivesTheFrame(t *testing.T) {
	r := newHandleRig(t)
	r.h.BeginFrame(context.Background()).BeginCommand().BeginRenderPass()
	require.ErrorIs(t, r.h.Err(), core.ErrNoAttachments)

	r.h.EndFrame().BeginFrame(context.Background())
	assert.ErrorIs(t, r.h.Err(), core.ErrNoAttachments)
	assert.Equal(t, stageCommand, r.h.stage, "a failed handle records nothing more")
	assert.Empty(t, r.dev.submits)
}

func TestProtocolViolationIsSticky(t *testing.T) {
	r := newHandleRig(t)
	r.h.BeginCommand().BeginFrame(context.Background())
	assert.ErrorIs(t, r.h.Err(), core.ErrProtocol)
	assert.Equal(t, stageIdle, r.h.stage, "calls after a failure are skipped")
	assert.Empty(t, r.dev.cmds)
}

func TestProtocolNesting(t *testing.T) {
	cases := map[string]func(h *Handle){
		"draw outside render pass": func(h *Handle) {
			h.BeginFrame(context.Background()).BeginCommand().DrawPrimitive(0, 3, 1)
		},
		"commit before end": func(h *Handle) {
			h.BeginFrame(context.Background()).BeginCommand().Commit()
		},
		"end frame inside command": func(h *Handle) {
			h.BeginFrame(context.Background()).BeginCommand().EndFrame()
		},
		"dispatch inside render pass": func(h *Handle) {
			h.BeginFrame(context.Background()).BeginCommand().
				SetDefaultAttachments(metadata.AttachmentDesc{}).BeginRenderPass().Dispatch(1, 1, 1)
		},
		"attachments inside render pass": func(h *Handle) {
			h.BeginFrame(context.Background()).BeginCommand().
				SetDefaultAttachments(metadata.AttachmentDesc{}).BeginRenderPass().SetDefaultAttachments(metadata.AttachmentDesc{})
		},
	}
	for name, run := range cases {
		t.Run(name, func(t *testing.T) {
			r := newHandleRig(t)
			run(r.h)
			assert.ErrorIs(t, r.h.Err(), core.ErrProtocol)
		})
	}
}

func TestBeginRenderPassWithoutAttachments(t *testing.T) {
	r := newHandleRig(t)
	r.h.BeginFrame(context.Background()).BeginCommand().BeginRenderPass()
	assert.ErrorIs(t, r.h.Err(), core.ErrNoAttachments)
}

func TestAttachmentsDoNotLeakAcrossCommands(t *testing.T) {
	r := newHandleRig(t)
	r.h.BeginFrame(context.Background()).
		BeginCommand().
		SetDefaultAttachments(metadata.AttachmentDesc{}).
		EndCommand().
		Commit().
		BeginCommand().
		BeginRenderPass()
	assert.ErrorIs(t, r.h.Err(), core.ErrNoAttachments)
}

func TestForeignResourceIsReported(t *testing.T) {
	r := newHandleRig(t)
	other, err := NewHandle(r.dev, nil, testConfig())
	require.NoError(t, err)
	foreign, err := other.CreateBuffer(metadata.BufferDesc{Name: "foreign", Usage: metadata.BufferUsageUniform, ElementNum: 1, Stride: 16})
	require.NoError(t, err)

	r.h.BeginFrame(context.Background()).BeginCommand().SetUniformBuffer(metadata.StageVertex, 0, 0, foreign)
	assert.ErrorIs(t, r.h.Err(), core.ErrForeignResource)
}

func TestResourceVariantChecks(t *testing.T) {
	t.Run("buffer as image", func(t *testing.T) {
		r := newHandleRig(t)
		r.h.BeginFrame(context.Background()).BeginCommand().
			SetResource(metadata.ResourceSampledImage, metadata.StagePixel, 0, 0, r.ubo)
		assert.ErrorIs(t, r.h.Err(), core.ErrResourceKind)
	})
	t.Run("missing usage", func(t *testing.T) {
		r := newHandleRig(t)
		r.h.BeginFrame(context.Background()).BeginCommand().
			SetStorageBuffer(metadata.StageCompute, 0, 0, r.vertices)
		assert.ErrorIs(t, r.h.Err(), core.ErrResourceUsage)
	})
	t.Run("texture without sampled usage", func(t *testing.T) {
		r := newHandleRig(t)
		tex, err := r.h.CreateTexture(metadata.ImageDesc{Name: "rt", Size: metadata.Extent3D{Width: 4, Height: 4}, Format: metadata.FormatRGBA8Unorm, Usage: metadata.ImageUsageStorage})
		require.NoError(t, err)
		r.h.BeginFrame(context.Background()).BeginCommand().
			SetSamplerTexture(metadata.StagePixel, 0, 0, tex, metadata.DefaultSamplerState())
		assert.ErrorIs(t, r.h.Err(), core.ErrResourceUsage)
	})
	t.Run("nil resource", func(t *testing.T) {
		r := newHandleRig(t)
		r.h.BeginFrame(context.Background()).BeginCommand().
			SetResource(metadata.ResourceUniformBuffer, metadata.StageVertex, 0, 0, nil)
		assert.ErrorIs(t, r.h.Err(), core.ErrResourceKind)
	})
}

func TestSwapchainBootingSkipsFrame(t *testing.T) {
	r := newHandleRig(t)
	r.swapchain.bootOnce = true

	r.h.BeginFrame(context.Background()).
		BeginCommand().
		SetDefaultAttachments(metadata.AttachmentDesc{}).
		BeginRenderPass().
		EndRenderPass().
		EndCommand().
		Commit().
		EndFrame()
	require.NoError(t, r.h.Err())
	assert.Empty(t, r.swapchain.presents)
	assert.Empty(t, r.dev.submits)
	assert.Equal(t, 0, r.h.slot)

	r.h.BeginFrame(context.Background()).
		BeginCommand().
		SetDefaultAttachments(metadata.ClearColor(metadata.FormatUndefined, [4]float32{})).
		BeginRenderPass().
		EndRenderPass().
		EndCommand().
		Commit().
		EndFrame()
	require.NoError(t, r.h.Err())
	assert.Equal(t, []uint32{0}, r.swapchain.presents)
}

func TestDrawIndexPrimitive(t *testing.T) {
	r := newHandleRig(t)
	idx, err := r.h.CreateBufferWithData(metadata.BufferDesc{Name: "indices", Usage: metadata.BufferUsageIndex, ElementNum: 6, Stride: 2}, make([]byte, 12))
	require.NoError(t, err)
	bad, err := r.h.CreateBuffer(metadata.BufferDesc{Name: "bad", Usage: metadata.BufferUsageIndex, ElementNum: 6, Stride: 3})
	require.NoError(t, err)

	r.h.BeginFrame(context.Background()).
		BeginCommand().
		SetDefaultAttachments(metadata.AttachmentDesc{}).
		BeginRenderPass().
		SetVertexShader(r.vs).
		SetPixelShader(r.ps).
		SetVertexStream(0, r.vertices, 0).
		SetGraphicsPipeline(triangleSetting()).
		DrawIndexPrimitive(idx, 0, 0, 2, 0, 0)
	require.NoError(t, r.h.Err())

	cmd := r.activeCmd()
	assert.Equal(t, 1, cmd.count("BindIndexBuffer"))
	assert.Contains(t, cmd.calls, "DrawIndexed 4 1 2 0 0")

	r.h.DrawIndexPrimitive(idx, 0, 0, 0, 3, 2)
	assert.Contains(t, cmd.calls, "DrawIndexed 3 2 0 0 0")
	assert.Equal(t, 1, cmd.count("BindIndexBuffer"), "same index buffer is not rebound")

	r.h.DrawIndexPrimitive(bad, 0, 0, 0, 0, 0)
	assert.ErrorIs(t, r.h.Err(), core.ErrResourceUsage)
}

func TestDrawPrimitiveIndirect(t *testing.T) {
	r := newHandleRig(t)
	args, err := r.h.CreateBuffer(metadata.BufferDesc{Name: "args", Usage: metadata.BufferUsageIndirect, ElementNum: 4, Stride: 16})
	require.NoError(t, err)

	r.h.BeginFrame(context.Background()).
		BeginCommand().
		SetDefaultAttachments(metadata.AttachmentDesc{}).
		BeginRenderPass().
		SetVertexShader(r.vs).
		SetPixelShader(r.ps).
		SetGraphicsPipeline(metadata.DefaultGfxSetting()).
		DrawPrimitiveIndirect(args, 16)
	require.NoError(t, r.h.Err())
	assert.Contains(t, r.activeCmd().calls, "DrawIndirect 16 3 16")
}

func TestDrawWithoutPipeline(t *testing.T) {
	r := newHandleRig(t)
	r.h.BeginFrame(context.Background()).
		BeginCommand().
		SetDefaultAttachments(metadata.AttachmentDesc{}).
		BeginRenderPass().
		DrawPrimitive(0, 3, 1)
	assert.ErrorIs(t, r.h.Err(), core.ErrNoPipeline)
}

func TestHeadlessCompute(t *testing.T) {
	dev := newFakeDevice()
	h, err := NewHandle(dev, nil, testConfig())
	require.NoError(t, err)

	cs, err := h.CreateComputeShader([]uint32{0x07230203, 5})
	require.NoError(t, err)
	particles, err := h.CreateBufferWithData(metadata.BufferDesc{Name: "particles", Usage: metadata.BufferUsageStorage, ElementNum: 4, Stride: 4}, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	require.NoError(t, err)

	h.BeginFrame(context.Background()).
		BeginCommand().
		SetComputeShader(cs).
		SetStorageBuffer(metadata.StageCompute, 0, 0, particles).
		SetComputePipeline().
		Dispatch(4, 0, 0).
		Dispatch(4, 0, 0).
		EndCommand().
		Commit().
		EndFrame()
	require.NoError(t, h.Err())

	cmd := dev.cmds[0]
	assert.Equal(t, 2, cmd.count("Dispatch 4 1 1"))
	assert.Equal(t, 1, cmd.count("BindDescriptorSets compute"))
	require.Len(t, dev.submits, 2)
	assert.Empty(t, dev.submits[0].Wait)
	assert.Empty(t, dev.submits[1].Signal, "headless frames signal nothing but the fence")

	out := make([]byte, 16)
	h.ReadBuffer(particles, out)
	require.NoError(t, h.Err())
	assert.Equal(t, byte(16), out[15])

	h.SetDefaultAttachments(metadata.AttachmentDesc{})
	assert.ErrorIs(t, h.Err(), core.ErrProtocol)
}

func TestTextureTransfers(t *testing.T) {
	r := newHandleRig(t)
	desc := metadata.ImageDesc{Name: "albedo", Size: metadata.Extent3D{Width: 2, Height: 2}, Format: metadata.FormatRGBA8Unorm, Usage: metadata.ImageUsageSampled}
	tex, err := r.h.CreateTextureWithData(desc, make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, metadata.ImageLayoutShaderReadOnly, tex.Layout())

	var transitions []string
	for _, c := range r.dev.immediate {
		for _, call := range c.calls {
			if countPrefix([]string{call}, "TransitionImage") == 1 {
				transitions = append(transitions, call)
			}
		}
	}
	assert.Equal(t, []string{
		"TransitionImage Undefined ShaderReadOnly",
		"TransitionImage ShaderReadOnly TransferDst",
		"TransitionImage TransferDst ShaderReadOnly",
	}, transitions)

	_, err = r.h.CreateTextureWithData(desc, make([]byte, 3))
	assert.Error(t, err)

	copyTex, err := r.h.CreateTexture(desc)
	require.NoError(t, err)
	readback, err := r.h.CreateBuffer(metadata.BufferDesc{Name: "readback", Usage: metadata.BufferUsageStorage, ElementNum: 16, Stride: 1, Staging: true})
	require.NoError(t, err)
	r.h.CopyImageToImage(tex, copyTex).CopyImageToBuffer(copyTex, readback).CopyBufferToImage(readback, tex)
	require.NoError(t, r.h.Err())
	assert.Equal(t, metadata.ImageLayoutShaderReadOnly, copyTex.Layout())

	r.dev.badTransition = true
	_, err = r.h.CreateTexture(desc)
	assert.ErrorIs(t, err, core.ErrUnsupportedTransition)
}

func TestUpdateAndCopyBuffers(t *testing.T) {
	r := newHandleRig(t)
	src, err := r.h.CreateBufferWithData(metadata.BufferDesc{Name: "src", Usage: metadata.BufferUsageStorage, ElementNum: 4, Stride: 1}, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	dst, err := r.h.CreateBuffer(metadata.BufferDesc{Name: "dst", Usage: metadata.BufferUsageStorage, ElementNum: 8, Stride: 1})
	require.NoError(t, err)

	r.h.UpdateBuffer(src, []byte{9}, 3).CopyBuffer(src, dst)
	require.NoError(t, r.h.Err())

	out := make([]byte, 8)
	r.h.ReadBuffer(dst, out)
	require.NoError(t, r.h.Err())
	assert.Equal(t, []byte{1, 2, 3, 9, 0, 0, 0, 0}, out)

	r.h.UpdateBuffer(src, []byte{1, 2}, 3)
	assert.Error(t, r.h.Err(), "writes past the end are rejected")
}

func TestStorageTextureBindsGeneralLayout(t *testing.T) {
	r := newHandleRig(t)
	img, err := r.h.CreateTexture(metadata.ImageDesc{Name: "img", Size: metadata.Extent3D{Width: 4, Height: 4}, Format: metadata.FormatRGBA8Unorm, Usage: metadata.ImageUsageStorage})
	require.NoError(t, err)
	assert.Equal(t, metadata.ImageLayoutGeneral, img.Layout())

	r.h.BeginFrame(context.Background()).BeginCommand().SetStorageTexture(metadata.StageCompute, 0, 1, img)
	require.NoError(t, r.h.Err())
	sigs := r.h.compute.PendingSignatures()
	require.Len(t, sigs, 1)
	assert.Equal(t, Signature{{Slot: 1, Kind: metadata.ResourceStorageImage, Stages: metadata.StageCompute}}, sigs[0])
	assert.Equal(t, metadata.ImageLayoutGeneral, r.h.compute.writes[0][1].Layout)
}

func TestCloseDestroysEverything(t *testing.T) {
	r := newHandleRig(t)
	r.h.BeginFrame(context.Background()).
		BeginCommand().
		SetDefaultAttachments(metadata.AttachmentDesc{}).
		BeginRenderPass().
		SetVertexShader(r.vs).
		SetPixelShader(r.ps).
		SetUniformBuffer(metadata.StageVertex, 0, 0, r.ubo).
		SetGraphicsPipeline(metadata.DefaultGfxSetting()).
		EndRenderPass().
		EndCommand().
		Commit().
		EndFrame()
	require.NoError(t, r.h.Err())

	require.NoError(t, r.h.Close())
	assert.Equal(t, 2, r.dev.destroyed[device.ObjectBuffer])
	assert.Equal(t, 1, r.dev.destroyed[device.ObjectPipeline])
	assert.Equal(t, 1, r.dev.destroyed[device.ObjectDescriptorSetLayout])
	assert.Equal(t, 2+2, r.dev.destroyed[device.ObjectFence], "frame fences and command buffer fences")
	assert.Equal(t, 4, r.dev.destroyed[device.ObjectSemaphore])
}
