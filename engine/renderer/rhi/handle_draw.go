package rhi

import (
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func (h *Handle) setShader(slot **Shader, s *Shader, want metadata.ShaderStage) *Handle {
	if !h.ok() {
		return h
	}
	if s == nil {
		return h.fail(errors.Wrapf(core.ErrNoShader, "nil %s shader", want))
	}
	if s.Stage != want {
		return h.fail(errors.Errorf("%s shader bound as %s shader", s.Stage, want))
	}
	*slot = s
	return h
}

func (h *Handle) SetVertexShader(s *Shader) *Handle {
	return h.setShader(&h.vs, s, metadata.ShaderStageVertex)
}

func (h *Handle) SetPixelShader(s *Shader) *Handle {
	return h.setShader(&h.ps, s, metadata.ShaderStagePixel)
}

func (h *Handle) SetComputeShader(s *Shader) *Handle {
	return h.setShader(&h.cs, s, metadata.ShaderStageCompute)
}

func (h *Handle) SetVertexStream(stream uint32, buf *Buffer, offset uint64) *Handle {
	if !h.expect("SetVertexStream", stageCommand, stageRenderPass) {
		return h
	}
	if err := h.checkBuffer(buf, metadata.BufferUsageVertex); err != nil {
		return h.fail(err)
	}
	return h.fail(h.gfx.SetVertexBinding(stream, buf, offset))
}

func (h *Handle) SetViewport(v metadata.Viewport) *Handle {
	if !h.expect("SetViewport", stageRenderPass) {
		return h
	}
	h.gfx.SetViewport(v)
	return h
}

func (h *Handle) SetScissor(r metadata.Rect2D) *Handle {
	if !h.expect("SetScissor", stageRenderPass) {
		return h
	}
	h.gfx.SetScissor(r)
	return h
}

func (h *Handle) checkBuffer(b *Buffer, usage metadata.BufferUsage) error {
	if b == nil {
		return errors.Wrap(core.ErrResourceKind, "nil buffer")
	}
	if err := h.owns(b); err != nil {
		return err
	}
	if !b.desc.Usage.Has(usage) {
		return errors.Wrapf(core.ErrResourceUsage, "%s lacks %s usage", b, usage)
	}
	return nil
}

// SetResource binds res at slot of set index set for the given stages.
// Buffers go to the buffer kinds and textures to the image kinds; any
// other pairing is reported. Sampled images use the default sampler.
func (h *Handle) SetResource(kind metadata.ResourceKind, stages metadata.StageFlags, set, slot uint32, res Resource) *Handle {
	return h.setResource(kind, stages, set, slot, res, metadata.DefaultSamplerState())
}

func (h *Handle) setResource(kind metadata.ResourceKind, stages metadata.StageFlags, set, slot uint32, res Resource, sampler metadata.SamplerState) *Handle {
	if !h.expect("SetResource", stageCommand, stageRenderPass) {
		return h
	}
	w, err := h.pendingWrite(kind, stages, slot, res, sampler)
	if err != nil {
		return h.fail(err)
	}
	if stages.IsCompute() {
		if stages&metadata.StageGraphics != 0 {
			return h.fail(errors.Errorf("binding visible to both compute and graphics stages: %s", stages))
		}
		return h.fail(h.compute.SetResource(set, w))
	}
	return h.fail(h.gfx.SetResource(set, w))
}

func (h *Handle) pendingWrite(kind metadata.ResourceKind, stages metadata.StageFlags, slot uint32, res Resource, sampler metadata.SamplerState) (PendingWrite, error) {
	w := PendingWrite{Stages: stages}
	w.Slot = slot
	w.Kind = kind
	switch r := res.(type) {
	case *Buffer:
		if !kind.IsBuffer() {
			return w, errors.Wrapf(core.ErrResourceKind, "%s bound as %s", r, kind)
		}
		usage := metadata.BufferUsageUniform
		if kind == metadata.ResourceStorageBuffer {
			usage = metadata.BufferUsageStorage
		}
		if err := h.checkBuffer(r, usage); err != nil {
			return w, err
		}
		w.Buffer = r.native
		w.Range = r.Size()
	case *Texture:
		if kind.IsBuffer() {
			return w, errors.Wrapf(core.ErrResourceKind, "%s bound as %s", r, kind)
		}
		if err := h.owns(r); err != nil {
			return w, err
		}
		w.View = r.view
		if kind == metadata.ResourceStorageImage {
			if !r.desc.Usage.Has(metadata.ImageUsageStorage) {
				return w, errors.Wrapf(core.ErrResourceUsage, "%s lacks storage usage", r)
			}
			w.Layout = metadata.ImageLayoutGeneral
			return w, nil
		}
		if !r.desc.Usage.Has(metadata.ImageUsageSampled) {
			return w, errors.Wrapf(core.ErrResourceUsage, "%s lacks sampled usage", r)
		}
		s, err := h.resources.GetSampler(sampler)
		if err != nil {
			return w, err
		}
		w.Sampler = s
		w.Layout = r.RestLayout()
	default:
		return w, errors.Wrapf(core.ErrResourceKind, "unsupported resource %T", res)
	}
	return w, nil
}

func (h *Handle) SetSamplerTexture(stages metadata.StageFlags, set, slot uint32, tex *Texture, sampler metadata.SamplerState) *Handle {
	if tex == nil {
		return h.fail(errors.Wrap(core.ErrResourceKind, "nil texture"))
	}
	return h.setResource(metadata.ResourceSampledImage, stages, set, slot, tex, sampler)
}

func (h *Handle) SetStorageTexture(stages metadata.StageFlags, set, slot uint32, tex *Texture) *Handle {
	if tex == nil {
		return h.fail(errors.Wrap(core.ErrResourceKind, "nil texture"))
	}
	return h.SetResource(metadata.ResourceStorageImage, stages, set, slot, tex)
}

func (h *Handle) SetStorageBuffer(stages metadata.StageFlags, set, slot uint32, buf *Buffer) *Handle {
	if buf == nil {
		return h.fail(errors.Wrap(core.ErrResourceKind, "nil buffer"))
	}
	return h.SetResource(metadata.ResourceStorageBuffer, stages, set, slot, buf)
}

func (h *Handle) SetUniformBuffer(stages metadata.StageFlags, set, slot uint32, buf *Buffer) *Handle {
	if buf == nil {
		return h.fail(errors.Wrap(core.ErrResourceKind, "nil buffer"))
	}
	return h.SetResource(metadata.ResourceUniformBuffer, stages, set, slot, buf)
}

// SetGraphicsPipeline derives the pipeline layout from the pending
// bindings and the pipeline from the shaders, setting and current render
// pass, then binds it if it changed.
func (h *Handle) SetGraphicsPipeline(setting metadata.GfxSetting) *Handle {
	if !h.expect("SetGraphicsPipeline", stageRenderPass) {
		return h
	}
	layout, err := h.descriptors.GetPipelineLayout(h.gfx.PendingSignatures())
	if err != nil {
		return h.fail(err)
	}
	p, err := h.resources.GetGraphicsPipeline(h.vs, h.ps, setting, layout)
	if err != nil {
		return h.fail(err)
	}
	_, err = h.gfx.SetPipeline(p)
	return h.fail(err)
}

func (h *Handle) SetComputePipeline() *Handle {
	if !h.expect("SetComputePipeline", stageCommand) {
		return h
	}
	layout, err := h.descriptors.GetPipelineLayout(h.compute.PendingSignatures())
	if err != nil {
		return h.fail(err)
	}
	p, err := h.resources.GetComputePipeline(h.cs, layout)
	if err != nil {
		return h.fail(err)
	}
	_, err = h.compute.SetPipeline(p)
	return h.fail(err)
}

// DrawPrimitive draws vertexCount vertices from firstVertex. A zero count
// is derived from the bound vertex streams and a zero instanceCount is 1.
func (h *Handle) DrawPrimitive(firstVertex, vertexCount, instanceCount uint32) *Handle {
	if !h.expect("DrawPrimitive", stageRenderPass) {
		return h
	}
	if err := h.gfx.Prepare(); err != nil {
		return h.fail(err)
	}
	if vertexCount == 0 {
		n, ok := h.gfx.VertexCount()
		if !ok {
			return h.fail(errors.New("cannot derive a vertex count: no per-vertex stream is bound"))
		}
		if n > firstVertex {
			vertexCount = n - firstVertex
		}
	}
	if instanceCount == 0 {
		instanceCount = 1
	}
	if vertexCount == 0 {
		return h
	}
	h.cmd.Draw(vertexCount, instanceCount, firstVertex, 0)
	return h
}

// DrawPrimitiveIndirect issues one draw per argument record from offset
// to the end of args.
func (h *Handle) DrawPrimitiveIndirect(args *Buffer, offset uint64) *Handle {
	if !h.expect("DrawPrimitiveIndirect", stageRenderPass) {
		return h
	}
	if err := h.checkBuffer(args, metadata.BufferUsageIndirect); err != nil {
		return h.fail(err)
	}
	if err := h.gfx.Prepare(); err != nil {
		return h.fail(err)
	}
	stride := args.desc.Stride
	if stride == 0 {
		return h.fail(errors.Wrapf(core.ErrResourceUsage, "%s has no stride", args))
	}
	first := uint32(offset / uint64(stride))
	if first >= args.desc.ElementNum {
		return h
	}
	h.cmd.DrawIndirect(args.native, offset, args.desc.ElementNum-first, stride)
	return h
}

// DrawIndexPrimitive draws indexCount indices from firstIndex. The index
// type follows the buffer stride and a zero count covers the rest of the
// buffer.
func (h *Handle) DrawIndexPrimitive(index *Buffer, vertexOffset int32, firstInstance, firstIndex, indexCount, instanceCount uint32) *Handle {
	if !h.expect("DrawIndexPrimitive", stageRenderPass) {
		return h
	}
	if err := h.checkBuffer(index, metadata.BufferUsageIndex); err != nil {
		return h.fail(err)
	}
	var t device.IndexType
	switch index.desc.Stride {
	case 2:
		t = device.IndexTypeUint16
	case 4:
		t = device.IndexTypeUint32
	default:
		return h.fail(errors.Wrapf(core.ErrResourceUsage, "index stride %d, expected 2 or 4", index.desc.Stride))
	}
	h.gfx.SetIndexBuffer(index, 0, t)
	if err := h.gfx.Prepare(); err != nil {
		return h.fail(err)
	}
	if indexCount == 0 && index.desc.ElementNum > firstIndex {
		indexCount = index.desc.ElementNum - firstIndex
	}
	if instanceCount == 0 {
		instanceCount = 1
	}
	if indexCount == 0 {
		return h
	}
	h.cmd.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	return h
}

func (h *Handle) Dispatch(x, y, z uint32) *Handle {
	if !h.expect("Dispatch", stageCommand) {
		return h
	}
	if err := h.compute.Prepare(); err != nil {
		return h.fail(err)
	}
	h.cmd.Dispatch(max(x, 1), max(y, 1), max(z, 1))
	return h
}
