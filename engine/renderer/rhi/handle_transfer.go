package rhi

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// CreateBuffer allocates a buffer. Transfer usage is always added so the
// buffer can be updated and copied.
func (h *Handle) CreateBuffer(desc metadata.BufferDesc) (*Buffer, error) {
	if desc.Size() == 0 {
		return nil, errors.Errorf("buffer %q has zero size", desc.Name)
	}
	desc.Usage |= metadata.BufferUsageTransferSrc | metadata.BufferUsageTransferDst
	native, err := h.dev.CreateBuffer(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create buffer %q", desc.Name)
	}
	b := &Buffer{id: uuid.New(), owner: h.id, desc: desc, native: native}
	h.buffers[b.id] = b
	return b, nil
}

func (h *Handle) CreateBufferWithData(desc metadata.BufferDesc, data []byte) (*Buffer, error) {
	b, err := h.CreateBuffer(desc)
	if err != nil {
		return nil, err
	}
	if err := h.updateBuffer(b, data, 0); err != nil {
		return nil, err
	}
	return b, nil
}

// CreateTexture allocates an image with its default view and moves it to
// its rest layout.
func (h *Handle) CreateTexture(desc metadata.ImageDesc) (*Texture, error) {
	desc = desc.Normalized()
	if desc.ByteSize() == 0 {
		return nil, errors.Errorf("texture %q has zero size", desc.Name)
	}
	desc.Usage |= metadata.ImageUsageTransferSrc | metadata.ImageUsageTransferDst
	img, view, err := h.dev.CreateImage(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create texture %q", desc.Name)
	}
	t := &Texture{id: uuid.New(), owner: h.id, desc: desc, image: img, view: view, layout: metadata.ImageLayoutUndefined}
	h.textures[t.id] = t
	err = h.dev.ImmediateSubmit(func(cmd device.CommandBuffer) error {
		return h.transition(cmd, t, t.RestLayout())
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (h *Handle) CreateTextureWithData(desc metadata.ImageDesc, data []byte) (*Texture, error) {
	t, err := h.CreateTexture(desc)
	if err != nil {
		return nil, err
	}
	if err := h.updateImage(t, data); err != nil {
		return nil, err
	}
	return t, nil
}

func (h *Handle) CreateVertexShader(code []uint32) (*Shader, error) {
	return h.resources.CreateShader(metadata.ShaderStageVertex, code)
}

func (h *Handle) CreatePixelShader(code []uint32) (*Shader, error) {
	return h.resources.CreateShader(metadata.ShaderStagePixel, code)
}

func (h *Handle) CreateComputeShader(code []uint32) (*Shader, error) {
	return h.resources.CreateShader(metadata.ShaderStageCompute, code)
}

func (h *Handle) transition(cmd device.CommandBuffer, t *Texture, to metadata.ImageLayout) error {
	if t.layout == to {
		return nil
	}
	if err := cmd.TransitionImage(t.image, t.desc.Format, t.layout, to); err != nil {
		return errors.Wrapf(err, "%s: %s -> %s", t, t.layout, to)
	}
	t.layout = to
	return nil
}

// withStaging runs fn with a host visible buffer of size bytes and frees
// it afterwards.
func (h *Handle) withStaging(size uint64, fn func(device.Buffer) error) error {
	staging, err := h.dev.CreateBuffer(metadata.StagingBuffer(size))
	if err != nil {
		return errors.Wrap(err, "failed to create staging buffer")
	}
	defer h.dev.Destroy(device.ObjectBuffer, device.Handle(staging))
	return fn(staging)
}

func (h *Handle) updateBuffer(b *Buffer, data []byte, offset uint64) error {
	if err := h.owns(b); err != nil {
		return err
	}
	if offset+uint64(len(data)) > b.Size() {
		return errors.Errorf("%d bytes at offset %d overflow %s", len(data), offset, b)
	}
	if len(data) == 0 {
		return nil
	}
	if b.desc.Staging {
		return h.dev.WriteBuffer(b.native, offset, data)
	}
	return h.withStaging(uint64(len(data)), func(staging device.Buffer) error {
		if err := h.dev.WriteBuffer(staging, 0, data); err != nil {
			return err
		}
		return h.dev.ImmediateSubmit(func(cmd device.CommandBuffer) error {
			cmd.CopyBuffer(staging, b.native, 0, offset, uint64(len(data)))
			return nil
		})
	})
}

func (h *Handle) updateImage(t *Texture, data []byte) error {
	if err := h.owns(t); err != nil {
		return err
	}
	if uint64(len(data)) != t.desc.ByteSize() {
		return errors.Errorf("%d bytes for %s, expected %d", len(data), t, t.desc.ByteSize())
	}
	return h.withStaging(uint64(len(data)), func(staging device.Buffer) error {
		if err := h.dev.WriteBuffer(staging, 0, data); err != nil {
			return err
		}
		return h.dev.ImmediateSubmit(func(cmd device.CommandBuffer) error {
			if err := h.transition(cmd, t, metadata.ImageLayoutTransferDst); err != nil {
				return err
			}
			cmd.CopyBufferToImage(staging, t.image, metadata.ImageLayoutTransferDst, device.BufferImageCopy{Extent: t.desc.Size})
			return h.transition(cmd, t, t.RestLayout())
		})
	})
}

func (h *Handle) UpdateBuffer(b *Buffer, data []byte, offset uint64) *Handle {
	if !h.ok() {
		return h
	}
	return h.fail(h.updateBuffer(b, data, offset))
}

func (h *Handle) UpdateImage(t *Texture, data []byte) *Handle {
	if !h.ok() {
		return h
	}
	return h.fail(h.updateImage(t, data))
}

// CopyBuffer copies as many bytes as both buffers hold.
func (h *Handle) CopyBuffer(src, dst *Buffer) *Handle {
	if !h.ok() {
		return h
	}
	if err := h.checkPair(src, dst); err != nil {
		return h.fail(err)
	}
	size := min(src.Size(), dst.Size())
	return h.fail(h.dev.ImmediateSubmit(func(cmd device.CommandBuffer) error {
		cmd.CopyBuffer(src.native, dst.native, 0, 0, size)
		return nil
	}))
}

func (h *Handle) CopyBufferToImage(src *Buffer, dst *Texture) *Handle {
	if !h.ok() {
		return h
	}
	if err := h.checkPair(src, dst); err != nil {
		return h.fail(err)
	}
	if src.Size() < dst.desc.ByteSize() {
		return h.fail(errors.Errorf("%s is smaller than %s", src, dst))
	}
	return h.fail(h.dev.ImmediateSubmit(func(cmd device.CommandBuffer) error {
		if err := h.transition(cmd, dst, metadata.ImageLayoutTransferDst); err != nil {
			return err
		}
		cmd.CopyBufferToImage(src.native, dst.image, metadata.ImageLayoutTransferDst, device.BufferImageCopy{Extent: dst.desc.Size})
		return h.transition(cmd, dst, dst.RestLayout())
	}))
}

func (h *Handle) CopyImageToBuffer(src *Texture, dst *Buffer) *Handle {
	if !h.ok() {
		return h
	}
	if err := h.checkPair(src, dst); err != nil {
		return h.fail(err)
	}
	if dst.Size() < src.desc.ByteSize() {
		return h.fail(errors.Errorf("%s is smaller than %s", dst, src))
	}
	return h.fail(h.dev.ImmediateSubmit(func(cmd device.CommandBuffer) error {
		if err := h.transition(cmd, src, metadata.ImageLayoutTransferSrc); err != nil {
			return err
		}
		cmd.CopyImageToBuffer(src.image, metadata.ImageLayoutTransferSrc, dst.native, device.BufferImageCopy{Extent: src.desc.Size})
		return h.transition(cmd, src, src.RestLayout())
	}))
}

func (h *Handle) CopyImageToImage(src, dst *Texture) *Handle {
	if !h.ok() {
		return h
	}
	if err := h.checkPair(src, dst); err != nil {
		return h.fail(err)
	}
	if src.desc.Size != dst.desc.Size || src.desc.Format != dst.desc.Format {
		return h.fail(errors.Errorf("cannot copy %s into %s", src, dst))
	}
	return h.fail(h.dev.ImmediateSubmit(func(cmd device.CommandBuffer) error {
		if err := h.transition(cmd, src, metadata.ImageLayoutTransferSrc); err != nil {
			return err
		}
		if err := h.transition(cmd, dst, metadata.ImageLayoutTransferDst); err != nil {
			return err
		}
		cmd.CopyImage(src.image, metadata.ImageLayoutTransferSrc, dst.image, metadata.ImageLayoutTransferDst, src.desc.Size)
		if err := h.transition(cmd, src, src.RestLayout()); err != nil {
			return err
		}
		return h.transition(cmd, dst, dst.RestLayout())
	}))
}

// ReadBuffer copies the start of b into out, going through a staging
// buffer when b is not host visible.
func (h *Handle) ReadBuffer(b *Buffer, out []byte) *Handle {
	if !h.ok() {
		return h
	}
	if err := h.owns(b); err != nil {
		return h.fail(err)
	}
	size := min(uint64(len(out)), b.Size())
	if b.desc.Staging {
		return h.fail(h.dev.ReadBuffer(b.native, 0, out[:size]))
	}
	return h.fail(h.withStaging(size, func(staging device.Buffer) error {
		err := h.dev.ImmediateSubmit(func(cmd device.CommandBuffer) error {
			cmd.CopyBuffer(b.native, staging, 0, 0, size)
			return nil
		})
		if err != nil {
			return err
		}
		return h.dev.ReadBuffer(staging, 0, out[:size])
	}))
}

func (h *Handle) checkPair(a, b Resource) error {
	if a == nil || b == nil {
		return errors.Wrap(core.ErrResourceKind, "nil copy operand")
	}
	if err := h.owns(a); err != nil {
		return err
	}
	return h.owns(b)
}
