package rhi

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Resource is the closed set of bindable resources: *Buffer and *Texture.
// Each carries the identity of the Handle that created it, so binding it
// to another Handle is reported instead of being silently dropped.
type Resource interface {
	ID() uuid.UUID
	Owner() uuid.UUID
	resource()
}

type Buffer struct {
	id     uuid.UUID
	owner  uuid.UUID
	desc   metadata.BufferDesc
	native device.Buffer
}

func (b *Buffer) resource() {}

func (b *Buffer) ID() uuid.UUID { return b.id }

// Owner is uuid.Nil for a nil buffer, which no handle owns.
func (b *Buffer) Owner() uuid.UUID {
	if b == nil {
		return uuid.Nil
	}
	return b.owner
}

func (b *Buffer) Desc() metadata.BufferDesc {
	return b.desc
}

func (b *Buffer) Native() device.Buffer {
	return b.native
}

func (b *Buffer) Size() uint64 {
	return b.desc.Size()
}

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer %q (%s, %dx%d)", b.desc.Name, b.desc.Usage, b.desc.ElementNum, b.desc.Stride)
}

type Texture struct {
	id          uuid.UUID
	owner       uuid.UUID
	desc        metadata.ImageDesc
	image       device.Image
	view        device.ImageView
	layout      metadata.ImageLayout
	presentable bool
}

func (t *Texture) resource() {}

func (t *Texture) ID() uuid.UUID { return t.id }

func (t *Texture) Owner() uuid.UUID {
	if t == nil {
		return uuid.Nil
	}
	return t.owner
}

func (t *Texture) Desc() metadata.ImageDesc {
	return t.desc
}

func (t *Texture) Format() metadata.Format {
	return t.desc.Format
}

func (t *Texture) Extent() metadata.Extent2D {
	return t.desc.Size.To2D()
}

func (t *Texture) Image() device.Image {
	return t.image
}

func (t *Texture) View() device.ImageView {
	return t.view
}

// Layout is the layout the texture is in between commands.
func (t *Texture) Layout() metadata.ImageLayout {
	return t.layout
}

func (t *Texture) Presentable() bool {
	return t.presentable
}

// RestLayout is where the texture is left after every transfer or pass.
func (t *Texture) RestLayout() metadata.ImageLayout {
	switch {
	case t.presentable:
		return metadata.ImageLayoutPresentSrc
	case t.desc.Format.IsDepth():
		return metadata.ImageLayoutDepthAttachment
	case t.desc.Usage.Has(metadata.ImageUsageStorage):
		return metadata.ImageLayoutGeneral
	}
	return metadata.ImageLayoutShaderReadOnly
}

func (t *Texture) String() string {
	return fmt.Sprintf("texture %q (%s, %dx%d)", t.desc.Name, t.desc.Format, t.desc.Size.Width, t.desc.Size.Height)
}

// wrapSwapchainImage exposes a presentable image as a texture owned by owner.
func wrapSwapchainImage(owner uuid.UUID, img device.Image, view device.ImageView, format metadata.Format, extent metadata.Extent2D) *Texture {
	return &Texture{
		id:    uuid.New(),
		owner: owner,
		desc: metadata.ImageDesc{
			Name:    "swapchain",
			Type:    metadata.ImageType2D,
			Size:    metadata.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
			Format:  format,
			Samples: metadata.MSAASamples1,
			Usage:   metadata.ImageUsageColorAttachment,
		}.Normalized(),
		image:       img,
		view:        view,
		layout:      metadata.ImageLayoutUndefined,
		presentable: true,
	}
}
