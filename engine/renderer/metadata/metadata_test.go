package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGfxSettingEqual(t *testing.T) {
	a := DefaultGfxSetting()
	a.VertexDecl = VertexDecl{
		Bindings:   []VertexBindingDesc{{Binding: 0, Stride: 24}},
		Attributes: []VertexAttributeDesc{{Location: 0, Binding: 0, Format: AttribVec3}, {Location: 1, Binding: 0, Offset: 12, Format: AttribVec3}},
	}
	a.Blend = []BlendSetting{BlendAlpha}

	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.Blend[0] = BlendAdd
	assert.False(t, a.Equal(b))
	assert.Equal(t, BlendAlpha, a.Blend[0], "clone must not share the blend slice")

	c := a.Clone()
	c.VertexDecl.Attributes[1].Offset = 16
	assert.False(t, a.Equal(c))
}

func TestBlendForDefaultsToOpaque(t *testing.T) {
	g := DefaultGfxSetting()
	assert.Equal(t, BlendOpaque, g.BlendFor(3))
}

func TestFormatProperties(t *testing.T) {
	assert.True(t, FormatD24UnormS8Uint.IsDepth())
	assert.True(t, FormatD24UnormS8Uint.HasStencil())
	assert.False(t, FormatD32Float.HasStencil())
	assert.False(t, FormatRGBA8Unorm.IsDepth())
	assert.Equal(t, uint32(16), FormatRGBA32Float.Size())
	assert.Equal(t, "BGRA8Srgb", FormatBGRA8Srgb.String())
}

func TestImageDescNormalized(t *testing.T) {
	d := ImageDesc{Size: Extent3D{Width: 4, Height: 2}, Format: FormatRGBA8Unorm}.Normalized()
	assert.Equal(t, uint32(1), d.MipLevels)
	assert.Equal(t, uint32(1), d.ArrayLayers)
	assert.Equal(t, MSAASamples1, d.Samples)
	assert.Equal(t, uint64(32), d.ByteSize())
}

func TestStageFlags(t *testing.T) {
	assert.Equal(t, StageVertex, ShaderStageVertex.Flag())
	assert.Equal(t, StageCompute, ShaderStageCompute.Flag())
	assert.Equal(t, "vs|ps", StageGraphics.String())
	assert.True(t, StageCompute.IsCompute())
	assert.Equal(t, "Vertex|Uniform", (BufferUsageVertex | BufferUsageUniform).String())
}
