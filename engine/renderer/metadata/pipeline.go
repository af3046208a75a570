package metadata

import "slices"

type AttribType int

const (
	AttribVec1 AttribType = iota
	AttribVec2
	AttribVec3
	AttribVec4
	AttribVec3Unorm
	AttribVec4Unorm
	AttribColor32
)

type VertexBindingDesc struct {
	Binding  uint32
	Stride   uint32
	Instance bool
}

type VertexAttributeDesc struct {
	Location uint32
	Binding  uint32
	Offset   uint32
	Format   AttribType
}

/** @brief The vertex streams a pipeline consumes and how they are laid out. */
type VertexDecl struct {
	Bindings   []VertexBindingDesc
	Attributes []VertexAttributeDesc
}

func (v VertexDecl) Equal(o VertexDecl) bool {
	return slices.Equal(v.Bindings, o.Bindings) && slices.Equal(v.Attributes, o.Attributes)
}

type PrimitiveTopology int

const (
	TopologyPointList PrimitiveTopology = iota
	TopologyLineList
	TopologyLineStrip
	TopologyTriangleList
	TopologyTriangleStrip
	TopologyTriangleFan
)

type InputAssemblyState struct {
	Topology         PrimitiveTopology
	PrimitiveRestart bool
}

type PolygonMode int

const (
	PolygonFill PolygonMode = iota
	PolygonLine
	PolygonPoint
)

type CullMode int

const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

type FrontFace int

const (
	FrontFaceClockwise FrontFace = iota
	FrontFaceCounterClockwise
)

type RasterizeState struct {
	DepthClamp  bool
	PolygonMode PolygonMode
	LineWidth   float32
	CullMode    CullMode
	FrontFace   FrontFace
	DepthBias   bool
}

type DepthState struct {
	StencilTest bool
	DepthTest   bool
	DepthWrite  bool
	CompareOp   CompOp
}

/** @brief Per color attachment blend presets. */
type BlendSetting int

const (
	BlendOpaque BlendSetting = iota
	BlendAdd
	BlendMixed
	BlendAlpha
)

/**
 * @brief The fixed function part of a graphics pipeline. Two settings that
 * compare Equal are served by the same cached pipeline.
 */
type GfxSetting struct {
	VertexDecl    VertexDecl
	InputAssembly InputAssemblyState
	Rasterize     RasterizeState
	Samples       MSAASamples
	Depth         DepthState
	/** @brief One entry per color attachment; missing entries are opaque. */
	Blend []BlendSetting
}

func DefaultGfxSetting() GfxSetting {
	return GfxSetting{
		InputAssembly: InputAssemblyState{Topology: TopologyTriangleList},
		Rasterize: RasterizeState{
			PolygonMode: PolygonFill,
			LineWidth:   1,
			CullMode:    CullNone,
			FrontFace:   FrontFaceClockwise,
		},
		Samples: MSAASamples1,
		Depth:   DepthState{CompareOp: CompOpNever},
	}
}

func (g GfxSetting) Equal(o GfxSetting) bool {
	return g.VertexDecl.Equal(o.VertexDecl) &&
		g.InputAssembly == o.InputAssembly &&
		g.Rasterize == o.Rasterize &&
		g.Samples == o.Samples &&
		g.Depth == o.Depth &&
		slices.Equal(g.Blend, o.Blend)
}

// BlendFor returns the blend preset of color attachment i.
func (g GfxSetting) BlendFor(i int) BlendSetting {
	if i < len(g.Blend) {
		return g.Blend[i]
	}
	return BlendOpaque
}

// Clone copies the slices so the cached value cannot be mutated by the caller.
func (g GfxSetting) Clone() GfxSetting {
	g.VertexDecl.Bindings = slices.Clone(g.VertexDecl.Bindings)
	g.VertexDecl.Attributes = slices.Clone(g.VertexDecl.Attributes)
	g.Blend = slices.Clone(g.Blend)
	return g
}
