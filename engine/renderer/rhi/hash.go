package rhi

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"

	"golang.org/x/exp/constraints"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// hasher folds structural keys into a 64-bit FNV-1a digest. The digest
// only depends on content, so cache behavior is reproducible across runs.
type hasher struct {
	h   hash.Hash64
	buf [8]byte
}

func newHasher() *hasher {
	return &hasher{h: fnv.New64a()}
}

func hashInt[T constraints.Integer](h *hasher, v T) {
	binary.LittleEndian.PutUint64(h.buf[:], uint64(v))
	h.h.Write(h.buf[:])
}

func hashInts[T constraints.Integer](h *hasher, vs []T) {
	hashInt(h, len(vs))
	for _, v := range vs {
		hashInt(h, v)
	}
}

func (h *hasher) bool(b bool) {
	if b {
		hashInt(h, 1)
		return
	}
	hashInt(h, 0)
}

func (h *hasher) float32(f float32) {
	hashInt(h, math.Float32bits(f))
}

func (h *hasher) sum() uint64 {
	return h.h.Sum64()
}

func (h *hasher) gfxSetting(g metadata.GfxSetting) {
	hashInt(h, len(g.VertexDecl.Bindings))
	for _, b := range g.VertexDecl.Bindings {
		hashInt(h, b.Binding)
		hashInt(h, b.Stride)
		h.bool(b.Instance)
	}
	hashInt(h, len(g.VertexDecl.Attributes))
	for _, a := range g.VertexDecl.Attributes {
		hashInt(h, a.Location)
		hashInt(h, a.Binding)
		hashInt(h, a.Offset)
		hashInt(h, a.Format)
	}

	hashInt(h, g.InputAssembly.Topology)
	h.bool(g.InputAssembly.PrimitiveRestart)

	r := g.Rasterize
	h.bool(r.DepthClamp)
	hashInt(h, r.PolygonMode)
	h.float32(r.LineWidth)
	hashInt(h, r.CullMode)
	hashInt(h, r.FrontFace)
	h.bool(r.DepthBias)

	hashInt(h, g.Samples)

	h.bool(g.Depth.StencilTest)
	h.bool(g.Depth.DepthTest)
	h.bool(g.Depth.DepthWrite)
	hashInt(h, g.Depth.CompareOp)

	hashInts(h, g.Blend)
}

// contentHash digests shader bytecode together with its stage.
func contentHash(stage metadata.ShaderStage, code []uint32) uint64 {
	h := newHasher()
	hashInt(h, stage)
	hashInts(h, code)
	return h.sum()
}
