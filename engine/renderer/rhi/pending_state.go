package rhi

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const (
	MaxDescriptorSets = 4
	MaxVertexStreams  = 20
)

// PendingWrite is a resource binding recorded but not yet written into a
// descriptor set.
type PendingWrite struct {
	device.DescriptorWrite
	Stages metadata.StageFlags
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhasePipelineBound
	PhasePrepared
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePipelineBound:
		return "pipeline-bound"
	case PhasePrepared:
		return "prepared"
	}
	return "unknown"
}

// descriptorState is the part shared by the graphics and compute pending
// states: the bound pipeline, its prefetched sets and the pending writes
// of every set index with one dirty bit each.
type descriptorState struct {
	bindPoint device.BindPoint
	cache     *DescriptorSetCache
	cmd       device.CommandBuffer

	pipeline *Pipeline
	sets     [MaxDescriptorSets]SetID
	setCount int

	writes  [MaxDescriptorSets]map[uint32]PendingWrite
	dirty   [MaxDescriptorSets]bool
	changed bool

	phase Phase
}

func (s *descriptorState) init(bp device.BindPoint, cache *DescriptorSetCache) {
	s.bindPoint = bp
	s.cache = cache
	for i := range s.writes {
		s.writes[i] = make(map[uint32]PendingWrite)
	}
}

// Bind points the state at the command buffer being recorded.
func (s *descriptorState) Bind(cmd device.CommandBuffer) {
	s.cmd = cmd
}

func (s *descriptorState) Phase() Phase {
	return s.phase
}

func (s *descriptorState) Pipeline() *Pipeline {
	return s.pipeline
}

// setPipeline binds p when it differs from the current pipeline and
// prefetches one descriptor set per set index of its layout.
func (s *descriptorState) setPipeline(p *Pipeline) (bool, error) {
	if p == nil {
		return false, errors.Wrap(core.ErrNoPipeline, "nil pipeline")
	}
	if p == s.pipeline {
		return false, nil
	}
	if len(p.Signatures) > MaxDescriptorSets {
		return false, errors.Wrapf(core.ErrTooManySets, "pipeline #%d uses %d sets", p.ID, len(p.Signatures))
	}
	for i, sig := range p.Signatures {
		id, err := s.cache.GetSet(uint32(i), sig)
		if err != nil {
			return false, err
		}
		s.sets[i] = id
	}
	s.setCount = len(p.Signatures)
	s.pipeline = p
	s.phase = PhasePipelineBound
	if s.cmd != nil {
		s.cmd.BindPipeline(s.bindPoint, p.Native)
	}
	for i := 0; i < s.setCount; i++ {
		s.dirty[i] = true
	}
	s.changed = s.setCount > 0
	return true, nil
}

// SetResource records w into set index set.
func (s *descriptorState) SetResource(set uint32, w PendingWrite) error {
	if set >= MaxDescriptorSets {
		return errors.Wrapf(core.ErrTooManySets, "set index %d", set)
	}
	s.writes[set][w.Slot] = w
	s.dirty[set] = true
	s.changed = true
	s.invalidate()
	return nil
}

// PendingSignatures returns the signatures of the pending writes from set
// 0 up to the highest set index holding a write.
func (s *descriptorState) PendingSignatures() []Signature {
	n := 0
	for i := range s.writes {
		if len(s.writes[i]) > 0 {
			n = i + 1
		}
	}
	sigs := make([]Signature, n)
	for i := 0; i < n; i++ {
		sigs[i] = signatureOf(s.writes[i])
	}
	return sigs
}

// flushDescriptors writes every dirty set and binds sets [0, n) in one
// call. A set bound earlier in this frame keeps its contents: the cache
// hands back another version when the writes differ.
func (s *descriptorState) flushDescriptors() error {
	if !s.changed {
		return nil
	}
	for i := 0; i < s.setCount; i++ {
		if !s.dirty[i] {
			continue
		}
		want := s.pipeline.Signatures[i]
		if got := signatureOf(s.writes[i]); !got.Equal(want) {
			return errors.Wrapf(core.ErrSignatureMismatch, "set %d: pending %s, pipeline expects %s", i, got, want)
		}
		id, _, err := s.cache.Write(s.sets[i], descriptorsOf(s.writes[i]))
		if err != nil {
			return err
		}
		s.sets[i] = id
		s.dirty[i] = false
	}
	for i := s.setCount; i < MaxDescriptorSets; i++ {
		s.dirty[i] = false
	}
	if s.setCount > 0 {
		natives := make([]device.DescriptorSet, s.setCount)
		for i := range natives {
			natives[i] = s.cache.NativeSet(s.sets[i])
			s.cache.MarkBound(s.sets[i])
		}
		s.cmd.BindDescriptorSets(s.bindPoint, s.pipeline.NativeLayout, 0, natives)
	}
	s.changed = false
	return nil
}

func (s *descriptorState) invalidate() {
	if s.phase == PhasePrepared {
		s.phase = PhasePipelineBound
	}
}

func (s *descriptorState) reset() {
	s.pipeline = nil
	s.setCount = 0
	for i := range s.writes {
		clear(s.writes[i])
		s.dirty[i] = false
	}
	s.changed = false
	s.phase = PhaseIdle
}

func (s *descriptorState) dirtySets() bool {
	for _, d := range s.dirty {
		if d {
			return true
		}
	}
	return false
}

type vertexStream struct {
	buffer *Buffer
	offset uint64
}

type indexBinding struct {
	buffer    *Buffer
	offset    uint64
	indexType device.IndexType
}

// GraphicsPendingState accumulates graphics bindings and dynamic state
// until the next draw.
type GraphicsPendingState struct {
	descriptorState

	streams     [MaxVertexStreams]vertexStream
	vertexDirty bool

	index      indexBinding
	indexDirty bool

	viewport      metadata.Viewport
	scissor       metadata.Rect2D
	hasViewport   bool
	hasScissor    bool
	viewportDirty bool
	scissorDirty  bool
}

func NewGraphicsPendingState(cache *DescriptorSetCache) *GraphicsPendingState {
	s := &GraphicsPendingState{}
	s.init(device.BindPointGraphics, cache)
	return s
}

// SetPipeline reports whether p replaced the bound pipeline. A change
// marks every set index, the vertex streams and the dynamic state dirty.
func (s *GraphicsPendingState) SetPipeline(p *Pipeline) (bool, error) {
	changed, err := s.setPipeline(p)
	if err != nil || !changed {
		return changed, err
	}
	s.vertexDirty = true
	s.indexDirty = s.index.buffer != nil
	s.viewportDirty = s.hasViewport
	s.scissorDirty = s.hasScissor
	return true, nil
}

// SetVertexBinding is a no-op only when both the buffer and the offset
// are unchanged.
func (s *GraphicsPendingState) SetVertexBinding(stream uint32, buf *Buffer, offset uint64) error {
	if stream >= MaxVertexStreams {
		return errors.Wrapf(core.ErrTooManyStreams, "stream %d", stream)
	}
	cur := &s.streams[stream]
	if cur.buffer == buf && cur.offset == offset {
		return nil
	}
	cur.buffer = buf
	cur.offset = offset
	s.vertexDirty = true
	s.invalidate()
	return nil
}

func (s *GraphicsPendingState) SetIndexBuffer(buf *Buffer, offset uint64, t device.IndexType) {
	next := indexBinding{buffer: buf, offset: offset, indexType: t}
	if s.index == next {
		return
	}
	s.index = next
	s.indexDirty = true
	s.invalidate()
}

func (s *GraphicsPendingState) SetViewport(v metadata.Viewport) {
	s.viewport = v
	s.hasViewport = true
	s.viewportDirty = true
	s.invalidate()
}

func (s *GraphicsPendingState) SetScissor(r metadata.Rect2D) {
	s.scissor = r
	s.hasScissor = true
	s.scissorDirty = true
	s.invalidate()
}

// Dirty reports whether any aspect still needs reconciling.
func (s *GraphicsPendingState) Dirty() bool {
	return s.changed || s.dirtySets() || s.vertexDirty || s.indexDirty || s.viewportDirty || s.scissorDirty
}

// Prepare reconciles everything dirty against the command buffer:
// dynamic state, then descriptor sets, then vertex and index buffers.
func (s *GraphicsPendingState) Prepare() error {
	if s.phase == PhaseIdle {
		return errors.Wrap(core.ErrNoPipeline, "graphics draw")
	}
	if s.viewportDirty {
		s.cmd.SetViewport(s.viewport)
		s.viewportDirty = false
	}
	if s.scissorDirty {
		s.cmd.SetScissor(s.scissor)
		s.scissorDirty = false
	}
	if err := s.flushDescriptors(); err != nil {
		return err
	}
	if s.vertexDirty {
		s.flushVertexStreams()
		s.vertexDirty = false
	}
	if s.indexDirty {
		if s.index.buffer != nil {
			s.cmd.BindIndexBuffer(s.index.buffer.native, s.index.offset, s.index.indexType)
		}
		s.indexDirty = false
	}
	s.phase = PhasePrepared
	return nil
}

// consumedStreams lists the stream indices the pipeline reads, ascending.
// A pipeline without a vertex declaration consumes whatever is bound.
func (s *GraphicsPendingState) consumedStreams() []uint32 {
	var out []uint32
	if len(s.pipeline.VertexDecl.Bindings) == 0 {
		for i := range s.streams {
			if s.streams[i].buffer != nil {
				out = append(out, uint32(i))
			}
		}
		return out
	}
	for _, b := range s.pipeline.VertexDecl.Bindings {
		if b.Binding < MaxVertexStreams {
			out = append(out, b.Binding)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// flushVertexStreams packs the bound streams into contiguous runs and
// issues one multi-bind per run. Unbound streams are skipped.
func (s *GraphicsPendingState) flushVertexStreams() {
	var (
		first   uint32
		buffers []device.Buffer
		offsets []uint64
	)
	emit := func() {
		if len(buffers) > 0 {
			s.cmd.BindVertexBuffers(first, buffers, offsets)
		}
		buffers, offsets = nil, nil
	}
	next := uint32(0)
	for _, i := range s.consumedStreams() {
		st := s.streams[i]
		if st.buffer == nil {
			emit()
			continue
		}
		if len(buffers) > 0 && i != next {
			emit()
		}
		if len(buffers) == 0 {
			first = i
		}
		buffers = append(buffers, st.buffer.native)
		offsets = append(offsets, st.offset)
		next = i + 1
	}
	emit()
}

// VertexCount derives the drawable vertex count: the smallest element
// count among the per-vertex streams the pipeline consumes.
func (s *GraphicsPendingState) VertexCount() (uint32, bool) {
	if s.pipeline == nil {
		return 0, false
	}
	instanced := make(map[uint32]bool, len(s.pipeline.VertexDecl.Bindings))
	for _, b := range s.pipeline.VertexDecl.Bindings {
		instanced[b.Binding] = b.Instance
	}
	var (
		count uint32
		found bool
	)
	for _, i := range s.consumedStreams() {
		st := s.streams[i]
		if st.buffer == nil || instanced[i] {
			continue
		}
		n := st.buffer.desc.ElementNum
		if !found || n < count {
			count = n
			found = true
		}
	}
	return count, found
}

// Reset drops the pipeline and every pending binding.
func (s *GraphicsPendingState) Reset() {
	s.reset()
	s.streams = [MaxVertexStreams]vertexStream{}
	s.vertexDirty = false
	s.index = indexBinding{}
	s.indexDirty = false
	s.hasViewport = false
	s.hasScissor = false
	s.viewportDirty = false
	s.scissorDirty = false
}

// ComputePendingState accumulates compute bindings until the next dispatch.
type ComputePendingState struct {
	descriptorState
}

func NewComputePendingState(cache *DescriptorSetCache) *ComputePendingState {
	s := &ComputePendingState{}
	s.init(device.BindPointCompute, cache)
	return s
}

func (s *ComputePendingState) SetPipeline(p *Pipeline) (bool, error) {
	return s.setPipeline(p)
}

func (s *ComputePendingState) Dirty() bool {
	return s.changed || s.dirtySets()
}

func (s *ComputePendingState) Prepare() error {
	if s.phase == PhaseIdle {
		return errors.Wrap(core.ErrNoPipeline, "dispatch")
	}
	if err := s.flushDescriptors(); err != nil {
		return err
	}
	s.phase = PhasePrepared
	return nil
}

func (s *ComputePendingState) Reset() {
	s.reset()
}
