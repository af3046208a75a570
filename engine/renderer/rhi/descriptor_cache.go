package rhi

import (
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
)

type (
	LayoutID         int
	SetID            int
	PipelineLayoutID int
)

type descriptorLayout struct {
	native    device.DescriptorSetLayout
	signature Signature
}

type descriptorSet struct {
	native  device.DescriptorSet
	layout  LayoutID
	family  *setFamily
	written []device.DescriptorWrite
	filled  bool
	// lastUse is the epoch of the last frame that bound the set. Zero
	// means never bound.
	lastUse uint64
}

func (s *descriptorSet) holds(writes []device.DescriptorWrite) bool {
	if !s.filled {
		return len(writes) == 0
	}
	return slices.Equal(s.written, writes)
}

// setKey names the sets of one set index of one signature. Two indices
// with the same signature never share a set.
type setKey struct {
	index uint32
	sig   Signature
}

func (k setKey) Hash() uint64 {
	h := newHasher()
	hashInt(h, k.index)
	hashInt(h, k.sig.Hash())
	return h.sum()
}

func (k setKey) Equal(o setKey) bool {
	return k.index == o.index && k.sig.Equal(o.sig)
}

// setFamily holds every version of the set of one key. current is the
// version GetSet hands out.
type setFamily struct {
	layout   LayoutID
	native   device.DescriptorSetLayout
	versions []SetID
	current  SetID
}

// PipelineLayout is a cached pipeline layout and the set layouts it was
// built from, in set index order.
type PipelineLayout struct {
	ID         PipelineLayoutID
	Native     device.PipelineLayout
	Signatures []Signature
	Layouts    []LayoutID
}

// DescriptorSetCache memoizes descriptor set layouts, descriptor sets and
// pipeline layouts by binding signature. Layouts are shared by every
// pipeline whose set has the same signature. Sets are keyed by set index
// and signature, and a set bound by a frame that may still be executing
// is never rewritten: Write moves to another version of the set instead.
type DescriptorSetCache struct {
	dev             device.Device
	maxSets         int
	layouts         *arena[Signature, *descriptorLayout]
	families        *arena[setKey, *setFamily]
	pipelineLayouts *arena[layoutList, *PipelineLayout]

	mu   sync.Mutex
	sets []*descriptorSet
	// epoch is the frame being recorded; every epoch up to retired has
	// finished executing on the device.
	epoch   uint64
	retired uint64
}

func NewDescriptorSetCache(dev device.Device, maxSets int) *DescriptorSetCache {
	return &DescriptorSetCache{
		dev:             dev,
		maxSets:         maxSets,
		layouts:         newArena[Signature, *descriptorLayout]("descriptor set layout", 0),
		families:        newArena[setKey, *setFamily]("descriptor set", 0),
		pipelineLayouts: newArena[layoutList, *PipelineLayout]("pipeline layout", 0),
		epoch:           1,
	}
}

func (c *DescriptorSetCache) GetLayout(sig Signature) (LayoutID, error) {
	if err := sig.Validate(); err != nil {
		return 0, err
	}
	key := slices.Clone(sig)
	i, err := c.layouts.getOrCreate(key, func() (*descriptorLayout, error) {
		native, err := c.dev.CreateDescriptorSetLayout(key.layoutBindings())
		if err != nil {
			return nil, err
		}
		return &descriptorLayout{native: native, signature: key}, nil
	})
	return LayoutID(i), err
}

// GetSet returns the current version of the set at index with signature sig,
// creating its layout first when needed.
func (c *DescriptorSetCache) GetSet(index uint32, sig Signature) (SetID, error) {
	layout, err := c.GetLayout(sig)
	if err != nil {
		return 0, err
	}
	native := c.layouts.at(int(layout)).native
	i, err := c.families.getOrCreate(setKey{index: index, sig: slices.Clone(sig)}, func() (*setFamily, error) {
		f := &setFamily{layout: layout, native: native}
		id, err := c.allocate(f)
		if err != nil {
			return nil, err
		}
		f.current = id
		return f, nil
	})
	if err != nil {
		return 0, err
	}
	f := c.families.at(i)
	c.mu.Lock()
	defer c.mu.Unlock()
	return f.current, nil
}

// allocate adds a new version to f.
func (c *DescriptorSetCache) allocate(f *setFamily) (SetID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxSets > 0 && len(c.sets) >= c.maxSets {
		return 0, errors.Wrapf(core.ErrPoolExhausted, "descriptor set pool holds %d sets", c.maxSets)
	}
	native, err := c.dev.AllocateDescriptorSet(f.native)
	if err != nil {
		return 0, err
	}
	id := SetID(len(c.sets))
	c.sets = append(c.sets, &descriptorSet{native: native, layout: f.layout, family: f})
	f.versions = append(f.versions, id)
	return id, nil
}

func (c *DescriptorSetCache) inFlight(s *descriptorSet) bool {
	return s.lastUse > c.retired
}

// BeginEpoch starts recording frame epoch and records that every frame
// up to retired has finished executing. Epochs start at 1.
func (c *DescriptorSetCache) BeginEpoch(epoch, retired uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch = epoch
	c.retired = retired
}

// MarkBound records that id is bound in the frame being recorded. From
// then on it is not rewritten until that frame retires.
func (c *DescriptorSetCache) MarkBound(id SetID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[id].lastUse = c.epoch
}

// GetPipelineLayout returns the pipeline layout whose set index i uses the
// layout of sigs[i].
func (c *DescriptorSetCache) GetPipelineLayout(sigs []Signature) (PipelineLayoutID, error) {
	if len(sigs) > MaxDescriptorSets {
		return 0, errors.Wrapf(core.ErrTooManySets, "%d sets requested, %d supported", len(sigs), MaxDescriptorSets)
	}
	ids := make(layoutList, len(sigs))
	natives := make([]device.DescriptorSetLayout, len(sigs))
	for i, sig := range sigs {
		id, err := c.GetLayout(sig)
		if err != nil {
			return 0, err
		}
		ids[i] = id
		natives[i] = c.layouts.at(int(id)).native
	}
	i, err := c.pipelineLayouts.getOrCreate(ids, func() (*PipelineLayout, error) {
		native, err := c.dev.CreatePipelineLayout(natives)
		if err != nil {
			return nil, err
		}
		signatures := make([]Signature, len(sigs))
		for j, sig := range sigs {
			signatures[j] = slices.Clone(sig)
		}
		return &PipelineLayout{Native: native, Signatures: signatures, Layouts: ids}, nil
	})
	if err != nil {
		return 0, err
	}
	pl := c.pipelineLayouts.at(i)
	pl.ID = PipelineLayoutID(i)
	return pl.ID, nil
}

func (c *DescriptorSetCache) PipelineLayout(id PipelineLayoutID) *PipelineLayout {
	return c.pipelineLayouts.at(int(id))
}

func (c *DescriptorSetCache) LayoutSignature(id LayoutID) Signature {
	return c.layouts.at(int(id)).signature
}

// SetLayout returns the layout a set was allocated from.
func (c *DescriptorSetCache) SetLayout(id SetID) LayoutID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets[id].layout
}

func (c *DescriptorSetCache) NativeSet(id SetID) device.DescriptorSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets[id].native
}

// Write makes the family of id hold writes and returns the set that holds
// them. A version already holding exactly these writes is reused without
// touching the device. Otherwise id is rewritten in place unless a frame
// still in flight bound it, in which case an idle version is rewritten or
// a new one allocated. Reports whether a write was issued.
func (c *DescriptorSetCache) Write(id SetID, writes []device.DescriptorWrite) (SetID, bool, error) {
	c.mu.Lock()
	set := c.sets[id]
	f := set.family
	if set.holds(writes) {
		f.current = id
		c.mu.Unlock()
		return id, false, nil
	}
	target := -1
	for _, v := range f.versions {
		if c.sets[v].holds(writes) {
			f.current = v
			c.mu.Unlock()
			return v, false, nil
		}
	}
	if !c.inFlight(set) {
		target = int(id)
	} else {
		for _, v := range f.versions {
			if !c.inFlight(c.sets[v]) {
				target = int(v)
				break
			}
		}
	}
	c.mu.Unlock()

	if target < 0 {
		v, err := c.allocate(f)
		if err != nil {
			return id, false, errors.Wrapf(err, "failed to grow descriptor set #%d", id)
		}
		core.LogDebug("descriptor set #%d is in flight, allocated version #%d", id, v)
		target = int(v)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	dst := c.sets[target]
	if err := c.dev.UpdateDescriptorSet(dst.native, writes); err != nil {
		return id, false, errors.Wrapf(err, "failed to write descriptor set #%d", target)
	}
	dst.written = slices.Clone(writes)
	dst.filled = true
	f.current = SetID(target)
	return SetID(target), true, nil
}

func (c *DescriptorSetCache) LayoutCount() int {
	return c.layouts.len()
}

// SetCount counts every allocated set version.
func (c *DescriptorSetCache) SetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sets)
}

func (c *DescriptorSetCache) PipelineLayoutCount() int {
	return c.pipelineLayouts.len()
}

// Destroy releases every native layout. Sets go back with their pool.
func (c *DescriptorSetCache) Destroy() {
	c.pipelineLayouts.each(func(_ int, pl *PipelineLayout) {
		c.dev.Destroy(device.ObjectPipelineLayout, device.Handle(pl.Native))
	})
	c.layouts.each(func(_ int, l *descriptorLayout) {
		c.dev.Destroy(device.ObjectDescriptorSetLayout, device.Handle(l.native))
	})
	c.pipelineLayouts.reset()
	c.families.reset()
	c.layouts.reset()
	c.mu.Lock()
	c.sets = nil
	c.mu.Unlock()
}
