package rhi

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Binding is one shader visible resource slot of a descriptor set.
type Binding struct {
	Slot   uint32
	Kind   metadata.ResourceKind
	Stages metadata.StageFlags
}

// Signature is the ordered list of bindings of one descriptor set. It keys
// layouts and sets by content, so two signatures with the same entries in
// the same order are the same layout.
type Signature []Binding

func (s Signature) Hash() uint64 {
	h := newHasher()
	hashInt(h, len(s))
	for _, b := range s {
		hashInt(h, b.Slot)
		hashInt(h, b.Kind)
		hashInt(h, b.Stages)
	}
	return h.sum()
}

func (s Signature) Equal(o Signature) bool {
	return slices.Equal(s, o)
}

// Validate reports a slot declared twice.
func (s Signature) Validate() error {
	seen := make(map[uint32]struct{}, len(s))
	for _, b := range s {
		if _, ok := seen[b.Slot]; ok {
			return errors.Wrapf(core.ErrDuplicateSlot, "slot %d in %s", b.Slot, s)
		}
		seen[b.Slot] = struct{}{}
	}
	return nil
}

func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, b := range s {
		parts[i] = fmt.Sprintf("%d:%s@%s", b.Slot, b.Kind, b.Stages)
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func (s Signature) layoutBindings() []device.LayoutBinding {
	out := make([]device.LayoutBinding, len(s))
	for i, b := range s {
		out[i] = device.LayoutBinding{Slot: b.Slot, Kind: b.Kind, Stages: b.Stages}
	}
	return out
}

// signatureOf orders the pending writes of one set by slot. Any sequence
// of writes ending in the same slot contents gives an equal signature.
func signatureOf(writes map[uint32]PendingWrite) Signature {
	sig := make(Signature, 0, len(writes))
	for _, w := range writes {
		sig = append(sig, Binding{Slot: w.Slot, Kind: w.Kind, Stages: w.Stages})
	}
	sort.Slice(sig, func(i, j int) bool { return sig[i].Slot < sig[j].Slot })
	return sig
}

// descriptorsOf returns the device writes of one set ordered by slot.
func descriptorsOf(writes map[uint32]PendingWrite) []device.DescriptorWrite {
	out := make([]device.DescriptorWrite, 0, len(writes))
	for _, w := range writes {
		out = append(out, w.DescriptorWrite)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// layoutList keys pipeline layouts by the ordered layouts of their sets.
type layoutList []LayoutID

func (l layoutList) Hash() uint64 {
	h := newHasher()
	hashInts(h, l)
	return h.sum()
}

func (l layoutList) Equal(o layoutList) bool {
	return slices.Equal(l, o)
}
