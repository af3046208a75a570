package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func (d *Device) CreateDescriptorSetLayout(bindings []device.LayoutBinding) (device.DescriptorSetLayout, error) {
	binds := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		binds[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Slot,
			DescriptorType:  vkDescriptorType(b.Kind),
			DescriptorCount: 1,
			StageFlags:      vkStageFlags(b.Stages),
		}
	}
	var layout vk.DescriptorSetLayout
	err := d.locks.SafeCall(DescriptorManagement, func() error {
		return vkCheck("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(d.logical(), &vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(binds)),
			PBindings:    binds,
		}, d.context.Allocator, &layout))
	})
	if err != nil {
		return 0, err
	}
	return device.DescriptorSetLayout(d.setLayouts.add(layout)), nil
}

func (d *Device) CreatePipelineLayout(layouts []device.DescriptorSetLayout) (device.PipelineLayout, error) {
	native := make([]vk.DescriptorSetLayout, len(layouts))
	for i, h := range layouts {
		l, ok := d.setLayouts.get(device.Handle(h))
		if !ok {
			return 0, errors.Errorf("unknown descriptor set layout %d at set %d", h, i)
		}
		native[i] = l
	}
	var layout vk.PipelineLayout
	if err := vkCheck("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.logical(), &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(native)),
		PSetLayouts:    native,
	}, d.context.Allocator, &layout)); err != nil {
		return 0, err
	}
	return device.PipelineLayout(d.pipeLayouts.add(layout)), nil
}

// AllocateDescriptorSet draws from the fixed pool made at start up. An
// empty pool reports core.ErrPoolExhausted.
func (d *Device) AllocateDescriptorSet(layout device.DescriptorSetLayout) (device.DescriptorSet, error) {
	l, ok := d.setLayouts.get(device.Handle(layout))
	if !ok {
		return 0, errors.Errorf("unknown descriptor set layout %d", layout)
	}
	var set vk.DescriptorSet
	err := d.locks.SafeCall(DescriptorManagement, func() error {
		return vkCheck("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(d.logical(), &vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     d.descriptorPool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{l},
		}, &set))
	})
	if err != nil {
		return 0, err
	}
	return device.DescriptorSet(d.sets.add(set)), nil
}

func (d *Device) UpdateDescriptorSet(h device.DescriptorSet, writes []device.DescriptorWrite) error {
	set, ok := d.sets.get(device.Handle(h))
	if !ok {
		return errors.Errorf("unknown descriptor set %d", h)
	}
	native := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      w.Slot,
			DescriptorCount: 1,
			DescriptorType:  vkDescriptorType(w.Kind),
		}
		if w.Kind.IsBuffer() {
			b, ok := d.buffers.get(device.Handle(w.Buffer))
			if !ok {
				return errors.Errorf("slot %d: unknown buffer %d", w.Slot, w.Buffer)
			}
			rng := vk.DeviceSize(w.Range)
			if rng == 0 {
				rng = vk.DeviceSize(vk.WholeSize)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: b.handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  rng,
			}}
		} else {
			info := vk.DescriptorImageInfo{
				ImageLayout: vkImageLayout(w.Layout),
				ImageView:   d.view(w.View),
			}
			if w.Kind == metadata.ResourceSampledImage {
				s, ok := d.samplers.get(device.Handle(w.Sampler))
				if !ok {
					return errors.Errorf("slot %d: unknown sampler %d", w.Slot, w.Sampler)
				}
				info.Sampler = s
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		}
		native = append(native, write)
	}
	return d.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(d.logical(), uint32(len(native)), native, 0, nil)
		return nil
	})
}
