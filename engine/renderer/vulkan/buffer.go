package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type vulkanBuffer struct {
	handle  vk.Buffer
	memory  vk.DeviceMemory
	size    vk.DeviceSize
	staging bool
}

func (b *vulkanBuffer) destroy(dev vk.Device, alloc *vk.AllocationCallbacks) {
	if b.handle != vk.NullBuffer {
		vk.DestroyBuffer(dev, b.handle, alloc)
		b.handle = vk.NullBuffer
	}
	if b.memory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, b.memory, alloc)
		b.memory = vk.NullDeviceMemory
	}
}

// allocate backs a buffer or image with memory of the given properties.
func (d *Device) allocate(req vk.MemoryRequirements, props vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	req.Deref()
	index, err := d.context.FindMemoryIndex(req.MemoryTypeBits, props)
	if err != nil {
		return vk.NullDeviceMemory, err
	}
	var memory vk.DeviceMemory
	err = d.locks.SafeCall(MemoryManagement, func() error {
		return vkCheck("vkAllocateMemory", vk.AllocateMemory(d.logical(), &vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  req.Size,
			MemoryTypeIndex: index,
		}, d.context.Allocator, &memory))
	})
	return memory, err
}

// CreateBuffer places staging buffers in host visible coherent memory and
// everything else in device local memory.
func (d *Device) CreateBuffer(desc metadata.BufferDesc) (device.Buffer, error) {
	size := vk.DeviceSize(desc.Size())
	if size == 0 {
		return 0, errors.Errorf("buffer %q has zero size", desc.Name)
	}
	b := &vulkanBuffer{size: size, staging: desc.Staging}
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       vkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if err := vkCheck("vkCreateBuffer", vk.CreateBuffer(d.logical(), &createInfo, d.context.Allocator, &handle)); err != nil {
		return 0, errors.Wrapf(err, "buffer %q", desc.Name)
	}
	b.handle = handle

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logical(), handle, &req)
	props := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if desc.Staging {
		props = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	memory, err := d.allocate(req, props)
	if err != nil {
		b.destroy(d.logical(), d.context.Allocator)
		return 0, errors.Wrapf(err, "buffer %q", desc.Name)
	}
	b.memory = memory
	if err := vkCheck("vkBindBufferMemory", vk.BindBufferMemory(d.logical(), handle, memory, 0)); err != nil {
		b.destroy(d.logical(), d.context.Allocator)
		return 0, err
	}
	core.LogDebug("created buffer %q (%d bytes, %s, staging=%t)", desc.Name, size, desc.Usage, desc.Staging)
	return device.Buffer(d.buffers.add(b)), nil
}

func (d *Device) stagingBuffer(h device.Buffer, offset, n uint64) (*vulkanBuffer, error) {
	b, ok := d.buffers.get(device.Handle(h))
	if !ok {
		return nil, errors.Errorf("unknown buffer handle %d", h)
	}
	if !b.staging {
		return nil, errors.Errorf("buffer %d is not host visible", h)
	}
	if offset+n > uint64(b.size) {
		return nil, errors.Errorf("range [%d, %d) exceeds buffer %d of %d bytes", offset, offset+n, h, b.size)
	}
	return b, nil
}

func (d *Device) WriteBuffer(h device.Buffer, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	b, err := d.stagingBuffer(h, offset, uint64(len(data)))
	if err != nil {
		return err
	}
	return d.locks.SafeCall(MemoryManagement, func() error {
		var ptr unsafe.Pointer
		if err := vkCheck("vkMapMemory", vk.MapMemory(d.logical(), b.memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &ptr)); err != nil {
			return err
		}
		vk.Memcopy(ptr, data)
		vk.UnmapMemory(d.logical(), b.memory)
		return nil
	})
}

func (d *Device) ReadBuffer(h device.Buffer, offset uint64, out []byte) error {
	if len(out) == 0 {
		return nil
	}
	b, err := d.stagingBuffer(h, offset, uint64(len(out)))
	if err != nil {
		return err
	}
	return d.locks.SafeCall(MemoryManagement, func() error {
		var ptr unsafe.Pointer
		if err := vkCheck("vkMapMemory", vk.MapMemory(d.logical(), b.memory, vk.DeviceSize(offset), vk.DeviceSize(len(out)), 0, &ptr)); err != nil {
			return err
		}
		copy(out, unsafe.Slice((*byte)(ptr), len(out)))
		vk.UnmapMemory(d.logical(), b.memory)
		return nil
	})
}

func (d *Device) buffer(h device.Buffer) vk.Buffer {
	if b, ok := d.buffers.get(device.Handle(h)); ok {
		return b.handle
	}
	core.LogWarn("unknown buffer handle %d", h)
	return vk.NullBuffer
}
