package vulkan

import (
	"context"
	"math"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
)

func (d *Device) CreateFence(signaled bool) (device.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	// Signaled fences let the first wait on a fresh frame slot return at once.
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	err := d.locks.SafeCall(SynchronizationManagement, func() error {
		return vkCheck("vkCreateFence", vk.CreateFence(d.logical(), &fenceCreateInfo, d.context.Allocator, &fence))
	})
	if err != nil {
		return 0, err
	}
	return device.Fence(d.fences.add(fence)), nil
}

func (d *Device) fence(h device.Fence) (vk.Fence, error) {
	f, ok := d.fences.get(device.Handle(h))
	if !ok {
		return vk.NullFence, errors.Errorf("unknown fence %d", h)
	}
	return f, nil
}

// WaitFence blocks until f signals. The deadline of ctx bounds the wait.
func (d *Device) WaitFence(ctx context.Context, h device.Fence) error {
	f, err := d.fence(h)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), time.Nanosecond)
	}
	return d.waitNative(f, timeout)
}

func (d *Device) waitNative(f vk.Fence, timeout time.Duration) error {
	timeoutNs := uint64(math.MaxUint64)
	if timeout > 0 {
		timeoutNs = uint64(timeout.Nanoseconds())
	}
	switch res := vk.WaitForFences(d.logical(), 1, []vk.Fence{f}, vk.True, timeoutNs); res {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("vkWaitForFences timed out after %s", timeout)
		return errors.Wrapf(context.DeadlineExceeded, "fence wait after %s", timeout)
	default:
		return vkCheck("vkWaitForFences", res)
	}
}

func (d *Device) FenceSignaled(h device.Fence) (bool, error) {
	f, err := d.fence(h)
	if err != nil {
		return false, err
	}
	switch res := vk.GetFenceStatus(d.logical(), f); res {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, vkCheck("vkGetFenceStatus", res)
	}
}

func (d *Device) ResetFence(h device.Fence) error {
	f, err := d.fence(h)
	if err != nil {
		return err
	}
	return d.locks.SafeCall(SynchronizationManagement, func() error {
		return vkCheck("vkResetFences", vk.ResetFences(d.logical(), 1, []vk.Fence{f}))
	})
}

func (d *Device) CreateSemaphore() (device.Semaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	err := d.locks.SafeCall(SynchronizationManagement, func() error {
		return vkCheck("vkCreateSemaphore", vk.CreateSemaphore(d.logical(), &semaphoreCreateInfo, d.context.Allocator, &semaphore))
	})
	if err != nil {
		return 0, err
	}
	return device.Semaphore(d.semaphores.add(semaphore)), nil
}

func (d *Device) nativeSemaphores(list []device.Semaphore) ([]vk.Semaphore, error) {
	out := make([]vk.Semaphore, 0, len(list))
	for _, h := range list {
		s, ok := d.semaphores.get(device.Handle(h))
		if !ok {
			return nil, errors.Errorf("unknown semaphore %d", h)
		}
		out = append(out, s)
	}
	return out, nil
}

// Submit queues one command buffer. Waits happen before color output so
// vertex work can overlap image acquisition.
func (d *Device) Submit(cmd device.CommandBuffer, info device.SubmitInfo) error {
	var buffers []vk.CommandBuffer
	if cmd != nil {
		cb, ok := cmd.(*commandBuffer)
		if !ok || cb.dev != d {
			return errors.Wrap(core.ErrForeignResource, "command buffer from another device")
		}
		if cb.state != commandBufferRecordingEnded {
			return errors.Wrap(core.ErrProtocol, "submitting a command buffer that was not ended")
		}
		buffers = []vk.CommandBuffer{cb.handle}
	}
	wait, err := d.nativeSemaphores(info.Wait)
	if err != nil {
		return err
	}
	signal, err := d.nativeSemaphores(info.Signal)
	if err != nil {
		return err
	}
	waitStages := make([]vk.PipelineStageFlags, len(wait))
	for i := range waitStages {
		waitStages[i] = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	}
	fence := vk.NullFence
	if info.Fence != 0 {
		if fence, err = d.fence(info.Fence); err != nil {
			return err
		}
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   uint32(len(buffers)),
		PCommandBuffers:      buffers,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}
	return d.locks.SafeQueueCall(d.context.Device.QueueIndex, func() error {
		return vkCheck("vkQueueSubmit", vk.QueueSubmit(d.context.Device.Queue, 1, []vk.SubmitInfo{submitInfo}, fence))
	})
}
