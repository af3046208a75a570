package rhi

import (
	"context"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
)

// commandSlot pairs a command buffer with the fence of its last submission.
type commandSlot struct {
	cmd   device.CommandBuffer
	fence device.Fence
}

// CommandPool hands out command buffers and takes them back once the GPU
// is done with them. A buffer moves idle -> active -> submitted and only
// returns to idle after its fence has been seen signaled.
type CommandPool struct {
	dev       device.Device
	batch     int
	max       int
	slots     []*commandSlot
	idle      *containers.RingQueue[*commandSlot]
	submitted []*commandSlot
	active    *commandSlot
}

func NewCommandPool(dev device.Device, batch, max int) *CommandPool {
	return &CommandPool{
		dev:   dev,
		batch: batch,
		max:   max,
		idle:  containers.NewRingQueue[*commandSlot](batch),
	}
}

// reclaim moves every submitted buffer whose fence is signaled back to idle.
func (p *CommandPool) reclaim() error {
	pending := p.submitted[:0]
	for _, s := range p.submitted {
		done, err := p.dev.FenceSignaled(s.fence)
		if err != nil {
			return err
		}
		if !done {
			pending = append(pending, s)
			continue
		}
		if err := p.recycle(s); err != nil {
			return err
		}
	}
	clear(p.submitted[len(pending):])
	p.submitted = pending
	return nil
}

func (p *CommandPool) recycle(s *commandSlot) error {
	if err := p.dev.ResetFence(s.fence); err != nil {
		return err
	}
	if err := s.cmd.Reset(); err != nil {
		return err
	}
	return p.idle.Enqueue(s)
}

func (p *CommandPool) allocate() error {
	n := min(p.batch, p.max-len(p.slots))
	if n <= 0 {
		return nil
	}
	cmds, err := p.dev.AllocateCommandBuffers(n)
	if err != nil {
		return errors.Wrap(err, "failed to allocate command buffers")
	}
	p.idle.Grow(len(p.slots) + n)
	for _, cmd := range cmds {
		fence, err := p.dev.CreateFence(false)
		if err != nil {
			return err
		}
		s := &commandSlot{cmd: cmd, fence: fence}
		p.slots = append(p.slots, s)
		if err := p.idle.Enqueue(s); err != nil {
			return err
		}
	}
	core.LogDebug("command pool grew to %d buffers", len(p.slots))
	return nil
}

// Acquire begins recording on an idle command buffer. When every buffer is
// in flight and the pool is at capacity it waits for the oldest submission.
func (p *CommandPool) Acquire(ctx context.Context) (device.CommandBuffer, error) {
	if p.active != nil {
		return nil, errors.Wrap(core.ErrProtocol, "a command buffer is already being recorded")
	}
	if err := p.reclaim(); err != nil {
		return nil, err
	}
	if p.idle.IsEmpty() && len(p.slots) < p.max {
		if err := p.allocate(); err != nil {
			return nil, err
		}
	}
	if p.idle.IsEmpty() {
		if len(p.submitted) == 0 {
			return nil, errors.Wrapf(core.ErrPoolExhausted, "all %d command buffers are in use", len(p.slots))
		}
		oldest := p.submitted[0]
		if err := p.dev.WaitFence(ctx, oldest.fence); err != nil {
			return nil, errors.Wrap(err, "failed waiting for a command buffer")
		}
		if err := p.reclaim(); err != nil {
			return nil, err
		}
	}
	s, err := p.idle.Dequeue()
	if err != nil {
		return nil, errors.Wrap(core.ErrPoolExhausted, err.Error())
	}
	if err := s.cmd.Begin(); err != nil {
		_ = p.idle.Enqueue(s)
		return nil, err
	}
	p.active = s
	return s.cmd, nil
}

// End finishes recording of the active command buffer.
func (p *CommandPool) End() error {
	if p.active == nil {
		return errors.Wrap(core.ErrProtocol, "no command buffer is being recorded")
	}
	return p.active.cmd.End()
}

// Submit queues the active command buffer, signaling its own fence.
func (p *CommandPool) Submit(info device.SubmitInfo) error {
	if p.active == nil {
		return errors.Wrap(core.ErrProtocol, "no command buffer to submit")
	}
	s := p.active
	info.Fence = s.fence
	if err := p.dev.Submit(s.cmd, info); err != nil {
		return err
	}
	p.submitted = append(p.submitted, s)
	p.active = nil
	return nil
}

func (p *CommandPool) Size() int {
	return len(p.slots)
}

func (p *CommandPool) Idle() int {
	return p.idle.Len()
}

func (p *CommandPool) InFlight() int {
	return len(p.submitted)
}

func (p *CommandPool) Destroy() {
	for _, s := range p.slots {
		p.dev.Destroy(device.ObjectFence, device.Handle(s.fence))
	}
	p.slots = nil
	p.submitted = nil
	p.active = nil
	p.idle = containers.NewRingQueue[*commandSlot](p.batch)
}
