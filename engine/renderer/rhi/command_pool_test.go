package rhi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
)

func TestCommandPoolAllocatesInBatches(t *testing.T) {
	dev := newFakeDevice()
	p := NewCommandPool(dev, 2, 4)

	cmd, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.Size())
	assert.Equal(t, 1, p.Idle())
	assert.Equal(t, 1, dev.count("AllocateCommandBuffers 2"))

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, core.ErrProtocol, "one buffer records at a time")

	require.NoError(t, p.End())
	require.NoError(t, p.Submit(device.SubmitInfo{}))
	assert.Equal(t, 1, p.InFlight())
	assert.Equal(t, []string{"Begin", "End"}, cmd.(*fakeCmd).calls)
}

func TestCommandPoolReusesOnlySignaledBuffers(t *testing.T) {
	dev := newFakeDevice()
	dev.holdFences = true
	p := NewCommandPool(dev, 1, 2)
	ctx := context.Background()

	submit := func() device.CommandBuffer {
		cmd, err := p.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, p.End())
		require.NoError(t, p.Submit(device.SubmitInfo{}))
		return cmd
	}
	first := submit()
	second := submit()
	assert.NotSame(t, first, second, "an in-flight buffer is never handed out again")
	assert.Equal(t, 2, p.Size())

	// every buffer is in flight and the pool is full: the oldest is waited on
	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, dev.count("WaitFence"))

	dev.signalAll()
	third, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, first, third, "the oldest signaled buffer comes back first")
	assert.Equal(t, 1, first.(*fakeCmd).resets)
	assert.Equal(t, 2, p.Size())
}

func TestCommandPoolWaitsForOldest(t *testing.T) {
	dev := newFakeDevice()
	p := NewCommandPool(dev, 1, 1)
	ctx := context.Background()

	cmd, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.End())
	// keep the fence unsignaled until WaitFence completes it
	dev.holdFences = true
	require.NoError(t, p.Submit(device.SubmitInfo{}))
	dev.holdFences = false

	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, cmd, again)
	assert.Equal(t, 1, dev.count("WaitFence"))
}

func TestCommandPoolDestroy(t *testing.T) {
	dev := newFakeDevice()
	p := NewCommandPool(dev, 3, 3)
	_, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Destroy()
	assert.Equal(t, 3, dev.destroyed[device.ObjectFence])
	assert.Equal(t, 0, p.Size())
}
