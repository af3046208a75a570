package rhi

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// fakeDevice records every call instead of talking to a GPU. Submissions
// complete immediately unless holdFences is set.
type fakeDevice struct {
	next  uint64
	calls []string

	maxSets    int
	sets       int
	holdFences bool

	fences     map[device.Fence]bool
	buffers    map[device.Buffer][]byte
	renderPass map[device.RenderPass]device.RenderPassInfo
	destroyed  map[device.ObjectType]int
	updates    map[device.DescriptorSet]int
	submits    []device.SubmitInfo
	cmds       []*fakeCmd
	immediate  []*fakeCmd

	badTransition bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		maxSets:    1000,
		fences:     make(map[device.Fence]bool),
		buffers:    make(map[device.Buffer][]byte),
		renderPass: make(map[device.RenderPass]device.RenderPassInfo),
		destroyed:  make(map[device.ObjectType]int),
		updates:    make(map[device.DescriptorSet]int),
	}
}

func (d *fakeDevice) handle() uint64 {
	d.next++
	return d.next
}

func (d *fakeDevice) record(format string, args ...interface{}) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDevice) count(prefix string) int {
	return countPrefix(d.calls, prefix)
}

func countPrefix(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (d *fakeDevice) CreateShaderModule(code []uint32) (device.ShaderModule, error) {
	d.record("CreateShaderModule %d", len(code))
	return device.ShaderModule(d.handle()), nil
}

func (d *fakeDevice) CreateBuffer(desc metadata.BufferDesc) (device.Buffer, error) {
	d.record("CreateBuffer %s", desc.Name)
	b := device.Buffer(d.handle())
	d.buffers[b] = make([]byte, desc.Size())
	return b, nil
}

func (d *fakeDevice) CreateImage(desc metadata.ImageDesc) (device.Image, device.ImageView, error) {
	d.record("CreateImage %s", desc.Name)
	return device.Image(d.handle()), device.ImageView(d.handle()), nil
}

func (d *fakeDevice) CreateSampler(state metadata.SamplerState) (device.Sampler, error) {
	d.record("CreateSampler")
	return device.Sampler(d.handle()), nil
}

func (d *fakeDevice) CreateDescriptorSetLayout(bindings []device.LayoutBinding) (device.DescriptorSetLayout, error) {
	d.record("CreateDescriptorSetLayout %d", len(bindings))
	return device.DescriptorSetLayout(d.handle()), nil
}

func (d *fakeDevice) CreatePipelineLayout(layouts []device.DescriptorSetLayout) (device.PipelineLayout, error) {
	d.record("CreatePipelineLayout %d", len(layouts))
	return device.PipelineLayout(d.handle()), nil
}

func (d *fakeDevice) CreateGraphicsPipeline(info device.GraphicsPipelineInfo) (device.Pipeline, error) {
	d.record("CreateGraphicsPipeline")
	return device.Pipeline(d.handle()), nil
}

func (d *fakeDevice) CreateComputePipeline(info device.ComputePipelineInfo) (device.Pipeline, error) {
	d.record("CreateComputePipeline")
	return device.Pipeline(d.handle()), nil
}

func (d *fakeDevice) CreateRenderPass(info device.RenderPassInfo) (device.RenderPass, error) {
	d.record("CreateRenderPass %d", len(info.Attachments))
	rp := device.RenderPass(d.handle())
	d.renderPass[rp] = info
	return rp, nil
}

func (d *fakeDevice) CreateFramebuffer(info device.FramebufferInfo) (device.Framebuffer, error) {
	d.record("CreateFramebuffer %v", info.Views)
	return device.Framebuffer(d.handle()), nil
}

func (d *fakeDevice) WriteBuffer(b device.Buffer, offset uint64, data []byte) error {
	d.record("WriteBuffer %d", len(data))
	copy(d.buffers[b][offset:], data)
	return nil
}

func (d *fakeDevice) ReadBuffer(b device.Buffer, offset uint64, out []byte) error {
	d.record("ReadBuffer %d", len(out))
	copy(out, d.buffers[b][offset:])
	return nil
}

func (d *fakeDevice) AllocateDescriptorSet(layout device.DescriptorSetLayout) (device.DescriptorSet, error) {
	if d.sets >= d.maxSets {
		return 0, core.ErrPoolExhausted
	}
	d.sets++
	d.record("AllocateDescriptorSet %d", layout)
	return device.DescriptorSet(d.handle()), nil
}

func (d *fakeDevice) UpdateDescriptorSet(set device.DescriptorSet, writes []device.DescriptorWrite) error {
	d.record("UpdateDescriptorSet %d %d", set, len(writes))
	d.updates[set]++
	return nil
}

func (d *fakeDevice) AllocateCommandBuffers(n int) ([]device.CommandBuffer, error) {
	d.record("AllocateCommandBuffers %d", n)
	out := make([]device.CommandBuffer, n)
	for i := range out {
		c := &fakeCmd{dev: d, id: len(d.cmds)}
		d.cmds = append(d.cmds, c)
		out[i] = c
	}
	return out, nil
}

func (d *fakeDevice) CreateFence(signaled bool) (device.Fence, error) {
	f := device.Fence(d.handle())
	d.fences[f] = signaled
	return f, nil
}

func (d *fakeDevice) WaitFence(ctx context.Context, f device.Fence) error {
	d.record("WaitFence %d", f)
	if !d.fences[f] {
		if d.holdFences {
			return errors.Wrap(context.DeadlineExceeded, "fence never signaled")
		}
		d.fences[f] = true
	}
	return nil
}

func (d *fakeDevice) FenceSignaled(f device.Fence) (bool, error) {
	return d.fences[f], nil
}

func (d *fakeDevice) ResetFence(f device.Fence) error {
	d.record("ResetFence %d", f)
	d.fences[f] = false
	return nil
}

func (d *fakeDevice) CreateSemaphore() (device.Semaphore, error) {
	return device.Semaphore(d.handle()), nil
}

func (d *fakeDevice) Submit(cmd device.CommandBuffer, info device.SubmitInfo) error {
	if cmd == nil {
		d.record("Submit empty")
	} else {
		d.record("Submit cmd%d", cmd.(*fakeCmd).id)
	}
	d.submits = append(d.submits, info)
	if device.Handle(info.Fence).Valid() && !d.holdFences {
		d.fences[info.Fence] = true
	}
	return nil
}

// signalAll completes every held submission.
func (d *fakeDevice) signalAll() {
	for f := range d.fences {
		d.fences[f] = true
	}
}

func (d *fakeDevice) ImmediateSubmit(fn func(cmd device.CommandBuffer) error) error {
	d.record("ImmediateSubmit")
	c := &fakeCmd{dev: d, id: -1}
	d.immediate = append(d.immediate, c)
	return fn(c)
}

func (d *fakeDevice) WaitIdle() error {
	d.record("WaitIdle")
	return nil
}

func (d *fakeDevice) Destroy(kind device.ObjectType, h device.Handle) {
	d.destroyed[kind]++
}

// fakeCmd records commands into its own call list.
type fakeCmd struct {
	dev    *fakeDevice
	id     int
	calls  []string
	resets int
	begins []device.RenderPassBeginInfo
}

func (c *fakeCmd) record(format string, args ...interface{}) {
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *fakeCmd) count(prefix string) int {
	return countPrefix(c.calls, prefix)
}

func (c *fakeCmd) Begin() error { c.record("Begin"); return nil }
func (c *fakeCmd) End() error   { c.record("End"); return nil }

func (c *fakeCmd) Reset() error {
	c.calls = nil
	c.resets++
	return nil
}

func (c *fakeCmd) BeginRenderPass(info device.RenderPassBeginInfo) {
	c.begins = append(c.begins, info)
	c.record("BeginRenderPass %d %d %v", info.RenderPass, info.Framebuffer, info.ClearValues)
}

func (c *fakeCmd) EndRenderPass() { c.record("EndRenderPass") }

func (c *fakeCmd) BindPipeline(bp device.BindPoint, p device.Pipeline) {
	c.record("BindPipeline %s %d", bp, p)
}

func (c *fakeCmd) BindDescriptorSets(bp device.BindPoint, layout device.PipelineLayout, first uint32, sets []device.DescriptorSet) {
	c.record("BindDescriptorSets %s %d %v", bp, first, sets)
}

func (c *fakeCmd) BindVertexBuffers(first uint32, buffers []device.Buffer, offsets []uint64) {
	c.record("BindVertexBuffers %d %v %v", first, buffers, offsets)
}

func (c *fakeCmd) BindIndexBuffer(b device.Buffer, offset uint64, t device.IndexType) {
	c.record("BindIndexBuffer %d %d", b, t)
}

func (c *fakeCmd) SetViewport(v metadata.Viewport) { c.record("SetViewport %v", v) }
func (c *fakeCmd) SetScissor(r metadata.Rect2D)    { c.record("SetScissor %v", r) }

func (c *fakeCmd) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.record("Draw %d %d %d %d", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *fakeCmd) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.record("DrawIndexed %d %d %d %d %d", indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c *fakeCmd) DrawIndirect(b device.Buffer, offset uint64, drawCount, stride uint32) {
	c.record("DrawIndirect %d %d %d", offset, drawCount, stride)
}

func (c *fakeCmd) Dispatch(x, y, z uint32) { c.record("Dispatch %d %d %d", x, y, z) }

func (c *fakeCmd) CopyBuffer(src, dst device.Buffer, srcOffset, dstOffset, size uint64) {
	c.record("CopyBuffer %d", size)
	copy(c.dev.buffers[dst][dstOffset:dstOffset+size], c.dev.buffers[src][srcOffset:])
}

func (c *fakeCmd) CopyBufferToImage(src device.Buffer, dst device.Image, layout metadata.ImageLayout, region device.BufferImageCopy) {
	c.record("CopyBufferToImage %s", layout)
}

func (c *fakeCmd) CopyImageToBuffer(src device.Image, layout metadata.ImageLayout, dst device.Buffer, region device.BufferImageCopy) {
	c.record("CopyImageToBuffer %s", layout)
}

func (c *fakeCmd) CopyImage(src device.Image, srcLayout metadata.ImageLayout, dst device.Image, dstLayout metadata.ImageLayout, extent metadata.Extent3D) {
	c.record("CopyImage")
}

func (c *fakeCmd) TransitionImage(img device.Image, format metadata.Format, from, to metadata.ImageLayout) error {
	if c.dev.badTransition {
		return core.ErrUnsupportedTransition
	}
	c.record("TransitionImage %s %s", from, to)
	return nil
}

// fakeSwapchain cycles through its images. bootOnce makes the next
// Acquire report a recreated swapchain.
type fakeSwapchain struct {
	dev      *fakeDevice
	images   []device.Image
	views    []device.ImageView
	next     uint32
	bootOnce bool
	presents []uint32
}

func newFakeSwapchain(dev *fakeDevice, n int) *fakeSwapchain {
	s := &fakeSwapchain{dev: dev}
	for i := 0; i < n; i++ {
		s.images = append(s.images, device.Image(dev.handle()))
		s.views = append(s.views, device.ImageView(dev.handle()))
	}
	return s
}

func (s *fakeSwapchain) Acquire(ctx context.Context, signal device.Semaphore) (uint32, error) {
	if s.bootOnce {
		s.bootOnce = false
		return 0, core.ErrSwapchainBooting
	}
	i := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	return i, nil
}

func (s *fakeSwapchain) Present(index uint32, wait []device.Semaphore) error {
	s.presents = append(s.presents, index)
	return nil
}

func (s *fakeSwapchain) ImageCount() int                { return len(s.images) }
func (s *fakeSwapchain) Format() metadata.Format        { return metadata.FormatBGRA8Srgb }
func (s *fakeSwapchain) Extent() metadata.Extent2D      { return metadata.Extent2D{Width: 800, Height: 600} }
func (s *fakeSwapchain) Image(i uint32) device.Image    { return s.images[i] }
func (s *fakeSwapchain) View(i uint32) device.ImageView { return s.views[i] }
