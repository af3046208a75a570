package rhi

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type recordStage int

const (
	stageIdle recordStage = iota
	stageFrame
	stageCommand
	stageRenderPass
	stageCommandEnded
)

func (s recordStage) String() string {
	switch s {
	case stageIdle:
		return "idle"
	case stageFrame:
		return "frame"
	case stageCommand:
		return "command"
	case stageRenderPass:
		return "render pass"
	case stageCommandEnded:
		return "command ended"
	}
	return "unknown"
}

// frameSync holds the gates of one frame slot.
type frameSync struct {
	fence          device.Fence
	imageAvailable device.Semaphore
	renderFinished device.Semaphore
}

// Handle is the immediate-mode surface. Calls chain in the order
//
//	BeginFrame -> (BeginCommand -> (BeginRenderPass -> ... -> EndRenderPass)* -> EndCommand -> Commit)+ -> EndFrame
//
// and every derived object is built on demand. The first failure is kept
// in Err and every later chained call becomes a no-op.
//
// A Handle records from a single goroutine.
type Handle struct {
	id        uuid.UUID
	cfg       core.RendererConfig
	dev       device.Device
	swapchain device.Swapchain

	descriptors *DescriptorSetCache
	resources   *ResourceManager
	commands    *CommandPool
	gfx         *GraphicsPendingState
	compute     *ComputePendingState

	frames       []frameSync
	slot         int
	frameNumber  uint64
	imageIndex   uint32
	waitImage    bool
	drewToScreen bool
	skip         bool
	swapTextures []*Texture

	stage recordStage
	cmd   device.CommandBuffer

	vs, ps, cs *Shader

	buffers  map[uuid.UUID]*Buffer
	textures map[uuid.UUID]*Texture

	clock   *core.Clock
	metrics *core.FrameMetrics

	err error
}

// NewHandle builds a Handle over dev. A nil swapchain gives a headless
// handle: frames are still fenced but nothing is presented.
func NewHandle(dev device.Device, swapchain device.Swapchain, cfg core.RendererConfig) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	descriptors := NewDescriptorSetCache(dev, cfg.MaxDescriptorSets)
	resources, err := NewResourceManager(dev, descriptors, cfg.SamplerCacheSize)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		id:          uuid.New(),
		cfg:         cfg,
		dev:         dev,
		swapchain:   swapchain,
		descriptors: descriptors,
		resources:   resources,
		commands:    NewCommandPool(dev, cfg.CommandBufferBatch, cfg.MaxCommandBuffers),
		gfx:         NewGraphicsPendingState(descriptors),
		compute:     NewComputePendingState(descriptors),
		buffers:     make(map[uuid.UUID]*Buffer),
		textures:    make(map[uuid.UUID]*Texture),
		clock:       core.NewClock(),
		metrics:     core.NewFrameMetrics(),
	}
	h.frames = make([]frameSync, cfg.FramesInFlight)
	for i := range h.frames {
		fence, err := dev.CreateFence(true)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create frame fence %d", i)
		}
		h.frames[i].fence = fence
		if swapchain == nil {
			continue
		}
		if h.frames[i].imageAvailable, err = dev.CreateSemaphore(); err != nil {
			return nil, errors.Wrapf(err, "failed to create image available semaphore %d", i)
		}
		if h.frames[i].renderFinished, err = dev.CreateSemaphore(); err != nil {
			return nil, errors.Wrapf(err, "failed to create render finished semaphore %d", i)
		}
	}
	h.refreshSwapchain()
	core.LogInfo("renderer handle %s ready (%d frames in flight, headless=%t)", h.id, cfg.FramesInFlight, swapchain == nil)
	return h, nil
}

func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Err returns the first failure since the handle was created.
func (h *Handle) Err() error {
	return h.err
}

func (h *Handle) fail(err error) *Handle {
	if h.err == nil && err != nil {
		h.err = err
		core.LogError("%s", err)
	}
	return h
}

// ok reports whether a chained call should run.
func (h *Handle) ok() bool {
	return h.err == nil && !h.skip
}

// expect checks the recording stage for op.
func (h *Handle) expect(op string, stages ...recordStage) bool {
	if !h.ok() {
		return false
	}
	for _, s := range stages {
		if h.stage == s {
			return true
		}
	}
	h.fail(errors.Wrapf(core.ErrProtocol, "%s called in stage %s", op, h.stage))
	return false
}

func (h *Handle) refreshSwapchain() {
	if h.swapchain == nil {
		return
	}
	n := h.swapchain.ImageCount()
	h.swapTextures = make([]*Texture, n)
	for i := 0; i < n; i++ {
		idx := uint32(i)
		h.swapTextures[i] = wrapSwapchainImage(h.id, h.swapchain.Image(idx), h.swapchain.View(idx), h.swapchain.Format(), h.swapchain.Extent())
	}
}

// BeginFrame waits until the frame slot used FramesInFlight frames ago is
// done and acquires the next swapchain image.
func (h *Handle) BeginFrame(ctx context.Context) *Handle {
	if !h.expect("BeginFrame", stageIdle) {
		return h
	}
	h.clock.Start()
	f := h.frames[h.slot]
	if err := h.dev.WaitFence(ctx, f.fence); err != nil {
		return h.fail(errors.Wrapf(err, "failed waiting for frame slot %d", h.slot))
	}
	// The slot fence covers every frame up to the one FramesInFlight ago.
	epoch := h.frameNumber + 1
	var retired uint64
	if n := uint64(len(h.frames)); epoch > n {
		retired = epoch - n
	}
	h.descriptors.BeginEpoch(epoch, retired)
	h.stage = stageFrame
	h.drewToScreen = false
	h.waitImage = false
	if h.swapchain != nil {
		index, err := h.swapchain.Acquire(ctx, f.imageAvailable)
		if errors.Is(err, core.ErrSwapchainBooting) {
			core.LogDebug("swapchain booting, skipping frame %d", h.frameNumber)
			h.refreshSwapchain()
			h.skip = true
			return h
		}
		if err != nil {
			return h.fail(errors.Wrap(err, "failed to acquire swapchain image"))
		}
		h.imageIndex = index
		h.waitImage = true
	}
	core.LogDebug("frame %d begins on slot %d", h.frameNumber, h.slot)
	return h
}

// BeginCommand starts recording a command buffer with an empty attachment
// set and clean pending states.
func (h *Handle) BeginCommand() *Handle {
	if !h.expect("BeginCommand", stageFrame) {
		return h
	}
	ctx, cancel := h.fenceContext()
	defer cancel()
	cmd, err := h.commands.Acquire(ctx)
	if err != nil {
		return h.fail(err)
	}
	h.cmd = cmd
	h.resources.ClearAttachments()
	h.gfx.Reset()
	h.gfx.Bind(cmd)
	h.compute.Reset()
	h.compute.Bind(cmd)
	h.stage = stageCommand
	return h
}

func (h *Handle) EndCommand() *Handle {
	if !h.expect("EndCommand", stageCommand) {
		return h
	}
	if err := h.commands.End(); err != nil {
		return h.fail(errors.Wrap(err, "failed to end command buffer"))
	}
	h.gfx.Reset()
	h.compute.Reset()
	h.stage = stageCommandEnded
	return h
}

// Commit submits the recorded command buffer. The first commit that drew
// to the swapchain image waits for the image to be available.
func (h *Handle) Commit() *Handle {
	if !h.expect("Commit", stageCommandEnded) {
		return h
	}
	var info device.SubmitInfo
	if h.drewToScreen && h.waitImage {
		info.Wait = []device.Semaphore{h.frames[h.slot].imageAvailable}
		h.waitImage = false
	}
	if err := h.commands.Submit(info); err != nil {
		return h.fail(errors.Wrap(err, "failed to submit command buffer"))
	}
	h.cmd = nil
	h.stage = stageFrame
	return h
}

// EndFrame signals the frame fence after every commit of the frame,
// presents and moves to the next frame slot.
func (h *Handle) EndFrame() *Handle {
	if h.skip {
		h.skip = false
		h.stage = stageIdle
		return h
	}
	if !h.expect("EndFrame", stageFrame) {
		return h
	}
	f := h.frames[h.slot]
	if err := h.dev.ResetFence(f.fence); err != nil {
		return h.fail(err)
	}
	info := device.SubmitInfo{Fence: f.fence}
	if h.swapchain != nil {
		if h.waitImage {
			info.Wait = []device.Semaphore{f.imageAvailable}
			h.waitImage = false
		}
		info.Signal = []device.Semaphore{f.renderFinished}
	}
	if err := h.dev.Submit(nil, info); err != nil {
		return h.fail(errors.Wrap(err, "failed to submit end of frame"))
	}
	if h.swapchain != nil {
		err := h.swapchain.Present(h.imageIndex, []device.Semaphore{f.renderFinished})
		if errors.Is(err, core.ErrSwapchainBooting) {
			h.refreshSwapchain()
		} else if err != nil {
			return h.fail(errors.Wrap(err, "failed to present"))
		}
	}
	h.slot = (h.slot + 1) % len(h.frames)
	h.frameNumber++
	h.stage = stageIdle

	h.clock.Update()
	h.metrics.Update(h.clock.Elapsed())
	return h
}

func (h *Handle) fenceContext() (context.Context, context.CancelFunc) {
	timeout := h.cfg.FenceTimeout()
	if timeout == 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

// SetDefaultAttachments renders to the acquired swapchain image. The
// attachment format always follows the swapchain.
func (h *Handle) SetDefaultAttachments(desc metadata.AttachmentDesc) *Handle {
	if !h.expect("SetDefaultAttachments", stageCommand) {
		return h
	}
	if h.swapchain == nil {
		return h.fail(errors.Wrap(core.ErrNoAttachments, "headless handle has no default attachments"))
	}
	desc.Format = h.swapchain.Format()
	h.resources.SetColorAttachments(ColorAttachment(h.swapTextures[h.imageIndex], desc))
	return h
}

func (h *Handle) SetColorAttachments(atts ...AttachmentBinding) *Handle {
	if !h.expect("SetColorAttachments", stageCommand) {
		return h
	}
	for _, a := range atts {
		if err := h.checkAttachment(a); err != nil {
			return h.fail(err)
		}
	}
	h.resources.SetColorAttachments(atts...)
	return h
}

func (h *Handle) SetColorAttachment(i int, tex *Texture, desc metadata.AttachmentDesc) *Handle {
	if !h.expect("SetColorAttachment", stageCommand) {
		return h
	}
	a := ColorAttachment(tex, desc)
	if err := h.checkAttachment(a); err != nil {
		return h.fail(err)
	}
	h.resources.SetColorAttachment(i, a)
	return h
}

func (h *Handle) SetDepthAttachment(tex *Texture, desc metadata.AttachmentDesc) *Handle {
	if !h.expect("SetDepthAttachment", stageCommand) {
		return h
	}
	a := DepthAttachment(tex, desc)
	if err := h.checkAttachment(a); err != nil {
		return h.fail(err)
	}
	if !tex.Format().IsDepth() {
		return h.fail(errors.Wrapf(core.ErrResourceUsage, "%s is not a depth format", tex))
	}
	h.resources.SetDepthAttachment(a)
	return h
}

func (h *Handle) checkAttachment(a AttachmentBinding) error {
	if a.Target == nil {
		return errors.Wrap(core.ErrNoAttachments, "nil attachment target")
	}
	if err := h.owns(a.Target); err != nil {
		return err
	}
	if a.Target.presentable {
		return nil
	}
	want := metadata.ImageUsageColorAttachment
	if a.Depth {
		want = metadata.ImageUsageDepthAttachment
	}
	if !a.Target.desc.Usage.Has(want) {
		return errors.Wrapf(core.ErrResourceUsage, "%s cannot be used as an attachment", a.Target)
	}
	return nil
}

// BeginRenderPass begins a pass over the working attachments and resets
// the viewport and scissor to the full render area.
func (h *Handle) BeginRenderPass() *Handle {
	if !h.expect("BeginRenderPass", stageCommand) {
		return h
	}
	area, err := h.resources.BeginRenderPass(h.cmd)
	if err != nil {
		return h.fail(err)
	}
	for _, a := range h.resources.Attachments() {
		if a.Target.presentable {
			h.drewToScreen = true
		}
	}
	h.gfx.SetViewport(metadata.FullViewport(area))
	h.gfx.SetScissor(metadata.FullRect(area))
	h.stage = stageRenderPass
	return h
}

func (h *Handle) EndRenderPass() *Handle {
	if !h.expect("EndRenderPass", stageRenderPass) {
		return h
	}
	h.resources.EndRenderPass(h.cmd)
	h.gfx.Reset()
	h.stage = stageCommand
	return h
}

// ResetComputeState drops the compute pipeline and its pending bindings.
func (h *Handle) ResetComputeState() *Handle {
	if !h.ok() {
		return h
	}
	h.compute.Reset()
	return h
}

func (h *Handle) owns(r Resource) error {
	if r.Owner() != h.id {
		return errors.Wrapf(core.ErrForeignResource, "%v belongs to handle %s", r, r.Owner())
	}
	return nil
}

// Stats summarizes every cache of the handle.
type Stats struct {
	Layouts         int
	Sets            int
	PipelineLayouts int
	Pipelines       int
	RenderPasses    int
	Framebuffers    int
	Shaders         int
	Samplers        int
	CommandBuffers  int

	LayoutCache      core.CacheStats
	SetCache         core.CacheStats
	PipelineCache    core.CacheStats
	RenderPassCache  core.CacheStats
	FramebufferCache core.CacheStats

	FPS       float64
	FrameTime float64
}

func (s Stats) String() string {
	return fmt.Sprintf("layouts=%d sets=%d pipelineLayouts=%d pipelines=%d renderPasses=%d framebuffers=%d shaders=%d samplers=%d cmds=%d fps=%.0f",
		s.Layouts, s.Sets, s.PipelineLayouts, s.Pipelines, s.RenderPasses, s.Framebuffers, s.Shaders, s.Samplers, s.CommandBuffers, s.FPS)
}

func (h *Handle) Stats() Stats {
	return Stats{
		Layouts:          h.descriptors.LayoutCount(),
		Sets:             h.descriptors.SetCount(),
		PipelineLayouts:  h.descriptors.PipelineLayoutCount(),
		Pipelines:        h.resources.PipelineCount(),
		RenderPasses:     h.resources.RenderPassCount(),
		Framebuffers:     h.resources.FramebufferCount(),
		Shaders:          h.resources.ShaderCount(),
		Samplers:         h.resources.samplers.Len(),
		CommandBuffers:   h.commands.Size(),
		LayoutCache:      h.descriptors.layouts.stats(),
		SetCache:         h.descriptors.families.stats(),
		PipelineCache:    h.resources.pipelines.stats(),
		RenderPassCache:  h.resources.renderPasses.stats(),
		FramebufferCache: h.resources.framebuffers.stats(),
		FPS:              h.metrics.FPS(),
		FrameTime:        h.metrics.FrameTime(),
	}
}

func (h *Handle) FrameNumber() uint64 {
	return h.frameNumber
}

// Close waits for the device and destroys everything the handle created.
func (h *Handle) Close() error {
	if err := h.dev.WaitIdle(); err != nil {
		return errors.Wrap(err, "failed waiting for device idle")
	}
	for _, b := range h.buffers {
		h.dev.Destroy(device.ObjectBuffer, device.Handle(b.native))
	}
	for _, t := range h.textures {
		h.dev.Destroy(device.ObjectImageView, device.Handle(t.view))
		h.dev.Destroy(device.ObjectImage, device.Handle(t.image))
	}
	h.buffers = map[uuid.UUID]*Buffer{}
	h.textures = map[uuid.UUID]*Texture{}

	h.resources.Destroy()
	h.descriptors.Destroy()
	h.commands.Destroy()
	for _, f := range h.frames {
		h.dev.Destroy(device.ObjectFence, device.Handle(f.fence))
		if h.swapchain != nil {
			h.dev.Destroy(device.ObjectSemaphore, device.Handle(f.imageAvailable))
			h.dev.Destroy(device.ObjectSemaphore, device.Handle(f.renderFinished))
		}
	}
	h.frames = nil
	core.LogInfo("renderer handle %s closed", h.id)
	return nil
}
