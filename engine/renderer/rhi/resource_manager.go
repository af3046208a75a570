package rhi

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type (
	RenderPassID  int
	FramebufferID int
	PipelineID    int
	ShaderID      int
)

// AttachmentBinding ties a target texture to its load, clear and store ops.
type AttachmentBinding struct {
	Target *Texture
	Desc   metadata.AttachmentDesc
	Depth  bool
}

func ColorAttachment(target *Texture, desc metadata.AttachmentDesc) AttachmentBinding {
	return AttachmentBinding{Target: target, Desc: desc}
}

func DepthAttachment(target *Texture, desc metadata.AttachmentDesc) AttachmentBinding {
	return AttachmentBinding{Target: target, Desc: desc, Depth: true}
}

func (a AttachmentBinding) info() device.AttachmentInfo {
	final := a.Target.RestLayout()
	// Loading keeps the contents, so the pass starts from the layout the
	// target is in. A target never written yet has nothing to keep.
	initial := metadata.ImageLayoutUndefined
	if a.Desc.LoadOp == metadata.LoadOpLoad && a.Target.layout != metadata.ImageLayoutUndefined {
		initial = final
	}
	samples := a.Desc.Samples
	if samples == 0 {
		samples = metadata.MSAASamples1
	}
	return device.AttachmentInfo{
		Format:        a.Target.Format(),
		Samples:       samples,
		Load:          a.Desc.LoadOp,
		Store:         a.Desc.StoreOp,
		Depth:         a.Depth,
		InitialLayout: initial,
		FinalLayout:   final,
	}
}

// renderPassKey depends on attachment formats and ops only, never on the
// concrete views.
type renderPassKey []device.AttachmentInfo

func (k renderPassKey) Hash() uint64 {
	h := newHasher()
	hashInt(h, len(k))
	for _, a := range k {
		hashInt(h, a.Format)
		hashInt(h, a.Samples)
		hashInt(h, a.Load)
		hashInt(h, a.Store)
		h.bool(a.Depth)
		hashInt(h, a.InitialLayout)
		hashInt(h, a.FinalLayout)
	}
	return h.sum()
}

func (k renderPassKey) Equal(o renderPassKey) bool {
	return slices.Equal(k, o)
}

type framebufferKey struct {
	pass   RenderPassID
	views  []device.ImageView
	extent metadata.Extent2D
}

func (k framebufferKey) Hash() uint64 {
	h := newHasher()
	hashInt(h, k.pass)
	hashInts(h, k.views)
	hashInt(h, k.extent.Width)
	hashInt(h, k.extent.Height)
	return h.sum()
}

func (k framebufferKey) Equal(o framebufferKey) bool {
	return k.pass == o.pass && k.extent == o.extent && slices.Equal(k.views, o.views)
}

type pipelineKey struct {
	bindPoint device.BindPoint
	vs, ps    ShaderID
	setting   metadata.GfxSetting
	pass      RenderPassID
	layout    PipelineLayoutID
}

func (k pipelineKey) Hash() uint64 {
	h := newHasher()
	hashInt(h, k.bindPoint)
	hashInt(h, k.vs)
	hashInt(h, k.ps)
	if k.bindPoint == device.BindPointGraphics {
		h.gfxSetting(k.setting)
		hashInt(h, k.pass)
	}
	hashInt(h, k.layout)
	return h.sum()
}

func (k pipelineKey) Equal(o pipelineKey) bool {
	return k.bindPoint == o.bindPoint &&
		k.vs == o.vs && k.ps == o.ps &&
		k.pass == o.pass && k.layout == o.layout &&
		k.setting.Equal(o.setting)
}

type shaderKey struct {
	stage  metadata.ShaderStage
	digest uint64
	code   []uint32
}

func (k shaderKey) Hash() uint64 {
	return k.digest
}

func (k shaderKey) Equal(o shaderKey) bool {
	return k.stage == o.stage && k.digest == o.digest && slices.Equal(k.code, o.code)
}

// Shader is a compiled module identified by the content of its bytecode.
type Shader struct {
	ID     ShaderID
	Stage  metadata.ShaderStage
	Digest uint64
	Native device.ShaderModule
	Entry  string
}

// Pipeline is a cached pipeline together with what the pending state
// needs to reconcile against it.
type Pipeline struct {
	ID           PipelineID
	BindPoint    device.BindPoint
	Native       device.Pipeline
	Layout       PipelineLayoutID
	NativeLayout device.PipelineLayout
	Signatures   []Signature
	VertexDecl   metadata.VertexDecl
}

// ResourceManager derives render passes and framebuffers from the working
// attachment set and pipelines from shaders, fixed function settings and
// the derived render pass.
type ResourceManager struct {
	dev         device.Device
	descriptors *DescriptorSetCache

	colors []AttachmentBinding
	depth  *AttachmentBinding

	renderPasses *arena[renderPassKey, device.RenderPass]
	framebuffers *arena[framebufferKey, device.Framebuffer]
	pipelines    *arena[pipelineKey, *Pipeline]
	shaders      *arena[shaderKey, *Shader]
	samplers     *SamplerCache

	active []AttachmentBinding
}

func NewResourceManager(dev device.Device, descriptors *DescriptorSetCache, samplerCacheSize int) (*ResourceManager, error) {
	samplers, err := NewSamplerCache(dev, samplerCacheSize)
	if err != nil {
		return nil, err
	}
	return &ResourceManager{
		dev:          dev,
		descriptors:  descriptors,
		renderPasses: newArena[renderPassKey, device.RenderPass]("render pass", 0),
		framebuffers: newArena[framebufferKey, device.Framebuffer]("framebuffer", 0),
		pipelines:    newArena[pipelineKey, *Pipeline]("pipeline", 0),
		shaders:      newArena[shaderKey, *Shader]("shader", 0),
		samplers:     samplers,
	}, nil
}

func (m *ResourceManager) SetColorAttachments(atts ...AttachmentBinding) {
	m.colors = m.colors[:0]
	for _, a := range atts {
		a.Depth = false
		m.colors = append(m.colors, a)
	}
}

// SetColorAttachment replaces color attachment i, growing the list if needed.
func (m *ResourceManager) SetColorAttachment(i int, a AttachmentBinding) {
	a.Depth = false
	for len(m.colors) <= i {
		m.colors = append(m.colors, AttachmentBinding{})
	}
	m.colors[i] = a
}

func (m *ResourceManager) SetDepthAttachment(a AttachmentBinding) {
	a.Depth = true
	m.depth = &a
}

// ClearAttachments empties the working set. Called at every command
// buffer begin so attachments never leak between command buffers.
func (m *ResourceManager) ClearAttachments() {
	m.colors = m.colors[:0]
	m.depth = nil
}

// Attachments lists colors in declaration order, then depth.
func (m *ResourceManager) Attachments() []AttachmentBinding {
	out := slices.Clone(m.colors)
	if m.depth != nil {
		out = append(out, *m.depth)
	}
	return out
}

// RenderArea is the extent shared by every registered attachment.
func (m *ResourceManager) RenderArea() (metadata.Extent2D, error) {
	atts := m.Attachments()
	if len(atts) == 0 {
		return metadata.Extent2D{}, core.ErrNoAttachments
	}
	var area metadata.Extent2D
	for i, a := range atts {
		if a.Target == nil {
			return metadata.Extent2D{}, errors.Wrapf(core.ErrNoAttachments, "attachment %d has no target", i)
		}
		e := a.Target.Extent()
		if i == 0 {
			area = e
			continue
		}
		if e != area {
			return metadata.Extent2D{}, errors.Wrapf(core.ErrRenderAreaMismatch, "attachment %d is %dx%d, expected %dx%d", i, e.Width, e.Height, area.Width, area.Height)
		}
	}
	return area, nil
}

func (m *ResourceManager) GetRenderPass() (RenderPassID, error) {
	if _, err := m.RenderArea(); err != nil {
		return 0, err
	}
	atts := m.Attachments()
	key := make(renderPassKey, len(atts))
	for i, a := range atts {
		key[i] = a.info()
	}
	i, err := m.renderPasses.getOrCreate(key, func() (device.RenderPass, error) {
		return m.dev.CreateRenderPass(device.RenderPassInfo{Attachments: slices.Clone(key)})
	})
	return RenderPassID(i), err
}

// GetFramebuffer resolves the render pass first, then the framebuffer of
// the concrete views.
func (m *ResourceManager) GetFramebuffer() (FramebufferID, error) {
	pass, err := m.GetRenderPass()
	if err != nil {
		return 0, err
	}
	area, _ := m.RenderArea()
	atts := m.Attachments()
	views := make([]device.ImageView, len(atts))
	for i, a := range atts {
		views[i] = a.Target.View()
	}
	key := framebufferKey{pass: pass, views: views, extent: area}
	native := m.renderPasses.at(int(pass))
	i, err := m.framebuffers.getOrCreate(key, func() (device.Framebuffer, error) {
		return m.dev.CreateFramebuffer(device.FramebufferInfo{RenderPass: native, Views: views, Extent: area})
	})
	return FramebufferID(i), err
}

// GetGraphicsPipeline needs the render pass of the current attachments,
// so it fails until at least one attachment is registered.
func (m *ResourceManager) GetGraphicsPipeline(vs, ps *Shader, setting metadata.GfxSetting, layout PipelineLayoutID) (*Pipeline, error) {
	pass, err := m.GetRenderPass()
	if err != nil {
		return nil, err
	}
	if vs == nil || ps == nil {
		return nil, errors.Wrap(core.ErrNoShader, "graphics pipeline needs a vertex and a pixel shader")
	}
	pl := m.descriptors.PipelineLayout(layout)
	key := pipelineKey{
		bindPoint: device.BindPointGraphics,
		vs:        vs.ID,
		ps:        ps.ID,
		setting:   setting.Clone(),
		pass:      pass,
		layout:    layout,
	}
	colorCount := len(m.colors)
	i, err := m.pipelines.getOrCreate(key, func() (*Pipeline, error) {
		native, err := m.dev.CreateGraphicsPipeline(device.GraphicsPipelineInfo{
			Stages: []device.ShaderStageInfo{
				{Stage: metadata.ShaderStageVertex, Module: vs.Native, Entry: vs.Entry},
				{Stage: metadata.ShaderStagePixel, Module: ps.Native, Entry: ps.Entry},
			},
			Setting:              key.setting,
			Layout:               pl.Native,
			RenderPass:           m.renderPasses.at(int(pass)),
			ColorAttachmentCount: colorCount,
		})
		if err != nil {
			return nil, err
		}
		return &Pipeline{
			BindPoint:    device.BindPointGraphics,
			Native:       native,
			Layout:       layout,
			NativeLayout: pl.Native,
			Signatures:   pl.Signatures,
			VertexDecl:   key.setting.VertexDecl,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	p := m.pipelines.at(i)
	p.ID = PipelineID(i)
	return p, nil
}

func (m *ResourceManager) GetComputePipeline(cs *Shader, layout PipelineLayoutID) (*Pipeline, error) {
	if cs == nil {
		return nil, errors.Wrap(core.ErrNoShader, "compute pipeline needs a compute shader")
	}
	pl := m.descriptors.PipelineLayout(layout)
	key := pipelineKey{bindPoint: device.BindPointCompute, vs: cs.ID, ps: cs.ID, layout: layout}
	i, err := m.pipelines.getOrCreate(key, func() (*Pipeline, error) {
		native, err := m.dev.CreateComputePipeline(device.ComputePipelineInfo{
			Stage:  device.ShaderStageInfo{Stage: metadata.ShaderStageCompute, Module: cs.Native, Entry: cs.Entry},
			Layout: pl.Native,
		})
		if err != nil {
			return nil, err
		}
		return &Pipeline{
			BindPoint:    device.BindPointCompute,
			Native:       native,
			Layout:       layout,
			NativeLayout: pl.Native,
			Signatures:   pl.Signatures,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	p := m.pipelines.at(i)
	p.ID = PipelineID(i)
	return p, nil
}

// CreateShader returns the cached module for identical bytecode and stage.
func (m *ResourceManager) CreateShader(stage metadata.ShaderStage, code []uint32) (*Shader, error) {
	if len(code) == 0 {
		return nil, errors.Errorf("empty %s shader bytecode", stage)
	}
	key := shaderKey{stage: stage, digest: contentHash(stage, code), code: slices.Clone(code)}
	i, err := m.shaders.getOrCreate(key, func() (*Shader, error) {
		native, err := m.dev.CreateShaderModule(key.code)
		if err != nil {
			return nil, err
		}
		return &Shader{Stage: stage, Digest: key.digest, Native: native, Entry: "main"}, nil
	})
	if err != nil {
		return nil, err
	}
	s := m.shaders.at(i)
	s.ID = ShaderID(i)
	return s, nil
}

func (m *ResourceManager) GetSampler(state metadata.SamplerState) (device.Sampler, error) {
	return m.samplers.Get(state)
}

// BeginRenderPass resolves the render pass and framebuffer of the working
// attachments and begins the pass with clear values in declaration order.
func (m *ResourceManager) BeginRenderPass(cmd device.CommandBuffer) (metadata.Extent2D, error) {
	fb, err := m.GetFramebuffer()
	if err != nil {
		return metadata.Extent2D{}, err
	}
	pass, _ := m.GetRenderPass()
	area, _ := m.RenderArea()
	atts := m.Attachments()
	clears := make([]metadata.ClearValues, len(atts))
	for i, a := range atts {
		clears[i] = a.Desc.ClearValue
	}
	cmd.BeginRenderPass(device.RenderPassBeginInfo{
		RenderPass:  m.renderPasses.at(int(pass)),
		Framebuffer: m.framebuffers.at(int(fb)),
		Area:        metadata.FullRect(area),
		ClearValues: clears,
	})
	m.active = atts
	return area, nil
}

// EndRenderPass ends the pass. Every attachment is left in its final
// layout, which is the rest layout of its texture.
func (m *ResourceManager) EndRenderPass(cmd device.CommandBuffer) {
	cmd.EndRenderPass()
	for _, a := range m.active {
		a.Target.layout = a.Target.RestLayout()
	}
	m.active = nil
}

func (m *ResourceManager) RenderPassCount() int {
	return m.renderPasses.len()
}

func (m *ResourceManager) FramebufferCount() int {
	return m.framebuffers.len()
}

func (m *ResourceManager) PipelineCount() int {
	return m.pipelines.len()
}

func (m *ResourceManager) ShaderCount() int {
	return m.shaders.len()
}

func (m *ResourceManager) Destroy() {
	m.pipelines.each(func(_ int, p *Pipeline) {
		m.dev.Destroy(device.ObjectPipeline, device.Handle(p.Native))
	})
	m.framebuffers.each(func(_ int, fb device.Framebuffer) {
		m.dev.Destroy(device.ObjectFramebuffer, device.Handle(fb))
	})
	m.renderPasses.each(func(_ int, rp device.RenderPass) {
		m.dev.Destroy(device.ObjectRenderPass, device.Handle(rp))
	})
	m.shaders.each(func(_ int, s *Shader) {
		m.dev.Destroy(device.ObjectShaderModule, device.Handle(s.Native))
	})
	m.samplers.Destroy()
	m.pipelines.reset()
	m.framebuffers.reset()
	m.renderPasses.reset()
	m.shaders.reset()
}
