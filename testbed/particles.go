package testbed

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

const (
	particleCount = 8192
	// position (vec2) and velocity (vec2)
	particleStride = 16
	// local_size_x of particles.comp
	particleGroup = 256
)

type particlesState struct {
	cs, vs, ps *rhi.Shader
	particles  *rhi.Buffer
	// delta time per frame in flight
	params  []*rhi.Buffer
	setting metadata.GfxSetting
	delta   float32
}

func NewParticles() *engine.Game {
	s := &particlesState{}
	return &engine.Game{
		Name:         "particles",
		State:        s,
		FnInitialize: s.initialize,
		FnUpdate:     s.update,
		FnRender:     s.render,
		FnOnReload:   s.reload,
	}
}

func particleSetting() metadata.GfxSetting {
	setting := metadata.DefaultGfxSetting()
	setting.VertexDecl = metadata.VertexDecl{
		Bindings: []metadata.VertexBindingDesc{{Binding: 0, Stride: particleStride}},
		Attributes: []metadata.VertexAttributeDesc{
			{Location: 0, Binding: 0, Offset: 0, Format: metadata.AttribVec2},
			{Location: 1, Binding: 0, Offset: 8, Format: metadata.AttribVec2},
		},
	}
	setting.InputAssembly.Topology = metadata.TopologyPointList
	setting.Blend = []metadata.BlendSetting{metadata.BlendAdd}
	return setting
}

// seedParticles scatters particles on a ring moving tangentially.
func seedParticles(n int, rng *rand.Rand) []byte {
	values := make([]float32, 0, 4*n)
	for i := 0; i < n; i++ {
		angle := rng.Float64() * 2 * math.Pi
		radius := 0.25 + 0.5*math.Sqrt(rng.Float64())
		sin, cos := math.Sincos(angle)
		speed := 0.2 + 0.1*rng.Float64()
		values = append(values,
			float32(cos*radius), float32(sin*radius),
			float32(-sin*speed), float32(cos*speed))
	}
	return floats(values...)
}

func (s *particlesState) initialize(ctx *engine.Context) error {
	h := ctx.Handle
	code, err := ctx.Assets.LoadShaders(context.Background(), "particles.comp", "particles.vert", "particles.frag")
	if err != nil {
		return err
	}
	if s.cs, err = h.CreateComputeShader(code["particles.comp"]); err != nil {
		return err
	}
	if s.vs, err = h.CreateVertexShader(code["particles.vert"]); err != nil {
		return err
	}
	if s.ps, err = h.CreatePixelShader(code["particles.frag"]); err != nil {
		return err
	}
	s.particles, err = h.CreateBufferWithData(metadata.BufferDesc{
		Name:       "particles",
		Usage:      metadata.BufferUsageStorage | metadata.BufferUsageVertex,
		ElementNum: particleCount,
		Stride:     particleStride,
	}, seedParticles(particleCount, rand.New(rand.NewPCG(1, 2))))
	if err != nil {
		return err
	}
	for i := 0; i < ctx.Config.Renderer.FramesInFlight; i++ {
		ubo, err := h.CreateBuffer(metadata.BufferDesc{
			Name:       "particle-params",
			Usage:      metadata.BufferUsageUniform,
			ElementNum: 1,
			Stride:     16,
			Staging:    true,
		})
		if err != nil {
			return err
		}
		s.params = append(s.params, ubo)
	}
	s.setting = particleSetting()
	return nil
}

func (s *particlesState) update(delta float64) error {
	// clamp so a stalled frame does not fling particles away
	s.delta = float32(min(delta, 0.05))
	return nil
}

func (s *particlesState) render(h *rhi.Handle, delta float64) error {
	h.BeginFrame(context.Background())
	params := s.params[h.FrameNumber()%uint64(len(s.params))]

	h.UpdateBuffer(params, floats(s.delta, particleCount, 0, 0), 0).
		BeginCommand().
		SetComputeShader(s.cs).
		SetUniformBuffer(metadata.StageCompute, 0, 0, params).
		SetStorageBuffer(metadata.StageCompute, 0, 1, s.particles).
		SetComputePipeline().
		Dispatch((particleCount+particleGroup-1)/particleGroup, 0, 0).
		SetDefaultAttachments(metadata.ClearColor(metadata.FormatUndefined, [4]float32{0, 0, 0, 1})).
		BeginRenderPass().
		SetVertexShader(s.vs).
		SetPixelShader(s.ps).
		SetVertexStream(0, s.particles, 0).
		SetGraphicsPipeline(s.setting).
		DrawPrimitive(0, 0, 0).
		EndRenderPass().
		EndCommand().
		Commit().
		EndFrame()
	return h.Err()
}

func (s *particlesState) reload(ctx *engine.Context, name string, code []uint32) error {
	var err error
	switch name {
	case "particles.comp":
		s.cs, err = ctx.Handle.CreateComputeShader(code)
	case "particles.vert":
		s.vs, err = ctx.Handle.CreateVertexShader(code)
	case "particles.frag":
		s.ps, err = ctx.Handle.CreatePixelShader(code)
	default:
		return nil
	}
	return errors.Wrapf(err, "reloading %s", name)
}
