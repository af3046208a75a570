package testbed

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type triangleState struct {
	vs, ps   *rhi.Shader
	vertices *rhi.Buffer
	// one uniform block per frame in flight, written by the host
	uniforms []*rhi.Buffer
	setting  metadata.GfxSetting
	angle    float32
}

// position (vec3) and color (vec3)
var triangleVertices = []float32{
	0.0, -0.5, 0.0, 1.0, 0.0, 0.0,
	0.5, 0.5, 0.0, 0.0, 1.0, 0.0,
	-0.5, 0.5, 0.0, 0.0, 0.0, 1.0,
}

func NewTriangle() *engine.Game {
	s := &triangleState{}
	return &engine.Game{
		Name:         "triangle",
		State:        s,
		FnInitialize: s.initialize,
		FnUpdate:     s.update,
		FnRender:     s.render,
		FnOnReload:   s.reload,
	}
}

func triangleSetting() metadata.GfxSetting {
	setting := metadata.DefaultGfxSetting()
	setting.VertexDecl = metadata.VertexDecl{
		Bindings: []metadata.VertexBindingDesc{{Binding: 0, Stride: 24}},
		Attributes: []metadata.VertexAttributeDesc{
			{Location: 0, Binding: 0, Offset: 0, Format: metadata.AttribVec3},
			{Location: 1, Binding: 0, Offset: 12, Format: metadata.AttribVec3},
		},
	}
	return setting
}

func (s *triangleState) initialize(ctx *engine.Context) error {
	h := ctx.Handle
	code, err := ctx.Assets.LoadShaders(context.Background(), "triangle.vert", "triangle.frag")
	if err != nil {
		return err
	}
	if s.vs, err = h.CreateVertexShader(code["triangle.vert"]); err != nil {
		return err
	}
	if s.ps, err = h.CreatePixelShader(code["triangle.frag"]); err != nil {
		return err
	}
	s.vertices, err = h.CreateBufferWithData(metadata.BufferDesc{
		Name:       "triangle-vertices",
		Usage:      metadata.BufferUsageVertex,
		ElementNum: 3,
		Stride:     24,
	}, floats(triangleVertices...))
	if err != nil {
		return err
	}
	for i := 0; i < ctx.Config.Renderer.FramesInFlight; i++ {
		ubo, err := h.CreateBuffer(metadata.BufferDesc{
			Name:       "triangle-rotation",
			Usage:      metadata.BufferUsageUniform,
			ElementNum: 1,
			Stride:     16,
			Staging:    true,
		})
		if err != nil {
			return err
		}
		s.uniforms = append(s.uniforms, ubo)
	}
	s.setting = triangleSetting()
	return nil
}

func (s *triangleState) update(delta float64) error {
	s.angle = float32(math.Mod(float64(s.angle)+delta, 2*math.Pi))
	return nil
}

func (s *triangleState) render(h *rhi.Handle, delta float64) error {
	h.BeginFrame(context.Background())
	ubo := s.uniforms[h.FrameNumber()%uint64(len(s.uniforms))]
	sin, cos := math.Sincos(float64(s.angle))

	h.UpdateBuffer(ubo, floats(float32(cos), float32(sin), 0, 0), 0).
		BeginCommand().
		SetDefaultAttachments(metadata.ClearColor(metadata.FormatUndefined, [4]float32{0.05, 0.05, 0.08, 1})).
		BeginRenderPass().
		SetVertexShader(s.vs).
		SetPixelShader(s.ps).
		SetUniformBuffer(metadata.StageVertex, 0, 0, ubo).
		SetVertexStream(0, s.vertices, 0).
		SetGraphicsPipeline(s.setting).
		DrawPrimitive(0, 0, 0).
		EndRenderPass().
		EndCommand().
		Commit().
		EndFrame()
	return h.Err()
}

func (s *triangleState) reload(ctx *engine.Context, name string, code []uint32) error {
	var err error
	switch name {
	case "triangle.vert":
		s.vs, err = ctx.Handle.CreateVertexShader(code)
	case "triangle.frag":
		s.ps, err = ctx.Handle.CreatePixelShader(code)
	default:
		return nil
	}
	return errors.Wrapf(err, "reloading %s", name)
}
