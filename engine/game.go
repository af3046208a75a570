package engine

import "github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"

// Game is the application driven by the engine loop. Only FnRender is
// required.
type Game struct {
	Name  string
	State interface{}

	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnReload   OnReload
	FnShutdown   Shutdown
}

type Initialize func(ctx *Context) error
type Update func(deltaTime float64) error
type Render func(h *rhi.Handle, deltaTime float64) error

// OnReload receives a shader module that was rebuilt on disk while the
// engine runs with asset watching enabled.
type OnReload func(ctx *Context, name string, code []uint32) error
type Shutdown func() error
