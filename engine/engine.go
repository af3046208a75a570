package engine

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/platform"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Context is what a game gets to build its resources with.
type Context struct {
	Handle *rhi.Handle
	Assets *assets.AssetManager
	Config core.Config
}

// Options select how the engine runs.
type Options struct {
	// Headless skips the window and swapchain. Frames then render
	// offscreen only.
	Headless bool
	// MaxFrames stops the loop after that many frames. Zero runs until
	// the window closes.
	MaxFrames uint64
}

type Engine struct {
	currentStage Stage
	gameInstance *Game
	cfg          core.Config
	opts         Options

	isRunning   atomic.Bool
	isSuspended bool

	platform     *platform.Platform
	device       *vulkan.Device
	swapchain    *vulkan.Swapchain
	handle       *rhi.Handle
	assetManager *assets.AssetManager

	clock    *core.Clock
	lastTime float64
}

func New(g *Game, cfg core.Config, opts Options) (*Engine, error) {
	if g == nil || g.FnRender == nil {
		return nil, errors.New("a game needs at least a render function")
	}
	if err := cfg.Renderer.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		cfg:          cfg,
		opts:         opts,
		clock:        core.NewClock(),
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	if err := core.SetLogLevel(e.cfg.Log.Level); err != nil {
		core.LogWarn("unknown log level %q, keeping the default", e.cfg.Log.Level)
	}

	var err error
	e.assetManager, err = assets.NewAssetManager(e.cfg.Assets)
	if err != nil {
		return err
	}

	name := e.cfg.Window.Name
	if e.gameInstance.Name != "" {
		name = e.gameInstance.Name
	}

	var swapchain device.Swapchain
	if e.opts.Headless {
		if e.device, err = vulkan.NewHeadlessDevice(name, e.cfg.Renderer); err != nil {
			return err
		}
	} else {
		e.platform = platform.New()
		window := e.cfg.Window
		window.Name = name
		if err := e.platform.Startup(window); err != nil {
			return err
		}
		if e.device, err = vulkan.NewDevice(name, e.cfg.Renderer, e.platform); err != nil {
			return err
		}
		if e.swapchain, err = vulkan.NewSwapchain(e.device); err != nil {
			return err
		}
		swapchain = e.swapchain
	}

	e.handle, err = rhi.NewHandle(e.device, swapchain, e.cfg.Renderer)
	if err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.context()); err != nil {
			return errors.Wrap(err, "game initialization failed")
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) context() *Context {
	return &Context{Handle: e.handle, Assets: e.assetManager, Config: e.cfg}
}

// Stop asks the loop to finish the current frame and return. It is safe to
// call from another goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return errors.New("engine is not initialized")
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if ctx.Err() != nil {
			break
		}
		if e.platform != nil {
			if !e.platform.PumpMessages() {
				e.isRunning.Store(false)
				break
			}
			if e.platform.Minimized() != e.isSuspended {
				e.isSuspended = !e.isSuspended
				if e.isSuspended {
					core.LogInfo("Window minimized, suspending application.")
				} else {
					core.LogInfo("Window restored, resuming application.")
				}
			}
		}
		if e.isSuspended {
			continue
		}
		if e.platform != nil && e.platform.Resized() {
			e.swapchain.Invalidate()
		}

		e.reloadShaders()

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				return errors.Wrap(err, "game update failed")
			}
		}
		if err := e.gameInstance.FnRender(e.handle, delta); err != nil {
			return errors.Wrap(err, "game render failed")
		}
		if err := e.handle.Err(); err != nil {
			return err
		}

		if n := e.handle.FrameNumber(); n%600 == 0 && n > 0 {
			core.LogDebug("frame %d: %s", n, e.handle.Stats())
		}
		if e.opts.MaxFrames > 0 && e.handle.FrameNumber() >= e.opts.MaxFrames {
			e.isRunning.Store(false)
		}
		e.lastTime = currentTime
	}
	core.LogInfo("render loop finished after %d frames: %s", e.handle.FrameNumber(), e.handle.Stats())
	return nil
}

// reloadShaders forwards every pending rebuild to the game without
// blocking the frame.
func (e *Engine) reloadShaders() {
	changes := e.assetManager.Changes()
	if changes == nil || e.gameInstance.FnOnReload == nil {
		return
	}
	for {
		select {
		case ev, ok := <-changes:
			if !ok || ev.Removed {
				if !ok {
					return
				}
				continue
			}
			code, err := e.assetManager.LoadShader(ev.Name)
			if err != nil {
				core.LogWarn("cannot reload shader %s: %s", ev.Name, err)
				continue
			}
			if err := e.gameInstance.FnOnReload(e.context(), ev.Name, code); err != nil {
				core.LogWarn("shader %s rejected: %s", ev.Name, err)
			}
		default:
			return
		}
	}
}

// Shutdown releases everything in reverse order of creation. It tolerates
// a partial Initialize.
func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.gameInstance.FnShutdown != nil {
		keep(e.gameInstance.FnShutdown())
	}
	if e.handle != nil {
		keep(e.handle.Close())
	}
	if e.swapchain != nil {
		e.swapchain.Destroy()
	}
	if e.device != nil {
		e.device.Close()
	}
	if e.assetManager != nil {
		keep(e.assetManager.Close())
	}
	if e.platform != nil {
		e.platform.Shutdown()
	}
	e.currentStage = EngineStageUninitialized
	return firstErr
}
