/*
Runs one of the testbed scenes on the Vulkan backend.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/testbed"
)

func main() {
	configPath := flag.String("config", "anima.toml", "TOML configuration file")
	scene := flag.String("scene", "triangle", "scene to run")
	headless := flag.Bool("headless", false, "render without a window")
	frames := flag.Uint64("frames", 0, "stop after this many frames (0 runs until the window closes)")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		core.LogFatal("%s", err)
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		core.LogWarn("unknown log level %q", cfg.Log.Level)
	}

	game, err := testbed.NewScene(*scene)
	if err != nil {
		core.LogFatal("%s", err)
	}
	opts := engine.Options{Headless: *headless, MaxFrames: *frames}
	if opts.Headless && opts.MaxFrames == 0 {
		opts.MaxFrames = 300
	}

	e, err := engine.New(game, cfg, opts)
	if err != nil {
		core.LogFatal("%s", err)
	}

	// signal channel to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("initialization failed: %s", err)
	}
	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("%s", runErr)
	}
}
