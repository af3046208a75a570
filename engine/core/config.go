package core

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

type WindowConfig struct {
	Name   string `toml:"name"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

// RendererConfig sizes every fixed capacity pool of the renderer.
type RendererConfig struct {
	// Number of frame slots recorded ahead of the GPU.
	FramesInFlight int `toml:"frames_in_flight"`
	// Capacity of the descriptor set pool, in sets.
	MaxDescriptorSets int `toml:"max_descriptor_sets"`
	// Descriptors reserved for each resource kind in the pool.
	DescriptorsPerKind int `toml:"descriptors_per_kind"`
	// Command buffers allocated at once when the idle queue runs dry.
	CommandBufferBatch int  `toml:"command_buffer_batch"`
	MaxCommandBuffers  int  `toml:"max_command_buffers"`
	SamplerCacheSize   int  `toml:"sampler_cache_size"`
	FenceTimeoutMS     int  `toml:"fence_timeout_ms"`
	Validation         bool `toml:"validation"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type AssetsConfig struct {
	ShaderDir string `toml:"shader_dir"`
	Watch     bool   `toml:"watch"`
}

type Config struct {
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Log      LogConfig      `toml:"log"`
	Assets   AssetsConfig   `toml:"assets"`
}

func DefaultConfig() Config {
	return Config{
		Window: WindowConfig{
			Name:   "anima-rhi",
			X:      100,
			Y:      100,
			Width:  1024,
			Height: 1024,
		},
		Renderer: DefaultRendererConfig(),
		Log: LogConfig{
			Level: "info",
		},
		Assets: AssetsConfig{
			ShaderDir: "assets/shaders",
			Watch:     false,
		},
	}
}

func DefaultRendererConfig() RendererConfig {
	return RendererConfig{
		FramesInFlight:     2,
		MaxDescriptorSets:  1000,
		DescriptorsPerKind: 1000,
		CommandBufferBatch: 20,
		MaxCommandBuffers:  200,
		SamplerCacheSize:   64,
		FenceTimeoutMS:     5000,
		Validation:         false,
	}
}

// LoadConfig reads a TOML file over the defaults. A missing file is not an
// error: the defaults are returned as they are.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			LogDebug("config file %s not found, using defaults", path)
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := ParseConfig(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, nil
}

// ParseConfig decodes TOML into cfg, keeping the values of absent keys.
func ParseConfig(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Renderer.Validate()
}

// FenceTimeout is how long a fence wait may block. Zero waits forever.
func (rc RendererConfig) FenceTimeout() time.Duration {
	if rc.FenceTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(rc.FenceTimeoutMS) * time.Millisecond
}

func (rc RendererConfig) Validate() error {
	switch {
	case rc.FramesInFlight < 1:
		return errors.Errorf("frames_in_flight must be at least 1, got %d", rc.FramesInFlight)
	case rc.MaxDescriptorSets < 1:
		return errors.Errorf("max_descriptor_sets must be at least 1, got %d", rc.MaxDescriptorSets)
	case rc.DescriptorsPerKind < 1:
		return errors.Errorf("descriptors_per_kind must be at least 1, got %d", rc.DescriptorsPerKind)
	case rc.CommandBufferBatch < 1:
		return errors.Errorf("command_buffer_batch must be at least 1, got %d", rc.CommandBufferBatch)
	case rc.MaxCommandBuffers < rc.CommandBufferBatch:
		return errors.Errorf("max_command_buffers (%d) smaller than one batch (%d)", rc.MaxCommandBuffers, rc.CommandBufferBatch)
	case rc.SamplerCacheSize < 1:
		return errors.Errorf("sampler_cache_size must be at least 1, got %d", rc.SamplerCacheSize)
	}
	return nil
}
