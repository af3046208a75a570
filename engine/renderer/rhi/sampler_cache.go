package rhi

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// SamplerCache keeps the most recently used samplers by state. An evicted
// sampler may still be referenced by a written descriptor set, so it is
// only retired and destroyed with the cache.
type SamplerCache struct {
	dev     device.Device
	cache   *lru.Cache[metadata.SamplerState, device.Sampler]
	mu      sync.Mutex
	retired []device.Sampler
	closed  bool
}

func NewSamplerCache(dev device.Device, size int) (*SamplerCache, error) {
	c := &SamplerCache{dev: dev}
	cache, err := lru.NewWithEvict(size, func(_ metadata.SamplerState, s device.Sampler) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		c.retired = append(c.retired, s)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sampler cache")
	}
	c.cache = cache
	return c, nil
}

func (c *SamplerCache) Get(state metadata.SamplerState) (device.Sampler, error) {
	if s, ok := c.cache.Get(state); ok {
		return s, nil
	}
	s, err := c.dev.CreateSampler(state)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create sampler")
	}
	c.cache.Add(state, s)
	return s, nil
}

func (c *SamplerCache) Len() int {
	return c.cache.Len()
}

func (c *SamplerCache) Retired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.retired)
}

func (c *SamplerCache) Destroy() {
	c.mu.Lock()
	c.closed = true
	retired := c.retired
	c.retired = nil
	c.mu.Unlock()

	for _, s := range c.cache.Values() {
		c.dev.Destroy(device.ObjectSampler, device.Handle(s))
	}
	for _, s := range retired {
		c.dev.Destroy(device.ObjectSampler, device.Handle(s))
	}
	c.cache.Purge()
}
