package assets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// ShaderExt is the extension of compiled shader modules.
const ShaderExt = ".spv"

type AssetInfo struct {
	Path       string
	LastLoaded time.Time
}

// AssetManager indexes the compiled shaders under one directory and loads
// them on demand. With watching enabled it reports rebuilt modules.
type AssetManager struct {
	dir    string
	assets map[string]AssetInfo
	mutex  sync.RWMutex

	watcher *watcher
}

func NewAssetManager(cfg core.AssetsConfig) (*AssetManager, error) {
	if cfg.ShaderDir == "" {
		return nil, errors.New("no shader directory configured")
	}
	am := &AssetManager{
		dir:    cfg.ShaderDir,
		assets: make(map[string]AssetInfo),
	}
	if err := am.scan(); err != nil {
		return nil, err
	}
	if cfg.Watch {
		w, err := newWatcher(am)
		if err != nil {
			return nil, err
		}
		am.watcher = w
	}
	core.LogDebug("asset manager indexed %d shaders under %s", len(am.assets), am.dir)
	return am, nil
}

// scan indexes every module below the shader directory.
func (am *AssetManager) scan() error {
	return filepath.WalkDir(am.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			am.handleFileEvent(path)
		}
		return nil
	})
}

// shaderName maps a file path to the name shaders are loaded by: its path
// relative to the shader directory without the extension.
func (am *AssetManager) shaderName(path string) (string, bool) {
	if filepath.Ext(path) != ShaderExt {
		return "", false
	}
	rel, err := filepath.Rel(am.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, ShaderExt)), true
}

func (am *AssetManager) handleFileEvent(path string) (string, bool) {
	name, ok := am.shaderName(path)
	if !ok {
		return "", false
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[name] = AssetInfo{Path: path}
	return name, true
}

func (am *AssetManager) removeAsset(path string) (string, bool) {
	name, ok := am.shaderName(path)
	if !ok {
		return "", false
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	_, existed := am.assets[name]
	delete(am.assets, name)
	return name, existed
}

// Shaders lists the indexed shader names.
func (am *AssetManager) Shaders() []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	names := make([]string, 0, len(am.assets))
	for name := range am.assets {
		names = append(names, name)
	}
	return names
}

// LoadShader reads and decodes one module, e.g. "triangle.vert".
func (am *AssetManager) LoadShader(name string) ([]uint32, error) {
	am.mutex.RLock()
	asset, exists := am.assets[name]
	am.mutex.RUnlock()
	if !exists {
		return nil, errors.Errorf("shader not found: %s", name)
	}
	data, err := os.ReadFile(asset.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read shader %s", name)
	}
	code, err := DecodeSPIRV(data)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", name)
	}

	am.mutex.Lock()
	asset.LastLoaded = time.Now()
	am.assets[name] = asset
	am.mutex.Unlock()
	return code, nil
}

// LoadShaders loads several modules in parallel. The first failure cancels
// the rest.
func (am *AssetManager) LoadShaders(ctx context.Context, names ...string) (map[string][]uint32, error) {
	out := make(map[string][]uint32, len(names))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			code, err := am.LoadShader(name)
			if err != nil {
				return err
			}
			mu.Lock()
			out[name] = code
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Changes delivers the names of rebuilt or removed shaders. It is nil
// when watching is disabled.
func (am *AssetManager) Changes() <-chan ShaderEvent {
	if am.watcher == nil {
		return nil
	}
	return am.watcher.events
}

func (am *AssetManager) Close() error {
	if am.watcher == nil {
		return nil
	}
	return am.watcher.close()
}
