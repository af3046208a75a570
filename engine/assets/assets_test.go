package assets

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

func module(words ...uint32) []byte {
	header := []uint32{spirvMagic, 0x00010000, 0, 8, 0}
	out := make([]byte, 0, 4*(len(header)+len(words)))
	for _, w := range append(header, words...) {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func writeShader(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name)+ShaderExt)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestDecodeSPIRV(t *testing.T) {
	code, err := DecodeSPIRV(module(42))
	require.NoError(t, err)
	require.Len(t, code, 6)
	assert.Equal(t, uint32(spirvMagic), code[0])
	assert.Equal(t, uint32(42), code[5])

	swapped := make([]byte, 0, 24)
	for i := 0; i < 6; i++ {
		swapped = binary.BigEndian.AppendUint32(swapped, code[i])
	}
	back, err := DecodeSPIRV(swapped)
	require.NoError(t, err)
	assert.Equal(t, code, back)
}

func TestDecodeSPIRVRejectsGarbage(t *testing.T) {
	_, err := DecodeSPIRV([]byte("#version 450\n"))
	assert.ErrorIs(t, err, ErrNotSPIRV)

	bad := module(1)
	bad[0] = 0
	_, err = DecodeSPIRV(bad)
	assert.ErrorIs(t, err, ErrNotSPIRV)

	_, err = DecodeSPIRV(module(1)[:21])
	assert.ErrorIs(t, err, ErrNotSPIRV)
}

func TestLoadShaders(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "triangle.vert", module(1))
	writeShader(t, dir, "triangle.frag", module(2))
	writeShader(t, dir, "particles/update.comp", module(3))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "triangle.vert.glsl"), []byte("void main(){}"), 0o644))

	am, err := NewAssetManager(core.AssetsConfig{ShaderDir: dir})
	require.NoError(t, err)
	defer am.Close()
	assert.ElementsMatch(t, []string{"triangle.vert", "triangle.frag", "particles/update.comp"}, am.Shaders())

	code, err := am.LoadShaders(context.Background(), "triangle.vert", "particles/update.comp")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), code["triangle.vert"][5])
	assert.Equal(t, uint32(3), code["particles/update.comp"][5])

	_, err = am.LoadShaders(context.Background(), "triangle.frag", "missing.frag")
	assert.ErrorContains(t, err, "missing.frag")
}

func TestNoShaderDir(t *testing.T) {
	_, err := NewAssetManager(core.AssetsConfig{})
	assert.Error(t, err)
	_, err = NewAssetManager(core.AssetsConfig{ShaderDir: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

func TestWatcherReportsRebuilds(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "triangle.vert", module(1))

	am, err := NewAssetManager(core.AssetsConfig{ShaderDir: dir, Watch: true})
	require.NoError(t, err)
	defer am.Close()
	require.NotNil(t, am.Changes())

	writeShader(t, dir, "triangle.frag", module(7))
	select {
	case ev := <-am.Changes():
		assert.Equal(t, "triangle.frag", ev.Name)
		assert.False(t, ev.Removed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change event for a new shader")
	}
	assert.Contains(t, am.Shaders(), "triangle.frag")
	code, err := am.LoadShader("triangle.frag")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), code[5])
}

func TestCloseIsIdempotent(t *testing.T) {
	am, err := NewAssetManager(core.AssetsConfig{ShaderDir: t.TempDir(), Watch: true})
	require.NoError(t, err)
	require.NoError(t, am.Close())
	require.NoError(t, am.Close())
	_, open := <-am.Changes()
	assert.False(t, open)
}
