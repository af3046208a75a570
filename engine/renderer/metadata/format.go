package metadata

import "fmt"

/** @brief Pixel formats understood by the renderer. */
type Format int

const (
	FormatUndefined Format = iota
	FormatR8Uint
	FormatR32Uint
	FormatR32Float
	FormatRGB8Unorm
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatRGBA32Float
	FormatD32Float
	FormatD24UnormS8Uint
)

func (f Format) IsDepth() bool {
	return f == FormatD32Float || f == FormatD24UnormS8Uint
}

func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint
}

/** @brief The size in bytes of a single texel. */
func (f Format) Size() uint32 {
	switch f {
	case FormatR8Uint:
		return 1
	case FormatRGB8Unorm:
		return 3
	case FormatR32Uint, FormatR32Float, FormatRGBA8Unorm, FormatBGRA8Unorm, FormatBGRA8Srgb, FormatD32Float, FormatD24UnormS8Uint:
		return 4
	case FormatRGBA32Float:
		return 16
	}
	return 0
}

func (f Format) String() string {
	switch f {
	case FormatUndefined:
		return "Undefined"
	case FormatR8Uint:
		return "R8Uint"
	case FormatR32Uint:
		return "R32Uint"
	case FormatR32Float:
		return "R32Float"
	case FormatRGB8Unorm:
		return "RGB8Unorm"
	case FormatRGBA8Unorm:
		return "RGBA8Unorm"
	case FormatBGRA8Unorm:
		return "BGRA8Unorm"
	case FormatBGRA8Srgb:
		return "BGRA8Srgb"
	case FormatRGBA32Float:
		return "RGBA32Float"
	case FormatD32Float:
		return "D32Float"
	case FormatD24UnormS8Uint:
		return "D24UnormS8Uint"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

/** @brief Multisample counts, one bit per power of two like the native flags. */
type MSAASamples uint32

const (
	MSAASamples1  MSAASamples = 1
	MSAASamples2  MSAASamples = 2
	MSAASamples4  MSAASamples = 4
	MSAASamples8  MSAASamples = 8
	MSAASamples16 MSAASamples = 16
)

type CompOp int

const (
	CompOpNever CompOp = iota
	CompOpLess
	CompOpEqual
	CompOpLessEqual
	CompOpGreater
	CompOpNotEqual
	CompOpGreaterEqual
	CompOpAlways
)

type Extent2D struct {
	Width, Height uint32
}

type Extent3D struct {
	Width, Height, Depth uint32
}

func (e Extent3D) To2D() Extent2D {
	return Extent2D{Width: e.Width, Height: e.Height}
}

type Offset2D struct {
	X, Y int32
}

type Rect2D struct {
	Offset Offset2D
	Extent Extent2D
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

/** @brief A viewport covering the whole extent with the [0, 1] depth range. */
func FullViewport(e Extent2D) Viewport {
	return Viewport{Width: float32(e.Width), Height: float32(e.Height), MaxDepth: 1}
}

func FullRect(e Extent2D) Rect2D {
	return Rect2D{Extent: e}
}
