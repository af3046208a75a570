package metadata

import (
	"fmt"
	"strings"
)

/** @brief Shader stages known to the renderer. */
type ShaderStage int

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStagePixel
	ShaderStageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStagePixel:
		return "pixel"
	case ShaderStageCompute:
		return "compute"
	}
	return fmt.Sprintf("ShaderStage(%d)", int(s))
}

// Flag returns the visibility bit of the stage.
func (s ShaderStage) Flag() StageFlags {
	return StageFlags(1) << s
}

/** @brief Bitset of the stages a binding is visible to. */
type StageFlags uint32

const (
	StageVertex StageFlags = 1 << iota
	StagePixel
	StageCompute

	StageGraphics = StageVertex | StagePixel
)

func (f StageFlags) Has(s StageFlags) bool {
	return f&s != 0
}

// IsCompute reports whether the flags address the compute pipeline.
// Mixing compute with graphics stages is not meaningful.
func (f StageFlags) IsCompute() bool {
	return f&StageCompute != 0
}

func (f StageFlags) String() string {
	var parts []string
	if f&StageVertex != 0 {
		parts = append(parts, "vs")
	}
	if f&StagePixel != 0 {
		parts = append(parts, "ps")
	}
	if f&StageCompute != 0 {
		parts = append(parts, "cs")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

/** @brief The kind of a shader visible resource binding. */
type ResourceKind int

const (
	ResourceUniformBuffer ResourceKind = iota
	ResourceStorageBuffer
	ResourceSampledImage
	ResourceStorageImage
)

func (k ResourceKind) IsBuffer() bool {
	return k == ResourceUniformBuffer || k == ResourceStorageBuffer
}

func (k ResourceKind) String() string {
	switch k {
	case ResourceUniformBuffer:
		return "ubo"
	case ResourceStorageBuffer:
		return "ssbo"
	case ResourceSampledImage:
		return "sampled"
	case ResourceStorageImage:
		return "storage-image"
	}
	return fmt.Sprintf("ResourceKind(%d)", int(k))
}
