package metadata

import "strings"

/** @brief Holds bit flags for the ways a buffer may be used. */
type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageStorage
	BufferUsageUniform
	BufferUsageIndirect
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

func (u BufferUsage) Has(flag BufferUsage) bool {
	return u&flag == flag
}

func (u BufferUsage) String() string {
	names := []string{"Vertex", "Index", "Storage", "Uniform", "Indirect", "TransferSrc", "TransferDst"}
	var parts []string
	for i, n := range names {
		if u&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

/**
 * @brief Describes a buffer as ElementNum elements of Stride bytes.
 * A staging buffer lives in host visible memory and can be mapped.
 */
type BufferDesc struct {
	Name       string
	Usage      BufferUsage
	ElementNum uint32
	Stride     uint32
	Staging    bool
}

func (d BufferDesc) Size() uint64 {
	return uint64(d.ElementNum) * uint64(d.Stride)
}

// StagingBuffer describes a host visible transfer source of size bytes.
func StagingBuffer(size uint64) BufferDesc {
	return BufferDesc{
		Name:       "staging",
		Usage:      BufferUsageTransferSrc | BufferUsageTransferDst,
		ElementNum: uint32(size),
		Stride:     1,
		Staging:    true,
	}
}
