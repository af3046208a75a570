package metadata

/** @brief Represents supported texture filtering modes. */
type FilterType int

const (
	/** @brief Nearest-neighbor filtering. */
	FilterNearest FilterType = iota
	/** @brief Linear (i.e. bilinear) filtering.*/
	FilterLinear
)

type AddressMode int

const (
	AddressModeRepeat AddressMode = iota
	AddressModeClampToEdge
	AddressModeClampToBorder
)

type BorderColor int

const (
	BorderColorBlack BorderColor = iota
	BorderColorWhite
)

/**
 * @brief Everything that identifies a sampler. Comparable, so it can key
 * a map directly.
 */
type SamplerState struct {
	AddressMode      AddressMode
	AnisotropyEnable bool
	CompareEnable    bool
	CompareOp        CompOp
	Filter           FilterType
	BorderColor      BorderColor
	MipmapFilter     FilterType
	MaxLod           float32
}

func DefaultSamplerState() SamplerState {
	return SamplerState{
		AddressMode:  AddressModeRepeat,
		Filter:       FilterNearest,
		BorderColor:  BorderColorBlack,
		MipmapFilter: FilterNearest,
		CompareOp:    CompOpNever,
	}
}

func LinearSamplerState() SamplerState {
	s := DefaultSamplerState()
	s.Filter = FilterLinear
	s.MipmapFilter = FilterLinear
	return s
}
