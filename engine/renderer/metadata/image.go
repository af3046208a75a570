package metadata

type ImageType int

const (
	/** @brief A standard two-dimensional image. */
	ImageType2D ImageType = iota
	/** @brief A volume image. */
	ImageType3D
)

/** @brief Holds bit flags for the ways an image may be used. */
type ImageUsage uint32

const (
	ImageUsageSampled ImageUsage = 1 << iota
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthAttachment
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

func (u ImageUsage) Has(flag ImageUsage) bool {
	return u&flag == flag
}

/**
 * @brief Describes an image and its default view.
 */
type ImageDesc struct {
	Name        string
	Type        ImageType
	Size        Extent3D
	Format      Format
	Samples     MSAASamples
	MipLevels   uint32
	ArrayLayers uint32
	Usage       ImageUsage
	/** @brief Linear tiling in host visible memory. */
	Staging bool
}

/** @brief Size in bytes of the base mip level. */
func (d ImageDesc) ByteSize() uint64 {
	depth := d.Size.Depth
	if depth == 0 {
		depth = 1
	}
	return uint64(d.Size.Width) * uint64(d.Size.Height) * uint64(depth) * uint64(d.Format.Size())
}

// Normalized fills the zero counts with their defaults.
func (d ImageDesc) Normalized() ImageDesc {
	if d.Samples == 0 {
		d.Samples = MSAASamples1
	}
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.ArrayLayers == 0 {
		d.ArrayLayers = 1
	}
	if d.Size.Depth == 0 {
		d.Size.Depth = 1
	}
	return d
}

/** @brief The layouts an image moves through between uses. */
type ImageLayout int

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColorAttachment
	ImageLayoutDepthAttachment
	ImageLayoutShaderReadOnly
	ImageLayoutTransferSrc
	ImageLayoutTransferDst
	ImageLayoutPresentSrc
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutUndefined:
		return "Undefined"
	case ImageLayoutGeneral:
		return "General"
	case ImageLayoutColorAttachment:
		return "ColorAttachment"
	case ImageLayoutDepthAttachment:
		return "DepthAttachment"
	case ImageLayoutShaderReadOnly:
		return "ShaderReadOnly"
	case ImageLayoutTransferSrc:
		return "TransferSrc"
	case ImageLayoutTransferDst:
		return "TransferDst"
	case ImageLayoutPresentSrc:
		return "PresentSrc"
	}
	return "Unknown"
}
