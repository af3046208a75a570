package metadata

/** @brief What happens to an attachment's contents when a render pass begins. */
type LoadOp int

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

/** @brief What happens to an attachment's contents when a render pass ends. */
type StoreOp int

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

type ClearValues struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

/**
 * @brief Binds a target surface to load, clear and store semantics.
 * Only the format and ops take part in render pass identity; the clear
 * value is consumed when the pass begins.
 */
type AttachmentDesc struct {
	Format     Format
	LoadOp     LoadOp
	StoreOp    StoreOp
	Samples    MSAASamples
	ClearValue ClearValues
}

// ClearColor describes a color attachment cleared to c and stored.
func ClearColor(format Format, c [4]float32) AttachmentDesc {
	return AttachmentDesc{
		Format:     format,
		LoadOp:     LoadOpClear,
		StoreOp:    StoreOpStore,
		Samples:    MSAASamples1,
		ClearValue: ClearValues{Color: c},
	}
}

// ClearDepth describes a depth attachment cleared to depth.
func ClearDepth(format Format, depth float32) AttachmentDesc {
	return AttachmentDesc{
		Format:     format,
		LoadOp:     LoadOpClear,
		StoreOp:    StoreOpDontCare,
		Samples:    MSAASamples1,
		ClearValue: ClearValues{Depth: depth},
	}
}
