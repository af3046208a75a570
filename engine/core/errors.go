package core

import (
	"github.com/pkg/errors"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")

	// precondition violations
	ErrNoAttachments         = errors.New("render pass needs at least one attachment")
	ErrRenderAreaMismatch    = errors.New("attachments do not share one render area")
	ErrNoPipeline            = errors.New("no pipeline bound")
	ErrNoShader              = errors.New("required shader stage not set")
	ErrProtocol              = errors.New("command recording out of order")
	ErrSignatureMismatch     = errors.New("pending bindings do not match the bound pipeline layout")
	ErrDuplicateSlot         = errors.New("binding slot declared twice in one signature")
	ErrTooManySets           = errors.New("descriptor set index out of range")
	ErrTooManyStreams        = errors.New("vertex stream index out of range")
	ErrUnsupportedTransition = errors.New("unsupported image layout transition")

	// resource variant checks
	ErrForeignResource = errors.New("resource belongs to another handle")
	ErrResourceKind    = errors.New("resource variant does not match the binding kind")
	ErrResourceUsage   = errors.New("resource was not created with the required usage")

	// storage
	ErrPoolExhausted = errors.New("fixed capacity pool exhausted")
)
