package assets

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const spirvMagic = 0x07230203

// ErrNotSPIRV is returned for data that is not a SPIR-V module.
var ErrNotSPIRV = errors.New("not a SPIR-V module")

// DecodeSPIRV turns a compiled module into the word stream shader modules
// are created from. Modules written on a big endian host are swapped.
func DecodeSPIRV(data []byte) ([]uint32, error) {
	if len(data) < 20 || len(data)%4 != 0 {
		return nil, errors.Wrapf(ErrNotSPIRV, "%d bytes", len(data))
	}
	var order binary.ByteOrder = binary.LittleEndian
	switch {
	case binary.LittleEndian.Uint32(data) == spirvMagic:
	case binary.BigEndian.Uint32(data) == spirvMagic:
		order = binary.BigEndian
	default:
		return nil, errors.Wrapf(ErrNotSPIRV, "magic %#08x", binary.LittleEndian.Uint32(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = order.Uint32(data[i*4:])
	}
	return words, nil
}
