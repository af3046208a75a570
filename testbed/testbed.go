package testbed

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine"
)

// Scenes lists the demos by the name they are run with.
var Scenes = map[string]func() *engine.Game{
	"triangle":  NewTriangle,
	"particles": NewParticles,
}

func SceneNames() []string {
	names := make([]string, 0, len(Scenes))
	for name := range Scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func NewScene(name string) (*engine.Game, error) {
	build, ok := Scenes[name]
	if !ok {
		return nil, errors.Errorf("unknown scene %q, have %v", name, SceneNames())
	}
	return build(), nil
}

// floats packs values the way the shaders read them: little endian
// IEEE 754.
func floats(values ...float32) []byte {
	out := make([]byte, 0, 4*len(values))
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}
