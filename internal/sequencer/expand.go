package sequencer

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"zound-engine/internal/definition"
)

// MaxDepth bounds composite nesting. Libraries are cycle-checked at load,
// so this only trips on resolvers that skip validation.
const MaxDepth = 32

var ErrTooDeep = errors.New("composite nesting too deep")

// Resolver looks definitions up by name
type Resolver interface {
	Resolve(name string) (*definition.Definition, error)
}

// Play is one scheduled leaf trigger produced by expansion
type Play struct {
	Definition *definition.Definition
	At         time.Duration
	// Volume and Pitch multiply into the leaf's own rolled values
	Volume float64
	Pitch  float64
}

// Expand flattens a composite definition triggered at at into the leaf plays
// it produces, ordered by time. A leaf expands to itself.
func Expand(def *definition.Definition, at time.Duration, lib Resolver, rng *rand.Rand) ([]Play, error) {
	var plays []Play
	if err := expand(def, at, 1, 1, lib, rng, 0, &plays); err != nil {
		return nil, err
	}
	slices.SortStableFunc(plays, func(a, b Play) int {
		switch {
		case a.At < b.At:
			return -1
		case a.At > b.At:
			return 1
		default:
			return 0
		}
	})
	return plays, nil
}

func expand(def *definition.Definition, at time.Duration, volume, pitch float64, lib Resolver, rng *rand.Rand, depth int, out *[]Play) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: %q at depth %d", ErrTooDeep, def.Name, depth)
	}

	switch def.Kind {
	case definition.KindLeaf:
		*out = append(*out, Play{Definition: def, At: at, Volume: volume, Pitch: pitch})
		return nil

	case definition.KindSequence:
		for _, e := range def.Entries {
			// a failed roll drops only this entry, siblings keep their times
			if !Bernoulli(e.Chance, rng) {
				continue
			}
			if err := expandEntry(e, at+e.Delay, volume, pitch, lib, rng, depth, out); err != nil {
				return err
			}
		}
		return nil

	case definition.KindRandomizer:
		weights := make([]float64, len(def.Entries))
		for i, e := range def.Entries {
			weights[i] = e.Chance
		}
		i := PickWeighted(weights, rng)
		if i < 0 {
			return nil
		}
		return expandEntry(def.Entries[i], at, volume, pitch, lib, rng, depth, out)

	default:
		return fmt.Errorf("%w: %q has unknown kind %s", definition.ErrInvalid, def.Name, def.Kind)
	}
}

func expandEntry(e definition.Entry, at time.Duration, volume, pitch float64, lib Resolver, rng *rand.Rand, depth int, out *[]Play) error {
	child, err := lib.Resolve(e.Name)
	if err != nil {
		return err
	}
	volume *= e.Volume
	pitch *= e.Pitch

	if child.Kind.IsComposite() {
		// nested composites roll their own chance and tunables here, leaves
		// roll theirs when the facade triggers them
		if !Bernoulli(child.Chance, rng) {
			return nil
		}
		volume *= child.Volume.Pick(rng)
		pitch *= child.Pitch.Pick(rng)
	}
	return expand(child, at, volume, pitch, lib, rng, depth+1, out)
}

// Bernoulli returns true with probability p. Certain outcomes do not
// consume randomness.
func Bernoulli(p float64, rng *rand.Rand) bool {
	switch {
	case p >= 1:
		return true
	case p <= 0:
		return false
	default:
		return rng.Float64() < p
	}
}

// PickWeighted returns an index chosen with probability proportional to its
// weight. Zero weights are never chosen unless every weight is zero, in which
// case the choice is uniform. It returns -1 for an empty slice.
func PickWeighted(weights []float64, rng *rand.Rand) int {
	if len(weights) == 0 {
		return -1
	}

	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return rng.IntN(len(weights))
	}

	r := rng.Float64() * total
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		if r < w {
			return i
		}
		r -= w
	}
	return last
}
