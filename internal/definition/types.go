package definition

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Kind identifies which variant a definition is
type Kind int

const (
	KindLeaf Kind = iota
	KindSequence
	KindRandomizer
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindSequence:
		return "sequence"
	case KindRandomizer:
		return "randomizer"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IsComposite reports whether the kind plays children instead of a sample
func (k Kind) IsComposite() bool {
	return k == KindSequence || k == KindRandomizer
}

// Range is an inclusive [Min, Max] interval a value is drawn from on every trigger
type Range struct {
	Min float64
	Max float64
}

// Fixed returns a range that always yields v
func Fixed(v float64) Range {
	return Range{Min: v, Max: v}
}

// Pick draws a uniformly distributed value from the range
func (r Range) Pick(rng *rand.Rand) float64 {
	if r.Max <= r.Min || rng == nil {
		return r.Min
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// Entry references a child definition from a sequence or randomizer.
// Sequences honor Delay and treat Chance as a probability; randomizers ignore
// Delay and treat Chance as the selection weight.
type Entry struct {
	Name   string
	Delay  time.Duration
	Volume float64
	Pitch  float64
	Chance float64
}

// NewEntry returns an entry for name with neutral overrides
func NewEntry(name string) Entry {
	return Entry{Name: name, Volume: 1, Pitch: 1, Chance: 1}
}

// At returns a copy of the entry delayed by d
func (e Entry) At(d time.Duration) Entry {
	e.Delay = d
	return e
}

// WithChance returns a copy of the entry with the given chance or weight
func (e Entry) WithChance(c float64) Entry {
	e.Chance = c
	return e
}

// Limits overrides engine-wide trigger policy for one definition.
// Zero MaxInstances and nil durations inherit the engine settings.
type Limits struct {
	MaxInstances int
	Cooldown     *time.Duration
	CullFade     *time.Duration
}

// Definition is an immutable description of one playable sound
type Definition struct {
	Name string
	Tags []string
	Kind Kind

	Volume Range
	Pitch  Range
	Chance float64

	// Route is handed to the voice untouched
	Route string

	FadeIn  time.Duration
	FadeOut time.Duration
	Limits  Limits

	// Leaf only
	Sample string
	Loop   bool

	// Sequence and randomizer only
	Entries []Entry
}

// Leaf returns a leaf definition playing sample with neutral tunables
func Leaf(name, sample string) Definition {
	return Definition{
		Name:   name,
		Kind:   KindLeaf,
		Volume: Fixed(1),
		Pitch:  Fixed(1),
		Chance: 1,
		Sample: sample,
	}
}

// Sequence returns a sequence definition playing entries in order
func Sequence(name string, entries ...Entry) Definition {
	return Definition{
		Name:    name,
		Kind:    KindSequence,
		Volume:  Fixed(1),
		Pitch:   Fixed(1),
		Chance:  1,
		Entries: entries,
	}
}

// Randomizer returns a randomizer definition choosing one of entries per trigger
func Randomizer(name string, entries ...Entry) Definition {
	return Definition{
		Name:    name,
		Kind:    KindRandomizer,
		Volume:  Fixed(1),
		Pitch:   Fixed(1),
		Chance:  1,
		Entries: entries,
	}
}

// clone deep-copies the slices so the library owns its data
func (d Definition) clone() *Definition {
	c := d
	if d.Tags != nil {
		c.Tags = append([]string(nil), d.Tags...)
	}
	if d.Entries != nil {
		c.Entries = append([]Entry(nil), d.Entries...)
	}
	if d.Limits.Cooldown != nil {
		v := *d.Limits.Cooldown
		c.Limits.Cooldown = &v
	}
	if d.Limits.CullFade != nil {
		v := *d.Limits.CullFade
		c.Limits.CullFade = &v
	}
	return &c
}

// validate checks the definition on its own, without looking at references
func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: definition without a name", ErrInvalid)
	}
	if d.Volume.Min < 0 || d.Volume.Max < d.Volume.Min {
		return fmt.Errorf("%w: %q volume range [%g,%g]", ErrInvalid, d.Name, d.Volume.Min, d.Volume.Max)
	}
	if d.Pitch.Min <= 0 || d.Pitch.Max < d.Pitch.Min {
		return fmt.Errorf("%w: %q pitch range [%g,%g]", ErrInvalid, d.Name, d.Pitch.Min, d.Pitch.Max)
	}
	if d.Chance < 0 || d.Chance > 1 {
		return fmt.Errorf("%w: %q play chance %g outside [0,1]", ErrInvalid, d.Name, d.Chance)
	}
	if d.FadeIn < 0 || d.FadeOut < 0 {
		return fmt.Errorf("%w: %q negative fade", ErrInvalid, d.Name)
	}
	if d.Limits.MaxInstances < 0 {
		return fmt.Errorf("%w: %q max instances %d", ErrInvalid, d.Name, d.Limits.MaxInstances)
	}
	if c := d.Limits.Cooldown; c != nil && *c < 0 {
		return fmt.Errorf("%w: %q negative cooldown", ErrInvalid, d.Name)
	}
	if c := d.Limits.CullFade; c != nil && *c < 0 {
		return fmt.Errorf("%w: %q negative cull fade", ErrInvalid, d.Name)
	}

	switch d.Kind {
	case KindLeaf:
		if d.Sample == "" {
			return fmt.Errorf("%w: leaf %q has no sample", ErrInvalid, d.Name)
		}
		if len(d.Entries) > 0 {
			return fmt.Errorf("%w: leaf %q has child entries", ErrInvalid, d.Name)
		}
	case KindSequence, KindRandomizer:
		if len(d.Entries) == 0 {
			return fmt.Errorf("%w: %s %q has no entries", ErrInvalid, d.Kind, d.Name)
		}
		for i, e := range d.Entries {
			if err := d.validateEntry(i, e); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %q has unknown kind %d", ErrInvalid, d.Name, int(d.Kind))
	}
	return nil
}

func (d *Definition) validateEntry(i int, e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("%w: %q entry %d has no sound", ErrInvalid, d.Name, i)
	}
	if e.Delay < 0 {
		return fmt.Errorf("%w: %q entry %d negative delay", ErrInvalid, d.Name, i)
	}
	if e.Volume < 0 {
		return fmt.Errorf("%w: %q entry %d negative volume", ErrInvalid, d.Name, i)
	}
	if e.Pitch <= 0 {
		return fmt.Errorf("%w: %q entry %d pitch must be positive", ErrInvalid, d.Name, i)
	}
	if e.Chance < 0 {
		return fmt.Errorf("%w: %q entry %d negative chance", ErrInvalid, d.Name, i)
	}
	if d.Kind == KindSequence && e.Chance > 1 {
		return fmt.Errorf("%w: %q entry %d chance %g above 1", ErrInvalid, d.Name, i, e.Chance)
	}
	return nil
}
