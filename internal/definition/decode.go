package definition

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// Opener is the part of the asset filesystem the loader needs
type Opener interface {
	Open(name string) (io.ReadCloser, error)
}

type document struct {
	Sounds []soundNode `yaml:"sounds"`
}

type soundNode struct {
	Name   string   `yaml:"name"`
	Tags   []string `yaml:"tags"`
	Sample string   `yaml:"sample"`
	Loop   bool     `yaml:"loop"`

	Sequence []entryNode `yaml:"sequence"`
	Random   []entryNode `yaml:"random"`

	Volume *rangeNode `yaml:"volume"`
	Pitch  *rangeNode `yaml:"pitch"`
	Chance *float64   `yaml:"chance"`
	Route  string     `yaml:"route"`

	FadeIn       time.Duration  `yaml:"fade_in"`
	FadeOut      time.Duration  `yaml:"fade_out"`
	MaxInstances int            `yaml:"max_instances"`
	Cooldown     *time.Duration `yaml:"cooldown"`
	CullFade     *time.Duration `yaml:"cull_fade"`
}

type entryNode struct {
	Sound  string        `yaml:"sound"`
	Delay  time.Duration `yaml:"delay"`
	Volume *float64      `yaml:"volume"`
	Pitch  *float64      `yaml:"pitch"`
	Chance *float64      `yaml:"chance"`
	Weight *float64      `yaml:"weight"`
}

// rangeNode accepts either a single number or a [min, max] pair
type rangeNode Range

func (r *rangeNode) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var v float64
		if err := value.Decode(&v); err != nil {
			return err
		}
		*r = rangeNode(Fixed(v))
		return nil
	case yaml.SequenceNode:
		var pair []float64
		if err := value.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: range needs exactly two values, got %d", value.Line, len(pair))
		}
		*r = rangeNode{Min: pair[0], Max: pair[1]}
		return nil
	default:
		return fmt.Errorf("line %d: range must be a number or a [min, max] list", value.Line)
	}
}

// Decode reads a YAML sound library. Definitions that fail to convert or
// validate are reported in a *LoadError next to the partial library.
func Decode(r io.Reader) (*Library, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse sound library: %w", err)
	}

	var errs []error
	defs := make([]Definition, 0, len(doc.Sounds))
	for i, node := range doc.Sounds {
		d, err := node.definition()
		if err != nil {
			errs = append(errs, fmt.Errorf("sound %d: %w", i, err))
			continue
		}
		defs = append(defs, d)
	}

	lib, err := NewLibrary(defs...)
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		errs = append(errs, loadErr.Errs...)
	}
	if len(errs) > 0 {
		return lib, &LoadError{Errs: errs}
	}
	return lib, nil
}

// LoadFile opens path through fs and decodes it
func LoadFile(fs Opener, path string) (*Library, error) {
	log.Info("Loading sound library", "path", path)

	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sound library %s: %w", path, err)
	}
	defer f.Close()

	lib, err := Decode(f)
	if lib != nil {
		log.Info("Sound library loaded", "path", path, "definitions", lib.Len())
	}
	return lib, err
}

func (n soundNode) definition() (Definition, error) {
	var d Definition
	switch {
	case len(n.Sequence) > 0 && len(n.Random) > 0:
		return d, fmt.Errorf("%w: %q declares both sequence and random", ErrInvalid, n.Name)
	case len(n.Sequence) > 0:
		d = Sequence(n.Name, convertEntries(n.Sequence, KindSequence)...)
	case len(n.Random) > 0:
		d = Randomizer(n.Name, convertEntries(n.Random, KindRandomizer)...)
	default:
		d = Leaf(n.Name, n.Sample)
		d.Loop = n.Loop
	}
	if d.Kind.IsComposite() && (n.Sample != "" || n.Loop) {
		return d, fmt.Errorf("%w: composite %q cannot carry sample or loop", ErrInvalid, n.Name)
	}

	d.Tags = n.Tags
	d.Route = n.Route
	if n.Volume != nil {
		d.Volume = Range(*n.Volume)
	}
	if n.Pitch != nil {
		d.Pitch = Range(*n.Pitch)
	}
	if n.Chance != nil {
		d.Chance = *n.Chance
	}
	d.FadeIn = n.FadeIn
	d.FadeOut = n.FadeOut
	d.Limits = Limits{
		MaxInstances: n.MaxInstances,
		Cooldown:     n.Cooldown,
		CullFade:     n.CullFade,
	}
	return d, nil
}

func convertEntries(nodes []entryNode, kind Kind) []Entry {
	entries := make([]Entry, len(nodes))
	for i, n := range nodes {
		e := NewEntry(n.Sound)
		if kind == KindSequence {
			e.Delay = n.Delay
		}
		if n.Volume != nil {
			e.Volume = *n.Volume
		}
		if n.Pitch != nil {
			e.Pitch = *n.Pitch
		}
		if n.Chance != nil {
			e.Chance = *n.Chance
		}
		// weight is the randomizer spelling of chance
		if n.Weight != nil {
			e.Chance = *n.Weight
		}
		entries[i] = e
	}
	return entries
}
