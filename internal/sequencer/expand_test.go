package sequencer

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zound-engine/internal/definition"
)

func library(t *testing.T, defs ...definition.Definition) *definition.Library {
	t.Helper()
	lib, err := definition.NewLibrary(defs...)
	require.NoError(t, err)
	return lib
}

func resolve(t *testing.T, lib *definition.Library, name string) *definition.Definition {
	t.Helper()
	d, err := lib.Resolve(name)
	require.NoError(t, err)
	return d
}

func names(plays []Play) []string {
	out := make([]string, len(plays))
	for i, p := range plays {
		out[i] = p.Definition.Name
	}
	return out
}

func TestExpand_SequenceSchedulesEachEntry(t *testing.T) {
	lib := library(t,
		definition.Leaf("A", "a.wav"),
		definition.Leaf("B", "b.wav"),
		definition.Sequence("AB",
			definition.NewEntry("A"),
			definition.NewEntry("B").At(500*time.Millisecond),
		),
	)
	rng := rand.New(rand.NewPCG(1, 1))

	at := 2 * time.Second
	plays, err := Expand(resolve(t, lib, "AB"), at, lib, rng)
	require.NoError(t, err)
	require.Len(t, plays, 2)
	assert.Equal(t, []string{"A", "B"}, names(plays))
	assert.Equal(t, at, plays[0].At)
	assert.Equal(t, at+500*time.Millisecond, plays[1].At)
	assert.Equal(t, 1.0, plays[0].Volume)
	assert.Equal(t, 1.0, plays[1].Pitch)
}

func TestExpand_SequenceIsDeterministicWithCertainChances(t *testing.T) {
	lib := library(t,
		definition.Leaf("A", "a.wav"),
		definition.Leaf("B", "b.wav"),
		definition.Sequence("S",
			definition.NewEntry("B").At(300*time.Millisecond),
			definition.NewEntry("A"),
			definition.NewEntry("A").At(100*time.Millisecond),
		),
	)
	var first []Play
	for seed := range uint64(20) {
		plays, err := Expand(resolve(t, lib, "S"), 0, lib, rand.New(rand.NewPCG(seed, seed)))
		require.NoError(t, err)
		if first == nil {
			first = plays
		}
		assert.Equal(t, first, plays)
	}
	assert.Equal(t, []string{"A", "A", "B"}, names(first), "plays come out in time order")
}

func TestExpand_FailedChanceKeepsSiblingTiming(t *testing.T) {
	lib := library(t,
		definition.Leaf("A", "a.wav"),
		definition.Leaf("B", "b.wav"),
		definition.Sequence("S",
			definition.NewEntry("A").WithChance(0),
			definition.NewEntry("B").At(250*time.Millisecond),
		),
	)
	plays, err := Expand(resolve(t, lib, "S"), 0, lib, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	require.Len(t, plays, 1)
	assert.Equal(t, "B", plays[0].Definition.Name)
	assert.Equal(t, 250*time.Millisecond, plays[0].At)
}

func TestExpand_ChanceIsIndependentPerEntry(t *testing.T) {
	lib := library(t,
		definition.Leaf("A", "a.wav"),
		definition.Sequence("S",
			definition.NewEntry("A").WithChance(0.5),
			definition.NewEntry("A").WithChance(0.5),
		),
	)
	rng := rand.New(rand.NewPCG(9, 9))
	counts := map[int]int{}
	for range 2000 {
		plays, err := Expand(resolve(t, lib, "S"), 0, lib, rng)
		require.NoError(t, err)
		counts[len(plays)]++
	}
	// 1/4, 1/2, 1/4 with generous bounds
	assert.InDelta(t, 500, counts[0], 120)
	assert.InDelta(t, 1000, counts[1], 150)
	assert.InDelta(t, 500, counts[2], 120)
}

func TestExpand_RandomizerNeverPicksZeroWeight(t *testing.T) {
	lib := library(t,
		definition.Leaf("A", "a.wav"),
		definition.Leaf("B", "b.wav"),
		definition.Randomizer("R",
			definition.NewEntry("A").WithChance(0),
			definition.NewEntry("B").WithChance(1),
		),
	)
	rng := rand.New(rand.NewPCG(5, 6))
	for range 1000 {
		plays, err := Expand(resolve(t, lib, "R"), time.Second, lib, rng)
		require.NoError(t, err)
		require.Len(t, plays, 1)
		assert.Equal(t, "B", plays[0].Definition.Name)
		assert.Equal(t, time.Second, plays[0].At)
	}
}

func TestExpand_RandomizerAllZeroIsUniform(t *testing.T) {
	lib := library(t,
		definition.Leaf("A", "a.wav"),
		definition.Leaf("B", "b.wav"),
		definition.Randomizer("R",
			definition.NewEntry("A").WithChance(0),
			definition.NewEntry("B").WithChance(0),
		),
	)
	rng := rand.New(rand.NewPCG(5, 6))
	seen := map[string]int{}
	for range 1000 {
		plays, err := Expand(resolve(t, lib, "R"), 0, lib, rng)
		require.NoError(t, err)
		require.Len(t, plays, 1)
		seen[plays[0].Definition.Name]++
	}
	assert.InDelta(t, 500, seen["A"], 100)
	assert.InDelta(t, 500, seen["B"], 100)
}

func TestExpand_NestedCompositesRecurse(t *testing.T) {
	inner := definition.Sequence("inner",
		definition.NewEntry("A"),
		definition.NewEntry("B").At(100*time.Millisecond),
	)
	inner.Volume = definition.Fixed(0.5)

	outerEntry := definition.NewEntry("inner").At(time.Second)
	outerEntry.Pitch = 2

	lib := library(t,
		definition.Leaf("A", "a.wav"),
		definition.Leaf("B", "b.wav"),
		inner,
		definition.Sequence("outer", definition.NewEntry("A"), outerEntry),
	)
	plays, err := Expand(resolve(t, lib, "outer"), 0, lib, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	require.Len(t, plays, 3)
	assert.Equal(t, []string{"A", "A", "B"}, names(plays))
	assert.Equal(t, time.Second, plays[1].At)
	assert.Equal(t, 1100*time.Millisecond, plays[2].At)
	assert.Equal(t, 0.5, plays[2].Volume)
	assert.Equal(t, 2.0, plays[2].Pitch)
	assert.Equal(t, 1.0, plays[0].Volume)
}

func TestExpand_NestedCompositeChance(t *testing.T) {
	never := definition.Sequence("never", definition.NewEntry("A"))
	never.Chance = 0
	lib := library(t,
		definition.Leaf("A", "a.wav"),
		never,
		definition.Sequence("S", definition.NewEntry("never"), definition.NewEntry("A")),
	)
	plays, err := Expand(resolve(t, lib, "S"), 0, lib, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Len(t, plays, 1)
}

func TestExpand_LeafExpandsToItself(t *testing.T) {
	lib := library(t, definition.Leaf("A", "a.wav"))
	plays, err := Expand(resolve(t, lib, "A"), 42, lib, nil)
	require.NoError(t, err)
	require.Len(t, plays, 1)
	assert.Equal(t, time.Duration(42), plays[0].At)
}

type loopResolver map[string]*definition.Definition

func (r loopResolver) Resolve(name string) (*definition.Definition, error) {
	if d, ok := r[name]; ok {
		return d, nil
	}
	return nil, definition.ErrNotFound
}

func TestExpand_UnvalidatedCycleStops(t *testing.T) {
	d := definition.Sequence("loop", definition.NewEntry("loop"))
	_, err := Expand(&d, 0, loopResolver{"loop": &d}, nil)
	assert.ErrorIs(t, err, ErrTooDeep)

	missing := definition.Sequence("m", definition.NewEntry("gone"))
	_, err = Expand(&missing, 0, loopResolver{}, nil)
	assert.ErrorIs(t, err, definition.ErrNotFound)
}

func TestBernoulli_CertainOutcomesSkipRandomness(t *testing.T) {
	assert.True(t, Bernoulli(1, nil))
	assert.False(t, Bernoulli(0, nil))
}

func TestPickWeighted(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	assert.Equal(t, -1, PickWeighted(nil, rng))
	assert.Equal(t, 0, PickWeighted([]float64{3}, rng))

	counts := make([]int, 3)
	for range 4000 {
		counts[PickWeighted([]float64{1, 0, 3}, rng)]++
	}
	assert.Zero(t, counts[1])
	assert.InDelta(t, 1000, counts[0], 150)
	assert.InDelta(t, 3000, counts[2], 150)
}
