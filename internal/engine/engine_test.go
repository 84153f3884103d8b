package engine

import (
	"io/fs"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zound-engine/internal/culling"
	"zound-engine/internal/definition"
	"zound-engine/internal/token"
	"zound-engine/internal/voice"
)

type clip time.Duration

func (c clip) Duration() time.Duration { return time.Duration(c) }

// clips serves every reference as a one second clip unless listed
type clips map[string]time.Duration

func (c clips) Load(ref string) (voice.Sample, error) {
	if ref == "missing.wav" {
		return nil, fs.ErrNotExist
	}
	if d, ok := c[ref]; ok {
		return clip(d), nil
	}
	return clip(time.Second), nil
}

type harness struct {
	*Engine
	outs []*voice.NullOutput
}

func newHarness(t *testing.T, cfg Config, samples clips, defs ...definition.Definition) *harness {
	t.Helper()
	lib, err := definition.NewLibrary(defs...)
	require.NoError(t, err)

	h := &harness{}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	e, err := New(cfg, lib, samples, voice.NullFactory(&h.outs))
	require.NoError(t, err)
	h.Engine = e
	return h
}

func testConfig(capacity, maxInstances int) Config {
	cfg := DefaultConfig()
	cfg.PoolCapacity = capacity
	cfg.MaxInstances = maxInstances
	return cfg
}

func dur(d time.Duration) *time.Duration { return &d }

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := testConfig(0, 1)
	_, err := New(cfg, nil, clips{}, voice.NullFactory(nil))
	assert.Error(t, err)

	cfg = testConfig(1, 0)
	_, err = New(cfg, nil, clips{}, voice.NullFactory(nil))
	assert.Error(t, err)

	cfg = testConfig(1, 1)
	cfg.Policy = "evict-quietest"
	_, err = New(cfg, nil, clips{}, voice.NullFactory(nil))
	assert.Error(t, err)

	_, err = New(testConfig(1, 1), nil, nil, voice.NullFactory(nil))
	assert.Error(t, err)
}

func TestEngine_Play_UnknownName(t *testing.T) {
	h := newHarness(t, testConfig(2, 1), clips{})
	_, err := h.Play("nope")
	assert.ErrorIs(t, err, definition.ErrNotFound)
}

func TestEngine_Play_SampleLoadFailureConsumesNothing(t *testing.T) {
	h := newHarness(t, testConfig(2, 1), clips{}, definition.Leaf("bad", "missing.wav"))
	_, err := h.Play("bad")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, 0, h.pool.Stats().Busy)
	assert.Zero(t, h.ledger.Count("bad"))
}

func TestEngine_Play_NaturalCompletionReleasesEverything(t *testing.T) {
	h := newHarness(t, testConfig(2, 1), clips{"x.wav": 100 * time.Millisecond}, definition.Leaf("X", "x.wav"))

	tok, err := h.Play("X")
	require.NoError(t, err)
	assert.Equal(t, token.Playing, tok.State())
	assert.Equal(t, 1, h.ledger.Count("X"))
	assert.Equal(t, 1, h.pool.Stats().Busy)

	h.Tick(100 * time.Millisecond)
	assert.Equal(t, token.Killed, tok.State())
	assert.Equal(t, token.ReasonFinished, tok.Reason())
	assert.Zero(t, h.ledger.Count("X"))
	assert.Equal(t, 0, h.pool.Stats().Busy)
	assert.Empty(t, h.Live())
}

func TestEngine_RapidTriggers_CapAtOne(t *testing.T) {
	h := newHarness(t, testConfig(2, 1), clips{}, definition.Leaf("X", "x.wav"))

	first, err := h.Play("X")
	require.NoError(t, err)

	second, err := h.Play("X")
	require.NoError(t, err, "instance cap culls the first trigger")
	assert.Equal(t, token.Killed, first.State())
	assert.False(t, first.Destroyed(), "a free voice lets the culled instance fade")
	assert.Equal(t, 1, h.ledger.Count("X"))

	third, err := h.Play("X")
	require.NoError(t, err, "no idle voice left, the culled voice is handed over")
	assert.True(t, second.Destroyed())
	assert.Equal(t, token.Playing, third.State())
	assert.Equal(t, 1, h.ledger.Count("X"))
	assert.Equal(t, 2, h.pool.Stats().Busy)

	h.Tick(h.cfg.CullFade)
	assert.True(t, first.Destroyed())
	assert.Equal(t, 1, h.pool.Stats().Busy)
}

func TestEngine_RapidTriggers_CooldownRejects(t *testing.T) {
	x := definition.Leaf("X", "x.wav")
	x.Limits.Cooldown = dur(100 * time.Millisecond)
	h := newHarness(t, testConfig(2, 1), clips{}, x)

	first, err := h.Play("X")
	require.NoError(t, err)

	_, err = h.Play("X")
	assert.ErrorIs(t, err, culling.ErrCooldownRejected)
	h.Tick(99 * time.Millisecond)
	_, err = h.Play("X")
	assert.ErrorIs(t, err, culling.ErrCooldownRejected)
	assert.Equal(t, time.Millisecond, h.RemainingCooldown("X"))

	h.Tick(time.Millisecond)
	_, err = h.Play("X")
	require.NoError(t, err)
	assert.Equal(t, token.Killed, first.State())
	assert.LessOrEqual(t, h.ledger.Count("X"), 1)
}

func TestEngine_GlobalCooldownApplies(t *testing.T) {
	cfg := testConfig(2, 4)
	cfg.Cooldown = 50 * time.Millisecond
	h := newHarness(t, cfg, clips{}, definition.Leaf("X", "x.wav"), definition.Leaf("Y", "y.wav"))

	_, err := h.Play("X")
	require.NoError(t, err)
	_, err = h.Play("Y")
	require.NoError(t, err, "cooldowns are per definition")
	_, err = h.Play("X")
	assert.ErrorIs(t, err, culling.ErrCooldownRejected)
}

func TestEngine_ChanceRejectionLeavesCooldownAlone(t *testing.T) {
	never := definition.Leaf("never", "n.wav")
	never.Chance = 0
	never.Limits.Cooldown = dur(time.Second)
	h := newHarness(t, testConfig(2, 1), clips{}, never)

	_, err := h.Play("never")
	assert.ErrorIs(t, err, ErrChanceRejected)
	assert.Zero(t, h.RemainingCooldown("never"))
	assert.Equal(t, 0, h.pool.Stats().Created)
}

func TestEngine_ExhaustionPolicyFail(t *testing.T) {
	h := newHarness(t, testConfig(1, 4), clips{}, definition.Leaf("X", "x.wav"), definition.Leaf("Y", "y.wav"))

	x, err := h.Play("X")
	require.NoError(t, err)
	_, err = h.Play("Y")
	assert.ErrorIs(t, err, ErrPoolExhaustedAfterCull)
	assert.Equal(t, token.Playing, x.State(), "engine stays usable")
	assert.Zero(t, h.ledger.Count("Y"))

	h.StopAll(0)
	_, err = h.Play("Y")
	assert.NoError(t, err)
}

func TestEngine_ExhaustionPolicyStealOldest(t *testing.T) {
	cfg := testConfig(2, 4)
	cfg.Policy = PolicyStealOldest
	h := newHarness(t, cfg, clips{}, definition.Leaf("X", "x.wav"), definition.Leaf("Y", "y.wav"))

	oldest, err := h.Play("X")
	require.NoError(t, err)
	newer, err := h.Play("X")
	require.NoError(t, err)

	y, err := h.Play("Y")
	require.NoError(t, err)
	assert.True(t, oldest.Destroyed())
	assert.Equal(t, token.Playing, newer.State())
	assert.Equal(t, token.Playing, y.State())
}

func TestEngine_StealPrefersFadingTokens(t *testing.T) {
	cfg := testConfig(2, 4)
	cfg.Policy = PolicyStealOldest
	h := newHarness(t, cfg, clips{}, definition.Leaf("X", "x.wav"), definition.Leaf("Y", "y.wav"))

	oldest, _ := h.Play("X")
	fading, _ := h.Play("X")
	require.NoError(t, fading.Kill(time.Second))

	_, err := h.Play("Y")
	require.NoError(t, err)
	assert.True(t, fading.Destroyed())
	assert.Equal(t, token.Playing, oldest.State())
}

func TestEngine_KillRoundTripRestoresPool(t *testing.T) {
	h := newHarness(t, testConfig(8, 8), clips{}, definition.Leaf("X", "x.wav"))
	before := h.pool.Stats().Busy

	var toks []*token.Token
	for range 5 {
		tok, err := h.Play("X")
		require.NoError(t, err)
		toks = append(toks, tok)
	}
	assert.Equal(t, 5, h.pool.Stats().Busy)

	fade := 100 * time.Millisecond
	for _, tok := range toks {
		require.NoError(t, tok.Kill(fade))
	}
	h.Tick(fade)
	h.Tick(16 * time.Millisecond)

	stats := h.pool.Stats()
	assert.Equal(t, before, stats.Busy)
	assert.Equal(t, stats.Created, stats.Idle)
}

func TestEngine_Sequence_SchedulesChildren(t *testing.T) {
	seq := definition.Sequence("S",
		definition.NewEntry("A"),
		definition.NewEntry("B").At(500*time.Millisecond),
	)
	h := newHarness(t, testConfig(4, 4),
		clips{"a.wav": 300 * time.Millisecond, "b.wav": 300 * time.Millisecond},
		definition.Leaf("A", "a.wav"), definition.Leaf("B", "b.wav"), seq)

	g, fut, err := h.PlayAsync("S")
	require.NoError(t, err)
	assert.True(t, g.IsGroup())
	assert.Nil(t, g.Voice())
	require.Len(t, g.Children(), 1)
	assert.Equal(t, "A", g.Children()[0].Definition())
	assert.Equal(t, 1, h.pool.Stats().Busy)

	h.Tick(300 * time.Millisecond)
	assert.Empty(t, g.Children())
	assert.Equal(t, token.Playing, g.State())

	h.Tick(200 * time.Millisecond)
	require.Len(t, g.Children(), 1)
	assert.Equal(t, "B", g.Children()[0].Definition())

	h.Tick(300 * time.Millisecond)
	reason, ok := fut.Result()
	require.True(t, ok)
	assert.Equal(t, token.ReasonFinished, reason)
	assert.Equal(t, 0, h.pool.Stats().Busy)
	assert.Empty(t, h.Live())
}

func TestEngine_Sequence_CarriesVolumeAndRoute(t *testing.T) {
	seq := definition.Sequence("S", definition.NewEntry("A"))
	seq.Entries[0].Volume = 0.5
	seq.Volume = definition.Fixed(0.5)
	seq.Route = "music"
	h := newHarness(t, testConfig(4, 4), clips{}, definition.Leaf("A", "a.wav"), seq)

	g, err := h.Play("S")
	require.NoError(t, err)
	require.Len(t, g.Children(), 1)
	child := g.Children()[0]
	assert.InDelta(t, 0.25, child.Params().Volume, 1e-9)
	assert.Equal(t, "music", child.Params().Route)

	g2, err := h.Play("S", WithRoute("ui"), WithVolume(0.5))
	require.NoError(t, err)
	assert.Equal(t, "ui", g2.Children()[0].Params().Route)
	assert.InDelta(t, 0.125, g2.Children()[0].Params().Volume, 1e-9)
}

func TestEngine_Sequence_ChildRejectionsRecorded(t *testing.T) {
	cooled := definition.Leaf("C", "c.wav")
	cooled.Limits.Cooldown = dur(time.Second)
	seq := definition.Sequence("S",
		definition.NewEntry("C"),
		definition.NewEntry("C").At(10*time.Millisecond),
	)
	h := newHarness(t, testConfig(4, 4), clips{}, cooled, seq)

	g, err := h.Play("S")
	require.NoError(t, err)
	h.Tick(10 * time.Millisecond)

	errs := g.ChildErrors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], culling.ErrCooldownRejected)
}

func TestEngine_Randomizer_PicksWeightedChild(t *testing.T) {
	r := definition.Randomizer("R",
		definition.NewEntry("A").WithChance(0),
		definition.NewEntry("B").WithChance(1),
	)
	h := newHarness(t, testConfig(4, 4), clips{}, definition.Leaf("A", "a.wav"), definition.Leaf("B", "b.wav"), r)

	for range 50 {
		g, err := h.Play("R")
		require.NoError(t, err)
		for _, c := range g.Children() {
			assert.Equal(t, "B", c.Definition())
		}
		h.StopAll(0)
	}
}

func TestEngine_GroupKillPropagates(t *testing.T) {
	seq := definition.Sequence("S", definition.NewEntry("A"), definition.NewEntry("A").At(time.Second))
	h := newHarness(t, testConfig(4, 4), clips{"a.wav": 10 * time.Second}, definition.Leaf("A", "a.wav"), seq)

	g, err := h.Play("S")
	require.NoError(t, err)
	child := g.Children()[0]

	fut, err := g.KillAsync(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, token.Killed, child.State())

	h.Tick(100 * time.Millisecond)
	_, ok := fut.Result()
	assert.True(t, ok)
	assert.True(t, child.Destroyed())

	h.Tick(2 * time.Second)
	assert.Empty(t, h.Live(), "pending entries of a killed group never fire")
}

func TestEngine_Stop_UsesDefinitionFade(t *testing.T) {
	x := definition.Leaf("X", "x.wav")
	x.FadeOut = 200 * time.Millisecond
	h := newHarness(t, testConfig(4, 4), clips{}, x, definition.Leaf("Y", "y.wav"))

	_, _ = h.Play("X")
	_, _ = h.Play("X")
	y, _ := h.Play("Y")

	n, err := h.Stop("X", DefinitionFade)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, h.pool.Stats().Busy)

	h.Tick(200 * time.Millisecond)
	assert.Equal(t, 1, h.pool.Stats().Busy)
	assert.Equal(t, token.Playing, y.State())

	assert.Equal(t, 1, h.StopAll(0))
	assert.Equal(t, 0, h.pool.Stats().Busy)
}

func TestEngine_PauseAllUnpauseAll(t *testing.T) {
	h := newHarness(t, testConfig(4, 4), clips{}, definition.Leaf("X", "x.wav"))
	tok, err := h.Play("X")
	require.NoError(t, err)

	assert.Equal(t, 1, h.PauseAll(0))
	assert.True(t, h.outs[0].Paused)
	h.Tick(500 * time.Millisecond)
	assert.Zero(t, tok.Time())

	assert.Equal(t, 1, h.UnpauseAll(0))
	assert.False(t, h.outs[0].Paused)
	h.Tick(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, tok.Time())
}

func TestEngine_Request_TokenStartsIdle(t *testing.T) {
	h := newHarness(t, testConfig(2, 1), clips{}, definition.Leaf("X", "x.wav"))
	tok, err := h.Request("X")
	require.NoError(t, err)
	assert.Equal(t, token.Idle, tok.State())
	assert.Equal(t, 1, h.pool.Stats().Busy)

	h.Tick(5 * time.Second)
	assert.Equal(t, token.Idle, tok.State())

	require.NoError(t, tok.Play())
	h.Tick(time.Second)
	assert.True(t, tok.Destroyed())
}

func TestEngine_VolumeModifiers(t *testing.T) {
	h := newHarness(t, testConfig(2, 1), clips{}, definition.Leaf("X", "x.wav"))
	_, err := h.Play("X", WithVolume(0.8))
	require.NoError(t, err)
	assert.InDelta(t, 0.8, h.outs[0].Volume, 1e-9)

	h.SetPlayerVolume(0.5)
	h.SetSystemVolume(0.5)
	h.SetEditorVolume(2)
	h.Tick(time.Millisecond)
	assert.InDelta(t, 0.2, h.outs[0].Volume, 1e-9)

	p, s, e := h.Volumes()
	assert.Equal(t, []float64{0.5, 0.5, 1}, []float64{p, s, e})

	h.SetMuted(true)
	h.Tick(time.Millisecond)
	assert.Zero(t, h.outs[0].Volume)
	assert.True(t, h.IsMuted())
}

func TestEngine_Diagnostics(t *testing.T) {
	x := definition.Leaf("X", "x.wav")
	x.Limits.Cooldown = dur(time.Second)
	h := newHarness(t, testConfig(4, 4), clips{}, x)

	tok, err := h.Play("X")
	require.NoError(t, err)
	h.Tick(250 * time.Millisecond)

	d := h.Diagnostics()
	assert.Equal(t, 250*time.Millisecond, d.Now)
	assert.Equal(t, voice.Stats{Capacity: 4, Created: 1, Busy: 1}, d.Pool)
	require.Len(t, d.Groups, 1)
	assert.Equal(t, "X", d.Groups[0].Name)
	require.Len(t, d.Groups[0].Tokens, 1)
	assert.Equal(t, tok.ID(), d.Groups[0].Tokens[0].ID)
	assert.Equal(t, 250*time.Millisecond, d.Groups[0].Tokens[0].Elapsed)
	assert.Equal(t, 750*time.Millisecond, d.Cooldowns["X"])

	out := d.String()
	assert.Contains(t, out, "X [1] cooldown 750ms")
	assert.Contains(t, out, "voices 1/4 busy")
}

func TestEngine_ReplaceLibrary(t *testing.T) {
	h := newHarness(t, testConfig(4, 4), clips{}, definition.Leaf("X", "x.wav"))
	x, err := h.Play("X")
	require.NoError(t, err)

	lib, err := definition.NewLibrary(definition.Leaf("Y", "y.wav"))
	require.NoError(t, err)
	h.ReplaceLibrary(lib)

	_, err = h.Play("X")
	assert.ErrorIs(t, err, definition.ErrNotFound)
	_, err = h.Play("Y")
	assert.NoError(t, err)

	h.Tick(time.Second)
	assert.True(t, x.Destroyed(), "tokens from the old library still finish")
	assert.Zero(t, h.ledger.Count("X"))
}

func TestEngine_ReplaceLibrary_PendingChildrenKeepTheirDefinition(t *testing.T) {
	seq := definition.Sequence("S",
		definition.NewEntry("A"),
		definition.NewEntry("B").At(100*time.Millisecond),
	)
	h := newHarness(t, testConfig(4, 4), clips{},
		definition.Leaf("A", "a.wav"), definition.Leaf("B", "b.wav"), seq)
	g, err := h.Play("S")
	require.NoError(t, err)

	lib, err := definition.NewLibrary(definition.Leaf("A", "a.wav"))
	require.NoError(t, err)
	h.ReplaceLibrary(lib)

	h.Tick(150 * time.Millisecond)
	assert.Empty(t, g.ChildErrors())
	children := g.Children()
	require.Len(t, children, 2)
	b := children[1]
	assert.Equal(t, "B", b.Definition())
	assert.Equal(t, 50*time.Millisecond, b.Time(), "B starts as far in as the group is past its offset")
	assert.Equal(t, 50*time.Millisecond, h.outs[b.Voice().Slot()].Params.Offset)

	_, err = h.Play("B")
	assert.ErrorIs(t, err, definition.ErrNotFound)
}

func TestEngine_Sequence_PauseFadeKeepsChildOffsets(t *testing.T) {
	seq := definition.Sequence("S",
		definition.NewEntry("A"),
		definition.NewEntry("B").At(100*time.Millisecond),
	)
	h := newHarness(t, testConfig(4, 4), clips{},
		definition.Leaf("A", "a.wav"), definition.Leaf("B", "b.wav"), seq)
	g, err := h.Play("S")
	require.NoError(t, err)

	h.Tick(50 * time.Millisecond)
	require.NoError(t, g.Pause(200*time.Millisecond))
	for range 10 {
		h.Tick(20 * time.Millisecond)
	}
	children := g.Children()
	require.Len(t, children, 2)
	assert.Equal(t, token.Paused, children[1].State())

	require.NoError(t, g.Unpause(0))
	h.Tick(10 * time.Millisecond)
	a, b := children[0], children[1]
	assert.Equal(t, 240*time.Millisecond, a.Time())
	assert.Equal(t, 140*time.Millisecond, b.Time())
}

func TestEngine_CleanupVoices(t *testing.T) {
	h := newHarness(t, testConfig(4, 4), clips{}, definition.Leaf("X", "x.wav"))
	_, _ = h.Play("X")
	_, _ = h.Play("X")
	h.StopAll(0)

	h.outs[0].Invalidate()
	assert.Equal(t, 1, h.CleanupVoices())
	assert.Equal(t, 0, h.CleanupVoices())
	assert.Equal(t, 1, h.pool.Stats().Created)
}

func TestEngine_Shutdown(t *testing.T) {
	seq := definition.Sequence("S", definition.NewEntry("A"), definition.NewEntry("A").At(time.Second))
	h := newHarness(t, testConfig(4, 4), clips{}, definition.Leaf("A", "a.wav"), seq)

	a, _ := h.Play("A")
	g, _ := h.Play("S")
	_, fut, err := h.PlayAsync("A")
	require.NoError(t, err)

	require.NoError(t, h.Shutdown())
	assert.True(t, a.Destroyed())
	assert.True(t, g.Destroyed())
	_, ok := fut.Result()
	assert.True(t, ok, "outstanding waits resolve on shutdown")
	assert.Empty(t, h.Live())
	assert.Empty(t, h.ledger.Groups())
	for _, out := range h.outs {
		assert.True(t, out.Closed)
	}

	_, err = h.Play("A")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.Shutdown(), ErrClosed)
	h.Tick(time.Second)
}

func TestEngine_Do_SerializesGoroutines(t *testing.T) {
	h := newHarness(t, testConfig(4, 2), clips{"x.wav": 20 * time.Millisecond}, definition.Leaf("X", "x.wav"))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.Do(func(e *Engine) {
					_, _ = e.Play("X")
					e.Tick(5 * time.Millisecond)
				})
			}
		}()
	}
	wg.Wait()

	h.Do(func(e *Engine) {
		assert.LessOrEqual(t, e.ledger.Count("X"), 2)
	})
}

func TestEngine_InstanceCapNeverExceeded(t *testing.T) {
	caps := map[string]int{"a": 1, "b": 2, "c": 3}
	var defs []definition.Definition
	for name, limit := range caps {
		d := definition.Leaf(name, name+".wav")
		d.Limits.MaxInstances = limit
		defs = append(defs, d)
	}
	defs = append(defs, definition.Sequence("burst",
		definition.NewEntry("a"),
		definition.NewEntry("a").At(10*time.Millisecond),
		definition.NewEntry("b").At(20*time.Millisecond),
		definition.NewEntry("c").At(20*time.Millisecond),
	))

	for _, policy := range []Policy{PolicyFail, PolicyStealOldest} {
		cfg := testConfig(4, 4)
		cfg.Policy = policy
		h := newHarness(t, cfg, clips{"a.wav": 50 * time.Millisecond, "b.wav": 200 * time.Millisecond}, defs...)
		names := []string{"a", "b", "c", "burst"}
		rng := rand.New(rand.NewPCG(42, uint64(len(policy))))

		for step := range 3000 {
			switch op := rng.IntN(10); {
			case op < 6:
				_, _ = h.Play(names[rng.IntN(len(names))])
			case op < 9:
				h.Tick(time.Duration(rng.IntN(30)) * time.Millisecond)
			default:
				h.StopAll(time.Duration(rng.IntN(3)) * 20 * time.Millisecond)
			}

			for name, limit := range caps {
				require.LessOrEqual(t, h.ledger.Count(name), limit, "policy %s step %d sound %s", policy, step, name)
			}
			require.LessOrEqual(t, h.pool.Stats().Busy, 4)
		}

		h.StopAll(0)
		h.Tick(time.Second)
		assert.Equal(t, 0, h.pool.Stats().Busy, "policy %s", policy)
	}
}
