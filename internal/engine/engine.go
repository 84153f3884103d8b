package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"zound-engine/internal/culling"
	"zound-engine/internal/definition"
	"zound-engine/internal/sequencer"
	"zound-engine/internal/token"
	"zound-engine/internal/voice"
)

var (
	ErrPoolExhaustedAfterCull = errors.New("voice pool exhausted after culling")
	ErrChanceRejected         = errors.New("trigger rejected by play chance")
	ErrClosed                 = errors.New("engine is shut down")
)

// Policy decides what happens when no voice is free for an admitted trigger
type Policy string

const (
	PolicyFail        Policy = "fail"
	PolicyStealOldest Policy = "steal-oldest"
)

// DefinitionFade makes Stop and StopAll use each definition's fade_out
const DefinitionFade time.Duration = -1

// Config holds the engine-wide tunables
type Config struct {
	PoolCapacity int
	MaxInstances int
	Cooldown     time.Duration
	CullFade     time.Duration
	Policy       Policy
	// Seed 0 seeds from the clock
	Seed uint64

	PlayerVolume float64
	SystemVolume float64
	EditorVolume float64
	Muted        bool
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		PoolCapacity: 32,
		MaxInstances: 4,
		CullFade:     50 * time.Millisecond,
		Policy:       PolicyFail,
		PlayerVolume: 1.0,
		SystemVolume: 1.0,
		EditorVolume: 1.0,
	}
}

// SampleSource turns a leaf's sample reference into something a voice can play
type SampleSource interface {
	Load(ref string) (voice.Sample, error)
}

// Engine is the single entry point for playback
type Engine struct {
	mu sync.Mutex

	cfg     Config
	lib     *definition.Library
	samples SampleSource
	pool    *voice.Pool
	ledger  *culling.Ledger
	tl      *token.Timeline
	rng     *rand.Rand

	now  time.Duration
	live []*token.Token // trigger order, oldest first

	playerVolume float64
	systemVolume float64
	editorVolume float64
	muted        bool

	closed bool
}

// New creates an engine playing definitions from lib through outputs
func New(cfg Config, lib *definition.Library, samples SampleSource, outputs voice.OutputFactory) (*Engine, error) {
	if cfg.MaxInstances < 1 {
		return nil, fmt.Errorf("max instances must be at least 1, got %d", cfg.MaxInstances)
	}
	if cfg.Cooldown < 0 || cfg.CullFade < 0 {
		return nil, errors.New("cooldown and cull fade must not be negative")
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicyFail
	case PolicyFail, PolicyStealOldest:
	default:
		return nil, fmt.Errorf("unknown exhaustion policy %q", cfg.Policy)
	}
	if samples == nil {
		return nil, errors.New("engine needs a sample source")
	}

	pool, err := voice.NewPool(cfg.PoolCapacity, outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice pool: %w", err)
	}

	if lib == nil {
		lib, _ = definition.NewLibrary()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	e := &Engine{
		cfg:     cfg,
		lib:     lib,
		samples: samples,
		pool:    pool,
		ledger:  culling.NewLedger(),
		tl:      token.NewTimeline(),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	e.playerVolume = clamp(cfg.PlayerVolume)
	e.systemVolume = clamp(cfg.SystemVolume)
	e.editorVolume = clamp(cfg.EditorVolume)
	e.muted = cfg.Muted

	log.Info("Engine initialized",
		"capacity", cfg.PoolCapacity,
		"max_instances", cfg.MaxInstances,
		"policy", cfg.Policy,
		"definitions", lib.Len())
	return e, nil
}

// Do runs fn while holding the engine lock. Hosts that call the engine from
// more than one goroutine route every call through Do.
func (e *Engine) Do(fn func(e *Engine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

// Now returns the engine clock, the sum of every Tick
func (e *Engine) Now() time.Duration {
	return e.now
}

// Library returns the definitions currently in use
func (e *Engine) Library() *definition.Library {
	return e.lib
}

// Request admits a trigger of name and returns its Idle token. The token
// holds its voice and counts against its culling group until it is played
// and finishes, or is killed.
func (e *Engine) Request(name string, opts ...Option) (*token.Token, error) {
	if e.closed {
		return nil, ErrClosed
	}
	e.tl.Enter()
	defer e.tl.Leave()
	return e.trigger(name, nil, newModifiers(opts))
}

// Play requests name and starts it
func (e *Engine) Play(name string, opts ...Option) (*token.Token, error) {
	if e.closed {
		return nil, ErrClosed
	}
	e.tl.Enter()
	defer e.tl.Leave()

	tok, err := e.trigger(name, nil, newModifiers(opts))
	if err != nil {
		return nil, err
	}
	if err := tok.Play(); err != nil {
		tok.Halt()
		return nil, fmt.Errorf("failed to play %q: %w", name, err)
	}
	return tok, nil
}

// PlayAsync plays name and returns a future resolving when playback ends
func (e *Engine) PlayAsync(name string, opts ...Option) (*token.Token, *token.Future, error) {
	if e.closed {
		return nil, nil, ErrClosed
	}
	e.tl.Enter()
	defer e.tl.Leave()

	tok, err := e.trigger(name, nil, newModifiers(opts))
	if err != nil {
		return nil, nil, err
	}
	fut, err := tok.PlayAsync()
	if err != nil {
		tok.Halt()
		return nil, nil, fmt.Errorf("failed to play %q: %w", name, err)
	}
	return tok, fut, nil
}

func (e *Engine) trigger(name string, parent *token.Token, mods modifiers) (*token.Token, error) {
	def, err := e.lib.Resolve(name)
	if err != nil {
		return nil, err
	}
	return e.triggerDef(def, parent, mods)
}

// triggerDef runs the admission steps for one definition: cooldown, play
// chance, instance cap, voice. parent is set for children of a group.
func (e *Engine) triggerDef(def *definition.Definition, parent *token.Token, mods modifiers) (*token.Token, error) {
	limits := e.limitsFor(def)

	decision, err := e.ledger.TryTrigger(def.Name, limits, e.now)
	if err != nil {
		log.Debug("Trigger rejected", "sound", def.Name, "err", err)
		return nil, err
	}

	if !sequencer.Bernoulli(def.Chance, e.rng) {
		log.Debug("Trigger rejected by chance", "sound", def.Name, "chance", def.Chance)
		return nil, fmt.Errorf("%w: %q", ErrChanceRejected, def.Name)
	}

	var (
		smp   voice.Sample
		plays []sequencer.Play
	)
	if def.Kind.IsComposite() {
		plays, err = sequencer.Expand(def, 0, e.lib, e.rng)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %q: %w", def.Name, err)
		}
	} else {
		smp, err = e.samples.Load(def.Sample)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample for %q: %w", def.Name, err)
		}
	}

	if decision.Verdict == culling.AdmitAfterCull {
		e.cull(def, decision)
	}

	var v *voice.Voice
	if !def.Kind.IsComposite() {
		v, err = e.acquire(def.Name)
		if err != nil {
			return nil, err
		}
	}

	params := voice.Params{
		Volume: def.Volume.Pick(e.rng) * mods.volume,
		Pitch:  def.Pitch.Pick(e.rng) * mods.pitch,
		Route:  def.Route,
		Loop:   def.Loop,
	}
	switch {
	case mods.route != nil:
		params.Route = *mods.route
	case params.Route == "" && parent != nil:
		params.Route = parent.Params().Route
	}

	tok := token.New(token.Config{
		Timeline:   e.tl,
		Definition: def.Name,
		Voice:      v,
		Sample:     smp,
		Group:      def.Kind.IsComposite(),
		Params:     params,
		FadeIn:     def.FadeIn,
		Gain:       e.gain,
		Hooks: token.Hooks{
			Killed:    e.onKilled,
			Destroyed: e.onDestroyed,
		},
	})
	e.ledger.Commit(def.Name, tok, e.now)
	e.live = append(e.live, tok)

	if def.Kind.IsComposite() {
		childMods := modifiers{volume: params.Volume, pitch: params.Pitch, route: mods.route}
		for _, p := range plays {
			err := tok.Schedule(p.At, func(late time.Duration) (*token.Token, error) {
				return e.realize(tok, p, childMods, late)
			})
			if err != nil {
				tok.Halt()
				return nil, fmt.Errorf("failed to schedule %q: %w", def.Name, err)
			}
		}
	}

	slot := -1
	if v != nil {
		slot = v.Slot()
	}
	log.Debug("Trigger admitted",
		"sound", def.Name,
		"verdict", decision.Verdict,
		"token", tok.ID(),
		"voice", slot,
		"at", e.now)
	return tok, nil
}

// realize starts one scheduled child of group, late into its playback when
// the group's clock has already passed the child's start. The definition
// resolved at expansion is used, so a library swap leaves pending children
// alone.
func (e *Engine) realize(group *token.Token, p sequencer.Play, mods modifiers, late time.Duration) (*token.Token, error) {
	mods.volume *= p.Volume
	mods.pitch *= p.Pitch
	child, err := e.triggerDef(p.Definition, group, mods)
	if err != nil {
		log.Debug("Child trigger rejected", "group", group.Definition(), "sound", p.Definition.Name, "err", err)
		return nil, err
	}
	if err := child.PlayFrom(late); err != nil {
		child.Halt()
		return nil, fmt.Errorf("failed to play %q: %w", p.Definition.Name, err)
	}
	return child, nil
}

// cull evicts the tokens the ledger picked. When the admitted trigger needs
// a voice and none is idle, the evicted voices are handed over right away.
func (e *Engine) cull(def *definition.Definition, decision culling.Decision) {
	handover := !def.Kind.IsComposite() && !e.pool.HasIdle()
	for _, old := range decision.Evict {
		log.Debug("Culling instance", "sound", def.Name, "token", old.ID(), "fade", decision.CullFade, "handover", handover)
		if handover {
			old.Halt()
			continue
		}
		if err := old.Kill(decision.CullFade); err != nil && !errors.Is(err, token.ErrAlreadyKilled) {
			log.Warn("Failed to cull instance", "sound", def.Name, "token", old.ID(), "err", err)
		}
	}
}

func (e *Engine) acquire(name string) (*voice.Voice, error) {
	v, err := e.pool.Acquire()
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, voice.ErrExhausted) {
		return nil, err
	}

	if e.cfg.Policy == PolicyStealOldest {
		if victim := e.oldestLeaf(); victim != nil {
			log.Debug("Stealing voice", "sound", name, "victim", victim.Definition(), "token", victim.ID())
			victim.Halt()
			if v, err = e.pool.Acquire(); err == nil {
				return v, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q (capacity %d)", ErrPoolExhaustedAfterCull, name, e.cfg.PoolCapacity)
}

// oldestLeaf picks the steal victim: a token already fading out if there is
// one, otherwise the oldest live voice owner
func (e *Engine) oldestLeaf() *token.Token {
	var oldest *token.Token
	for _, t := range e.live {
		if t.Voice() == nil {
			continue
		}
		if t.State() == token.Killed {
			return t
		}
		if oldest == nil {
			oldest = t
		}
	}
	return oldest
}

func (e *Engine) onKilled(t *token.Token) {
	e.ledger.Remove(t.Definition(), t)
}

func (e *Engine) onDestroyed(t *token.Token) {
	if v := t.Voice(); v != nil {
		e.pool.Release(v)
	}
	e.live = slices.DeleteFunc(e.live, func(x *token.Token) bool { return x == t })
}

// limitsFor merges a definition's overrides onto the engine settings
func (e *Engine) limitsFor(def *definition.Definition) culling.Limits {
	limits := culling.Limits{
		MaxInstances: e.cfg.MaxInstances,
		Cooldown:     e.cfg.Cooldown,
		CullFade:     e.cfg.CullFade,
	}
	if def.Limits.MaxInstances > 0 {
		limits.MaxInstances = def.Limits.MaxInstances
	}
	if def.Limits.Cooldown != nil {
		limits.Cooldown = *def.Limits.Cooldown
	}
	if def.Limits.CullFade != nil {
		limits.CullFade = *def.Limits.CullFade
	}
	return limits
}

// Tick advances every live token by dt. Children a group realizes during
// the tick start advancing on the next one.
func (e *Engine) Tick(dt time.Duration) {
	if e.closed || dt < 0 {
		return
	}
	e.tl.Enter()
	defer e.tl.Leave()

	e.now += dt
	for _, t := range slices.Clone(e.live) {
		t.Advance(dt)
	}
}

// Stop kills every active instance of name and returns how many were
// stopped. A negative fade uses the definition's fade_out.
func (e *Engine) Stop(name string, fade time.Duration) (int, error) {
	if e.closed {
		return 0, ErrClosed
	}
	e.tl.Enter()
	defer e.tl.Leave()

	stopped := 0
	for _, t := range e.ledger.Active(name) {
		if err := t.Kill(e.stopFade(t, fade)); err == nil {
			stopped++
		}
	}
	log.Debug("Stopped sound", "sound", name, "instances", stopped)
	return stopped, nil
}

// StopAll kills every top-level token
func (e *Engine) StopAll(fade time.Duration) int {
	if e.closed {
		return 0
	}
	e.tl.Enter()
	defer e.tl.Leave()

	stopped := 0
	for _, t := range e.roots() {
		if t.State() == token.Killed {
			continue
		}
		if err := t.Kill(e.stopFade(t, fade)); err == nil {
			stopped++
		}
	}
	log.Debug("Stopped all sounds", "instances", stopped)
	return stopped
}

// PauseAll pauses every playing top-level token
func (e *Engine) PauseAll(fade time.Duration) int {
	if e.closed {
		return 0
	}
	e.tl.Enter()
	defer e.tl.Leave()

	n := 0
	for _, t := range e.roots() {
		if t.State() == token.Playing && t.Pause(fade) == nil {
			n++
		}
	}
	return n
}

// UnpauseAll resumes every paused top-level token
func (e *Engine) UnpauseAll(fade time.Duration) int {
	if e.closed {
		return 0
	}
	e.tl.Enter()
	defer e.tl.Leave()

	n := 0
	for _, t := range e.roots() {
		if t.State() == token.Paused && t.Unpause(fade) == nil {
			n++
		}
	}
	return n
}

func (e *Engine) roots() []*token.Token {
	var roots []*token.Token
	for _, t := range e.live {
		if t.Parent() == nil {
			roots = append(roots, t)
		}
	}
	return roots
}

func (e *Engine) stopFade(t *token.Token, fade time.Duration) time.Duration {
	if fade >= 0 {
		return fade
	}
	if def, err := e.lib.Resolve(t.Definition()); err == nil {
		return def.FadeOut
	}
	return 0
}

// Live returns the live tokens in trigger order
func (e *Engine) Live() []*token.Token {
	return slices.Clone(e.live)
}

// RemainingCooldown returns how long until name may trigger again
func (e *Engine) RemainingCooldown(name string) time.Duration {
	cooldown := e.cfg.Cooldown
	if def, err := e.lib.Resolve(name); err == nil {
		cooldown = e.limitsFor(def).Cooldown
	}
	return e.ledger.RemainingCooldown(name, cooldown, e.now)
}

// ReplaceLibrary swaps the definitions. Live tokens keep the tunables they
// were triggered with.
func (e *Engine) ReplaceLibrary(lib *definition.Library) {
	if lib == nil {
		return
	}
	e.lib = lib
	log.Info("Sound library replaced", "definitions", lib.Len())
}

// CleanupVoices discards pool voices whose output has gone invalid
func (e *Engine) CleanupVoices() int {
	return e.pool.CleanupUnused()
}

// Shutdown halts every token, clears the ledger and closes the pool.
// The engine rejects every call afterwards.
func (e *Engine) Shutdown() error {
	if e.closed {
		return ErrClosed
	}
	e.tl.Enter()
	for _, t := range e.roots() {
		t.Halt()
	}
	for _, t := range slices.Clone(e.live) {
		t.Halt()
	}
	e.tl.Leave()

	e.ledger.Clear()
	err := e.pool.Close()
	e.closed = true
	log.Info("Engine shut down")
	return err
}
