package token

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"zound-engine/internal/voice"
)

var (
	ErrAlreadyKilled = errors.New("token already killed")
	ErrNotIdle       = errors.New("token already started")
	ErrInvalidState  = errors.New("operation not valid in current state")
	ErrNoVoice       = errors.New("token has no voice bound")
)

// State is the playback state of a token
type State int32

const (
	Idle State = iota
	Playing
	Paused
	Killed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Killed:
		return "killed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Reason says how a token reached Killed
type Reason int

const (
	ReasonNone Reason = iota
	ReasonFinished
	ReasonKilled
)

func (r Reason) String() string {
	switch r {
	case ReasonFinished:
		return "finished"
	case ReasonKilled:
		return "killed"
	default:
		return "none"
	}
}

// Hooks let the owner of a token react to its lifecycle
type Hooks struct {
	// Killed runs the moment the token enters Killed
	Killed func(t *Token)
	// Destroyed runs once teardown is complete, while Voice is still set
	Destroyed func(t *Token)
}

// Config describes a token at creation
type Config struct {
	Timeline   *Timeline
	Definition string

	// Leaf tokens carry a voice and a sample, group tokens carry neither
	Voice  *voice.Voice
	Sample voice.Sample
	Group  bool

	Params voice.Params
	FadeIn time.Duration
	// Gain is multiplied into the output level on every update
	Gain  func() float64
	Hooks Hooks
}

type fade struct {
	active bool
	from   float64
	to     float64
	total  time.Duration
	spent  time.Duration
	then   func()
}

// fire realizes a scheduled child. late is how far past its start time the
// group already is, the child starts that far in.
type scheduled struct {
	at   time.Duration
	fire func(late time.Duration) (*Token, error)
	done bool
}

// Token is the handle to one in-flight playback
type Token struct {
	id         string
	definition string
	tl         *Timeline

	voice  *voice.Voice
	sample voice.Sample
	params voice.Params
	group  bool
	fadeIn time.Duration
	gain   func() float64
	hooks  Hooks

	// readable from any goroutine
	state    atomic.Int32
	elapsed  atomic.Int64
	duration atomic.Int64

	level            float64
	fade             fade
	frozen           bool
	destroyed        bool
	awaitingChildren bool
	reason           Reason

	frameObservers    []func(t *Token, dt time.Duration)
	completeObservers []func(t *Token, reason Reason)
	playFutures       []*Future
	killFutures       []*Future

	parent    *Token
	children  []*Token
	schedule  []scheduled
	childErrs []error
}

// New creates an Idle token
func New(cfg Config) *Token {
	tl := cfg.Timeline
	if tl == nil {
		tl = NewTimeline()
	}
	t := &Token{
		id:         uuid.NewString(),
		definition: cfg.Definition,
		tl:         tl,
		voice:      cfg.Voice,
		sample:     cfg.Sample,
		params:     cfg.Params,
		group:      cfg.Group,
		fadeIn:     cfg.FadeIn,
		gain:       cfg.Gain,
		hooks:      cfg.Hooks,
		level:      1,
	}
	if t.params.Pitch <= 0 {
		t.params.Pitch = 1
	}
	if t.sample != nil {
		t.duration.Store(int64(float64(t.sample.Duration()) / t.params.Pitch))
	}
	return t
}

func (t *Token) ID() string           { return t.id }
func (t *Token) Definition() string   { return t.definition }
func (t *Token) State() State         { return State(t.state.Load()) }
func (t *Token) Time() time.Duration  { return time.Duration(t.elapsed.Load()) }
func (t *Token) IsGroup() bool        { return t.group }
func (t *Token) Looping() bool        { return t.params.Loop }
func (t *Token) Params() voice.Params { return t.params }
func (t *Token) Parent() *Token       { return t.parent }

// Duration is the playback length at the token's pitch. For groups it grows
// as children are realized.
func (t *Token) Duration() time.Duration { return time.Duration(t.duration.Load()) }

// Voice returns the bound voice, nil for groups and destroyed tokens
func (t *Token) Voice() *voice.Voice { return t.voice }

// Level is the current fade multiplier in [0, 1]
func (t *Token) Level() float64 { return t.level }

// Fading reports whether a fade is running
func (t *Token) Fading() bool { return t.fade.active }

// Destroyed reports whether teardown has happened
func (t *Token) Destroyed() bool { return t.destroyed }

// Reason returns how the token ended, ReasonNone while it is alive
func (t *Token) Reason() Reason { return t.reason }

// Children returns the live children of a group token
func (t *Token) Children() []*Token { return slices.Clone(t.children) }

// ChildErrors returns the rejections collected while realizing a group's schedule
func (t *Token) ChildErrors() []error { return slices.Clone(t.childErrs) }

// OnFrame registers fn to run after every update of the token
func (t *Token) OnFrame(fn func(t *Token, dt time.Duration)) {
	if t.destroyed {
		return
	}
	t.frameObservers = append(t.frameObservers, fn)
}

// OnComplete registers fn to run once, after the token is torn down
func (t *Token) OnComplete(fn func(t *Token, reason Reason)) {
	if t.destroyed {
		reason := t.reason
		t.tl.Defer(func() { fn(t, reason) })
		return
	}
	t.completeObservers = append(t.completeObservers, fn)
}

// Play starts an Idle token from position zero
func (t *Token) Play() error {
	return t.PlayFrom(0)
}

// PlayFrom starts an Idle token as if it had been playing for offset
func (t *Token) PlayFrom(offset time.Duration) error {
	t.tl.Enter()
	defer t.tl.Leave()
	return t.play(nil, offset)
}

// PlayAsync starts the token and returns a future that resolves when the
// playback ends, either naturally or by a kill
func (t *Token) PlayAsync() (*Future, error) {
	t.tl.Enter()
	defer t.tl.Leave()
	f := newFuture()
	if err := t.play(f, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func (t *Token) play(f *Future, offset time.Duration) error {
	switch t.State() {
	case Idle:
	case Killed:
		return ErrAlreadyKilled
	default:
		return ErrNotIdle
	}

	offset = max(offset, 0)
	if d := t.Duration(); t.params.Loop && !t.group && d > 0 {
		offset %= d
	}

	if !t.group {
		if t.voice == nil {
			return ErrNoVoice
		}
		params := t.params
		params.Offset = offset
		if err := t.voice.Start(t.sample, params); err != nil {
			return fmt.Errorf("failed to start voice %d: %w", t.voice.Slot(), err)
		}
	}

	if f != nil {
		t.playFutures = append(t.playFutures, f)
	}
	t.elapsed.Store(int64(offset))
	t.state.Store(int32(Playing))
	t.level = 1
	if t.fadeIn > 0 {
		t.level = 0
		t.startFade(1, t.fadeIn, nil)
	}
	t.applyVolume()

	if t.group {
		t.runDue()
		t.checkGroupFinished()
	}
	return nil
}

// Pause fades the token out over fade and then freezes its position.
// The state is Paused from the call on; the voice is kept.
func (t *Token) Pause(fade time.Duration) error {
	t.tl.Enter()
	defer t.tl.Leave()

	switch t.State() {
	case Playing:
	case Killed:
		return ErrAlreadyKilled
	default:
		return fmt.Errorf("%w: pause while %s", ErrInvalidState, t.State())
	}

	t.state.Store(int32(Paused))
	for _, c := range t.Children() {
		if c.State() == Playing {
			_ = c.Pause(fade)
		}
	}
	if fade <= 0 || t.level == 0 {
		t.freeze()
		return nil
	}
	t.startFade(0, fade, t.freeze)
	return nil
}

func (t *Token) freeze() {
	t.level = 0
	t.frozen = true
	if t.voice != nil {
		t.voice.Pause()
	}
	t.applyVolume()
}

// Unpause resumes a Paused token right away and fades it back in from its
// current level
func (t *Token) Unpause(fade time.Duration) error {
	t.tl.Enter()
	defer t.tl.Leave()

	switch t.State() {
	case Paused:
	case Killed:
		return ErrAlreadyKilled
	default:
		return fmt.Errorf("%w: unpause while %s", ErrInvalidState, t.State())
	}

	t.state.Store(int32(Playing))
	if t.frozen {
		t.frozen = false
		if t.voice != nil {
			t.voice.Resume()
		}
	}
	for _, c := range t.Children() {
		if c.State() == Paused {
			_ = c.Unpause(fade)
		}
	}
	if fade <= 0 {
		t.fade = fadeNone
		t.level = 1
	} else {
		t.startFade(1, fade, nil)
	}
	t.applyVolume()
	return nil
}

var fadeNone = fade{}

// Kill ends the token. It is Killed immediately; the voice is released and
// completion observers run when the fade is over.
func (t *Token) Kill(fade time.Duration) error {
	t.tl.Enter()
	defer t.tl.Leave()
	return t.kill(fade, nil)
}

// KillAsync kills the token and returns a future that resolves when the
// teardown has happened
func (t *Token) KillAsync(fade time.Duration) (*Future, error) {
	t.tl.Enter()
	defer t.tl.Leave()
	f := newFuture()
	if err := t.kill(fade, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (t *Token) kill(fade time.Duration, f *Future) error {
	if t.State() == Killed {
		return ErrAlreadyKilled
	}
	if f != nil {
		t.killFutures = append(t.killFutures, f)
	}
	wasIdle := t.State() == Idle
	t.markKilled(ReasonKilled)
	t.schedule = nil

	for _, c := range t.Children() {
		if c.State() != Killed {
			_ = c.Kill(fade)
		}
	}

	if t.group || wasIdle || fade <= 0 || t.level == 0 {
		t.finishKill()
		return nil
	}
	t.frozen = false
	t.startFade(0, fade, t.finishKill)
	return nil
}

// Halt kills the token with no fade and tears it down on the spot, even
// when a kill fade is already running. Used when the voice is needed now.
func (t *Token) Halt() {
	t.tl.Enter()
	defer t.tl.Leave()

	if t.destroyed {
		return
	}
	if t.State() != Killed {
		t.markKilled(ReasonKilled)
	}
	t.schedule = nil
	for _, c := range t.Children() {
		c.Halt()
	}
	t.teardown()
}

func (t *Token) markKilled(reason Reason) {
	t.state.Store(int32(Killed))
	t.reason = reason
	if t.hooks.Killed != nil {
		t.hooks.Killed(t)
	}
	for _, f := range t.playFutures {
		f.resolve(reason)
	}
	t.playFutures = nil
}

func (t *Token) finishKill() {
	if len(t.children) > 0 {
		t.awaitingChildren = true
		return
	}
	t.teardown()
}

func (t *Token) teardown() {
	if t.destroyed {
		return
	}
	t.destroyed = true
	t.fade = fadeNone
	t.level = 0

	if t.hooks.Destroyed != nil {
		t.hooks.Destroyed(t)
	}
	t.voice = nil

	reason := t.reason
	for _, f := range t.playFutures {
		f.resolve(reason)
	}
	for _, f := range t.killFutures {
		f.resolve(reason)
	}
	t.playFutures = nil
	t.killFutures = nil

	observers := t.completeObservers
	t.completeObservers = nil
	t.frameObservers = nil
	if len(observers) > 0 {
		t.tl.Defer(func() {
			for _, fn := range observers {
				fn(t, reason)
			}
		})
	}

	if t.parent != nil {
		t.parent.childFinished(t)
	}
}

// Schedule queues fire to run when a group's elapsed time reaches at
func (t *Token) Schedule(at time.Duration, fire func(late time.Duration) (*Token, error)) error {
	if !t.group {
		return fmt.Errorf("%w: schedule on a leaf token", ErrInvalidState)
	}
	if t.State() == Killed {
		return ErrAlreadyKilled
	}
	i := len(t.schedule)
	for i > 0 && t.schedule[i-1].at > at {
		i--
	}
	t.schedule = slices.Insert(t.schedule, i, scheduled{at: at, fire: fire})
	if d := int64(at); d > t.duration.Load() {
		t.duration.Store(d)
	}
	return nil
}

// Adopt makes c a child of the group, started at offset at of its timeline
func (t *Token) Adopt(c *Token, at time.Duration) {
	if c == nil || c.destroyed {
		return
	}
	c.parent = t
	t.children = append(t.children, c)
	if end := int64(at + c.Duration()); end > t.duration.Load() {
		t.duration.Store(end)
	}
}

// runDue realizes every entry whose time has come. The schedule keeps
// running through a pause fade; children started then join the pause.
func (t *Token) runDue() {
	now := t.Time()
	for i := range t.schedule {
		if !t.running() {
			return
		}
		e := &t.schedule[i]
		if e.done {
			continue
		}
		if e.at > now {
			break
		}
		e.done = true
		c, err := e.fire(now - e.at)
		if err != nil {
			t.childErrs = append(t.childErrs, err)
			continue
		}
		t.Adopt(c, e.at)
		if c != nil && t.State() == Paused && c.State() == Playing {
			_ = c.Pause(t.remainingFade())
		}
	}
	t.schedule = slices.DeleteFunc(t.schedule, func(e scheduled) bool { return e.done })
}

// running reports whether the token's clock is moving
func (t *Token) running() bool {
	s := t.State()
	return (s == Playing || s == Paused) && !t.frozen
}

func (t *Token) remainingFade() time.Duration {
	if !t.fade.active {
		return 0
	}
	return t.fade.total - t.fade.spent
}

func (t *Token) childFinished(c *Token) {
	t.children = slices.DeleteFunc(t.children, func(x *Token) bool { return x == c })
	if t.destroyed {
		return
	}
	if t.awaitingChildren {
		if len(t.children) == 0 {
			t.teardown()
		}
		return
	}
	t.checkGroupFinished()
}

func (t *Token) checkGroupFinished() {
	if !t.group || t.destroyed || t.State() != Playing || t.frozen {
		return
	}
	if len(t.schedule) == 0 && len(t.children) == 0 {
		t.markKilled(ReasonFinished)
		t.teardown()
	}
}

// Advance moves the token forward by dt: fades, position, natural
// completion and, for groups, due children
func (t *Token) Advance(dt time.Duration) {
	t.tl.Enter()
	defer t.tl.Leave()

	if t.destroyed || t.State() == Idle || dt < 0 {
		return
	}

	t.stepFade(dt)
	if t.destroyed {
		return
	}

	if !t.frozen {
		t.advanceTime(dt)
	}

	if !t.group {
		end := t.Duration()
		if !t.params.Loop && t.Time() >= end {
			if t.State() == Killed {
				// the sample ran out during the kill fade
				t.teardown()
				return
			}
			if !t.frozen {
				t.markKilled(ReasonFinished)
				t.teardown()
				return
			}
		}
	} else if t.running() {
		t.runDue()
		t.checkGroupFinished()
		if t.destroyed {
			return
		}
	}

	t.applyVolume()

	if len(t.frameObservers) > 0 {
		observers := slices.Clone(t.frameObservers)
		t.tl.Defer(func() {
			for _, fn := range observers {
				fn(t, dt)
			}
		})
	}
}

func (t *Token) advanceTime(dt time.Duration) {
	elapsed := t.Time() + dt
	if t.params.Loop && !t.group {
		if d := t.Duration(); d > 0 {
			elapsed %= d
		}
	}
	t.elapsed.Store(int64(elapsed))
}

func (t *Token) startFade(to float64, d time.Duration, then func()) {
	t.fade = fade{
		active: true,
		from:   t.level,
		to:     to,
		total:  d,
		then:   then,
	}
}

func (t *Token) stepFade(dt time.Duration) {
	if !t.fade.active {
		return
	}
	t.fade.spent += dt
	if t.fade.spent >= t.fade.total {
		t.level = t.fade.to
		then := t.fade.then
		t.fade = fadeNone
		if then != nil {
			then()
		}
		return
	}
	progress := float64(t.fade.spent) / float64(t.fade.total)
	t.level = t.fade.from + (t.fade.to-t.fade.from)*progress
}

func (t *Token) applyVolume() {
	if t.voice == nil {
		return
	}
	gain := 1.0
	if t.gain != nil {
		gain = t.gain()
	}
	t.voice.SetVolume(t.params.Volume * t.level * gain)
}

// Snapshot is a read-only copy of token state for diagnostics
type Snapshot struct {
	ID         string
	Definition string
	State      State
	Elapsed    time.Duration
	Duration   time.Duration
	Level      float64
	Group      bool
	Children   int
	Voice      int // slot, -1 when none
}

// Snapshot captures the current token state
func (t *Token) Snapshot() Snapshot {
	s := Snapshot{
		ID:         t.id,
		Definition: t.definition,
		State:      t.State(),
		Elapsed:    t.Time(),
		Duration:   t.Duration(),
		Level:      t.level,
		Group:      t.group,
		Children:   len(t.children),
		Voice:      -1,
	}
	if t.voice != nil {
		s.Voice = t.voice.Slot()
	}
	return s
}
