// Package simulate drives an engine headless from a list of timed triggers.
package simulate

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"zound-engine/internal/engine"
	"zound-engine/internal/voice"
)

// Trigger plays Name once the engine clock reaches At
type Trigger struct {
	Name string
	At   time.Duration
}

// ParseTrigger reads "name@250ms". A bare name fires at zero.
func ParseTrigger(s string) (Trigger, error) {
	name, at, found := strings.Cut(s, "@")
	name = strings.TrimSpace(name)
	if name == "" {
		return Trigger{}, fmt.Errorf("trigger %q has no sound name", s)
	}
	if !found {
		return Trigger{Name: name}, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(at))
	if err != nil {
		return Trigger{}, fmt.Errorf("trigger %q: %w", s, err)
	}
	if d < 0 {
		return Trigger{}, fmt.Errorf("trigger %q fires before the start", s)
	}
	return Trigger{Name: name, At: d}, nil
}

// Outcome is what happened to one trigger
type Outcome struct {
	Trigger
	Fired time.Duration // engine clock when it was issued
	Token string        // empty when rejected
	Err   error
}

// Result is the record of one run
type Result struct {
	Outcomes []Outcome
	Final    engine.Diagnostics
}

// Admitted counts the triggers that produced a token
func (r Result) Admitted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Run issues triggers in time order while ticking e by tick until duration
// has elapsed. Triggers land on the first tick boundary at or after At.
func Run(e *engine.Engine, triggers []Trigger, duration, tick time.Duration) (Result, error) {
	if tick <= 0 {
		return Result{}, fmt.Errorf("tick must be positive, got %s", tick)
	}

	pending := slices.Clone(triggers)
	slices.SortStableFunc(pending, func(a, b Trigger) int { return cmp.Compare(a.At, b.At) })

	var res Result
	fire := func() {
		for len(pending) > 0 && pending[0].At <= e.Now() {
			tr := pending[0]
			pending = pending[1:]

			out := Outcome{Trigger: tr, Fired: e.Now()}
			tok, err := e.Play(tr.Name)
			if err != nil {
				out.Err = err
				log.Debug("Simulated trigger rejected", "sound", tr.Name, "at", out.Fired, "err", err)
			} else {
				out.Token = tok.ID()
			}
			res.Outcomes = append(res.Outcomes, out)
		}
	}

	start := e.Now()
	for {
		fire()
		elapsed := e.Now() - start
		if elapsed >= duration {
			break
		}
		e.Tick(min(tick, duration-elapsed))
	}

	for _, tr := range pending {
		res.Outcomes = append(res.Outcomes, Outcome{Trigger: tr, Fired: -1, Err: fmt.Errorf("not reached within %s", duration)})
	}
	res.Final = e.Diagnostics()
	return res, nil
}

// Report renders the outcomes followed by the final diagnostics
func (r Result) Report() string {
	var b strings.Builder
	for _, o := range r.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(&b, "%8s %-16s rejected: %v\n", o.At, o.Name, o.Err)
			continue
		}
		fmt.Fprintf(&b, "%8s %-16s token %s\n", o.Fired, o.Name, o.Token[:8])
	}
	fmt.Fprintf(&b, "\n%d/%d admitted\n", r.Admitted(), len(r.Outcomes))
	b.WriteString(r.Final.String())
	return b.String()
}

type fixedClip time.Duration

func (c fixedClip) Duration() time.Duration { return time.Duration(c) }

// FixedSource stands in for decoded samples: every reference is a clip of
// the same length
type FixedSource time.Duration

func (f FixedSource) Load(string) (voice.Sample, error) {
	return fixedClip(f), nil
}
