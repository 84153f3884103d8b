package engine

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"zound-engine/internal/culling"
	"zound-engine/internal/voice"
)

// Diagnostics is a read-only picture of the engine for tooling
type Diagnostics struct {
	Now       time.Duration
	Pool      voice.Stats
	Live      int
	Groups    []culling.Group
	Cooldowns map[string]time.Duration // only definitions still cooling down
}

// Diagnostics captures pool occupancy, culling groups and cooldowns
func (e *Engine) Diagnostics() Diagnostics {
	d := Diagnostics{
		Now:       e.now,
		Pool:      e.pool.Stats(),
		Live:      len(e.live),
		Groups:    e.ledger.Groups(),
		Cooldowns: make(map[string]time.Duration),
	}
	for _, name := range e.ledger.Names() {
		if remaining := e.RemainingCooldown(name); remaining > 0 {
			d.Cooldowns[name] = remaining
		}
	}
	return d
}

// String renders the diagnostics as the overlay and simulate output show it
func (d Diagnostics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "t=%s voices %d/%d busy (%d created, %d idle) live=%d\n",
		d.Now.Round(time.Millisecond), d.Pool.Busy, d.Pool.Capacity, d.Pool.Created, d.Pool.Idle, d.Live)

	for _, g := range d.Groups {
		fmt.Fprintf(&b, "%s [%d]", g.Name, len(g.Tokens))
		if cd, ok := d.Cooldowns[g.Name]; ok {
			fmt.Fprintf(&b, " cooldown %s", cd.Round(time.Millisecond))
		}
		b.WriteByte('\n')
		for _, t := range g.Tokens {
			fmt.Fprintf(&b, "  %s %-7s %s/%s", t.ID[:8], t.State, t.Elapsed.Round(time.Millisecond), t.Duration.Round(time.Millisecond))
			if t.Voice >= 0 {
				fmt.Fprintf(&b, " voice=%d", t.Voice)
			}
			if t.Group {
				fmt.Fprintf(&b, " children=%d", t.Children)
			}
			b.WriteByte('\n')
		}
	}

	for _, name := range slices.Sorted(maps.Keys(d.Cooldowns)) {
		if !d.hasGroup(name) {
			fmt.Fprintf(&b, "%s cooldown %s\n", name, d.Cooldowns[name].Round(time.Millisecond))
		}
	}
	return b.String()
}

func (d Diagnostics) hasGroup(name string) bool {
	for _, g := range d.Groups {
		if g.Name == name {
			return true
		}
	}
	return false
}
