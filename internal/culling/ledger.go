package culling

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"zound-engine/internal/token"
)

var ErrCooldownRejected = errors.New("trigger rejected by cooldown")

// Limits is the effective trigger policy of one definition
type Limits struct {
	// MaxInstances below 1 means no cap
	MaxInstances int
	Cooldown     time.Duration
	CullFade     time.Duration
}

// Verdict is the outcome of an admitted trigger
type Verdict int

const (
	Admit Verdict = iota
	AdmitAfterCull
)

func (v Verdict) String() string {
	if v == AdmitAfterCull {
		return "admit-after-cull"
	}
	return "admit"
}

// Decision tells the caller what to do before admitting a trigger
type Decision struct {
	Verdict Verdict
	// Evict holds the oldest tokens to kill with CullFade, first-triggered first
	Evict    []*token.Token
	CullFade time.Duration
}

type entry struct {
	active      []*token.Token // insertion order
	lastTrigger time.Duration
	triggered   bool
}

// Ledger keeps per-definition culling groups and cooldown timestamps
type Ledger struct {
	entries map[string]*entry
}

// NewLedger returns an empty ledger
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

// TryTrigger checks a trigger of name at engine time now against limits.
// It does not record anything; call Commit once the token exists.
func (l *Ledger) TryTrigger(name string, limits Limits, now time.Duration) (Decision, error) {
	e := l.entries[name]
	if e == nil {
		return Decision{Verdict: Admit}, nil
	}

	if remaining := e.remaining(limits.Cooldown, now); remaining > 0 {
		return Decision{}, fmt.Errorf("%w: %q for another %s", ErrCooldownRejected, name, remaining)
	}

	if limits.MaxInstances < 1 || len(e.active) < limits.MaxInstances {
		return Decision{Verdict: Admit}, nil
	}

	over := len(e.active) - limits.MaxInstances + 1
	return Decision{
		Verdict:  AdmitAfterCull,
		Evict:    slices.Clone(e.active[:over]),
		CullFade: limits.CullFade,
	}, nil
}

// Commit records tok as the newest active instance of name
func (l *Ledger) Commit(name string, tok *token.Token, now time.Duration) {
	e := l.entries[name]
	if e == nil {
		e = &entry{}
		l.entries[name] = e
	}
	e.active = append(e.active, tok)
	e.lastTrigger = now
	e.triggered = true
}

// Remove drops exactly tok from the group of name and reports whether it was there
func (l *Ledger) Remove(name string, tok *token.Token) bool {
	e := l.entries[name]
	if e == nil {
		return false
	}
	i := slices.Index(e.active, tok)
	if i < 0 {
		return false
	}
	e.active = slices.Delete(e.active, i, i+1)
	return true
}

// Active returns the active tokens of name, oldest first
func (l *Ledger) Active(name string) []*token.Token {
	if e := l.entries[name]; e != nil {
		return slices.Clone(e.active)
	}
	return nil
}

// Count returns how many tokens of name are active
func (l *Ledger) Count(name string) int {
	if e := l.entries[name]; e != nil {
		return len(e.active)
	}
	return 0
}

// RemainingCooldown returns how long until name may trigger again
func (l *Ledger) RemainingCooldown(name string, cooldown, now time.Duration) time.Duration {
	if e := l.entries[name]; e != nil {
		return e.remaining(cooldown, now)
	}
	return 0
}

// Group is the diagnostics view of one culling group
type Group struct {
	Name        string
	LastTrigger time.Duration
	Tokens      []token.Snapshot
}

// Groups lists every group with active tokens, sorted by name
func (l *Ledger) Groups() []Group {
	names := make([]string, 0, len(l.entries))
	for name, e := range l.entries {
		if len(e.active) > 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	groups := make([]Group, 0, len(names))
	for _, name := range names {
		e := l.entries[name]
		g := Group{Name: name, LastTrigger: e.lastTrigger, Tokens: make([]token.Snapshot, len(e.active))}
		for i, tok := range e.active {
			g.Tokens[i] = tok.Snapshot()
		}
		groups = append(groups, g)
	}
	return groups
}

// Names lists every definition the ledger has seen, sorted
func (l *Ledger) Names() []string {
	names := make([]string, 0, len(l.entries))
	for name := range l.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Clear forgets all groups and cooldowns
func (l *Ledger) Clear() {
	clear(l.entries)
}

func (e *entry) remaining(cooldown, now time.Duration) time.Duration {
	if !e.triggered || cooldown <= 0 {
		return 0
	}
	if since := now - e.lastTrigger; since < cooldown {
		return cooldown - since
	}
	return 0
}
