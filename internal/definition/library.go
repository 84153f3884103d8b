package definition

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrNotFound         = errors.New("definition not found")
	ErrCyclicDefinition = errors.New("cyclic definition")
	ErrDuplicateName    = errors.New("duplicate definition name")
	ErrInvalid          = errors.New("invalid definition")
)

// LoadError collects every definition rejected while building a library.
// The library returned alongside it still holds all valid definitions.
type LoadError struct {
	Errs []error
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d definition(s) rejected: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *LoadError) Unwrap() []error {
	return e.Errs
}

// Library is an immutable, name-indexed set of definitions
type Library struct {
	defs map[string]*Definition
}

// NewLibrary validates defs and builds a library out of the ones that pass.
// Rejected definitions are reported through a *LoadError; the library is
// never nil so callers may keep going with a partial set.
func NewLibrary(defs ...Definition) (*Library, error) {
	lib := &Library{defs: make(map[string]*Definition, len(defs))}
	var errs []error

	// Structural checks and duplicates, first occurrence wins
	for _, d := range defs {
		c := d.clone()
		if err := c.validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, exists := lib.defs[c.Name]; exists {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateName, c.Name))
			continue
		}
		lib.defs[c.Name] = c
	}

	// Cycles, every definition on a cycle is dropped
	for _, name := range lib.cycleMembers(&errs) {
		delete(lib.defs, name)
	}

	// Dangling references, repeated because dropping one composite can
	// leave another pointing at nothing
	for {
		var dangling []string
		for _, name := range lib.Names() {
			d := lib.defs[name]
			for _, e := range d.Entries {
				if _, ok := lib.defs[e.Name]; !ok {
					errs = append(errs, fmt.Errorf("%w: %q references unknown %q", ErrNotFound, d.Name, e.Name))
					dangling = append(dangling, name)
					break
				}
			}
		}
		if len(dangling) == 0 {
			break
		}
		for _, name := range dangling {
			delete(lib.defs, name)
		}
	}

	if len(errs) > 0 {
		return lib, &LoadError{Errs: errs}
	}
	return lib, nil
}

// cycleMembers splits the reference graph into strongly connected
// components and returns every definition inside a cyclic one. Each member
// gets its own error carrying the shortest cycle through it.
func (l *Library) cycleMembers(errs *[]error) []string {
	index := make(map[string]int, len(l.defs))
	low := make(map[string]int, len(l.defs))
	component := make(map[string]int, len(l.defs))
	onStack := make(map[string]bool)
	var (
		stack   []string
		members []string
		next    int
		count   int
	)

	var connect func(name string)
	connect = func(name string) {
		index[name] = next
		low[name] = next
		next++
		stack = append(stack, name)
		onStack[name] = true

		for _, e := range l.defs[name].Entries {
			if _, ok := l.defs[e.Name]; !ok {
				continue
			}
			if _, seen := index[e.Name]; !seen {
				connect(e.Name)
				low[name] = min(low[name], low[e.Name])
			} else if onStack[e.Name] {
				low[name] = min(low[name], index[e.Name])
			}
		}
		if low[name] != index[name] {
			return
		}

		var scc []string
		for {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[n] = false
			component[n] = count
			scc = append(scc, n)
			if n == name {
				break
			}
		}
		count++
		if len(scc) > 1 || l.refersTo(name, name) {
			members = append(members, scc...)
		}
	}

	for _, name := range l.Names() {
		if _, seen := index[name]; !seen {
			connect(name)
		}
	}

	slices.Sort(members)
	for _, name := range members {
		path := l.shortestCycle(name, component)
		*errs = append(*errs, fmt.Errorf("%w: %s", ErrCyclicDefinition, strings.Join(path, " -> ")))
	}
	return members
}

func (l *Library) refersTo(from, to string) bool {
	return slices.ContainsFunc(l.defs[from].Entries, func(e Entry) bool { return e.Name == to })
}

// shortestCycle walks breadth first from start inside its component and
// returns the first path leading back to it
func (l *Library) shortestCycle(start string, component map[string]int) []string {
	prev := make(map[string]string)
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, e := range l.defs[name].Entries {
			if _, ok := l.defs[e.Name]; !ok || component[e.Name] != component[start] {
				continue
			}
			if e.Name == start {
				var back []string
				for n := name; n != start; n = prev[n] {
					back = append(back, n)
				}
				slices.Reverse(back)
				path := append([]string{start}, back...)
				return append(path, start)
			}
			if !seen[e.Name] {
				seen[e.Name] = true
				prev[e.Name] = name
				queue = append(queue, e.Name)
			}
		}
	}
	return []string{start}
}

// Resolve looks a definition up by its case-sensitive name
func (l *Library) Resolve(name string) (*Definition, error) {
	if l != nil {
		if d, ok := l.defs[name]; ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Names returns every definition name in sorted order
func (l *Library) Names() []string {
	if l == nil {
		return nil
	}
	names := make([]string, 0, len(l.defs))
	for name := range l.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of loaded definitions
func (l *Library) Len() int {
	if l == nil {
		return 0
	}
	return len(l.defs)
}
