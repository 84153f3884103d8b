package token

// Timeline serializes token mutation. Every public token operation enters
// the timeline for its duration; observer callbacks raised while inside are
// queued and run once the outermost operation has left, so an observer never
// sees a token halfway through a transition.
//
// A Timeline is not safe for concurrent use. Hosts with several goroutines
// funnel every call through one critical section (see engine.Engine.Do).
type Timeline struct {
	depth   int
	pending []func()
}

// NewTimeline returns an idle timeline
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Enter marks the start of a mutation
func (tl *Timeline) Enter() {
	tl.depth++
}

// Leave marks the end of a mutation and flushes queued notifications when
// the outermost one ends
func (tl *Timeline) Leave() {
	tl.depth--
	if tl.depth > 0 {
		return
	}
	tl.depth = 0
	for len(tl.pending) > 0 {
		batch := tl.pending
		tl.pending = nil

		// callbacks may mutate tokens again; anything they raise lands in
		// the next batch
		tl.depth++
		for _, fn := range batch {
			fn()
		}
		tl.depth--
	}
}

// Defer runs fn after the current mutation, or right away when idle
func (tl *Timeline) Defer(fn func()) {
	if tl.depth == 0 {
		tl.Enter()
		fn()
		tl.Leave()
		return
	}
	tl.pending = append(tl.pending, fn)
}

// Busy reports whether a mutation is in progress
func (tl *Timeline) Busy() bool {
	return tl.depth > 0
}
