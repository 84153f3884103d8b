package voice

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

var ErrExhausted = errors.New("voice pool exhausted")

// Stats is a point-in-time view of pool occupancy
type Stats struct {
	Capacity int
	Created  int
	Busy     int
	Idle     int
}

// Pool hands out a bounded number of reusable voices
type Pool struct {
	capacity int
	factory  OutputFactory
	voices   []*Voice // ordered by slot
	nextSlot int
}

// NewPool creates a pool of at most capacity voices. Outputs are created
// lazily the first time a slot is needed.
func NewPool(capacity int, factory OutputFactory) (*Pool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("pool capacity must be at least 1, got %d", capacity)
	}
	if factory == nil {
		return nil, errors.New("pool needs an output factory")
	}
	log.Debug("Voice pool created", "capacity", capacity)
	return &Pool{
		capacity: capacity,
		factory:  factory,
		voices:   make([]*Voice, 0, capacity),
	}, nil
}

// Acquire returns the first idle voice, creating one if there is room.
// The pool never culls; callers free a voice themselves before retrying.
func (p *Pool) Acquire() (*Voice, error) {
	for _, v := range p.voices {
		if !v.busy && v.out.Valid() {
			v.busy = true
			return v, nil
		}
	}

	if len(p.voices) >= p.capacity {
		return nil, ErrExhausted
	}

	slot := p.nextSlot
	out, err := p.factory(slot)
	if err != nil {
		return nil, fmt.Errorf("failed to create output for slot %d: %w", slot, err)
	}
	p.nextSlot++

	v := newVoice(slot, out)
	v.busy = true
	p.voices = append(p.voices, v)
	return v, nil
}

// Release resets v and returns it to the idle set. Releasing an idle voice
// or one from another pool does nothing.
func (p *Pool) Release(v *Voice) {
	if v == nil || !v.busy || !p.owns(v) {
		return
	}
	v.reset()
	v.busy = false
}

// CleanupUnused drops idle voices whose output is no longer valid and
// returns how many were removed
func (p *Pool) CleanupUnused() int {
	kept := p.voices[:0]
	removed := 0
	for _, v := range p.voices {
		if !v.busy && !v.out.Valid() {
			if err := v.out.Close(); err != nil {
				log.Warn("Failed to close voice output", "slot", v.slot, "err", err)
			}
			removed++
			continue
		}
		kept = append(kept, v)
	}
	clear(p.voices[len(kept):])
	p.voices = kept

	if removed > 0 {
		log.Info("Voice pool cleaned up", "removed", removed, "remaining", len(p.voices))
	}
	return removed
}

// HasIdle reports whether Acquire would succeed without culling
func (p *Pool) HasIdle() bool {
	if len(p.voices) < p.capacity {
		return true
	}
	for _, v := range p.voices {
		if !v.busy && v.out.Valid() {
			return true
		}
	}
	return false
}

// Stats returns the current occupancy
func (p *Pool) Stats() Stats {
	s := Stats{Capacity: p.capacity, Created: len(p.voices)}
	for _, v := range p.voices {
		if v.busy {
			s.Busy++
		} else {
			s.Idle++
		}
	}
	return s
}

// Close stops and closes every output. The pool is empty afterwards.
func (p *Pool) Close() error {
	var errs []error
	for _, v := range p.voices {
		v.out.Stop()
		if err := v.out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("slot %d: %w", v.slot, err))
		}
	}
	p.voices = p.voices[:0]
	log.Debug("Voice pool closed")
	return errors.Join(errs...)
}

func (p *Pool) owns(v *Voice) bool {
	for _, own := range p.voices {
		if own == v {
			return true
		}
	}
	return false
}
