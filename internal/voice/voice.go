package voice

import (
	"time"
)

// Sample is whatever audio resource an output can start. The pool only needs
// its length; outputs type-assert to the concrete kind they understand.
type Sample interface {
	Duration() time.Duration
}

// Params is the per-playback state applied to a voice when it is started
type Params struct {
	Volume float64
	Pitch  float64
	Route  string
	Loop   bool
	// Offset is how far into the playback, in token time, output starts
	Offset time.Duration
}

// Output is the underlying audio-output primitive one voice drives
type Output interface {
	Start(s Sample, p Params) error
	SetVolume(volume float64)
	Pause()
	Resume()
	Stop()
	// Valid reports whether the underlying resource can still be used
	Valid() bool
	Close() error
}

// OutputFactory creates the output behind pool slot
type OutputFactory func(slot int) (Output, error)

// Voice is one physical playback slot
type Voice struct {
	slot   int
	out    Output
	busy   bool
	volume float64
	pitch  float64
	route  string
}

func newVoice(slot int, out Output) *Voice {
	v := &Voice{slot: slot, out: out}
	v.reset()
	return v
}

// Slot returns the voice index in its pool
func (v *Voice) Slot() int {
	return v.slot
}

// Busy reports whether a token currently owns the voice
func (v *Voice) Busy() bool {
	return v.busy
}

// Start begins playing s with p on the output
func (v *Voice) Start(s Sample, p Params) error {
	v.volume = p.Volume
	v.pitch = p.Pitch
	v.route = p.Route
	return v.out.Start(s, p)
}

// SetVolume changes the output level
func (v *Voice) SetVolume(volume float64) {
	v.volume = volume
	v.out.SetVolume(volume)
}

func (v *Voice) Pause()  { v.out.Pause() }
func (v *Voice) Resume() { v.out.Resume() }

// Volume returns the last level applied
func (v *Voice) Volume() float64 { return v.volume }

// Pitch returns the playback rate the voice was started with
func (v *Voice) Pitch() float64 { return v.pitch }

// Route returns the routing target the voice was started with
func (v *Voice) Route() string { return v.route }

// reset stops the output and clears everything a previous owner set
func (v *Voice) reset() {
	v.out.Stop()
	v.volume = 1
	v.pitch = 1
	v.route = ""
	v.out.SetVolume(1)
}
