package audio

import (
	"fmt"

	"github.com/charmbracelet/log"
	ebaudio "github.com/hajimehoshi/ebiten/v2/audio"

	"zound-engine/internal/sample"
	"zound-engine/internal/voice"
)

type ebitenDevice struct {
	context *ebaudio.Context
}

// ebiten allows one audio context per process, so an existing one is reused
func newEbitenDevice(sampleRate int) (*ebitenDevice, error) {
	if ctx := ebaudio.CurrentContext(); ctx != nil {
		if ctx.SampleRate() != sampleRate {
			return nil, fmt.Errorf("ebiten audio context already runs at %d Hz, want %d", ctx.SampleRate(), sampleRate)
		}
		return &ebitenDevice{context: ctx}, nil
	}
	return &ebitenDevice{context: ebaudio.NewContext(sampleRate)}, nil
}

func (d *ebitenDevice) newOutput(slot int) (voice.Output, error) {
	return &ebitenOutput{context: d.context, slot: slot}, nil
}

func (d *ebitenDevice) close() error { return nil }

// ebitenOutput plays one stream at a time through an ebiten audio.Player
type ebitenOutput struct {
	context *ebaudio.Context
	slot    int
	player  *ebaudio.Player
	closed  bool
}

func (o *ebitenOutput) Start(s voice.Sample, p voice.Params) error {
	if o.closed {
		return ErrClosed
	}
	pcm, ok := s.(*sample.Sample)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedSample, s)
	}
	if pcm.SampleRate != o.context.SampleRate() {
		return fmt.Errorf("sample %s is %d Hz, context is %d Hz", pcm.Ref, pcm.SampleRate, o.context.SampleRate())
	}

	o.Stop()
	stream := sample.NewStream(pcm, p.Pitch, p.Loop)
	stream.Skip(p.Offset)
	player, err := o.context.NewPlayer(stream)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	player.SetVolume(p.Volume)
	player.Play()
	o.player = player
	return nil
}

func (o *ebitenOutput) SetVolume(volume float64) {
	if o.player != nil {
		o.player.SetVolume(volume)
	}
}

func (o *ebitenOutput) Pause() {
	if o.player != nil {
		o.player.Pause()
	}
}

func (o *ebitenOutput) Resume() {
	if o.player != nil {
		o.player.Play()
	}
}

func (o *ebitenOutput) Stop() {
	if o.player == nil {
		return
	}
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		log.Warn("Failed to close player", "slot", o.slot, "err", err)
	}
	o.player = nil
}

func (o *ebitenOutput) Valid() bool {
	return !o.closed
}

func (o *ebitenOutput) Close() error {
	o.Stop()
	o.closed = true
	return nil
}
