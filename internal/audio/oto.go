package audio

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"zound-engine/internal/sample"
	"zound-engine/internal/voice"
)

type otoDevice struct {
	context    *oto.Context
	sampleRate int
}

func newOtoDevice(sampleRate int) (*otoDevice, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready
	return &otoDevice{context: ctx, sampleRate: sampleRate}, nil
}

func (d *otoDevice) newOutput(slot int) (voice.Output, error) {
	return &otoOutput{device: d, slot: slot}, nil
}

func (d *otoDevice) close() error {
	return d.context.Suspend()
}

// otoOutput streams one sample through an oto player
type otoOutput struct {
	device *otoDevice
	slot   int
	player *oto.Player
	closed bool
}

func (o *otoOutput) Start(s voice.Sample, p voice.Params) error {
	if o.closed {
		return ErrClosed
	}
	pcm, ok := s.(*sample.Sample)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedSample, s)
	}
	if pcm.SampleRate != o.device.sampleRate {
		return fmt.Errorf("sample %s is %d Hz, device is %d Hz", pcm.Ref, pcm.SampleRate, o.device.sampleRate)
	}

	o.Stop()
	stream := sample.NewStream(pcm, p.Pitch, p.Loop)
	stream.Skip(p.Offset)
	o.player = o.device.context.NewPlayer(stream)
	o.player.SetVolume(p.Volume)
	o.player.Play()
	return nil
}

func (o *otoOutput) SetVolume(volume float64) {
	if o.player != nil {
		o.player.SetVolume(volume)
	}
}

func (o *otoOutput) Pause() {
	if o.player != nil {
		o.player.Pause()
	}
}

func (o *otoOutput) Resume() {
	if o.player != nil {
		o.player.Play()
	}
}

func (o *otoOutput) Stop() {
	if o.player == nil {
		return
	}
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		log.Warn("Failed to close oto player", "slot", o.slot, "err", err)
	}
	o.player = nil
}

func (o *otoOutput) Valid() bool {
	return !o.closed
}

func (o *otoOutput) Close() error {
	o.Stop()
	o.closed = true
	return nil
}
