package voice

// NullOutput is a silent output that only records what it was told.
// It backs headless runs and tests.
type NullOutput struct {
	Slot    int
	Playing bool
	Paused  bool
	Volume  float64
	Params  Params
	Starts  int
	Closed  bool
	invalid bool
}

// NullFactory returns a factory producing NullOutputs. Every created output
// is also appended to *created when it is non-nil.
func NullFactory(created *[]*NullOutput) OutputFactory {
	return func(slot int) (Output, error) {
		out := &NullOutput{Slot: slot, Volume: 1}
		if created != nil {
			*created = append(*created, out)
		}
		return out, nil
	}
}

func (o *NullOutput) Start(_ Sample, p Params) error {
	o.Params = p
	o.Volume = p.Volume
	o.Playing = true
	o.Paused = false
	o.Starts++
	return nil
}

func (o *NullOutput) SetVolume(volume float64) { o.Volume = volume }
func (o *NullOutput) Pause()                   { o.Paused = true }
func (o *NullOutput) Resume()                  { o.Paused = false }

func (o *NullOutput) Stop() {
	o.Playing = false
	o.Paused = false
}

func (o *NullOutput) Valid() bool { return !o.invalid && !o.Closed }

// Invalidate marks the output as backed by a destroyed resource
func (o *NullOutput) Invalidate() { o.invalid = true }

func (o *NullOutput) Close() error {
	o.Closed = true
	return nil
}
