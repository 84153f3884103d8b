package engine

// Option adjusts a single trigger
type Option func(*modifiers)

type modifiers struct {
	volume float64
	pitch  float64
	route  *string
}

func newModifiers(opts []Option) modifiers {
	m := modifiers{volume: 1, pitch: 1}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// WithVolume multiplies the rolled volume by v
func WithVolume(v float64) Option {
	return func(m *modifiers) {
		if v >= 0 {
			m.volume *= v
		}
	}
}

// WithPitch multiplies the rolled pitch by p
func WithPitch(p float64) Option {
	return func(m *modifiers) {
		if p > 0 {
			m.pitch *= p
		}
	}
}

// WithRoute overrides the definition's routing target
func WithRoute(route string) Option {
	return func(m *modifiers) {
		m.route = &route
	}
}
