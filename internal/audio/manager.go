package audio

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"zound-engine/internal/voice"
)

// Backend names the audio-output primitive voices are built on
type Backend string

const (
	BackendEbiten Backend = "ebiten"
	BackendOto    Backend = "oto"
	BackendNull   Backend = "null"
)

// SampleRate is the output rate used when nothing is configured
const SampleRate = 44100

var (
	ErrUnknownBackend    = errors.New("unknown audio backend")
	ErrUnsupportedSample = errors.New("sample is not decoded PCM")
	ErrClosed            = errors.New("audio output is closed")
)

// ParseBackend validates a configured backend name
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(name); b {
	case BackendEbiten, BackendOto, BackendNull:
		return b, nil
	case "":
		return BackendEbiten, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// Manager owns the device context of one backend and hands out voice outputs
type Manager struct {
	backend    Backend
	sampleRate int
	device     device
}

// device is the per-backend side of the manager
type device interface {
	newOutput(slot int) (voice.Output, error)
	close() error
}

// NewManager creates a new audio manager
func NewManager(backend Backend, sampleRate int) *Manager {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	return &Manager{backend: backend, sampleRate: sampleRate}
}

// Init opens the device context
func (m *Manager) Init() error {
	var err error
	switch m.backend {
	case BackendEbiten:
		m.device, err = newEbitenDevice(m.sampleRate)
	case BackendOto:
		m.device, err = newOtoDevice(m.sampleRate)
	case BackendNull:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, m.backend)
	}
	if err != nil {
		m.device = nil
		return fmt.Errorf("failed to initialize %s audio: %w", m.backend, err)
	}

	log.Info("Audio manager initialized", "backend", m.backend, "sample_rate", m.sampleRate)
	return nil
}

// Backend returns the backend in use
func (m *Manager) Backend() Backend {
	return m.backend
}

// SampleRate returns the device rate samples must be decoded to
func (m *Manager) SampleRate() int {
	return m.sampleRate
}

// Factory returns the voice pool output factory for the backend
func (m *Manager) Factory() voice.OutputFactory {
	if m.backend == BackendNull {
		return voice.NullFactory(nil)
	}
	return func(slot int) (voice.Output, error) {
		if m.device == nil {
			return nil, fmt.Errorf("%s audio is not initialized", m.backend)
		}
		return m.device.newOutput(slot)
	}
}

// Cleanup releases the device context. Outputs are closed by their pool.
func (m *Manager) Cleanup() error {
	var err error
	if m.device != nil {
		err = m.device.close()
		m.device = nil
	}
	log.Info("Audio manager cleaned up", "backend", m.backend)
	return err
}
