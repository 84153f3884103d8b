package sample

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/mpeg"
	"github.com/hajimehoshi/ebiten/v2/audio/mp3"
	"github.com/hajimehoshi/ebiten/v2/audio/vorbis"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"

	"zound-engine/internal/voice"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Reader resolves sample references to their file content
type Reader interface {
	ReadFile(name string) ([]byte, error)
}

// Loader decodes samples on first use and keeps them in memory
type Loader struct {
	fs         Reader
	sampleRate int

	mu    sync.Mutex
	cache map[string]*Sample
}

// NewLoader creates a loader decoding everything to sampleRate
func NewLoader(fs Reader, sampleRate int) *Loader {
	return &Loader{
		fs:         fs,
		sampleRate: sampleRate,
		cache:      make(map[string]*Sample),
	}
}

// SampleRate returns the output rate samples are decoded to
func (l *Loader) SampleRate() int {
	return l.sampleRate
}

// Load returns the decoded sample for ref, decoding it if needed
func (l *Loader) Load(ref string) (voice.Sample, error) {
	return l.Get(ref)
}

// Get is Load returning the concrete sample
func (l *Loader) Get(ref string) (*Sample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.cache[ref]; ok {
		return s, nil
	}

	s, err := l.decode(ref)
	if err != nil {
		return nil, err
	}
	l.cache[ref] = s
	log.Debug("Sample decoded", "ref", ref, "duration", s.Duration(), "bytes", len(s.PCM))
	return s, nil
}

// Preload decodes every ref, reporting all failures together
func (l *Loader) Preload(refs ...string) error {
	var errs []error
	for _, ref := range refs {
		if _, err := l.Get(ref); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info("Sample preloading completed", "requested", len(refs), "failed", len(errs))
	return errors.Join(errs...)
}

// MemoryUsage returns the total PCM bytes held by the cache
func (l *Loader) MemoryUsage() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, s := range l.cache {
		total += len(s.PCM)
	}
	return total
}

// Forget drops every cached sample
func (l *Loader) Forget() {
	l.mu.Lock()
	clear(l.cache)
	l.mu.Unlock()
}

func (l *Loader) decode(ref string) (*Sample, error) {
	data, err := l.fs.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample %s: %w", ref, err)
	}

	pcm, err := l.decodePCM(ref, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sample %s: %w", ref, err)
	}
	return &Sample{Ref: ref, PCM: pcm, SampleRate: l.sampleRate}, nil
}

func (l *Loader) decodePCM(ref string, data []byte) ([]byte, error) {
	r := bytes.NewReader(data)
	switch ext := strings.ToLower(filepath.Ext(ref)); ext {
	case ".ogg":
		data, err := trimOggPrefix(data)
		if err != nil {
			return nil, err
		}
		stream, err := vorbis.DecodeWithSampleRate(l.sampleRate, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(stream)
	case ".wav":
		stream, err := wav.DecodeWithSampleRate(l.sampleRate, r)
		if err != nil {
			return nil, err
		}
		return io.ReadAll(stream)
	case ".mp3":
		stream, err := mp3.DecodeWithSampleRate(l.sampleRate, r)
		if err != nil {
			return nil, err
		}
		return io.ReadAll(stream)
	case ".mpg", ".mpeg", ".mp2":
		return decodeMPEG(r, l.sampleRate)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// decodeMPEG pulls the first audio track out of an MPEG-1 program stream
func decodeMPEG(r io.Reader, sampleRate int) ([]byte, error) {
	m, err := mpeg.New(r)
	if err != nil {
		return nil, err
	}
	if m.NumAudioStreams() == 0 {
		return nil, fmt.Errorf("%w: mpeg stream has no audio track", ErrUnsupportedFormat)
	}
	m.SetVideoEnabled(false)
	m.SetAudioFormat(mpeg.AudioS16)

	var pcm []int16
	for {
		samples := m.DecodeAudio()
		if samples == nil {
			break
		}
		pcm = append(pcm, samples.S16...)
	}
	return resample(pcm, m.Samplerate(), sampleRate), nil
}
