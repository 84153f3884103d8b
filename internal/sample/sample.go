package sample

import (
	"encoding/binary"
	"io"
	"math"
	"time"
)

// BytesPerFrame is the size of one 16-bit stereo frame
const BytesPerFrame = 4

// Sample is a fully decoded clip in 16-bit little-endian stereo PCM
type Sample struct {
	Ref        string
	PCM        []byte
	SampleRate int
}

// Frames returns the number of stereo frames in the clip
func (s *Sample) Frames() int {
	return len(s.PCM) / BytesPerFrame
}

// Duration returns the clip length at its native rate
func (s *Sample) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.Frames()) * time.Second / time.Duration(s.SampleRate)
}

// Stream reads a sample at a playback rate, optionally looping forever
type Stream struct {
	s    *Sample
	pos  float64
	step float64
	loop bool
}

// NewStream returns a PCM reader over s. Pitch scales the playback rate
// with linear interpolation between frames; 1 reproduces the clip.
func NewStream(s *Sample, pitch float64, loop bool) *Stream {
	if pitch <= 0 {
		pitch = 1
	}
	return &Stream{s: s, step: pitch, loop: loop}
}

func (st *Stream) Read(p []byte) (int, error) {
	frames := st.s.Frames()
	pcm := st.s.PCM
	n := 0
	for n+BytesPerFrame <= len(p) {
		if st.pos >= float64(frames) {
			if !st.loop || frames == 0 {
				break
			}
			st.pos = math.Mod(st.pos, float64(frames))
		}

		i := int(st.pos)
		frac := st.pos - float64(i)
		j := i + 1
		if j >= frames {
			if st.loop {
				j = 0
			} else {
				j = i
			}
		}

		for ch := 0; ch < 2; ch++ {
			a := float64(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerFrame+ch*2:])))
			b := float64(int16(binary.LittleEndian.Uint16(pcm[j*BytesPerFrame+ch*2:])))
			v := a + (b-a)*frac
			binary.LittleEndian.PutUint16(p[n+ch*2:], uint16(int16(math.Round(v))))
		}
		n += BytesPerFrame
		st.pos += st.step
	}

	if n == 0 && len(p) >= BytesPerFrame {
		return 0, io.EOF
	}
	return n, nil
}

// Skip moves the stream forward by d of playback time at its pitch
func (st *Stream) Skip(d time.Duration) {
	if d <= 0 || st.s.SampleRate <= 0 {
		return
	}
	st.pos += d.Seconds() * float64(st.s.SampleRate) * st.step
	if frames := float64(st.s.Frames()); st.loop && frames > 0 {
		st.pos = math.Mod(st.pos, frames)
	}
}

// Position returns the current stream position as time into the clip
func (st *Stream) Position() time.Duration {
	if st.s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(st.pos * float64(time.Second) / float64(st.s.SampleRate))
}
