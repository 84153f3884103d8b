package sample

import (
	"encoding/binary"
	"math"
)

// resample converts interleaved stereo int16 from one rate to another with
// linear interpolation and returns little-endian bytes
func resample(pcm []int16, from, to int) []byte {
	frames := len(pcm) / 2
	if from <= 0 || to <= 0 || from == to {
		out := make([]byte, frames*BytesPerFrame)
		for i := 0; i < frames*2; i++ {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(pcm[i]))
		}
		return out
	}

	outFrames := int(int64(frames) * int64(to) / int64(from))
	out := make([]byte, outFrames*BytesPerFrame)
	ratio := float64(from) / float64(to)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * ratio
		i := int(pos)
		frac := pos - float64(i)
		j := min(i+1, frames-1)
		for ch := 0; ch < 2; ch++ {
			a := float64(pcm[i*2+ch])
			b := float64(pcm[j*2+ch])
			v := math.Round(a + (b-a)*frac)
			binary.LittleEndian.PutUint16(out[(f*2+ch)*2:], uint16(int16(v)))
		}
	}
	return out
}
