package sample

import (
	"bytes"
	"fmt"
)

const (
	oggCapture = "OggS"
	// packers like to prepend their own header to ogg payloads
	maxOggPrefix = 64
)

// trimOggPrefix drops junk in front of the first ogg page
func trimOggPrefix(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, []byte(oggCapture)) {
		return data, nil
	}
	head := data[:min(len(data), maxOggPrefix+len(oggCapture))]
	i := bytes.Index(head, []byte(oggCapture))
	if i < 0 {
		return nil, fmt.Errorf("%w: no ogg page in the first %d bytes", ErrUnsupportedFormat, maxOggPrefix)
	}
	return data[i:], nil
}
