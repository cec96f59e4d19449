//go:build opus

package audioconv

import (
	"bytes"
	"errors"
	"io"

	popus "github.com/pekim/opus"
)

const opusRate = 48000

func decodeOpus(r *bytes.Reader) ([]float32, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	channels := dec.ChannelCount()
	if channels <= 0 {
		channels = 1
	}

	var (
		pcm []float32
		buf = make([]int16, opusRate/2*channels)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, int16sToFloat(buf[:n*channels])...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return normalize(pcm, channels, opusRate), nil
}
