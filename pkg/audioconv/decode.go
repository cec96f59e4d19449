// Package audioconv decodes compressed or PCM audio into the mono 16 kHz
// float32 samples whisper expects.
package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

const TargetRate = 16000

var (
	ErrUnsupported = errors.New("unsupported audio format")
	ErrEmpty       = errors.New("no audio samples")
)

type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOgg     Format = "ogg"
)

type Options struct {
	// MaxSamples truncates the output; 0 keeps everything.
	MaxSamples int
}

// Sniff guesses the container from the leading bytes, falling back to the
// file name extension.
func Sniff(data []byte, name string) Format {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return FormatOgg
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	case ".ogg", ".oga", ".opus":
		return FormatOgg
	}
	return FormatUnknown
}

// DecodeFile reads path and converts it with Decode.
func DecodeFile(path string, opt Options) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data, filepath.Base(path), opt)
}

// Decode converts an in-memory audio file to mono 16 kHz samples in [-1, 1].
func Decode(data []byte, name string, opt Options) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	var (
		pcm []float32
		err error
	)
	switch f := Sniff(data, name); f {
	case FormatWAV:
		pcm, err = decodeWAV(bytes.NewReader(data))
	case FormatMP3:
		pcm, err = decodeMP3(bytes.NewReader(data))
	case FormatOgg:
		pcm, err = decodeVorbis(bytes.NewReader(data))
		if err != nil {
			var opusErr error
			pcm, opusErr = decodeOpus(bytes.NewReader(data))
			if opusErr != nil {
				err = fmt.Errorf("ogg: vorbis: %v; opus: %w", err, opusErr)
			} else {
				err = nil
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrEmpty
	}

	if opt.MaxSamples > 0 && len(pcm) > opt.MaxSamples {
		pcm = pcm[:opt.MaxSamples]
	}
	return pcm, nil
}

func decodeWAV(r io.ReadSeeker) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, ErrEmpty
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}

	channels, rate := 1, 44100
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			rate = buf.Format.SampleRate
		}
	}

	return normalize(intsToFloat(buf.Data, depth), channels, rate), nil
}

func decodeMP3(r io.Reader) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	samples := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw[:len(samples)*2]), binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}

	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	// go-mp3 always emits interleaved stereo
	return normalize(int16sToFloat(samples), 2, rate), nil
}

func decodeVorbis(r io.Reader) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("vorbis: %w", err)
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return normalize(pcm, format.Channels, format.SampleRate), nil
}

func normalize(pcm []float32, channels, rate int) []float32 {
	return Resample(Downmix(pcm, channels), rate, TargetRate)
}
