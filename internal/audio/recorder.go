package audio

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const SampleRate = 16000

var ErrNoSpeech = errors.New("no speech detected")

type RecorderConfig struct {
	FrameSize       int           // samples per read, 320 = 20ms
	SilenceRMS      float64       // frames below this count as silence
	SilenceDuration time.Duration // trailing silence that ends a recording
	MaxDuration     time.Duration
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		FrameSize:       320,
		SilenceRMS:      0.015,
		SilenceDuration: 600 * time.Millisecond,
		MaxDuration:     10 * time.Second,
	}
}

// Recorder captures mono 16 kHz audio from the default input device.
type Recorder struct {
	cfg RecorderConfig
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	def := DefaultRecorderConfig()
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}
	if cfg.SilenceRMS <= 0 {
		cfg.SilenceRMS = def.SilenceRMS
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = def.SilenceDuration
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}
	return &Recorder{cfg: cfg}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// RecordAuto records from the first voiced frame until the speaker pauses,
// the context ends, or MaxDuration elapses.
func (r *Recorder) RecordAuto(ctx context.Context) ([]float32, error) {
	buf := make([]float32, r.cfg.FrameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	gate := newSilenceGate(r.cfg)
	maxFrames := int(r.cfg.MaxDuration.Seconds() * SampleRate / float64(r.cfg.FrameSize))

	for i := 0; i < maxFrames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}
		if gate.push(buf) {
			break
		}
	}

	if len(gate.out) == 0 {
		return nil, ErrNoSpeech
	}
	return gate.out, nil
}

// silenceGate collects frames once speech starts and reports when enough
// trailing silence has accumulated.
type silenceGate struct {
	threshold     float64
	silenceFrames int

	speaking bool
	quiet    int
	out      []float32
}

func newSilenceGate(cfg RecorderConfig) *silenceGate {
	frameDur := time.Duration(cfg.FrameSize) * time.Second / SampleRate
	n := int(cfg.SilenceDuration / frameDur)
	if n < 1 {
		n = 1
	}
	return &silenceGate{
		threshold:     cfg.SilenceRMS,
		silenceFrames: n,
		out:           make([]float32, 0, SampleRate*3),
	}
}

func (g *silenceGate) push(frame []float32) (done bool) {
	if frameRMS(frame) > g.threshold {
		g.speaking = true
		g.quiet = 0
		g.out = append(g.out, frame...)
		return false
	}
	if !g.speaking {
		return false
	}
	g.quiet++
	if g.quiet >= g.silenceFrames {
		return true
	}
	g.out = append(g.out, frame...)
	return false
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
