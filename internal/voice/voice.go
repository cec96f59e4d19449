// Package voice turns recorded or uploaded audio into text.
package voice

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"jarvis/pkg/audioconv"
)

// ErrNoSpeech is returned when decoding and transcription worked but
// yielded no text.
var ErrNoSpeech = errors.New("no speech recognised")

// Transcriber is satisfied by stt.Transcriber.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm16k []float32) (string, error)
}

type Processor struct {
	tr         Transcriber
	maxSamples int
	timeout    time.Duration
	logger     *log.Logger
}

type Options struct {
	// MaxDuration caps how much audio is transcribed. Zero means 60s.
	MaxDuration time.Duration
	Timeout     time.Duration
	Logger      *log.Logger
}

func New(tr Transcriber, opt Options) *Processor {
	if opt.MaxDuration <= 0 {
		opt.MaxDuration = 60 * time.Second
	}
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	return &Processor{
		tr:         tr,
		maxSamples: int(opt.MaxDuration.Seconds() * audioconv.TargetRate),
		timeout:    opt.Timeout,
		logger:     opt.Logger,
	}
}

// ProcessUpload decodes an uploaded audio file and transcribes it.
func (p *Processor) ProcessUpload(ctx context.Context, data []byte, name string) (string, error) {
	pcm, err := audioconv.Decode(data, name, audioconv.Options{MaxSamples: p.maxSamples})
	if err != nil {
		return "", fmt.Errorf("decode audio: %w", err)
	}
	return p.ProcessPCM(ctx, pcm)
}

// ProcessPCM transcribes mono 16 kHz samples.
func (p *Processor) ProcessPCM(ctx context.Context, pcm []float32) (string, error) {
	if len(pcm) == 0 {
		return "", audioconv.ErrEmpty
	}
	if p.maxSamples > 0 && len(pcm) > p.maxSamples {
		pcm = pcm[:p.maxSamples]
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := p.tr.Transcribe(ctx, pcm)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	text = strings.TrimSpace(text)
	p.logger.Info("Transcribed", "samples", len(pcm), "elapsed", time.Since(start), "text", text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
