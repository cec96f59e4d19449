package audio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sinkInputs = `Sink Input #42
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
Sink Input #43
	Volume: front-left: 39322 /  60% / -13.31 dB
	Properties:
		application.name = "jarvis"
Sink Input #bogus
	Volume: 10%
`

func TestParseSinkInputs(t *testing.T) {
	got := parseSinkInputs(sinkInputs)
	assert.Equal(t, []streamInfo{
		{ID: 42, Volume: 100, AppName: "Firefox"},
		{ID: 43, Volume: 60, AppName: "jarvis"},
	}, got)

	assert.Empty(t, parseSinkInputs(""))
}

type fakeMixer struct {
	streams []streamInfo
	set     map[int]int
	err     error
}

func (f *fakeMixer) Streams(context.Context) ([]streamInfo, error) {
	return f.streams, f.err
}

func (f *fakeMixer) SetVolume(_ context.Context, id, percent int) error {
	f.set[id] = percent
	for i := range f.streams {
		if f.streams[i].ID == id {
			f.streams[i].Volume = percent
		}
	}
	return nil
}

func TestDucker_DuckAndRestore(t *testing.T) {
	m := &fakeMixer{
		streams: []streamInfo{{ID: 1, Volume: 100, AppName: "Firefox"}, {ID: 2, Volume: 80, AppName: "jarvis"}, {ID: 3, Volume: 20, AppName: "mpv"}},
		set:     map[int]int{},
	}
	d := newDucker(m, []string{"jarvis"}, 15)

	require.NoError(t, d.Duck(context.Background(), 0.3, 0))
	assert.Equal(t, map[int]int{1: 30, 3: 15}, m.set)

	// second duck is a no-op
	m.set = map[int]int{}
	require.NoError(t, d.Duck(context.Background(), 0.1, 0))
	assert.Empty(t, m.set)

	require.NoError(t, d.Restore(context.Background(), 20*time.Millisecond))
	assert.Equal(t, map[int]int{1: 100, 3: 20}, m.set)

	m.set = map[int]int{}
	require.NoError(t, d.Restore(context.Background(), 0))
	assert.Empty(t, m.set)
}

func TestDucker_ListError(t *testing.T) {
	d := newDucker(&fakeMixer{err: errors.New("no pulse"), set: map[int]int{}}, nil, 0)
	assert.Error(t, d.Duck(context.Background(), 0.5, 0))
}

func TestSilenceGate(t *testing.T) {
	cfg := RecorderConfig{FrameSize: 320, SilenceRMS: 0.1, SilenceDuration: 40 * time.Millisecond}
	g := newSilenceGate(cfg)

	quiet := make([]float32, 320)
	loud := make([]float32, 320)
	for i := range loud {
		loud[i] = 0.5
	}

	assert.False(t, g.push(quiet), "leading silence is skipped")
	assert.Empty(t, g.out)

	assert.False(t, g.push(loud))
	assert.False(t, g.push(quiet))
	assert.True(t, g.push(quiet), "two quiet 20ms frames end the utterance")
	assert.Len(t, g.out, 640)
}

func TestFrameRMS(t *testing.T) {
	assert.InDelta(t, 0.5, frameRMS([]float32{0.5, -0.5}), 1e-9)
	assert.Equal(t, 0.0, frameRMS(nil))
}
