package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmFixture(n int) string {
	raw := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(math.Sin(float64(i)/10) * 12000)
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(v))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestDecode_DurationMatchesSampleCount(t *testing.T) {
	for _, n := range []int{0, 1, 480, 24000, 36123} {
		buf, err := Decode(pcmFixture(n))
		require.NoError(t, err)
		assert.Equal(t, n, buf.Frames())
		assert.Equal(t, SampleRate, buf.SampleRate)
		assert.Equal(t, Channels, buf.Channels)
		assert.InDelta(t, float64(n)/24000, buf.Seconds(), 1e-9)
		assert.InDelta(t, float64(n)/24000, buf.Duration().Seconds(), 1e-6)
	}
}

func TestDecode_SampleValues(t *testing.T) {
	raw := []byte{0x00, 0x80, 0xff, 0x7f, 0x00, 0x00}
	buf, err := Decode(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, 32767.0 / 32768.0, 0}, buf.Samples)
	assert.Equal(t, raw, buf.Raw)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("***")
	assert.Error(t, err)

	_, err = Decode(base64.StdEncoding.EncodeToString([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, ErrOddLength)
}

func TestEncodeWAV_Header(t *testing.T) {
	pcm := []byte{1, 0, 2, 0}
	wav := EncodeWAV(pcm, 16000, 1)
	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[44:])
}

// manualSink streams only end when halted or when the test closes them.
type manualSink struct {
	started []string
	streams []*TimedStream
	err     error
}

func (s *manualSink) Start(id string, _ *Buffer) (Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.started = append(s.started, id)
	ts := NewTimedStream(time.Hour)
	s.streams = append(s.streams, ts)
	return ts, nil
}

func TestController_SecondPlayPreemptsFirst(t *testing.T) {
	sink := &manualSink{}
	c := NewController(sink, nil)
	var endedA, endedB atomic.Int32

	a := c.Play("A", pcmFixture(240), func() { endedA.Add(1) })
	require.NotNil(t, a)
	id, ok := c.Playing()
	require.True(t, ok)
	assert.Equal(t, "A", id)

	b := c.Play("B", pcmFixture(240), func() { endedB.Add(1) })
	require.NotNil(t, b)

	id, ok = c.Playing()
	require.True(t, ok)
	assert.Equal(t, "B", id)
	assert.Equal(t, int32(1), endedA.Load())
	assert.Zero(t, endedB.Load())

	// The watcher also sees A's stream close; the callback must not repeat.
	<-a.Done()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), endedA.Load())

	c.Stop()
	assert.Equal(t, int32(1), endedB.Load())
	_, ok = c.Playing()
	assert.False(t, ok)
}

func TestController_NaturalEndFiresOnceAndClearsSlot(t *testing.T) {
	c := NewController(TimerSink{Scale: 0.01}, nil)
	ended := make(chan struct{}, 2)

	h := c.Play("A", pcmFixture(2400), func() { ended <- struct{}{} })
	require.NotNil(t, h)

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("playback never ended")
	}
	h.Stop()
	assert.Len(t, ended, 0)
	_, ok := c.Playing()
	assert.False(t, ok)
}

func TestController_FailuresStillFireCallback(t *testing.T) {
	c := NewController(&manualSink{}, nil)
	var ended atomic.Int32

	assert.Nil(t, c.Play("A", "not base64!", func() { ended.Add(1) }))
	assert.Equal(t, int32(1), ended.Load())

	c = NewController(&manualSink{err: errors.New("no output device")}, nil)
	assert.Nil(t, c.Play("B", pcmFixture(10), func() { ended.Add(1) }))
	assert.Equal(t, int32(2), ended.Load())
	_, ok := c.Playing()
	assert.False(t, ok)
}

func TestController_StopWithoutPlaybackIsNoop(t *testing.T) {
	c := NewController(nil, nil)
	c.Stop()
	_, ok := c.Playing()
	assert.False(t, ok)
}
