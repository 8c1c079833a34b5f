package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/iacfarm/audio"
	"github.com/room4-2/iacfarm/chat"
)

type fakeSynth struct {
	calls atomic.Int32
	texts []string
	out   string
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) (string, error) {
	f.calls.Add(1)
	f.texts = append(f.texts, text)
	return f.out, f.err
}

// countingSink counts decoded clips started and never ends on its own.
type countingSink struct {
	starts atomic.Int32
}

func (s *countingSink) Start(string, *audio.Buffer) (audio.Stream, error) {
	s.starts.Add(1)
	return audio.NewTimedStream(time.Hour), nil
}

var clip = base64.StdEncoding.EncodeToString(make([]byte, 4800))

func setup(t *testing.T) (*chat.Conversation, string, *fakeSynth, *countingSink, *Bridge) {
	t.Helper()
	conv := chat.NewConversation(chat.Greeting(time.Now()))
	require.NoError(t, conv.Begin(chat.Message{Content: "oi"}))
	reply, ok := conv.Resolve("**Atenção**: regue de manhã. # Dica")
	require.True(t, ok)

	synth := &fakeSynth{out: clip}
	sink := &countingSink{}
	b := NewBridge(conv, synth, audio.NewController(sink, nil), time.Second, nil)
	return conv, reply.ID, synth, sink, b
}

func TestSpeak_SynthesizesCachesAndPlays(t *testing.T) {
	conv, id, synth, sink, b := setup(t)

	assert.Equal(t, Started, b.Speak(context.Background(), id))
	assert.Equal(t, int32(1), synth.calls.Load())
	assert.Equal(t, []string{"Atenção: regue de manhã.  Dica"}, synth.texts)
	assert.Equal(t, int32(1), sink.starts.Load())

	m, _ := conv.Get(id)
	assert.Equal(t, clip, m.AudioBase64)
	assert.False(t, m.IsAudioLoading)
}

func TestSpeak_SecondCallTogglesOff(t *testing.T) {
	_, id, synth, sink, b := setup(t)

	require.Equal(t, Started, b.Speak(context.Background(), id))
	assert.Equal(t, Stopped, b.Speak(context.Background(), id))

	assert.Equal(t, int32(1), sink.starts.Load(), "no second decode")
	assert.Equal(t, int32(1), synth.calls.Load())
	_, playing := b.player.Playing()
	assert.False(t, playing)
}

func TestSpeak_CachedAudioSkipsSynthesis(t *testing.T) {
	conv, id, synth, sink, b := setup(t)
	conv.StoreAudio(id, clip)

	assert.Equal(t, Started, b.Speak(context.Background(), id))
	b.Stop()
	assert.Equal(t, Started, b.Speak(context.Background(), id))

	assert.Zero(t, synth.calls.Load())
	assert.Equal(t, int32(2), sink.starts.Load())
}

func TestSpeak_FailureClearsLoadingSilently(t *testing.T) {
	conv, id, synth, sink, b := setup(t)
	synth.out = ""
	synth.err = errors.New("quota")

	assert.Equal(t, NoAudio, b.Speak(context.Background(), id))

	m, _ := conv.Get(id)
	assert.Empty(t, m.AudioBase64)
	assert.False(t, m.IsAudioLoading)
	assert.Zero(t, sink.starts.Load())

	// A later request retries synthesis.
	synth.err = nil
	synth.out = clip
	assert.Equal(t, Started, b.Speak(context.Background(), id))
	assert.Equal(t, int32(2), synth.calls.Load())
}

func TestSpeak_OtherMessagePreemptsAndFiresOnEnded(t *testing.T) {
	conv, id, _, _, b := setup(t)
	var ended []string
	b.OnEnded = func(mid string) { ended = append(ended, mid) }

	require.Equal(t, Started, b.Speak(context.Background(), id))
	require.Equal(t, Started, b.Speak(context.Background(), "init-1"))

	assert.Equal(t, []string{id}, ended)
	playing, ok := b.player.Playing()
	require.True(t, ok)
	assert.Equal(t, "init-1", playing)

	m, _ := conv.Get("init-1")
	assert.NotEmpty(t, m.AudioBase64)
}

func TestSpeak_UnknownAndLoading(t *testing.T) {
	conv, id, synth, _, b := setup(t)

	assert.Equal(t, UnknownID, b.Speak(context.Background(), "nope"))

	conv.SetAudioLoading(id, true)
	assert.Equal(t, Loading, b.Speak(context.Background(), id))
	assert.Zero(t, synth.calls.Load())
}

func TestCleanForSpeech(t *testing.T) {
	assert.Equal(t, "negrito e titulo", CleanForSpeech("**negrito** e #titulo"))
	long := CleanForSpeech(strings.Repeat("ç", 1500))
	assert.Equal(t, MaxChars, len([]rune(long)))
}
