// Package speech renders assistant messages as voice on request.
package speech

import (
	"context"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/audio"
	"github.com/room4-2/iacfarm/chat"
	"github.com/room4-2/iacfarm/logger"
	"github.com/room4-2/iacfarm/metrics"
)

// MaxChars bounds the text sent to the synthesizer.
const MaxChars = 1000

const defaultTimeout = 30 * time.Second

var emphasisMarkers = regexp.MustCompile(`[*#]`)

// CleanForSpeech strips markdown emphasis and caps the length.
func CleanForSpeech(text string) string {
	clean := []rune(emphasisMarkers.ReplaceAllString(text, ""))
	if len(clean) > MaxChars {
		clean = clean[:MaxChars]
	}
	return string(clean)
}

// Synthesizer turns text into base64 24 kHz mono 16-bit PCM.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Player is the playback slot the bridge drives.
type Player interface {
	Play(id, encoded string, onEnded func()) *audio.Handle
	Stop()
	Playing() (string, bool)
}

// Result says what a Speak call did.
type Result string

const (
	Started     Result = "started"
	Stopped     Result = "stopped"
	Loading     Result = "loading"
	NoAudio     Result = "no_audio"
	UnknownID   Result = "unknown_message"
	EmptyTarget Result = "empty_message"
)

// Bridge fetches and caches voice clips for conversation messages.
type Bridge struct {
	conv    *chat.Conversation
	synth   Synthesizer
	player  Player
	timeout time.Duration
	log     *zap.Logger
	// OnEnded, when set, runs after a clip started by the bridge ends.
	OnEnded func(messageID string)
}

func NewBridge(conv *chat.Conversation, synth Synthesizer, player Player, timeout time.Duration, log *zap.Logger) *Bridge {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Bridge{conv: conv, synth: synth, player: player, timeout: timeout, log: logger.OrNop(log)}
}

// Speak toggles playback of a message. Speaking the message that is playing
// stops it. Cached audio is replayed without synthesis. Synthesis failures
// leave the message without audio and report NoAudio.
func (b *Bridge) Speak(ctx context.Context, messageID string) Result {
	if playing, ok := b.player.Playing(); ok && playing == messageID {
		b.player.Stop()
		return Stopped
	}
	b.player.Stop()

	msg, ok := b.conv.Get(messageID)
	if !ok {
		return UnknownID
	}
	if msg.IsAudioLoading {
		return Loading
	}

	encoded := msg.AudioBase64
	if encoded != "" {
		metrics.SpeechRequests.WithLabelValues(metrics.OutcomeCached).Inc()
	} else {
		text := CleanForSpeech(msg.Content)
		if text == "" {
			return EmptyTarget
		}
		encoded = b.synthesize(ctx, messageID, text)
		if encoded == "" {
			return NoAudio
		}
	}

	h := b.player.Play(messageID, encoded, func() {
		if b.OnEnded != nil {
			b.OnEnded(messageID)
		}
	})
	if h == nil {
		return NoAudio
	}
	return Started
}

// Stop halts whatever is playing.
func (b *Bridge) Stop() {
	b.player.Stop()
}

func (b *Bridge) synthesize(ctx context.Context, messageID, text string) string {
	b.conv.SetAudioLoading(messageID, true)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	encoded, err := b.synth.Synthesize(ctx, text)
	if err != nil || encoded == "" {
		b.conv.SetAudioLoading(messageID, false)
		b.log.Warn("speech_synthesis_failed", zap.String("message_id", messageID), zap.Error(err))
		metrics.SpeechRequests.WithLabelValues(metrics.OutcomeFailure).Inc()
		return ""
	}

	b.conv.StoreAudio(messageID, encoded)
	metrics.SpeechRequests.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return encoded
}
