package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/room4-2/iacfarm/attachment"
	"github.com/room4-2/iacfarm/audio"
	"github.com/room4-2/iacfarm/chat"
	"github.com/room4-2/iacfarm/config"
	"github.com/room4-2/iacfarm/logger"
	"github.com/room4-2/iacfarm/messages"
	"github.com/room4-2/iacfarm/persistence"
	"github.com/room4-2/iacfarm/speech"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	readLimit       = 16 * 1024 * 1024 // photos and short videos arrive inline
)

var errSessionClosed = errors.New("session closed")

// Transcriber turns a recorded utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// Services are the shared backends every session talks to. Only Inference
// is required.
type Services struct {
	Inference   chat.Inference
	Synthesizer speech.Synthesizer
	Transcriber Transcriber
	Gateway     persistence.Gateway
	// FarmGeo answers for sessions whose client never reports a position.
	FarmGeo chat.GeoSource
}

// ClientSession represents a single user's connection
type ClientSession struct {
	ID          string
	ClientConn  *websocket.Conn
	VoiceBuffer *VoiceBuffer
	CreatedAt   time.Time

	conv        *chat.Conversation
	orch        *chat.Orchestrator
	player      *audio.Controller
	speech      *speech.Bridge
	geo         *chat.GeoCell
	stager      attachment.Stager
	transcriber Transcriber
	limiter     *rate.Limiter
	cfg         *config.Config
	log         *zap.Logger

	// Use channels for non-blocking writes
	writeChan chan any
	tasks     sync.WaitGroup

	mu           sync.RWMutex
	lastActivity time.Time
	closed       bool
	CloseChan    chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
}

// clientSink plays speech by shipping the clip to the client and holding
// the playback slot for the clip's duration.
type clientSink struct {
	cs *ClientSession
}

func (s clientSink) Start(id string, buf *audio.Buffer) (audio.Stream, error) {
	if s.cs.IsClosed() {
		return nil, errSessionClosed
	}
	s.cs.queueMessage(messages.NewAudioMessage(s.cs.ID, id, base64.StdEncoding.EncodeToString(buf.Raw)))
	return audio.NewTimedStream(buf.Duration()), nil
}

// NewClientSession wires one conversation and its voice playback to a client
// connection. The session outlives ctx cancellation; it ends on Close.
func NewClientSession(ctx context.Context, id string, clientConn *websocket.Conn, cfg *config.Config, svc Services, log *zap.Logger) (*ClientSession, error) {
	if svc.Inference == nil {
		return nil, fmt.Errorf("session %s: no inference backend", id)
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	clientConn.SetReadLimit(readLimit)
	clientConn.EnableWriteCompression(true)
	_ = clientConn.SetCompressionLevel(6)

	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}

	now := time.Now()
	cs := &ClientSession{
		ID:           id,
		ClientConn:   clientConn,
		VoiceBuffer:  NewVoiceBuffer(cfg.MaxBufferSize),
		CreatedAt:    now,
		lastActivity: now,
		conv:         chat.NewConversation(chat.Greeting(now)),
		geo:          chat.NewGeoCell(svc.FarmGeo),
		transcriber:  svc.Transcriber,
		limiter:      rate.NewLimiter(limit, max(cfg.RateLimitBurst, 1)),
		cfg:          cfg,
		log:          logger.OrNop(log).With(zap.String("session", logger.ShortID(id))),
		writeChan:    make(chan any, writeBufferSize),
		CloseChan:    make(chan struct{}),
		ctx:          sessionCtx,
		cancel:       cancel,
	}

	cs.player = audio.NewController(clientSink{cs: cs}, cs.log)
	cs.orch = chat.NewOrchestrator(cs.conv, svc.Inference, svc.Gateway, cs.player, cs.geo, chat.Options{
		InferenceTimeout: cfg.InferenceTimeout,
		PersistTimeout:   cfg.PersistTimeout,
		Logger:           cs.log,
	})
	if svc.Synthesizer != nil {
		cs.speech = speech.NewBridge(cs.conv, svc.Synthesizer, cs.player, cfg.SpeechTimeout, cs.log)
		cs.speech.OnEnded = func(messageID string) {
			cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusAudioEnded, messageID))
			cs.refresh()
		}
	}
	cs.conv.OnChange(cs.pushConversation)

	return cs, nil
}

// Start begins the bidirectional message handling
func (cs *ClientSession) Start() {
	go cs.writePump()
	cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusConnected, "Session established"))
	cs.refresh()
	go cs.handleClientMessages()
}

// Conversation exposes the session's message log.
func (cs *ClientSession) Conversation() *chat.Conversation {
	return cs.conv
}

// LastActivity is when the client last sent anything.
func (cs *ClientSession) LastActivity() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastActivity
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

func (cs *ClientSession) pushConversation(msgs []chat.Message) {
	playing, _ := cs.player.Playing()
	cs.queueMessage(messages.NewConversationMessage(cs.ID, msgs, cs.orch.Busy(), playing))
}

// refresh resends the conversation after state that lives outside it
// (busy flag, playback slot) changed.
func (cs *ClientSession) refresh() {
	cs.pushConversation(cs.conv.Snapshot())
}

// writePump handles all outgoing messages in a single goroutine
func (cs *ClientSession) writePump() {
	defer func() {
		_ = cs.ClientConn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
	}()

	for {
		select {
		case <-cs.CloseChan:
			return
		case msg := <-cs.writeChan:
			if err := cs.write(msg); err != nil {
				cs.log.Debug("client_write_failed", zap.Error(err))
				return
			}

			n := len(cs.writeChan)
			for i := 0; i < n; i++ {
				if err := cs.write(<-cs.writeChan); err != nil {
					cs.log.Debug("client_write_failed", zap.Error(err))
					return
				}
			}
		}
	}
}

func (cs *ClientSession) write(msg any) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		cs.log.Error("encode_server_message_failed", zap.Error(err))
		return nil
	}
	_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cs.ClientConn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a message to the write queue (non-blocking)
func (cs *ClientSession) queueMessage(msg any) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.closed {
		return
	}
	select {
	case cs.writeChan <- msg:
	default:
		cs.log.Warn("write_queue_full_dropping_message")
	}
}

func (cs *ClientSession) sendError(code, message string) {
	cs.queueMessage(messages.NewErrorMessage(cs.ID, code, message))
}

// Close terminates the session and cleans up resources
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	close(cs.CloseChan)
	cs.mu.Unlock()

	cs.cancel()
	cs.player.Stop()
	cs.VoiceBuffer.Clear()
	cs.stager.Discard()

	if cs.ClientConn != nil {
		cs.ClientConn.Close()
	}
	return nil
}

// Drain waits for in-flight turns, speech and background saves to finish.
// Call it after Close.
func (cs *ClientSession) Drain() {
	cs.tasks.Wait()
	cs.orch.Wait()
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

// goTask runs fn off the read loop so model calls never stall input. It
// refuses once the session is closed so Drain never races a late Add.
func (cs *ClientSession) goTask(fn func()) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.closed {
		return false
	}
	cs.tasks.Add(1)
	go func() {
		defer cs.tasks.Done()
		fn()
	}()
	return true
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		messageType, message, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if !cs.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.log.Info("client_read_failed", zap.Error(err))
			}
			return
		}
		cs.touch()

		// Binary frames are raw mic PCM
		if messageType == websocket.BinaryMessage {
			cs.bufferVoice(message)
			continue
		}

		var clientMsg messages.ClientMessage
		if err := sonic.Unmarshal(message, &clientMsg); err != nil {
			cs.sendError(messages.ErrCodeInvalidMessage, "Invalid message format")
			continue
		}
		if clientMsg.Type != messages.TypeAudio && !cs.limiter.Allow() {
			cs.sendError(messages.ErrCodeRateLimited, "Too many messages, slow down")
			continue
		}

		cs.processClientMessage(&clientMsg)
	}
}

func (cs *ClientSession) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeSend:
		var p messages.SendPayload
		if !cs.decode(msg, &p) {
			return
		}
		cs.handleSend(p.Text)

	case messages.TypeAttach:
		var p messages.AttachPayload
		if !cs.decode(msg, &p) {
			return
		}
		cs.handleAttach(&p)

	case messages.TypeCancelAttachment:
		cs.stager.Discard()
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusAttachmentCleared, ""))

	case messages.TypeIdentify:
		var p messages.IdentifyPayload
		if !cs.decode(msg, &p) {
			return
		}
		cs.handleAttach(&messages.AttachPayload{
			Source:   string(attachment.SourceIdentify),
			Name:     p.Name,
			MimeType: p.MimeType,
			Data:     p.Data,
		})

	case messages.TypeSpeak:
		var p messages.SpeakPayload
		if !cs.decode(msg, &p) {
			return
		}
		cs.handleSpeak(p.MessageID)

	case messages.TypeStopAudio:
		cs.player.Stop()

	case messages.TypeLocation:
		var p messages.LocationPayload
		if !cs.decode(msg, &p) {
			return
		}
		cs.handleLocation(&p)

	case messages.TypeAudio:
		var p messages.AudioPayload
		if !cs.decode(msg, &p) {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			cs.sendError(messages.ErrCodeInvalidMessage, "Invalid base64 audio data")
			return
		}
		cs.bufferVoice(pcm)

	case messages.TypeControl:
		var p messages.ControlPayload
		if !cs.decode(msg, &p) {
			return
		}
		cs.handleControlMessage(&p)

	default:
		cs.sendError(messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type)
	}
}

func (cs *ClientSession) decode(msg *messages.ClientMessage, v any) bool {
	if len(msg.Payload) == 0 {
		cs.sendError(messages.ErrCodeInvalidMessage, "Missing "+msg.Type+" payload")
		return false
	}
	if err := sonic.Unmarshal(msg.Payload, v); err != nil {
		cs.sendError(messages.ErrCodeInvalidMessage, "Invalid "+msg.Type+" payload")
		return false
	}
	return true
}

// handleSend runs a turn with the staged attachment, if any. A send while a
// turn is pending is rejected and leaves the staged attachment in place.
func (cs *ClientSession) handleSend(text string) {
	if cs.orch.Busy() {
		cs.sendError(messages.ErrCodeTurnInProgress, "Still waiting for the previous answer")
		return
	}
	att := cs.stager.Take()
	if strings.TrimSpace(text) == "" && att == nil {
		return
	}

	cs.goTask(func() {
		err := cs.orch.Send(cs.ctx, text, att)
		if errors.Is(err, chat.ErrTurnInProgress) {
			if att != nil && cs.stager.Peek() == nil {
				cs.stager.Stage(att)
			}
			cs.sendError(messages.ErrCodeTurnInProgress, "Still waiting for the previous answer")
		}
		cs.refresh()
	})
}

func (cs *ClientSession) handleAttach(p *messages.AttachPayload) {
	source := attachment.ParseSource(p.Source)
	att, err := attachment.FromBase64(source, p.Name, p.MimeType, p.Data)
	if err != nil {
		code := messages.ErrCodeInvalidMessage
		if errors.Is(err, attachment.ErrUnsupportedMedia) {
			code = messages.ErrCodeUnsupportedMedia
		}
		cs.log.Info("attachment_rejected", zap.String("source", string(source)), zap.Error(err))
		cs.sendError(code, err.Error())
		return
	}

	if source == attachment.SourceIdentify {
		if cs.orch.Busy() {
			cs.sendError(messages.ErrCodeTurnInProgress, "Still waiting for the previous answer")
			return
		}
		cs.goTask(func() {
			if err := cs.orch.Identify(cs.ctx, att); errors.Is(err, chat.ErrTurnInProgress) {
				cs.sendError(messages.ErrCodeTurnInProgress, "Still waiting for the previous answer")
			}
			cs.refresh()
		})
		return
	}

	cs.stager.Stage(att)
	cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusAttachmentStaged, string(att.Kind)))
}

func (cs *ClientSession) handleSpeak(messageID string) {
	if cs.speech == nil {
		cs.sendError(messages.ErrCodeGeminiError, "Voice playback is not available")
		return
	}
	cs.goTask(func() {
		switch res := cs.speech.Speak(cs.ctx, messageID); res {
		case speech.Loading:
			cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusAudioLoading, messageID))
		case speech.UnknownID:
			cs.sendError(messages.ErrCodeInvalidMessage, "Unknown message: "+messageID)
		case speech.Started:
			cs.refresh()
		default:
			cs.log.Debug("speak_finished", zap.String("message_id", messageID), zap.String("result", string(res)))
		}
	})
}

func (cs *ClientSession) handleLocation(p *messages.LocationPayload) {
	if p.Lat == nil || p.Lng == nil || *p.Lat < -90 || *p.Lat > 90 || *p.Lng < -180 || *p.Lng > 180 {
		cs.sendError(messages.ErrCodeInvalidMessage, "Invalid location")
		return
	}
	if !cs.geo.Set(chat.GeoContext{Lat: *p.Lat, Lng: *p.Lng}) {
		cs.log.Debug("location_already_set")
		return
	}
	cs.log.Info("location_set")
}

func (cs *ClientSession) bufferVoice(pcm []byte) {
	if err := cs.VoiceBuffer.Append(pcm); err != nil {
		cs.sendError(messages.ErrCodeBufferFull,
			fmt.Sprintf("Audio buffer full (max %d bytes)", cs.VoiceBuffer.MaxSize()))
	}
}

func (cs *ClientSession) handleControlMessage(payload *messages.ControlPayload) {
	switch payload.Action {
	case "ping":
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusPong, ""))
	case "end_turn":
		cs.handleEndTurn()
	default:
		cs.sendError(messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action)
	}
}

// handleEndTurn transcribes the buffered utterance and returns the text for
// the client to edit and send.
func (cs *ClientSession) handleEndTurn() {
	if cs.VoiceBuffer.IsEmpty() {
		cs.log.Debug("end_turn_with_empty_buffer")
		return
	}
	if cs.transcriber == nil {
		cs.VoiceBuffer.Clear()
		cs.sendError(messages.ErrCodeGeminiError, "Voice input is not available")
		return
	}

	chunks := cs.VoiceBuffer.ChunkCount()
	pcm := cs.VoiceBuffer.Flush()
	cs.log.Debug("transcribing_voice_input", zap.Int("bytes", len(pcm)), zap.Int("chunks", chunks))

	cs.goTask(func() {
		ctx, cancel := context.WithTimeout(cs.ctx, cs.cfg.InferenceTimeout)
		defer cancel()
		text, err := cs.transcriber.Transcribe(ctx, pcm, MicSampleRate)
		if err != nil {
			cs.log.Warn("transcription_failed", zap.Error(err))
			cs.sendError(messages.ErrCodeGeminiError, "Não consegui entender o áudio.")
			return
		}
		cs.queueMessage(messages.NewTranscriptMessage(cs.ID, text))
	})
}
