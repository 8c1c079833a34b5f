// Package chat owns the farm assistant conversation: the message log, the
// request/response cycle with the model and the diagnosis side effect that
// follows photo turns.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/attachment"
	"github.com/room4-2/iacfarm/logger"
	"github.com/room4-2/iacfarm/metrics"
	"github.com/room4-2/iacfarm/persistence"
)

const (
	diagnosisCommonName     = "Planta Identificada"
	diagnosisScientificName = "Análise via Chat"
	diagnosisConfidence     = 85
	locationNotProvided     = "Não informada"
	uploadName              = "plant_chat"

	defaultInferenceTimeout = 60 * time.Second
	defaultPersistTimeout   = 30 * time.Second
)

var errEmptyReply = errors.New("empty model reply")

// Turn is one prior message as the model sees it.
type Turn struct {
	Role Role
	Text string
}

// InlineData is binary media sent alongside the new turn.
type InlineData struct {
	MIMEType string
	// Data is base64 encoded.
	Data string
}

// Request is everything the model needs for one reply.
type Request struct {
	History []Turn
	Text    string
	Inline  *InlineData
}

// Inference produces the assistant reply for a request.
type Inference interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// PlaybackStopper halts whatever audio is playing.
type PlaybackStopper interface {
	Stop()
}

type noPlayback struct{}

func (noPlayback) Stop() {}

// Options tunes an Orchestrator. Zero values pick defaults.
type Options struct {
	InferenceTimeout time.Duration
	PersistTimeout   time.Duration
	Logger           *zap.Logger
}

// Orchestrator mediates every user exchange with the model and keeps the
// conversation consistent whatever the model does.
type Orchestrator struct {
	conv      *Conversation
	inference Inference
	gateway   persistence.Gateway
	playback  PlaybackStopper
	geo       GeoSource
	log       *zap.Logger

	inferenceTimeout time.Duration
	persistTimeout   time.Duration

	busy     atomic.Bool
	detached sync.WaitGroup
	now      func() time.Time
}

func NewOrchestrator(conv *Conversation, inference Inference, gateway persistence.Gateway, playback PlaybackStopper, geo GeoSource, opts Options) *Orchestrator {
	if playback == nil {
		playback = noPlayback{}
	}
	if geo == nil {
		geo = NoGeo{}
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = defaultInferenceTimeout
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	return &Orchestrator{
		conv:             conv,
		inference:        inference,
		gateway:          gateway,
		playback:         playback,
		geo:              geo,
		log:              logger.OrNop(opts.Logger),
		inferenceTimeout: opts.InferenceTimeout,
		persistTimeout:   opts.PersistTimeout,
		now:              time.Now,
	}
}

// Conversation returns the log this orchestrator drives.
func (o *Orchestrator) Conversation() *Conversation {
	return o.conv
}

// Busy reports whether a turn is awaiting its reply.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Send runs one turn. Empty input is a no-op. A send while another turn is
// pending returns ErrTurnInProgress and changes nothing. Model failures are
// never returned: the turn resolves to the apology message instead.
func (o *Orchestrator) Send(ctx context.Context, text string, att *attachment.Attachment) error {
	if strings.TrimSpace(text) == "" && att == nil {
		return nil
	}
	if !o.busy.CompareAndSwap(false, true) {
		metrics.ChatTurns.WithLabelValues(metrics.OutcomeRejected).Inc()
		return ErrTurnInProgress
	}
	defer o.busy.Store(false)

	o.playback.Stop()

	history := historyTurns(o.conv.Finals())
	if err := o.conv.Begin(Message{Content: text, Attachment: att, Timestamp: o.now()}); err != nil {
		metrics.ChatTurns.WithLabelValues(metrics.OutcomeRejected).Inc()
		return err
	}

	req := Request{History: history, Text: text}
	geo, hasGeo := o.geo.Geo()
	if hasGeo {
		req.Text += geo.Annotation()
	}
	if att != nil {
		req.Inline = &InlineData{MIMEType: att.MediaType, Data: att.Data}
	}

	reply, err := o.reply(ctx, req)
	if err != nil {
		o.log.Warn("chat_turn_failed", zap.Error(err), zap.Bool("has_attachment", att != nil))
		metrics.ChatTurns.WithLabelValues(metrics.OutcomeFailure).Inc()
		o.conv.Resolve(Apology)
		return nil
	}

	o.conv.Resolve(reply)
	metrics.ChatTurns.WithLabelValues(metrics.OutcomeSuccess).Inc()
	o.log.Debug("chat_turn_resolved", zap.Int("reply_len", len(reply)))

	if att.IsImage() && o.gateway != nil {
		location := locationNotProvided
		if hasGeo {
			location = fmt.Sprintf("%.4f, %.4f", geo.Lat, geo.Lng)
		}
		o.persistDetached(ctx, att.Data, reply, location)
	}
	return nil
}

// Identify sends the photo with the fixed species identification prompt.
func (o *Orchestrator) Identify(ctx context.Context, att *attachment.Attachment) error {
	if att == nil {
		return nil
	}
	return o.Send(ctx, IdentifyPrompt, att)
}

// Wait blocks until detached persistence work has finished.
func (o *Orchestrator) Wait() {
	o.detached.Wait()
}

func (o *Orchestrator) reply(ctx context.Context, req Request) (reply string, err error) {
	ctx, cancel := context.WithTimeout(ctx, o.inferenceTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inference panic: %v", r)
		}
	}()

	reply, err = o.inference.Reply(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", errEmptyReply
	}
	return reply, nil
}

// persistDetached uploads the photo and records a diagnosis without
// holding up the turn. It outlives ctx cancellation but not its own timeout.
func (o *Orchestrator) persistDetached(ctx context.Context, encoded, reply, location string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	o.detached.Add(1)
	go func() {
		defer o.detached.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("diagnosis_persist_panic", zap.Any("panic", r))
				metrics.DiagnosisSaves.WithLabelValues(metrics.OutcomeFailure).Inc()
			}
		}()

		url, ok := o.gateway.UploadImage(ctx, encoded, uploadName)
		if !ok {
			o.log.Warn("diagnosis_skipped_upload_failed")
			metrics.DiagnosisSaves.WithLabelValues(metrics.OutcomeSkipped).Inc()
			return
		}

		saved := o.gateway.SaveDiagnosis(ctx, persistence.Diagnosis{
			CommonName:     diagnosisCommonName,
			ScientificName: diagnosisScientificName,
			Date:           o.now(),
			ImageURL:       url,
			HealthStatus:   ClassifyHealthFromText(reply),
			Summary:        summarize(reply),
			FullDiagnosis:  reply,
			Confidence:     diagnosisConfidence,
			Location:       location,
		})
		if saved == nil {
			metrics.DiagnosisSaves.WithLabelValues(metrics.OutcomeFailure).Inc()
			return
		}
		metrics.DiagnosisSaves.WithLabelValues(metrics.OutcomeSuccess).Inc()
	}()
}

// historyTurns converts final messages into model turns, skipping system
// messages and empty turns that carried no attachment.
func historyTurns(msgs []Message) []Turn {
	out := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem || m.IsThinking {
			continue
		}
		if strings.TrimSpace(m.Content) == "" && m.Attachment == nil {
			continue
		}
		text := m.Content
		if text == "" {
			text = " "
		}
		role := RoleAssistant
		if m.Role == RoleUser {
			role = RoleUser
		}
		out = append(out, Turn{Role: role, Text: text})
	}
	return out
}
