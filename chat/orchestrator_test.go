package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/iacfarm/attachment"
	"github.com/room4-2/iacfarm/persistence"
)

type fakeInference struct {
	mu       sync.Mutex
	requests []Request
	reply    string
	err      error
	// block, when set, holds Reply until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeInference) Reply(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func (f *fakeInference) last(t *testing.T) Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

type fakeGateway struct {
	mu        sync.Mutex
	uploadRef string
	uploadOK  bool
	uploads   []string
	saved     []persistence.Diagnosis
}

func (g *fakeGateway) UploadImage(_ context.Context, encoded, name string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads = append(g.uploads, name)
	return g.uploadRef, g.uploadOK
}

func (g *fakeGateway) SaveDiagnosis(_ context.Context, d persistence.Diagnosis) *persistence.Diagnosis {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saved = append(g.saved, d)
	d.ID = "1"
	return &d
}

func (g *fakeGateway) History(context.Context) []persistence.Diagnosis { return nil }

func (g *fakeGateway) snapshot() ([]string, []persistence.Diagnosis) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.uploads...), append([]persistence.Diagnosis(nil), g.saved...)
}

type fakePlayback struct {
	conv  *Conversation
	stops int
	// lenAtStop records the final log length each time Stop runs.
	lenAtStop []int
}

func (p *fakePlayback) Stop() {
	p.stops++
	p.lenAtStop = append(p.lenAtStop, p.conv.Len())
}

type harness struct {
	conv      *Conversation
	inference *fakeInference
	gateway   *fakeGateway
	playback  *fakePlayback
	orch      *Orchestrator
}

func newHarness(geo GeoSource) *harness {
	conv := NewConversation(Greeting(time.Now()))
	h := &harness{
		conv:      conv,
		inference: &fakeInference{reply: "Diagnóstico: ferrugem"},
		gateway:   &fakeGateway{uploadRef: "http://farm.test/uploads/p.jpg", uploadOK: true},
		playback:  &fakePlayback{conv: conv},
	}
	h.orch = NewOrchestrator(conv, h.inference, h.gateway, h.playback, geo, Options{InferenceTimeout: time.Second})
	return h
}

func imageAttachment() *attachment.Attachment {
	return &attachment.Attachment{Kind: attachment.Image, Data: "aW1n", MediaType: "image/jpeg", DisplayRef: "folha.jpg"}
}

func TestSend_TextOnlyScenario(t *testing.T) {
	h := newHarness(nil)

	require.NoError(t, h.orch.Send(context.Background(), "Minha planta está com manchas", nil))
	h.orch.Wait()

	msgs := h.conv.Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, "Minha planta está com manchas", msgs[1].Content)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.Equal(t, "Diagnóstico: ferrugem", msgs[2].Content)
	assert.False(t, msgs[2].IsThinking)

	uploads, saved := h.gateway.snapshot()
	assert.Empty(t, uploads)
	assert.Empty(t, saved)
}

func TestSend_EachCallAddsOneUserAndResolvesPlaceholder(t *testing.T) {
	h := newHarness(nil)
	ctx := context.Background()

	for i, text := range []string{"oi", "quando plantar milho?", "e soja?"} {
		before := h.conv.Len()
		require.NoError(t, h.orch.Send(ctx, text, nil))

		msgs := h.conv.Snapshot()
		assert.Len(t, msgs, before+2, "turn %d", i)
		assert.False(t, h.conv.Pending())
		users := 0
		for _, m := range msgs {
			assert.False(t, m.IsThinking)
			if m.Role == RoleUser {
				users++
			}
		}
		assert.Equal(t, i+1, users)
	}
}

func TestSend_FailureResolvesToApology(t *testing.T) {
	h := newHarness(nil)
	h.inference.err = errors.New("upstream 503")

	before := h.conv.Len()
	require.NoError(t, h.orch.Send(context.Background(), "oi", imageAttachment()))
	h.orch.Wait()

	msgs := h.conv.Snapshot()
	require.Len(t, msgs, before+2)
	assert.Equal(t, Apology, msgs[len(msgs)-1].Content)
	assert.False(t, h.conv.Pending())

	uploads, _ := h.gateway.snapshot()
	assert.Empty(t, uploads, "no persistence after a failed turn")

	// Still usable.
	h.inference.err = nil
	require.NoError(t, h.orch.Send(context.Background(), "de novo", nil))
	assert.Equal(t, "Diagnóstico: ferrugem", h.conv.Snapshot()[before+3].Content)
}

func TestSend_EmptyReplyAndTimeoutAreFailures(t *testing.T) {
	h := newHarness(nil)
	h.inference.reply = "   "
	require.NoError(t, h.orch.Send(context.Background(), "oi", nil))
	assert.Equal(t, Apology, last(h.conv).Content)

	h.inference.reply = "ok"
	h.inference.block = make(chan struct{})
	h.orch.inferenceTimeout = 20 * time.Millisecond
	require.NoError(t, h.orch.Send(context.Background(), "oi", nil))
	assert.Equal(t, Apology, last(h.conv).Content)
}

func TestSend_EmptyInputIsNoop(t *testing.T) {
	h := newHarness(nil)
	before := h.conv.Snapshot()

	require.NoError(t, h.orch.Send(context.Background(), "  ", nil))

	assert.Equal(t, before, h.conv.Snapshot())
	assert.Zero(t, h.playback.stops)
	assert.Empty(t, h.inference.requests)
}

func TestSend_StopsPlaybackBeforeAppendingUser(t *testing.T) {
	h := newHarness(nil)
	before := h.conv.Len()

	require.NoError(t, h.orch.Send(context.Background(), "oi", nil))

	require.Equal(t, 1, h.playback.stops)
	assert.Equal(t, before, h.playback.lenAtStop[0])
}

func TestSend_RejectsOverlappingTurn(t *testing.T) {
	h := newHarness(nil)
	h.inference.block = make(chan struct{})
	h.inference.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- h.orch.Send(context.Background(), "primeira", nil) }()
	<-h.inference.entered

	assert.True(t, h.orch.Busy())
	snap := h.conv.Snapshot()
	require.True(t, snap[len(snap)-1].IsThinking)

	err := h.orch.Send(context.Background(), "segunda", nil)
	assert.ErrorIs(t, err, ErrTurnInProgress)
	assert.Equal(t, snap, h.conv.Snapshot(), "rejected send must not touch the log")

	close(h.inference.block)
	require.NoError(t, <-done)
	assert.False(t, h.orch.Busy())

	thinking := 0
	for _, m := range h.conv.Snapshot() {
		if m.IsThinking {
			thinking++
		}
	}
	assert.Zero(t, thinking)
}

func TestSend_HistoryExcludesPlaceholderSystemAndEmpty(t *testing.T) {
	conv := NewConversation(
		Greeting(time.Now()),
		Message{ID: "s", Role: RoleSystem, Content: "nota interna"},
		Message{ID: "e", Role: RoleUser, Content: ""},
		Message{ID: "p", Role: RoleUser, Content: "", Attachment: imageAttachment()},
	)
	inf := &fakeInference{reply: "ok"}
	o := NewOrchestrator(conv, inf, nil, nil, nil, Options{})

	require.NoError(t, o.Send(context.Background(), "nova pergunta", nil))

	req := inf.last(t)
	require.Len(t, req.History, 2)
	assert.Equal(t, Turn{Role: RoleAssistant, Text: conv.Snapshot()[0].Content}, req.History[0])
	assert.Equal(t, Turn{Role: RoleUser, Text: " "}, req.History[1])
	assert.Equal(t, "nova pergunta", req.Text)
	assert.Nil(t, req.Inline)
}

func TestSend_ImageDiseasedScenario(t *testing.T) {
	h := newHarness(StaticGeo{Lat: -22.9056, Lng: -47.0608})
	h.inference.reply = "Sua planta tem uma **Doença** fúngica: ferrugem."
	att := imageAttachment()

	require.NoError(t, h.orch.Send(context.Background(), "o que é isso?", att))
	h.orch.Wait()

	req := h.inference.last(t)
	require.NotNil(t, req.Inline)
	assert.Equal(t, "image/jpeg", req.Inline.MIMEType)
	assert.Equal(t, att.Data, req.Inline.Data)

	uploads, saved := h.gateway.snapshot()
	require.Equal(t, []string{"plant_chat"}, uploads)
	require.Len(t, saved, 1)
	d := saved[0]
	assert.Equal(t, persistence.Diseased, d.HealthStatus)
	assert.Equal(t, "http://farm.test/uploads/p.jpg", d.ImageURL)
	assert.Equal(t, h.inference.reply, d.FullDiagnosis)
	assert.Equal(t, 85, d.Confidence)
	assert.Equal(t, "-22.9056, -47.0608", d.Location)
	assert.Equal(t, "Planta Identificada", d.CommonName)
	assert.NotEmpty(t, d.Summary)
}

func TestSend_ImageHealthyScenario(t *testing.T) {
	h := newHarness(nil)
	h.inference.reply = "Planta saudável, continue assim."

	require.NoError(t, h.orch.Send(context.Background(), "", imageAttachment()))
	h.orch.Wait()

	_, saved := h.gateway.snapshot()
	require.Len(t, saved, 1)
	assert.Equal(t, persistence.Healthy, saved[0].HealthStatus)
}

// Pest and deficiency keywords are checked before the healthy default, so a
// reply without any disease keyword is not always saved as healthy.
func TestSend_ImageKeywordPrecedence(t *testing.T) {
	tests := []struct {
		reply string
		want  persistence.HealthStatus
	}{
		{"Encontrei uma praga: lagarta-do-cartucho.", persistence.Pest},
		{"Sinais de deficiência de potássio.", persistence.Deficiency},
		{"A praga trouxe uma doença secundária.", persistence.Diseased},
		{"Tudo certo com a lavoura.", persistence.Healthy},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			h := newHarness(nil)
			h.inference.reply = tt.reply

			require.NoError(t, h.orch.Send(context.Background(), "", imageAttachment()))
			h.orch.Wait()

			_, saved := h.gateway.snapshot()
			require.Len(t, saved, 1)
			assert.Equal(t, tt.want, saved[0].HealthStatus)
		})
	}
}

func TestSend_UploadFailureSkipsSave(t *testing.T) {
	h := newHarness(nil)
	h.gateway.uploadOK = false
	h.gateway.uploadRef = ""

	require.NoError(t, h.orch.Send(context.Background(), "veja", imageAttachment()))
	h.orch.Wait()

	uploads, saved := h.gateway.snapshot()
	assert.Len(t, uploads, 1)
	assert.Empty(t, saved)
}

func TestSend_VideoAttachmentIsNotPersisted(t *testing.T) {
	h := newHarness(nil)
	video := &attachment.Attachment{Kind: attachment.Video, Data: "dmlk", MediaType: "video/mp4"}

	require.NoError(t, h.orch.Send(context.Background(), "veja", video))
	h.orch.Wait()

	uploads, _ := h.gateway.snapshot()
	assert.Empty(t, uploads)
	assert.Equal(t, "video/mp4", h.inference.last(t).Inline.MIMEType)
}

func TestSend_NoGeoMeansNoAnnotationAndSentinel(t *testing.T) {
	h := newHarness(NoGeo{})

	require.NoError(t, h.orch.Send(context.Background(), "analise", imageAttachment()))
	h.orch.Wait()

	assert.Equal(t, "analise", h.inference.last(t).Text)
	assert.NotContains(t, h.inference.last(t).Text, "LOCALIZAÇÃO")
	_, saved := h.gateway.snapshot()
	require.Len(t, saved, 1)
	assert.Equal(t, "Não informada", saved[0].Location)
}

func TestSend_GeoAppendsAnnotation(t *testing.T) {
	h := newHarness(StaticGeo{Lat: -22.5, Lng: -47})

	require.NoError(t, h.orch.Send(context.Background(), "clima?", nil))

	text := h.inference.last(t).Text
	assert.True(t, strings.HasPrefix(text, "clima?\n\n[DADOS DE SISTEMA - LOCALIZAÇÃO DO USUÁRIO]"))
	assert.Contains(t, text, "Lat: -22.5, Long: -47.")
}

func TestSend_PersistenceOutlivesCallerContext(t *testing.T) {
	h := newHarness(nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.orch.Send(ctx, "veja", imageAttachment()))
	cancel()
	h.orch.Wait()

	_, saved := h.gateway.snapshot()
	assert.Len(t, saved, 1)
}

func TestIdentify_UsesFixedPrompt(t *testing.T) {
	h := newHarness(nil)

	require.NoError(t, h.orch.Identify(context.Background(), imageAttachment()))
	h.orch.Wait()

	msgs := h.conv.Snapshot()
	assert.Equal(t, IdentifyPrompt, msgs[len(msgs)-2].Content)
	assert.Equal(t, IdentifyPrompt, h.inference.last(t).Text)
	require.NoError(t, h.orch.Identify(context.Background(), nil))
}

func last(c *Conversation) Message {
	s := c.Snapshot()
	return s[len(s)-1]
}
