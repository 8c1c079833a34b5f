package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/iacfarm/audio"
	"github.com/room4-2/iacfarm/chat"
	"github.com/room4-2/iacfarm/config"
	"github.com/room4-2/iacfarm/persistence"
	"github.com/room4-2/iacfarm/planner"
	"github.com/room4-2/iacfarm/session"
)

type scriptedInference struct {
	mu   sync.Mutex
	reqs []chat.Request
}

func (s *scriptedInference) Reply(_ context.Context, req chat.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return "Resposta da roça", nil
}

type silentSynth struct{}

func (silentSynth) Synthesize(context.Context, string) (string, error) {
	return base64.StdEncoding.EncodeToString(make([]byte, 48000)), nil
}

func newTestREPL(inf chat.Inference) *repl {
	cfg := &config.Config{InferenceTimeout: time.Second, SpeechTimeout: time.Second, PersistTimeout: time.Second}
	player := audio.NewController(audio.TimerSink{Scale: 0.01}, nil)
	return newREPL(cfg, session.Services{Inference: inf, Synthesizer: silentSynth{}}, player, nil)
}

func TestREPL_Session(t *testing.T) {
	inf := &scriptedInference{}
	r := newTestREPL(inf)

	png, err := base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")
	require.NoError(t, err)
	photo := filepath.Join(t.TempDir(), "folha.png")
	require.NoError(t, os.WriteFile(photo, png, 0o644))

	script := strings.Join([]string{
		"/local -22.9 -47.06",
		"/local 1 1",
		"oi, tudo bem?",
		"/foto " + photo,
		"o que tem essa folha?",
		"/ouvir",
		"/parar",
		"/foto nao-existe.png",
		"/teleporte",
		"/sair",
		"isto nunca é lido",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, r.run(context.Background(), strings.NewReader(script), &out))
	text := out.String()

	assert.Contains(t, text, "Sou o IAC Farm")
	assert.Contains(t, text, "📍 localização registrada")
	assert.Contains(t, text, "já foi informada")
	assert.Contains(t, text, "🌱 Resposta da roça")
	assert.Contains(t, text, "📎 folha.png anexado (image/png")
	assert.Contains(t, text, "🔊 tocando")
	assert.Contains(t, text, "comando desconhecido /teleporte")

	inf.mu.Lock()
	defer inf.mu.Unlock()
	require.Len(t, inf.reqs, 2)
	assert.Contains(t, inf.reqs[0].Text, "Lat: -22.9, Long: -47.06")
	assert.Nil(t, inf.reqs[0].Inline)
	require.NotNil(t, inf.reqs[1].Inline)
	assert.Equal(t, "image/png", inf.reqs[1].Inline.MIMEType)
	assert.Equal(t, 5, r.conv.Len())
}

func TestSplitCommand(t *testing.T) {
	c, a := splitCommand("/FOTO  folha.jpg ")
	assert.Equal(t, "/foto", c)
	assert.Equal(t, "folha.jpg", a)

	c, a = splitCommand("minha soja")
	assert.Empty(t, c)
	assert.Equal(t, "minha soja", a)
}

func TestSpeakTarget(t *testing.T) {
	finals := []chat.Message{
		{ID: "g", Role: chat.RoleAssistant},
		{ID: "u", Role: chat.RoleUser},
		{ID: "a", Role: chat.RoleAssistant},
		{ID: "u2", Role: chat.RoleUser},
	}
	id, ok := speakTarget(finals, "")
	assert.True(t, ok)
	assert.Equal(t, "a", id)

	id, ok = speakTarget(finals, "1")
	assert.True(t, ok)
	assert.Equal(t, "g", id)

	_, ok = speakTarget(finals, "9")
	assert.False(t, ok)
	_, ok = speakTarget(nil, "")
	assert.False(t, ok)
}

func TestParseCoords(t *testing.T) {
	lat, lng, err := parseCoords("-22.9, -47.06")
	require.NoError(t, err)
	assert.Equal(t, -22.9, lat)
	assert.Equal(t, -47.06, lng)

	_, _, err = parseCoords("95 0")
	assert.Error(t, err)
	_, _, err = parseCoords("1")
	assert.Error(t, err)
}

func TestPrintPlan(t *testing.T) {
	p := &planner.CropPlan{
		CropName:      "Milho",
		BestSeason:    "Setembro a Novembro",
		CycleDuration: "120 dias",
		CycleDaysMin:  110,
		CycleDaysMax:  130,
		PlantingSteps: []string{"Preparar o solo", "Semear"},
		SeasonalRisks: []planner.SeasonalRisk{{Period: "Janeiro", Stage: "Pendoamento", Risks: []string{"Cigarrinha"}, Prevention: "Monitorar"}},
	}
	var out bytes.Buffer
	printPlan(&out, p, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC))
	text := out.String()

	assert.Contains(t, text, "🌾 Milho")
	assert.Contains(t, text, "colheita entre 19/01/2026 e 08/02/2026")
	assert.Contains(t, text, "2. Semear")
	assert.Contains(t, text, "Janeiro (Pendoamento): Cigarrinha. Monitorar")
}

func TestPrintDiagnoses(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	printDiagnoses(&out, nil, now)
	assert.Contains(t, out.String(), "Nenhuma planta")

	out.Reset()
	printDiagnoses(&out, []persistence.Diagnosis{{
		CommonName: "Planta Identificada", Date: now.Add(-time.Hour), HealthStatus: persistence.Pest,
		Summary: "Lagarta no cartucho", Location: "Não informada",
	}}, now)
	assert.Contains(t, out.String(), "🐛 Planta Identificada")
	assert.Contains(t, out.String(), "Lagarta no cartucho")
}
