package gemini

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/iacfarm/chat"
	"github.com/room4-2/iacfarm/functions"
	"github.com/room4-2/iacfarm/weather"
)

// fakeAPI answers generateContent calls with queued bodies and records what
// it was sent.
type fakeAPI struct {
	mu        sync.Mutex
	responses []string
	status    int
	paths     []string
	bodies    []map[string]any
}

func (f *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = sonic.Unmarshal(raw, &body)

	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.bodies = append(f.bodies, body)
	status := f.status
	resp := `{"candidates":[]}`
	if len(f.responses) > 0 {
		resp = f.responses[0]
		f.responses = f.responses[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_, _ = io.WriteString(w, resp)
}

func (f *fakeAPI) body(t *testing.T, i int) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.bodies), i)
	return f.bodies[i]
}

func (f *fakeAPI) path(t *testing.T, i int) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.paths), i)
	return f.paths[i]
}

func textResponse(text string) string {
	return `{"candidates":[{"content":{"role":"model","parts":[{"text":` + quote(text) + `}]}}]}`
}

func quote(s string) string {
	b, _ := sonic.Marshal(s)
	return string(b)
}

func newTestClient(t *testing.T, api *fakeAPI, tools *functions.Registry) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), Config{
		APIKey:            "test-key",
		ChatModel:         "chat-model",
		TTSModel:          "tts-model",
		TranscribeModel:   "stt-model",
		VoiceName:         "Puck",
		SystemInstruction: "Você é o IAC Farm.",
		BaseURL:           srv.URL,
		Tools:             tools,
	})
	require.NoError(t, err)
	return c
}

func contentsOf(t *testing.T, body map[string]any) []any {
	t.Helper()
	contents, ok := body["contents"].([]any)
	require.True(t, ok, "request has contents")
	return contents
}

func partsOf(t *testing.T, content any) []any {
	t.Helper()
	parts, ok := content.(map[string]any)["parts"].([]any)
	require.True(t, ok)
	return parts
}

func TestReply_BuildsHistoryAndInlineParts(t *testing.T) {
	api := &fakeAPI{responses: []string{textResponse("Diagnóstico: ferrugem")}}
	c := newTestClient(t, api, nil)

	reply, err := c.Reply(context.Background(), chat.Request{
		History: []chat.Turn{
			{Role: chat.RoleAssistant, Text: "Olá!"},
			{Role: chat.RoleUser, Text: "oi"},
		},
		Text:   "o que é isso?",
		Inline: &chat.InlineData{MIMEType: "image/jpeg", Data: base64.StdEncoding.EncodeToString([]byte("img"))},
	})
	require.NoError(t, err)
	assert.Equal(t, "Diagnóstico: ferrugem", reply)

	assert.True(t, strings.HasSuffix(api.path(t, 0), "models/chat-model:generateContent"), api.path(t, 0))

	body := api.body(t, 0)
	contents := contentsOf(t, body)
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[0].(map[string]any)["role"])
	assert.Equal(t, "user", contents[1].(map[string]any)["role"])

	current := partsOf(t, contents[2])
	require.Len(t, current, 2)
	inline := current[0].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/jpeg", inline["mimeType"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("img")), inline["data"])
	assert.Equal(t, "o que é isso?", current[1].(map[string]any)["text"])

	sys := body["systemInstruction"].(map[string]any)
	assert.Equal(t, "Você é o IAC Farm.", partsOf(t, sys)[0].(map[string]any)["text"])
}

type stubWeather struct{}

func (stubWeather) Fetch(context.Context, float64, float64) *weather.Info {
	return &weather.Info{LocationName: "Campinas", Temperature: 31}
}

func TestReply_RunsFunctionCalls(t *testing.T) {
	api := &fakeAPI{responses: []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"id":"c1","name":"GetLocalWeather","args":{"lat":-22.9,"lng":-47.06}}}]}}]}`,
		textResponse("Está 31 °C, regue ao entardecer."),
	}}
	tools := functions.NewRegistry()
	tools.Register(functions.GetLocalWeatherFunctionDeclaration(), functions.GetLocalWeather(stubWeather{}))
	c := newTestClient(t, api, tools)

	reply, err := c.Reply(context.Background(), chat.Request{Text: "preciso regar?"})
	require.NoError(t, err)
	assert.Equal(t, "Está 31 °C, regue ao entardecer.", reply)

	first := api.body(t, 0)
	assert.NotEmpty(t, first["tools"])

	second := contentsOf(t, api.body(t, 1))
	require.Len(t, second, 3)
	fr := partsOf(t, second[2])[0].(map[string]any)["functionResponse"].(map[string]any)
	assert.Equal(t, "GetLocalWeather", fr["name"])
	assert.Equal(t, "Campinas", fr["response"].(map[string]any)["location"])
}

func TestReply_StopsAfterTooManyToolRounds(t *testing.T) {
	call := `{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"GetLocalWeather","args":{"lat":1,"lng":1}}}]}}]}`
	api := &fakeAPI{responses: []string{call, call, call, call, call}}
	tools := functions.NewRegistry()
	tools.Register(functions.GetLocalWeatherFunctionDeclaration(), functions.GetLocalWeather(stubWeather{}))
	c := newTestClient(t, api, tools)

	_, err := c.Reply(context.Background(), chat.Request{Text: "loop"})
	assert.ErrorIs(t, err, ErrToolRounds)
}

func TestReply_Errors(t *testing.T) {
	api := &fakeAPI{status: http.StatusInternalServerError, responses: []string{`{"error":{"code":500,"message":"boom"}}`}}
	c := newTestClient(t, api, nil)
	_, err := c.Reply(context.Background(), chat.Request{Text: "oi"})
	assert.Error(t, err)

	api = &fakeAPI{}
	c = newTestClient(t, api, nil)
	_, err = c.Reply(context.Background(), chat.Request{Text: "oi"})
	assert.ErrorIs(t, err, ErrNoContent)

	_, err = c.Reply(context.Background(), chat.Request{Text: "  "})
	assert.Error(t, err)

	require.NoError(t, c.Close())
	_, err = c.Reply(context.Background(), chat.Request{Text: "oi"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSynthesize(t *testing.T) {
	pcm := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})
	api := &fakeAPI{responses: []string{
		`{"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"audio/L16;rate=24000","data":"` + pcm + `"}}]}}]}`,
	}}
	c := newTestClient(t, api, nil)

	out, err := c.Synthesize(context.Background(), "Bom dia")
	require.NoError(t, err)
	assert.Equal(t, pcm, out)
	assert.True(t, strings.HasSuffix(api.path(t, 0), "models/tts-model:generateContent"))

	gen := api.body(t, 0)["generationConfig"].(map[string]any)
	assert.Equal(t, []any{"AUDIO"}, gen["responseModalities"])
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)
	assert.Equal(t, "Puck", voice["voiceName"])

	_, err = c.Synthesize(context.Background(), "")
	assert.Error(t, err)
}

func TestSynthesize_NoAudio(t *testing.T) {
	api := &fakeAPI{responses: []string{textResponse("sem áudio")}}
	c := newTestClient(t, api, nil)
	_, err := c.Synthesize(context.Background(), "Bom dia")
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestTranscribe(t *testing.T) {
	api := &fakeAPI{responses: []string{textResponse("  quando plantar milho  \n")}}
	c := newTestClient(t, api, nil)

	text, err := c.Transcribe(context.Background(), []byte{0, 0, 1, 0}, 16000)
	require.NoError(t, err)
	assert.Equal(t, "quando plantar milho", text)
	assert.True(t, strings.HasSuffix(api.path(t, 0), "models/stt-model:generateContent"))

	parts := partsOf(t, contentsOf(t, api.body(t, 0))[0])
	inline := parts[0].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "audio/wav", inline["mimeType"])
	wav, err := base64.StdEncoding.DecodeString(inline["data"].(string))
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(wav[:4]))

	_, err = c.Transcribe(context.Background(), nil, 16000)
	assert.Error(t, err)
}

func TestGenerateCropPlan(t *testing.T) {
	api := &fakeAPI{responses: []string{textResponse(`{"cropName":"Soja"}`)}}
	c := newTestClient(t, api, nil)

	raw, err := c.GenerateCropPlan(context.Background(), "Gere um relatório")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cropName":"Soja"}`, string(raw))

	gen := api.body(t, 0)["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", gen["responseMimeType"])
	schema := gen["responseSchema"].(map[string]any)
	assert.Contains(t, schema["required"], "seasonalRisks")
}

func TestCropPlanSchema_RequiredFieldsExist(t *testing.T) {
	s := CropPlanSchema()
	for _, name := range s.Required {
		assert.Contains(t, s.Properties, name)
	}
}
