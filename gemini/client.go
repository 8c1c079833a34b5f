package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/room4-2/iacfarm/audio"
	"github.com/room4-2/iacfarm/chat"
	"github.com/room4-2/iacfarm/functions"
	"github.com/room4-2/iacfarm/logger"
)

const (
	roleUser  = "user"
	roleModel = "model"

	// maxToolRounds bounds the function-call loop of one chat reply.
	maxToolRounds = 3

	transcribePrompt = "Transcreva fielmente este áudio em português do Brasil. Responda apenas com a transcrição, sem comentários."
)

var (
	ErrClosed     = errors.New("gemini client is closed")
	ErrNoContent  = errors.New("gemini returned no content")
	ErrToolRounds = errors.New("gemini kept calling tools")
)

// Config selects models and voice for the client.
type Config struct {
	APIKey            string
	ChatModel         string
	TTSModel          string
	TranscribeModel   string
	VoiceName         string
	SystemInstruction string
	// BaseURL overrides the API endpoint; empty uses the public one.
	BaseURL string
	Tools   *functions.Registry
	Logger  *zap.Logger
}

// Client wraps the GenAI SDK for chat replies, speech, transcription and
// structured crop plans. It is safe for concurrent use.
type Client struct {
	client *genai.Client
	cfg    Config
	log    *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewClient creates the GenAI client
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Client{client: client, cfg: cfg, log: logger.OrNop(cfg.Logger)}, nil
}

// Reply answers one chat turn, running any function calls the model makes.
func (c *Client) Reply(ctx context.Context, req chat.Request) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := roleModel
		if turn.Role == chat.RoleUser {
			role = roleUser
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: turn.Text}}})
	}

	current, err := currentParts(req)
	if err != nil {
		return "", err
	}
	contents = append(contents, &genai.Content{Role: roleUser, Parts: current})

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: c.cfg.SystemInstruction}},
		},
		Tools: c.cfg.Tools.Tools(),
	}

	for round := 0; round <= maxToolRounds; round++ {
		resp, err := c.client.Models.GenerateContent(ctx, c.cfg.ChatModel, contents, config)
		if err != nil {
			return "", fmt.Errorf("generate content: %w", err)
		}
		content := firstContent(resp)
		if content == nil {
			return "", ErrNoContent
		}

		calls := functionCalls(content)
		if len(calls) == 0 || c.cfg.Tools == nil {
			return textOf(content), nil
		}

		if content.Role == "" {
			content.Role = roleModel
		}
		contents = append(contents, content)
		responses := make([]*genai.Part, 0, len(calls))
		for _, fc := range calls {
			c.log.Info("gemini_function_call", zap.String("name", fc.Name), zap.String("id", fc.ID))
			responses = append(responses, &genai.Part{FunctionResponse: c.cfg.Tools.Call(ctx, fc)})
		}
		contents = append(contents, &genai.Content{Role: roleUser, Parts: responses})
	}
	return "", ErrToolRounds
}

// Synthesize renders text as base64 24 kHz mono 16-bit PCM.
func (c *Client) Synthesize(ctx context.Context, text string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("nothing to synthesize")
	}

	config := &genai.GenerateContentConfig{
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: c.cfg.VoiceName,
				},
			},
		},
	}
	config.ResponseModalities = append(config.ResponseModalities, "AUDIO")

	contents := []*genai.Content{{Role: roleUser, Parts: []*genai.Part{{Text: text}}}}
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.TTSModel, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate speech: %w", err)
	}
	content := firstContent(resp)
	if content == nil {
		return "", ErrNoContent
	}
	for _, part := range content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			c.log.Debug("gemini_speech", zap.Int("bytes", len(part.InlineData.Data)))
			return base64.StdEncoding.EncodeToString(part.InlineData.Data), nil
		}
	}
	return "", ErrNoContent
}

// Transcribe turns 16-bit mono PCM recorded at sampleRate into text.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	if len(pcm) == 0 {
		return "", errors.New("no audio to transcribe")
	}

	contents := []*genai.Content{{
		Role: roleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: audio.EncodeWAV(pcm, sampleRate, 1)}},
			{Text: transcribePrompt},
		},
	}}
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.TranscribeModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	content := firstContent(resp)
	if content == nil {
		return "", ErrNoContent
	}
	return strings.TrimSpace(textOf(content)), nil
}

// Close marks the client closed; later calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// currentParts puts inline media first, then the text when there is any.
func currentParts(req chat.Request) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, 2)
	if req.Inline != nil {
		data, err := base64.StdEncoding.DecodeString(req.Inline.Data)
		if err != nil {
			return nil, fmt.Errorf("decode inline data: %w", err)
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.Inline.MIMEType, Data: data}})
	}
	if strings.TrimSpace(req.Text) != "" {
		parts = append(parts, &genai.Part{Text: req.Text})
	}
	if len(parts) == 0 {
		return nil, errors.New("empty turn")
	}
	return parts, nil
}

func firstContent(resp *genai.GenerateContentResponse) *genai.Content {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	return resp.Candidates[0].Content
}

func functionCalls(content *genai.Content) []*genai.FunctionCall {
	var calls []*genai.FunctionCall
	for _, part := range content.Parts {
		if part != nil && part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return calls
}

func textOf(content *genai.Content) string {
	var b strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}
