package aiassistant

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type geminiBackend struct {
	client *genai.Client
	model  string
}

// newGeminiBackend creates the client detached from ctx: it outlives the
// request that happened to build it.
func newGeminiBackend(ctx context.Context, apiKey, model string) (*geminiBackend, error) {
	client, err := genai.NewClient(context.WithoutCancel(ctx), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &geminiBackend{client: client, model: model}, nil
}

// Complete prepends the system prompt to the user prompt, since older Gemini
// models reject system instructions.
func (b *geminiBackend) Complete(ctx context.Context, p Prompt) (Result, error) {
	m := b.client.GenerativeModel(b.model)
	if p.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(p.MaxTokens))
	}
	if p.Temperature > 0 {
		m.SetTemperature(float32(p.Temperature))
	}

	prompt := p.Text
	if p.System != "" {
		prompt = p.System + "\n\n" + p.Text
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Result{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, errors.New("no candidates returned")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	res := Result{Text: text.String(), Model: b.model}
	if resp.UsageMetadata != nil {
		res.TokensUsed = int64(resp.UsageMetadata.TotalTokenCount)
	}
	return res, nil
}

func (b *geminiBackend) Close() error {
	return b.client.Close()
}
