package aiassistant

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAIBackend serves both ChatGPT and Azure OpenAI; Azure differs only in
// addressing and authentication.
type openAIBackend struct {
	client openai.Client
	// model is sent on the wire; label is reported in results.
	model string
	label string
}

func newChatGPTBackend(apiKey, model, baseURL string) *openAIBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openAIBackend{
		client: openai.NewClient(opts...),
		model:  model,
		label:  model,
	}
}

// newAzureBackend addresses the deployment directly, so the deployment name
// doubles as the model parameter.
func newAzureBackend(apiKey, endpoint, deployment, apiVersion, model string) *openAIBackend {
	base := strings.TrimRight(endpoint, "/") + "/openai/deployments/" + deployment + "/"
	return &openAIBackend{
		client: openai.NewClient(
			option.WithBaseURL(base),
			option.WithQuery("api-version", apiVersion),
			option.WithHeader("Api-Key", apiKey),
			option.WithMaxRetries(0),
		),
		model: deployment,
		label: model,
	}
}

func (b *openAIBackend) Complete(ctx context.Context, p Prompt) (Result, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if p.System != "" {
		messages = append(messages, openai.SystemMessage(p.System))
	}
	messages = append(messages, openai.UserMessage(p.Text))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(b.model),
		Messages: messages,
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}
	if p.Temperature > 0 {
		params.Temperature = openai.Float(p.Temperature)
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, err
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("no response choices returned")
	}
	return Result{
		Text:       resp.Choices[0].Message.Content,
		Model:      b.label,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
