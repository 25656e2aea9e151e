// Package aiassistant answers questions, analyzes logs and drafts workflows
// through whichever AI provider is configured: Gemini, ChatGPT, Azure OpenAI
// or Claude.
package aiassistant

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/services"
)

const Domain = "ai_assistant"

// maxLogEntries bounds how many of the most recent log entries are sent.
const maxLogEntries = 100

const (
	defaultLogQuestion  = "Analyze these logs and provide insights, errors, and recommendations."
	defaultWorkflowGoal = "Optimize this workflow for better performance and error handling."

	logAnalystPrompt      = "You are a log analysis expert. Analyze logs efficiently and provide actionable insights."
	workflowEnhancePrompt = "You are a workflow optimization expert. Enhance workflows while maintaining functionality."
	workflowCreatePrompt  = "You are a workflow generation expert. Create functional faneX-ID workflows."
)

//go:embed manifest.json
var manifestJSON []byte

func Factory() integration.Factory {
	return integration.Factory{
		Domain:   Domain,
		Manifest: manifestJSON,
		New:      func() integration.Integration { return New() },
	}
}

// Assistant is the AI assistant integration.
type Assistant struct {
	logger     zerolog.Logger
	dispatcher *Dispatcher
}

func New() *Assistant {
	return &Assistant{logger: zerolog.Nop()}
}

func (a *Assistant) Domain() string { return Domain }

func (a *Assistant) Setup(ctx context.Context, sc *integration.SetupContext) error {
	a.logger = sc.Logger
	a.logger.Info().Msg("Setting up AI Assistant integration")

	cfg := ConfigFromValues(sc.Config)
	if _, err := canonical(cfg.DefaultProvider); err != nil {
		return &services.ConfigError{Domain: Domain, Key: "default_provider", Reason: "is not a known provider"}
	}
	a.dispatcher = NewDispatcher(cfg, a.logger)

	available := a.dispatcher.Available()
	if len(available) == 0 {
		return fmt.Errorf("%s: %w", Domain, ErrNoProvider)
	}
	a.logger.Info().Strs("providers", available).Str("default_provider", cfg.DefaultProvider).Msg("AI providers available")

	for _, svc := range []struct {
		name        string
		handler     services.Handler
		schema      services.Schema
		description string
	}{
		{"query", a.Query, services.Schema{
			"question":      {Type: services.TypeString, Required: true},
			"provider":      {Type: services.TypeString, Default: ProviderAuto},
			"context":       {Type: services.TypeObject},
			"system_prompt": {Type: services.TypeString},
			"max_tokens":    {Type: services.TypeInteger},
			"temperature":   {Type: services.TypeNumber},
		}, "Query the AI assistant"},
		{"analyze_logs", a.AnalyzeLogs, services.Schema{
			"log_data": {Type: services.TypeArray, Required: true},
			"question": {Type: services.TypeString},
			"provider": {Type: services.TypeString, Default: ProviderAuto},
		}, "Analyze log entries with AI"},
		{"enhance_workflow", a.EnhanceWorkflow, services.Schema{
			"workflow": {Type: services.TypeObject, Required: true},
			"goal":     {Type: services.TypeString},
			"provider": {Type: services.TypeString, Default: ProviderAuto},
		}, "Enhance a workflow using AI"},
		{"generate_workflow", a.GenerateWorkflow, services.Schema{
			"description": {Type: services.TypeString, Required: true},
			"context":     {Type: services.TypeObject},
			"provider":    {Type: services.TypeString, Default: ProviderAuto},
		}, "Generate a workflow from description"},
		{"list_providers", a.ListProviders, services.Schema{}, "List AI providers with credentials configured"},
	} {
		if err := sc.Register(svc.name, svc.handler, svc.schema, svc.description); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assistant) Shutdown(ctx context.Context) error {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	return nil
}

// Query sends a question, with optional context appended as indented JSON.
func (a *Assistant) Query(ctx context.Context, req services.Request) (services.Response, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return nil, err
	}

	prompt := question
	if c := req.Map("context"); len(c) > 0 {
		prompt += "\n\nContext:\n" + indentJSON(c)
	}

	res, err := a.dispatcher.Query(ctx, req.StringOr("provider", ProviderAuto), Prompt{
		Text:        prompt,
		System:      req.String("system_prompt"),
		MaxTokens:   req.IntOr("max_tokens", 0),
		Temperature: req.FloatOr("temperature", 0),
	})
	if err != nil {
		return nil, err
	}
	return services.OK(map[string]any{
		"response":    res.Text,
		"provider":    res.Provider,
		"model":       res.Model,
		"tokens_used": res.TokensUsed,
	}), nil
}

// AnalyzeLogs asks for a summary, errors, patterns and recommendations over
// the most recent log entries.
func (a *Assistant) AnalyzeLogs(ctx context.Context, req services.Request) (services.Response, error) {
	entries := req.Slice("log_data")
	if len(entries) == 0 {
		return nil, &services.FieldError{Field: "log_data"}
	}

	prompt := req.StringOr("question", defaultLogQuestion) + "\n\nLog Data:\n" + FormatLogs(entries) + `

Please provide:
1. Summary of key events
2. Any errors or warnings
3. Patterns or anomalies
4. Recommendations`

	res, err := a.dispatcher.Query(ctx, req.StringOr("provider", ProviderAuto), Prompt{
		Text:   prompt,
		System: logAnalystPrompt,
	})
	if err != nil {
		return nil, err
	}
	return services.OK(map[string]any{
		"analysis":      res.Text,
		"provider":      res.Provider,
		"model":         res.Model,
		"logs_analyzed": len(entries),
	}), nil
}

// EnhanceWorkflow returns the model's revision of a workflow, or the input
// unchanged when no JSON object can be recovered from the answer.
func (a *Assistant) EnhanceWorkflow(ctx context.Context, req services.Request) (services.Response, error) {
	workflow := req.Map("workflow")
	if len(workflow) == 0 {
		return nil, &services.FieldError{Field: "workflow"}
	}

	prompt := req.StringOr("goal", defaultWorkflowGoal) + "\n\nCurrent Workflow:\n" + indentJSON(workflow) + `

Please provide an enhanced version of this workflow with:
1. Better error handling
2. Optimized performance
3. Clear documentation
4. Best practices

Return the enhanced workflow as valid JSON.`

	res, err := a.dispatcher.Query(ctx, req.StringOr("provider", ProviderAuto), Prompt{
		Text:   prompt,
		System: workflowEnhancePrompt,
	})
	if err != nil {
		return nil, err
	}

	var enhanced any = map[string]any(workflow)
	if obj := ExtractJSON(res.Text); obj != nil {
		enhanced = obj
	}
	return services.OK(map[string]any{
		"enhanced_workflow": enhanced,
		"suggestions":       res.Text,
		"provider":          res.Provider,
		"model":             res.Model,
	}), nil
}

// GenerateWorkflow drafts a workflow from a description. The workflow is nil
// when the answer contains no parseable JSON object.
func (a *Assistant) GenerateWorkflow(ctx context.Context, req services.Request) (services.Response, error) {
	description, err := req.RequireString("description")
	if err != nil {
		return nil, err
	}

	var integrations string
	if c := req.Map("context"); len(c) > 0 {
		integrations = "\n\nAvailable Integrations:\n" + indentJSON(c)
	}
	prompt := "Generate a faneX-ID workflow based on this description:\n\n" + description + "\n" + integrations + `

Please create a complete workflow JSON with:
1. Name and description
2. Triggers
3. Steps with proper service calls
4. Error handling
5. Documentation

Return the workflow as valid JSON following faneX-ID workflow schema.`

	res, err := a.dispatcher.Query(ctx, req.StringOr("provider", ProviderAuto), Prompt{
		Text:   prompt,
		System: workflowCreatePrompt,
	})
	if err != nil {
		return nil, err
	}

	var workflow any
	if obj := ExtractJSON(res.Text); obj != nil {
		workflow = obj
	}
	return services.OK(map[string]any{
		"workflow":    workflow,
		"explanation": res.Text,
		"provider":    res.Provider,
		"model":       res.Model,
	}), nil
}

func (a *Assistant) ListProviders(ctx context.Context, req services.Request) (services.Response, error) {
	return services.OK(map[string]any{
		"providers":        a.dispatcher.Available(),
		"default_provider": a.dispatcher.cfg.DefaultProvider,
	}), nil
}

// FormatLogs renders the last entries as "[ts] LEVEL source: message" lines.
// Entries may use time, severity, msg and logger as alternative keys.
func FormatLogs(entries []any) string {
	if len(entries) == 0 {
		return "No logs provided."
	}
	if len(entries) > maxLogEntries {
		entries = entries[len(entries)-maxLogEntries:]
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		entry, err := cast.ToStringMapE(e)
		if err != nil {
			lines = append(lines, cast.ToString(e))
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s %s: %s",
			firstOf(entry, "", "timestamp", "time"),
			firstOf(entry, "INFO", "level", "severity"),
			firstOf(entry, "", "source", "logger"),
			firstOf(entry, "", "message", "msg"),
		))
	}
	return strings.Join(lines, "\n")
}

func firstOf(entry map[string]any, def string, keys ...string) string {
	for _, k := range keys {
		if v, ok := entry[k]; ok && v != nil {
			return cast.ToString(v)
		}
	}
	return def
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
