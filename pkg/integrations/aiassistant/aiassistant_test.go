package aiassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanex-id/integrations/pkg/integration/integrationtest"
	"github.com/fanex-id/integrations/pkg/services"
)

// fakeLLM serves the OpenAI chat completions and Anthropic messages
// endpoints, answering every request with reply.
type fakeLLM struct {
	*httptest.Server

	mu       sync.Mutex
	reply    string
	requests []map[string]any
	paths    []string
	headers  []http.Header
}

func newFakeLLM(t *testing.T, reply string) *fakeLLM {
	f := &fakeLLM{reply: reply}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.record(t, r)
		writeJSON(w, map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})
	mux.HandleFunc("/openai/deployments/gpt4-prod/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.record(t, r)
		writeJSON(w, map[string]any{
			"id":      "chatcmpl-2",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7},
		})
	})
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		f.record(t, r)
		writeJSON(w, map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-3-5-sonnet-latest",
			"content":       []any{map[string]any{"type": "text", "text": f.reply}},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 8, "output_tokens": 12},
		})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeLLM) record(t *testing.T, r *http.Request) {
	var body map[string]any
	assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, body)
	f.paths = append(f.paths, r.URL.Path+"?"+r.URL.RawQuery)
	f.headers = append(f.headers, r.Header.Clone())
}

func (f *fakeLLM) last(t *testing.T) (map[string]any, string, http.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	n := len(f.requests) - 1
	return f.requests[n], f.paths[n], f.headers[n]
}

func (f *fakeLLM) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func chatGPTConfig(srv *fakeLLM) services.Values {
	return services.Values{
		"chatgpt_api_key":  "sk-test",
		"chatgpt_base_url": srv.URL,
	}
}

func TestSetup_NoProvider(t *testing.T) {
	h := integrationtest.New(t, map[string]services.Values{Domain: {}}, Factory())
	err := h.Host.Setup(context.Background(), Domain)
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Equal(t, 0, h.Registry.Len())
}

func TestQuery_AutoFallsBackToChatGPT(t *testing.T) {
	srv := newFakeLLM(t, "42 is the answer")
	h := integrationtest.Setup(t, Factory(), chatGPTConfig(srv))

	resp := h.Invoke(Domain, "query", services.Request{
		"question":      "What is the answer?",
		"context":       map[string]any{"env": "prod"},
		"system_prompt": "Be brief.",
	})
	require.True(t, resp.Success(), resp.ErrorMessage())
	assert.Equal(t, "42 is the answer", resp["response"])
	assert.Equal(t, "chatgpt", resp["provider"])
	assert.Equal(t, "gpt-4", resp["model"])
	assert.EqualValues(t, 15, resp["tokens_used"])

	body, _, headers := srv.last(t)
	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, "gpt-4", body["model"])
	assert.EqualValues(t, 2000, body["max_tokens"])
	assert.InDelta(t, 0.7, body["temperature"], 1e-9)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "Be brief.", msgs[0].(map[string]any)["content"])
	assert.Contains(t, msgs[1].(map[string]any)["content"], "What is the answer?\n\nContext:\n{\n  \"env\": \"prod\"\n}")
}

func TestQuery_ExplicitUnavailableProvider(t *testing.T) {
	srv := newFakeLLM(t, "unused")
	h := integrationtest.Setup(t, Factory(), chatGPTConfig(srv))

	resp := h.Invoke(Domain, "query", services.Request{"question": "hi", "provider": "gemini"})
	assert.False(t, resp.Success())
	assert.Equal(t, "AI provider not configured: gemini", resp.ErrorMessage())
	assert.Zero(t, srv.count())
}

func TestQuery_UnknownProvider(t *testing.T) {
	srv := newFakeLLM(t, "unused")
	h := integrationtest.Setup(t, Factory(), chatGPTConfig(srv))

	resp := h.Invoke(Domain, "query", services.Request{"question": "hi", "provider": "bard"})
	assert.False(t, resp.Success())
	assert.Equal(t, "unknown provider: bard", resp.ErrorMessage())
}

func TestQuery_MissingQuestion(t *testing.T) {
	srv := newFakeLLM(t, "unused")
	h := integrationtest.Setup(t, Factory(), chatGPTConfig(srv))

	resp := h.Invoke(Domain, "query", services.Request{})
	assert.False(t, resp.Success())
	assert.Equal(t, "question is required", resp.ErrorMessage())
}

func TestQuery_Azure(t *testing.T) {
	srv := newFakeLLM(t, "from azure")
	h := integrationtest.Setup(t, Factory(), services.Values{
		"azure_openai_api_key":    "az-key",
		"azure_openai_endpoint":   srv.URL + "/",
		"azure_openai_deployment": "gpt4-prod",
		"default_provider":        "azure",
	})

	resp := h.Invoke(Domain, "query", services.Request{"question": "hi", "provider": "azure_openai"})
	require.True(t, resp.Success(), resp.ErrorMessage())
	assert.Equal(t, "azure", resp["provider"])
	assert.Equal(t, "gpt4-prod", resp["model"])
	assert.EqualValues(t, 7, resp["tokens_used"])

	body, path, headers := srv.last(t)
	assert.Equal(t, "/openai/deployments/gpt4-prod/chat/completions?api-version=2024-02-15-preview", path)
	assert.Equal(t, "az-key", headers.Get("Api-Key"))
	assert.Equal(t, "gpt4-prod", body["model"])
}

func TestQuery_Claude(t *testing.T) {
	srv := newFakeLLM(t, "from claude")
	h := integrationtest.Setup(t, Factory(), services.Values{
		"claude_api_key":   "ant-key",
		"claude_base_url":  srv.URL,
		"default_provider": "claude",
		"max_tokens":       512,
	})

	resp := h.Invoke(Domain, "query", services.Request{"question": "hi", "system_prompt": "sys", "temperature": 0.2})
	require.True(t, resp.Success(), resp.ErrorMessage())
	assert.Equal(t, "from claude", resp["response"])
	assert.Equal(t, "claude", resp["provider"])
	assert.EqualValues(t, 20, resp["tokens_used"])

	body, _, headers := srv.last(t)
	assert.Equal(t, "ant-key", headers.Get("X-Api-Key"))
	assert.EqualValues(t, 512, body["max_tokens"])
	assert.InDelta(t, 0.2, body["temperature"], 1e-9)
	system := body["system"].([]any)
	assert.Equal(t, "sys", system[0].(map[string]any)["text"])
}

func TestAnalyzeLogs(t *testing.T) {
	srv := newFakeLLM(t, "Disk errors on db-1")
	h := integrationtest.Setup(t, Factory(), chatGPTConfig(srv))

	resp := h.Invoke(Domain, "analyze_logs", services.Request{
		"log_data": []any{
			map[string]any{"timestamp": "10:00", "level": "ERROR", "source": "db-1", "message": "I/O error"},
			map[string]any{"timestamp": "10:01", "level": "INFO", "source": "api", "message": "ok"},
		},
	})
	require.True(t, resp.Success(), resp.ErrorMessage())
	assert.Equal(t, "Disk errors on db-1", resp["analysis"])
	assert.Equal(t, 2, resp["logs_analyzed"])

	body, _, _ := srv.last(t)
	msgs := body["messages"].([]any)
	assert.Equal(t, logAnalystPrompt, msgs[0].(map[string]any)["content"])
	user := msgs[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, defaultLogQuestion)
	assert.Contains(t, user, "[10:00] ERROR db-1: I/O error\n[10:01] INFO api: ok")

	resp = h.Invoke(Domain, "analyze_logs", services.Request{"log_data": []any{}})
	assert.Equal(t, "log_data is required", resp.ErrorMessage())
}

func TestEnhanceWorkflow(t *testing.T) {
	srv := newFakeLLM(t, "Improved:\n```json\n{\"name\": \"backup\", \"retries\": 3}\n```")
	h := integrationtest.Setup(t, Factory(), chatGPTConfig(srv))

	resp := h.Invoke(Domain, "enhance_workflow", services.Request{
		"workflow": map[string]any{"name": "backup"},
	})
	require.True(t, resp.Success(), resp.ErrorMessage())
	assert.Equal(t, map[string]any{"name": "backup", "retries": float64(3)}, resp["enhanced_workflow"])
	assert.Contains(t, resp["suggestions"], "Improved:")
}

func TestEnhanceWorkflow_KeepsInputWithoutJSON(t *testing.T) {
	srv := newFakeLLM(t, "Looks fine as is.")
	h := integrationtest.Setup(t, Factory(), chatGPTConfig(srv))

	resp := h.Invoke(Domain, "enhance_workflow", services.Request{
		"workflow": map[string]any{"name": "backup"},
		"goal":     "Make it faster",
	})
	require.True(t, resp.Success(), resp.ErrorMessage())
	assert.Equal(t, map[string]any{"name": "backup"}, resp["enhanced_workflow"])
	assert.Equal(t, "Looks fine as is.", resp["suggestions"])

	body, _, _ := srv.last(t)
	user := body["messages"].([]any)[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "Make it faster\n\nCurrent Workflow:")
}

func TestGenerateWorkflow(t *testing.T) {
	srv := newFakeLLM(t, `Here it is: {"name": "notify", "steps": [{"service": "slack.send_message"}]}`)
	h := integrationtest.Setup(t, Factory(), chatGPTConfig(srv))

	resp := h.Invoke(Domain, "generate_workflow", services.Request{
		"description": "Notify slack on failures",
		"context":     map[string]any{"slack": []any{"send_message"}},
	})
	require.True(t, resp.Success(), resp.ErrorMessage())
	wf := resp["workflow"].(map[string]any)
	assert.Equal(t, "notify", wf["name"])
	assert.Equal(t, "chatgpt", resp["provider"])

	body, _, _ := srv.last(t)
	user := body["messages"].([]any)[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "Notify slack on failures")
	assert.Contains(t, user, "Available Integrations:")
}

func TestGenerateWorkflow_NoJSON(t *testing.T) {
	srv := newFakeLLM(t, "Sorry, too vague.")
	h := integrationtest.Setup(t, Factory(), chatGPTConfig(srv))

	resp := h.Invoke(Domain, "generate_workflow", services.Request{"description": "something"})
	require.True(t, resp.Success(), resp.ErrorMessage())
	assert.Contains(t, resp, "workflow")
	assert.Nil(t, resp["workflow"])
	assert.Equal(t, "Sorry, too vague.", resp["explanation"])
}

func TestListProviders(t *testing.T) {
	srv := newFakeLLM(t, "unused")
	cfg := chatGPTConfig(srv)
	cfg["claude_api_key"] = "c"
	h := integrationtest.Setup(t, Factory(), cfg)

	resp := h.Invoke(Domain, "list_providers", services.Request{})
	require.True(t, resp.Success())
	assert.Equal(t, []string{"chatgpt", "claude"}, resp["providers"])
	assert.Equal(t, "gemini", resp["default_provider"])
}
