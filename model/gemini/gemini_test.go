package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/tool"
)

const reply = `{
  "candidates": [{
    "content": {"role": "model", "parts": [
      {"text": "Planning the migration", "thought": true},
      {"text": "Listing files."},
      {"functionCall": {"name": "list_files", "args": {}}},
      {"functionCall": {"id": "fc-2", "name": "read_file", "args": {"file_path": "app.js"}}}
    ]},
    "finishReason": "STOP"
  }],
  "usageMetadata": {"promptTokenCount": 100, "candidatesTokenCount": 20, "thoughtsTokenCount": 15, "totalTokenCount": 135}
}`

type recorder struct {
	path string
	body map[string]any
}

func newServer(t *testing.T, rec *recorder, status int, payload string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.path = r.URL.Path
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &rec.body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, payload)
	}))
}

func TestGenerateParsesThoughtsCallsAndUsage(t *testing.T) {
	var rec recorder
	srv := newServer(t, &rec, http.StatusOK, reply)
	defer srv.Close()

	m, err := NewModel(context.Background(), "key", srv.URL, func(o *Options) { o.Model = "gemini-2.5-flash" })
	require.NoError(t, err)

	resp, err := m.Generate(context.Background(), model.Request{
		SystemPrompt: "You translate code",
		Messages:     []core.Message{core.NewUserText("go")},
		Tools:        tool.DefaultToolSet(),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(rec.path, "gemini-2.5-flash:generateContent"))
	assert.Equal(t, "Listing files.", resp.Text())
	require.NotNil(t, resp.Thoughts)
	assert.Equal(t, "Planning the migration", *resp.Thoughts)

	require.Len(t, resp.ToolCalls, 2)
	_, parseErr := uuid.Parse(resp.ToolCalls[0].ID)
	assert.NoError(t, parseErr, "missing ids are synthesized")
	assert.Equal(t, map[string]any{}, resp.ToolCalls[0].Arguments)
	assert.Equal(t, "fc-2", resp.ToolCalls[1].ID)

	assert.Equal(t, model.TokenUsage{Input: 100, Output: 35, Reasoning: 15}, resp.Usage)

	tools := rec.body["tools"].([]any)
	require.Len(t, tools, 1)
	var names []string
	for _, d := range tools[0].(map[string]any)["functionDeclarations"].([]any) {
		names = append(names, d.(map[string]any)["name"].(string))
	}
	assert.Equal(t, tool.DefaultToolSet().Names(), names)

	sys := rec.body["systemInstruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)
	assert.Equal(t, "You translate code", sys["text"])
}

func TestGenerateFormatsConversation(t *testing.T) {
	var rec recorder
	srv := newServer(t, &rec, http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]}}]}`)
	defer srv.Close()

	m, err := NewModel(context.Background(), "key", srv.URL)
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), model.Request{
		Messages: []core.Message{
			core.NewUserMessage(
				core.ImagePart{FileName: "ui.gif", Data: []byte("GIF89a")},
				core.ImagePart{FileName: "ui.svg", Data: []byte("<svg/>")},
			),
			core.NewAssistantMessage(true, core.ToolCallPart{ID: "c1", Name: "read_file", Arguments: map[string]any{"file_path": "a"}}),
			core.NewUserMessage(core.ToolResponsePart{ID: "c1", Name: "read_file", Result: "content"}),
		},
	})
	require.NoError(t, err)

	contents := rec.body["contents"].([]any)
	require.Len(t, contents, 3)

	first := contents[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	parts := first["parts"].([]any)
	require.Len(t, parts, 2, "unsupported image is skipped")
	assert.Equal(t, "Next image file name: ui.gif", parts[0].(map[string]any)["text"])
	assert.Equal(t, "image/gif", parts[1].(map[string]any)["inlineData"].(map[string]any)["mimeType"])

	second := contents[1].(map[string]any)
	assert.Equal(t, "model", second["role"])
	call := second["parts"].([]any)[0].(map[string]any)["functionCall"].(map[string]any)
	assert.Equal(t, "read_file", call["name"])

	third := contents[2].(map[string]any)["parts"].([]any)[0].(map[string]any)["functionResponse"].(map[string]any)
	assert.Equal(t, map[string]any{"result": "content"}, third["response"])
}

func TestGenerateTransportError(t *testing.T) {
	var rec recorder
	srv := newServer(t, &rec, http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`)
	defer srv.Close()

	m, err := NewModel(context.Background(), "key", srv.URL)
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), model.Request{Messages: []core.Message{core.NewUserText("q")}})

	var te *model.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.RateLimited())
	assert.Equal(t, model.ProviderGemini, te.Provider)
}
