package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/evalmesh/agent"
	"github.com/hupe1980/evalmesh/artifact"
	"github.com/hupe1980/evalmesh/dispatch"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/runner"
	"github.com/hupe1980/evalmesh/tool"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestModelsList(t *testing.T) {
	out, err := execute(t, "models", "list", "--provider", "xai")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Grok4_0709")
	assert.NotContains(t, out, "GPT41_0414")
}

func TestModelsListJSONWithCatalogOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - name: local-oss
    provider: openai
    model_id: openai/gpt-oss-20b
    base_url: http://localhost:1234/v1
`), 0o644))

	out, err := execute(t, "--config", path, "models", "list", "--json", "--provider", "openai")
	require.NoError(t, err)

	var entries []modelEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Contains(t, entries, modelEntry{Name: "local-oss", Provider: "openai", ModelID: "openai/gpt-oss-20b"})
}

func TestRunRejectsUnknownModel(t *testing.T) {
	_, err := execute(t, "run", "--model", "nope", "--prompt", "x", "--read-root", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown model "nope"`)
}

func TestLoadBatchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
output: out
models: [GPT41_0414, Gemini_25_Pro]
max_steps: 40
tasks:
  - id: todo
    prompt_file: prompts/todo.md
    read_root: apps/todo
    images: [mock.png]
    file_structure_follow_ups: true
  - prompt: Build a counter
    max_steps: 5
    guidance: [Add a reset button]
`), 0o644))

	bf, err := loadBatchFile(path)
	require.NoError(t, err)

	require.Len(t, bf.Tasks, 2)
	assert.Equal(t, filepath.Join(dir, "prompts/todo.md"), bf.Tasks[0].PromptFile)
	assert.Equal(t, filepath.Join(dir, "apps/todo"), bf.Tasks[0].ReadRoot)
	assert.Equal(t, []string{filepath.Join(dir, "mock.png")}, bf.Tasks[0].Images)
	assert.Equal(t, 40, bf.Tasks[0].MaxSteps)
	assert.Equal(t, "task2", bf.Tasks[1].ID)
	assert.Equal(t, 5, bf.Tasks[1].MaxSteps)
}

func TestLoadBatchFileRequiresModels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks:\n  - prompt: x\n"), 0o644))

	_, err := loadBatchFile(path)
	assert.ErrorContains(t, err, "lists no models")
}

func TestJobsExpandTasksByModel(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "ui.png")
	require.NoError(t, os.WriteFile(img, []byte{0x89, 'P', 'N', 'G'}, 0o644))

	b := &loopBuilder{}
	jobs, err := b.jobs([]taskSpec{
		{ID: "a", Prompt: "one", Images: []string{img}},
		{ID: "b", Prompt: "two"},
	}, []string{"m1", "m2"})
	require.NoError(t, err)

	require.Len(t, jobs, 4)
	assert.Equal(t, "a_m1", jobs[0].Task.ID)
	assert.Equal(t, "m2", jobs[1].Task.Model)
	assert.Equal(t, "b_m2", jobs[3].Task.ID)
	require.Len(t, jobs[0].Task.Images, 1)
	assert.Equal(t, "ui.png", jobs[0].Task.Images[0].FileName)

	_, err = b.jobs([]taskSpec{{ID: "a", Prompt: "x"}, {ID: "a", Prompt: "y"}}, []string{"m1"})
	assert.ErrorContains(t, err, "duplicate run a_m1")

	_, err = b.jobs([]taskSpec{{ID: "empty"}}, []string{"m1"})
	assert.ErrorContains(t, err, "has no prompt")
}

func TestLoopBuilderRunsFileTask(t *testing.T) {
	readRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(readRoot, "App.jsx"), []byte("export default App"), 0o644))
	output := t.TempDir()

	m := model.NewMockModel("mock", model.ProviderOpenAI).
		Then(&model.Response{ToolCalls: []model.ToolCall{{ID: "1", Name: tool.WriteFileName, Arguments: map[string]any{
			"file_path": "App.tsx", "content": "export default App",
		}}}}, nil).
		Then(&model.Response{ToolCalls: []model.ToolCall{{ID: "2", Name: tool.EndTaskName}}}, nil)

	d := dispatch.New(nil, nil, func(o *dispatch.Options) {
		o.Sleep = func(context.Context, time.Duration) error { return nil }
	})
	d.Register("mock", m)

	b := &loopBuilder{
		dispatcher: d,
		store:      artifact.NewFileStore(output),
		outputDir:  output,
		logger:     logging.NewSlogLogger(logging.LogLevelError, "text", false),
	}
	jobs, err := b.jobs([]taskSpec{{ID: "app", Prompt: "Convert to TypeScript", ReadRoot: readRoot}}, []string{"mock"})
	require.NoError(t, err)

	outcomes := runner.New(b.build).Batch(context.Background(), jobs)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, agent.StatusCompleted, outcomes[0].Status())

	written, err := os.ReadFile(filepath.Join(output, "app_mock", "files", "App.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "export default App", string(written))
	assert.FileExists(t, filepath.Join(output, "app_mock", artifact.TranscriptName))
}

func TestLoopBuilderNeedsReadRoot(t *testing.T) {
	b := &loopBuilder{outputDir: t.TempDir(), logger: logging.NewSlogLogger(logging.LogLevelError, "text", false)}
	jobs, err := b.jobs([]taskSpec{{ID: "x", Prompt: "p"}}, []string{"m"})
	require.NoError(t, err)

	_, err = b.build(jobs[0])
	assert.ErrorContains(t, err, "needs read_root")
}
