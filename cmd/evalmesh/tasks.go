package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/evalmesh/agent"
	"github.com/hupe1980/evalmesh/artifact"
	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/dispatch"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/runner"
	"github.com/hupe1980/evalmesh/tool"
)

// taskSpec describes one task in a batch file or on the command line.
type taskSpec struct {
	ID           string         `yaml:"id"`
	Prompt       string         `yaml:"prompt"`
	PromptFile   string         `yaml:"prompt_file"`
	SystemPrompt string         `yaml:"system_prompt"`
	ReadRoot     string         `yaml:"read_root"`
	Images       []string       `yaml:"images"`
	Guidance     []string       `yaml:"guidance"`
	FollowUps    bool           `yaml:"file_structure_follow_ups"`
	MaxSteps     int            `yaml:"max_steps"`
	Vars         map[string]any `yaml:"vars"`
}

// batchFile is the YAML layout accepted by the batch command.
type batchFile struct {
	Output      string     `yaml:"output"`
	Models      []string   `yaml:"models"`
	MaxSteps    int        `yaml:"max_steps"`
	Concurrency int        `yaml:"concurrency"`
	Tasks       []taskSpec `yaml:"tasks"`
}

func loadBatchFile(path string) (*batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parse batch file %s: %w", path, err)
	}
	if len(bf.Models) == 0 {
		return nil, fmt.Errorf("batch file %s lists no models", path)
	}
	if len(bf.Tasks) == 0 {
		return nil, fmt.Errorf("batch file %s lists no tasks", path)
	}

	base := filepath.Dir(path)
	for i := range bf.Tasks {
		t := &bf.Tasks[i]
		if t.ID == "" {
			t.ID = fmt.Sprintf("task%d", i+1)
		}
		if t.MaxSteps == 0 {
			t.MaxSteps = bf.MaxSteps
		}
		t.PromptFile = relTo(base, t.PromptFile)
		t.ReadRoot = relTo(base, t.ReadRoot)
		for j := range t.Images {
			t.Images[j] = relTo(base, t.Images[j])
		}
	}
	return &bf, nil
}

func relTo(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// task materializes the spec into a loop task for one model.
func (s taskSpec) task(modelName string) (agent.Task, error) {
	prompt := s.Prompt
	if s.PromptFile != "" {
		data, err := os.ReadFile(s.PromptFile)
		if err != nil {
			return agent.Task{}, fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(data)
	}
	if strings.TrimSpace(prompt) == "" {
		return agent.Task{}, fmt.Errorf("task %s has no prompt", s.ID)
	}

	images := make([]core.ImagePart, 0, len(s.Images))
	for _, p := range s.Images {
		data, err := os.ReadFile(p)
		if err != nil {
			return agent.Task{}, fmt.Errorf("read image: %w", err)
		}
		images = append(images, core.ImagePart{FileName: filepath.Base(p), Data: data})
	}

	return agent.Task{
		ID:     runID(s.ID, modelName),
		Model:  modelName,
		Prompt: prompt,
		Images: images,
		Vars:   s.Vars,
	}, nil
}

// runID names the transcript directory of one (task, model) pair.
func runID(taskID, modelName string) string {
	return taskID + "_" + modelName
}

// loopBuilder creates one loop per job. Files written by the model land in
// <output>/<run id>/files.
type loopBuilder struct {
	dispatcher *dispatch.Dispatcher
	store      artifact.Store
	outputDir  string
	logger     *logging.StructuredLogger
	observer   agent.Observer
	specs      map[string]taskSpec
}

func (b *loopBuilder) build(job runner.Job) (runner.TaskRunner, error) {
	spec, ok := b.specs[job.Task.ID]
	if !ok {
		return nil, fmt.Errorf("no task spec for run %s", job.Task.ID)
	}

	writeRoot := filepath.Join(b.outputDir, job.Task.ID, "files")
	if err := os.MkdirAll(writeRoot, 0o755); err != nil {
		return nil, err
	}

	logger := b.logger.WithRun(job.Task.ID)
	withLogger := func(o *tool.RegistryOptions) { o.Logger = logger }

	opts := []agent.Option{
		agent.WithStore(b.store),
		agent.WithLogger(logger),
		agent.WithMaxSteps(spec.MaxSteps),
	}
	if b.observer != nil {
		opts = append(opts, agent.WithObserver(b.observer))
	}
	if spec.SystemPrompt != "" {
		opts = append(opts, agent.WithInstruction(agent.NewInstructionFromTemplate(spec.SystemPrompt)))
	}

	var registry agent.Registry
	if len(spec.Guidance) > 0 {
		reg, _ := tool.NewSubmitSolutionRegistry(writeRoot, withLogger)
		registry = reg
		opts = append(opts, agent.WithGuidance(tool.SubmitSolutionName, spec.Guidance))
	} else {
		if spec.ReadRoot == "" {
			return nil, fmt.Errorf("task %s needs read_root", spec.ID)
		}
		registry = tool.NewFileRegistry(spec.ReadRoot, writeRoot, withLogger)
	}
	if spec.FollowUps {
		opts = append(opts, agent.WithFileStructureFollowUps(""))
	}

	return agent.NewLoop(b.dispatcher, registry, opts...), nil
}

// jobs expands specs against models and indexes the specs by run ID.
func (b *loopBuilder) jobs(specs []taskSpec, models []string) ([]runner.Job, error) {
	b.specs = make(map[string]taskSpec, len(specs)*len(models))

	var jobs []runner.Job
	for _, s := range specs {
		for _, m := range models {
			t, err := s.task(m)
			if err != nil {
				return nil, err
			}
			if _, dup := b.specs[t.ID]; dup {
				return nil, fmt.Errorf("duplicate run %s", t.ID)
			}
			b.specs[t.ID] = s
			jobs = append(jobs, runner.Job{Task: t})
		}
	}
	return jobs, nil
}
