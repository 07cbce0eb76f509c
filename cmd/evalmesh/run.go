package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/evalmesh/runner"
)

func runCmd(a *app) *cobra.Command {
	var (
		spec      taskSpec
		modelName string
		output    string
		store     storeFlags
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one task against one model",
		Example: `  evalmesh run --model GPT41_0414 --read-root ./app --prompt-file prompt.md --output ./results
  evalmesh run --model Claude_Sonnet_4 --guidance "Add a footer" --guidance "Use dark mode" --prompt "Build a todo app"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := a.cfg.Model(modelName); !ok {
				return fmt.Errorf("unknown model %q (see: evalmesh models list)", modelName)
			}
			if spec.ID == "" {
				spec.ID = "task"
			}

			stop := a.serveMetrics()
			defer stop()

			ctx := cmd.Context()
			st, err := store.open(ctx, output)
			if err != nil {
				return err
			}

			b := &loopBuilder{
				dispatcher: a.dispatcher(),
				store:      st,
				outputDir:  output,
				logger:     a.logger,
				observer:   a.observer(),
			}
			jobs, err := b.jobs([]taskSpec{spec}, []string{modelName})
			if err != nil {
				return err
			}

			r := runner.New(b.build, func(o *runner.Options) {
				o.Concurrency = 1
				o.Logger = a.logger
			})
			return report(cmd, r.Batch(ctx, jobs))
		},
	}

	cmd.Flags().StringVarP(&modelName, "model", "m", "", "catalog model name")
	cmd.Flags().StringVar(&spec.ID, "id", "", "task identifier used in the run ID")
	cmd.Flags().StringVarP(&spec.Prompt, "prompt", "p", "", "task prompt")
	cmd.Flags().StringVar(&spec.PromptFile, "prompt-file", "", "read the task prompt from a file")
	cmd.Flags().StringVar(&spec.SystemPrompt, "system-prompt", "", "system prompt template")
	cmd.Flags().StringVar(&spec.ReadRoot, "read-root", "", "directory exposed through list_files and read_file")
	cmd.Flags().StringSliceVar(&spec.Images, "image", nil, "image attached to the first message")
	cmd.Flags().StringArrayVar(&spec.Guidance, "guidance", nil, "guidance step sent after each submit_solution call")
	cmd.Flags().BoolVar(&spec.FollowUps, "follow-ups", false, "request every file announced through file_structure")
	cmd.Flags().IntVar(&spec.MaxSteps, "max-steps", 0, "bound the number of model calls (0 means no bound)")
	cmd.Flags().StringVarP(&output, "output", "o", "results", "output directory for transcripts and written files")
	store.register(cmd)
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
