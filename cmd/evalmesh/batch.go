package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/evalmesh/agent"
	"github.com/hupe1980/evalmesh/runner"
)

func batchCmd(a *app) *cobra.Command {
	var (
		output      string
		concurrency int
		store       storeFlags
	)
	cmd := &cobra.Command{
		Use:   "batch <file.yaml>",
		Short: "Run every task of a batch file against every listed model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bf, err := loadBatchFile(args[0])
			if err != nil {
				return err
			}
			for _, m := range bf.Models {
				if _, ok := a.cfg.Model(m); !ok {
					return fmt.Errorf("unknown model %q (see: evalmesh models list)", m)
				}
			}
			if output == "" {
				output = bf.Output
			}
			if output == "" {
				output = "results"
			}
			if concurrency == 0 {
				concurrency = bf.Concurrency
			}
			if concurrency == 0 {
				concurrency = a.cfg.Concurrency
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
			jobs, err := b.jobs(bf.Tasks, bf.Models)
			if err != nil {
				return err
			}

			r := runner.New(b.build, func(o *runner.Options) {
				o.Concurrency = concurrency
				o.Logger = a.logger
			})
			return report(cmd, r.Batch(ctx, jobs))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (overrides the batch file)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "jobs in flight (overrides the batch file and config)")
	store.register(cmd)
	return cmd
}

// report prints one line per outcome and fails when any job returned an
// error.
func report(cmd *cobra.Command, outcomes []runner.Outcome) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "RUN\tSTATUS\tSTEPS\tTOKENS\tDURATION\n")

	failed := 0
	for _, o := range outcomes {
		steps, tokens := 0, 0
		if o.Transcript != nil {
			steps = o.Transcript.Steps
			tokens = o.Transcript.TotalTokens.Input + o.Transcript.TotalTokens.Output
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", o.RunID, o.Status(), steps, tokens, o.Duration.Round(time.Millisecond))
		if o.Err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", o.RunID, o.Err)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	counts := runner.Summarize(outcomes)
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d runs, %d completed\n", len(outcomes), counts[agent.StatusCompleted])
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(outcomes))
	}
	return nil
}
