package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func modelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect the model catalog",
	}
	cmd.AddCommand(modelsListCmd(a))
	return cmd
}

type modelEntry struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	ModelID  string `json:"model_id"`
}

func modelsListCmd(a *app) *cobra.Command {
	var (
		jsonOutput bool
		provider   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []modelEntry
			for _, m := range a.cfg.Models {
				if provider != "" && m.Provider != provider {
					continue
				}
				entries = append(entries, modelEntry{Name: m.Name, Provider: m.Provider, ModelID: m.ModelID})
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				data, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "NAME\tPROVIDER\tMODEL ID\n")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Provider, e.ModelID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&provider, "provider", "", "only list entries with this provider tag")
	return cmd
}
