package main

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/physiohub/progress-engine/config"
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Show feature flags as the current environment configures them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		learner, err := cmd.Flags().GetString("learner")
		if err != nil {
			return err
		}

		features := cfg.Features.Features()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		header := "FEATURE\tROLLOUT\tVARIABLE"
		if learner != "" {
			header += "\tFOR " + learner
		}
		fmt.Fprintln(w, header)
		for _, name := range slices.Sorted(maps.Keys(features)) {
			f := features[name]
			fmt.Fprintf(w, "%s\t%d%%\t%s", f.Name, f.Rollout, config.EnvKey(f.Name))
			// Для конкретного ученика учитываем бакет раскатки.
			if learner != "" {
				fmt.Fprintf(w, "\t%t", cfg.Features.IsEnabled(f.Name, learner))
			}
			fmt.Fprintln(w)
		}
		return w.Flush()
	},
}

func init() {
	flagsCmd.Flags().String("learner", "", "also evaluate each flag for this learner id")
}
