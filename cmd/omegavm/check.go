package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/omegavm/scenario"
)

var checkCmd = &cobra.Command{
	Use:   "check <scenario.yaml>",
	Short: "Validate a scenario without playing it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := scenario.Load(args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d processes, %d steps\n",
			sc.Name, len(sc.Processes), len(sc.Steps))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
