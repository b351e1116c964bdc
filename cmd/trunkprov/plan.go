package main

import (
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the install plan without running it",
	Long: `Plan probes the host and prints the steps install would run, in order,
together with the database engine it chose and any fallback steps.
Nothing is changed.`,
	Args: noArgs,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	addInstallFlags(planCmd)
}

func runPlan(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd, installFlags(cmd))
	if err != nil {
		return err
	}
	defer s.Close()

	plan, dec, err := s.prov.Plan(cmd.Context(), s.cfg)
	if err != nil {
		return err
	}
	s.prov.PrintPlan(plan, dec)
	return nil
}
