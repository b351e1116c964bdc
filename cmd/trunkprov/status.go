package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what trunkprov has provisioned",
	Long: `Status lists the active ledger entries and their history, and checks that
database passwords trunkprov set still match the settings file.`,
	Args: noArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.prov.Status(cmd.Context(), s.cfg)
	if err != nil {
		return err
	}
	return s.prov.PrintStatus(st, s.cfg.Output)
}
