package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/trunkplayer/trunkprov/internal/domain/state"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove what trunkprov provisioned",
	Long: `Uninstall removes resources recorded in the ledger, in reverse dependency order.

Nothing that trunkprov did not create is ever touched. Each kind of resource
must be confirmed, interactively or with a --yes-<kind> flag; --all confirms
every project-local kind. System packages are only removed with
--remove-system-packages, and an interactive run asks a second time.`,
	Args: noArgs,
	RunE: runUninstall,
}

var (
	uninstallNonInteractive bool
	uninstallAll            bool
	uninstallSystem         bool
	uninstallDryRun         bool
	uninstallYes            = map[state.Kind]*bool{}
)

// yesFlag is the confirmation flag for kind, e.g. --yes-db-user.
func yesFlag(kind state.Kind) string {
	return "yes-" + strings.ReplaceAll(string(kind), "_", "-")
}

func init() {
	rootCmd.AddCommand(uninstallCmd)

	f := uninstallCmd.Flags()
	f.BoolVar(&uninstallNonInteractive, "non-interactive", false, "never prompt; unconfirmed kinds are kept")
	f.BoolVar(&uninstallAll, "all", false, "confirm every project-local kind")
	f.BoolVar(&uninstallSystem, "remove-system-packages", false, "also remove system packages trunkprov installed")
	f.BoolVar(&uninstallDryRun, "dry-run", false, "show what would be removed without removing it")
	for _, kind := range state.Kinds() {
		if kind.Tier() == state.TierSystem {
			continue
		}
		uninstallYes[kind] = f.Bool(yesFlag(kind), false, "confirm removal of "+strings.ReplaceAll(string(kind), "_", " ")+" resources")
	}
}

// uninstallFlags returns the uninstall flags set on the command line.
func uninstallFlags(cmd *cobra.Command) map[string]interface{} {
	f := cmd.Flags()
	flags := map[string]interface{}{}
	if f.Changed("non-interactive") {
		flags["non_interactive"] = uninstallNonInteractive
	}
	if f.Changed("all") {
		flags["uninstall.all"] = uninstallAll
	}
	if f.Changed("remove-system-packages") {
		flags["uninstall.remove_system_packages"] = uninstallSystem
	}
	if f.Changed("dry-run") {
		flags["dry_run"] = uninstallDryRun
	}

	var confirm []string
	for _, kind := range state.Kinds() {
		if v, ok := uninstallYes[kind]; ok && *v {
			confirm = append(confirm, string(kind))
		}
	}
	if uninstallSystem {
		confirm = append(confirm, string(state.KindSystemPackage))
	}
	if len(confirm) > 0 {
		flags["uninstall.confirm"] = confirm
	}
	return flags
}

func runUninstall(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd, uninstallFlags(cmd))
	if err != nil {
		return err
	}
	defer s.Close()

	summary, runErr := s.prov.Uninstall(cmd.Context(), s.cfg)
	return finish(s, summary, runErr)
}
