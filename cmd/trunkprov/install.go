package main

import (
	"github.com/spf13/cobra"

	"github.com/trunkplayer/trunkprov/internal/domain/config"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Provision Trunk Player on this host",
	Long: `Install probes the host and provisions everything a Trunk Player checkout needs:

1. A Python virtual environment with the project requirements
2. The settings file, a generated SECRET_KEY and the database
   (PostgreSQL when reachable, SQLite otherwise)
3. Migrations and collected static files
4. An nginx site, a supervisor program and the application server

Steps that are already satisfied are skipped, so install can be rerun safely.
Use --dry-run to see what would happen without making changes.`,
	Args: noArgs,
	RunE: runInstall,
}

var (
	installNonInteractive bool
	installSkipServices   bool
	installAudioDir       string
	installDBEngine       string
	installExistingDB     string
	installDryRun         bool
)

func init() {
	rootCmd.AddCommand(installCmd)
	addInstallFlags(installCmd)
}

// addInstallFlags registers the flags shared by install and plan.
func addInstallFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&installNonInteractive, "non-interactive", false, "never prompt; use defaults")
	f.BoolVar(&installSkipServices, "skip-services", false, "do not configure nginx, supervisor or the server")
	f.StringVar(&installAudioDir, "audio-dir", "", "create this directory and point AUDIO_DIR at it")
	f.StringVar(&installDBEngine, "db-engine", string(config.EngineAuto), "database engine (auto, postgresql, sqlite)")
	f.StringVar(&installExistingDB, "existing-db", string(config.PolicyAsk),
		"what to do with an existing database (ask, drop-and-recreate, reuse-existing, skip-db-setup)")
	f.BoolVar(&installDryRun, "dry-run", false, "show what would be done without making changes")

	_ = cmd.RegisterFlagCompletionFunc("db-engine", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{
			"auto\tPostgreSQL when reachable, else SQLite",
			"postgresql\tInstall and start PostgreSQL if needed",
			"sqlite\tUse a local database file",
		}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("existing-db", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		out := []string{string(config.PolicyAsk)}
		for _, p := range config.Choices() {
			out = append(out, string(p))
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.MarkFlagDirname("audio-dir")
}

// installFlags returns the install flags set on the command line.
func installFlags(cmd *cobra.Command) map[string]interface{} {
	f := cmd.Flags()
	flags := map[string]interface{}{}
	if f.Changed("non-interactive") {
		flags["non_interactive"] = installNonInteractive
	}
	if f.Changed("skip-services") {
		flags["skip_services"] = installSkipServices
	}
	if f.Changed("audio-dir") {
		flags["audio_dir"] = installAudioDir
	}
	if f.Changed("db-engine") {
		flags["database.engine"] = installDBEngine
	}
	if f.Changed("existing-db") {
		flags["database.existing_policy"] = installExistingDB
	}
	if f.Changed("dry-run") {
		flags["dry_run"] = installDryRun
	}
	return flags
}

func runInstall(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd, installFlags(cmd))
	if err != nil {
		return err
	}
	defer s.Close()

	summary, runErr := s.prov.Install(cmd.Context(), s.cfg)
	return finish(s, summary, runErr)
}
