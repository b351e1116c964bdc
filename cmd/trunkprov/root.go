package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/config"
)

// Exit codes.
const (
	exitOK           = 0
	exitFailure      = 1
	exitInvalidUsage = 2
)

var (
	// Global flags
	projectDir   string
	cfgFile      string
	verbose      bool
	logFormat    string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "trunkprov",
	Short: "Provision and remove Trunk Player installations",
	Long: `trunkprov installs a Trunk Player checkout on this host and removes it again.

It probes the host, builds an ordered plan of idempotent steps and runs it:
  Probe → Plan → Apply → Report

Every resource it creates is recorded in .trunkprov/state.yaml so that
uninstall only ever removes what trunkprov itself provisioned.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project-dir", "", "Trunk Player checkout (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: trunkprov.yaml in the project)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", config.FormatText, "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", config.FormatText, "report format (text, json)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return config.NewInvocationError(err.Error(), "Run 'trunkprov --help' for usage.")
	})

	registerFlagCompletions()

	rootCmd.AddCommand(versionCmd)
}

// noArgs rejects positional arguments as an invocation error.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return config.NewInvocationError(
			fmt.Sprintf("unexpected argument %q for %q", args[0], cmd.CommandPath()),
			"Run '"+cmd.CommandPath()+" --help' for usage.")
	}
	return nil
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var list *config.ErrorList
	if config.GetUserError(err) != nil || errors.As(err, &list) {
		return exitInvalidUsage
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		return exitInvalidUsage
	}
	return exitFailure
}

// formatError returns a user-friendly error message.
// With verbose=false: shows only the user message and suggestion.
// With verbose=true: also shows the underlying technical error.
func formatError(err error) string {
	var list *config.ErrorList
	if errors.As(err, &list) {
		return list.Format()
	}
	var userErr *config.UserError
	if errors.As(err, &userErr) {
		msg := userErr.Message
		if userErr.Context != "" {
			msg += fmt.Sprintf(" (at %s)", userErr.Context)
		}
		if userErr.Suggestion != "" {
			msg += fmt.Sprintf("\n\nSuggestion: %s", userErr.Suggestion)
		}
		if verbose && userErr.Underlying != nil {
			msg += fmt.Sprintf("\n\nTechnical details: %v", userErr.Underlying)
		}
		return msg
	}
	var stepErr *compiler.StepError
	if errors.As(err, &stepErr) && stepErr.Suggestion != "" {
		return fmt.Sprintf("%s\n\nSuggestion: %s", err, stepErr.Suggestion)
	}
	return err.Error()
}

func printError(err error) {
	printErrorTo(os.Stderr, err)
}

func printErrorTo(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %s\n", formatError(err))
}

func registerFlagCompletions() {
	_ = rootCmd.RegisterFlagCompletionFunc("config", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"yaml", "yml", "toml"}, cobra.ShellCompDirectiveFilterFileExt
	})
	_ = rootCmd.RegisterFlagCompletionFunc("project-dir", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveFilterDirs
	})
	formats := func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{config.FormatText, config.FormatJSON}, cobra.ShellCompDirectiveNoFileComp
	}
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", formats)
	_ = rootCmd.RegisterFlagCompletionFunc("output", formats)
}
