package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunkplayer/trunkprov/internal/domain/compiler"
	"github.com/trunkplayer/trunkprov/internal/domain/config"
	"github.com/trunkplayer/trunkprov/internal/domain/state"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := Execute(context.Background())
	return out.String(), err
}

func TestRootCommand_UseLine(t *testing.T) {
	assert.Equal(t, "trunkprov", rootCmd.Use)
	assert.True(t, rootCmd.SilenceErrors)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestRootCommand_HasPersistentFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	for name, def := range map[string]string{
		"project-dir": "",
		"config":      "",
		"verbose":     "false",
		"log-format":  "text",
		"output":      "text",
	} {
		t.Run(name, func(t *testing.T) {
			flag := flags.Lookup(name)
			require.NotNil(t, flag)
			assert.Equal(t, def, flag.DefValue)
		})
	}
	assert.Equal(t, "v", flags.Lookup("verbose").Shorthand)
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"install", "uninstall", "plan", "status", "version"} {
		assert.True(t, names[want], want)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "trunkprov dev")
	assert.Contains(t, out, "commit: none")
}

func TestInvocationErrors(t *testing.T) {
	_, err := execute(t, "install", "extra")
	require.Error(t, err)
	assert.Equal(t, exitInvalidUsage, exitCode(err))

	_, err = execute(t, "uninstall", "--no-such-flag")
	require.Error(t, err)
	assert.Equal(t, exitInvalidUsage, exitCode(err))
	assert.Contains(t, formatError(err), "trunkprov --help")
}

func TestInstallFlags_OnlyChangedValues(t *testing.T) {
	cmd := &cobra.Command{Use: "install"}
	addInstallFlags(cmd)
	assert.Empty(t, installFlags(cmd))

	require.NoError(t, cmd.Flags().Set("db-engine", "sqlite"))
	require.NoError(t, cmd.Flags().Set("skip-services", "true"))
	require.NoError(t, cmd.Flags().Set("existing-db", "reuse-existing"))

	assert.Equal(t, map[string]interface{}{
		"database.engine":          "sqlite",
		"skip_services":            true,
		"database.existing_policy": "reuse-existing",
	}, installFlags(cmd))
}

func TestUninstallFlags(t *testing.T) {
	assert.Equal(t, "yes-db-user", yesFlag(state.KindDBUser))
	assert.Nil(t, uninstallCmd.Flags().Lookup(yesFlag(state.KindSystemPackage)))
	for _, kind := range state.Kinds() {
		if kind.Tier() == state.TierProject {
			assert.NotNil(t, uninstallCmd.Flags().Lookup(yesFlag(kind)), kind)
		}
	}

	f := uninstallCmd.Flags()
	require.NoError(t, f.Set("yes-venv", "true"))
	require.NoError(t, f.Set("yes-nginx-site", "true"))
	require.NoError(t, f.Set("remove-system-packages", "true"))
	t.Cleanup(func() {
		_ = f.Set("yes-venv", "false")
		_ = f.Set("yes-nginx-site", "false")
		_ = f.Set("remove-system-packages", "false")
	})

	flags := uninstallFlags(uninstallCmd)
	assert.Equal(t, true, flags["uninstall.remove_system_packages"])
	assert.Equal(t, []string{"venv", "nginx_site", "system_package"}, flags["uninstall.confirm"])
}

func TestExitCode(t *testing.T) {
	list := config.NewErrorList()
	list.AddValidation("database.engine", "unknown engine", "")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"project", config.NewProjectError("/tmp", "manage.py not found"), exitInvalidUsage},
		{"validation", list, exitInvalidUsage},
		{"wrapped invocation", fmt.Errorf("load: %w", config.NewInvocationError("bad", "")), exitInvalidUsage},
		{"plan invariant is a defect, not a usage error", compiler.NewPlanInvariantError("run-migrations", "missing resource"), exitFailure},
		{"unknown command", errors.New(`unknown command "frob" for "trunkprov"`), exitInvalidUsage},
		{"fatal step", fmt.Errorf("install halted: %w", compiler.NewActionFailedError("create-venv", errors.New("exit 1"))), exitFailure},
		{"other", errors.New("disk full"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestFormatError(t *testing.T) {
	err := config.NewProjectError("/srv/app", "manage.py not found")
	msg := formatError(err)
	assert.Contains(t, msg, "manage.py not found")

	stepErr := compiler.NewActionFailedError("create-venv", errors.New("exit 1"))
	assert.Contains(t, formatError(stepErr), "Suggestion:")

	var buf bytes.Buffer
	printErrorTo(&buf, errors.New("boom"))
	assert.Equal(t, "Error: boom\n", buf.String())
}
