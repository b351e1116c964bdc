package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/trunkplayer/trunkprov/internal/adapters/command"
	"github.com/trunkplayer/trunkprov/internal/adapters/logging"
	"github.com/trunkplayer/trunkprov/internal/adapters/prompt"
	"github.com/trunkplayer/trunkprov/internal/adapters/statefile"
	"github.com/trunkplayer/trunkprov/internal/app"
	"github.com/trunkplayer/trunkprov/internal/domain/config"
	"github.com/trunkplayer/trunkprov/internal/domain/platform"
	"github.com/trunkplayer/trunkprov/internal/domain/report"
	"github.com/trunkplayer/trunkprov/internal/ports"
	"github.com/trunkplayer/trunkprov/internal/provider"
)

const appName = "trunkprov"

// session is everything a command needs once configuration is loaded.
type session struct {
	cfg     *config.Config
	prov    *app.Provisioner
	logger  ports.Logger
	closers []io.Closer
}

func (s *session) Close() {
	for _, c := range s.closers {
		_ = c.Close()
	}
}

// loadConfig layers configuration with the command-line values in flags.
func loadConfig(cmd *cobra.Command, flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = map[string]interface{}{}
	}
	pf := cmd.Flags()
	if pf.Changed("output") {
		flags["output"] = outputFormat
	}
	if pf.Changed("log-format") {
		flags["log.format"] = logFormat
	}
	if verbose {
		flags["log.level"] = "debug"
	}
	return config.Load(config.LoadOptions{
		ProjectDir: projectDir,
		ConfigFile: cfgFile,
		Flags:      flags,
	})
}

// newLogger builds the stderr logger and tees it into the log file.
func newLogger(cfg *config.Config) (ports.Logger, io.Closer, error) {
	level, err := ports.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, config.NewValidationFailedError("log.level", err.Error())
	}
	opts := []logging.Option{
		logging.WithLevel(level),
		logging.WithJSONFormat(cfg.Log.Format == config.FormatJSON),
		logging.WithNoColor(!prompt.IsTerminal(os.Stderr.Fd())),
	}

	var file *os.File
	if cfg.Log.File != "" {
		file, err = os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	} else {
		file, _, err = logging.OpenLogFile(appName)
	}
	if err == nil {
		opts = append(opts, logging.WithFile(file))
	}

	logger := logging.New(opts...)
	if err != nil {
		logger.Warn(context.Background(), "log file unavailable, logging to stderr only", ports.Err(err))
		return logger, nil, nil
	}
	return logger, file, nil
}

// newSession is replaced in tests.
var newSession = func(cmd *cobra.Command, flags map[string]interface{}) (*session, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	logger, logFile, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, logger: logger}
	if logFile != nil {
		s.closers = append(s.closers, logFile)
	}

	runner := command.NewRealRunner().WithLogger(logger)
	lookup := command.ExecLookup{}
	host := platform.Detect()
	adapter, err := platform.Select(host, runner, lookup)
	if err != nil {
		s.Close()
		return nil, config.NewInvocationError(err.Error(), "trunkprov supports Linux with systemd and macOS with Homebrew.")
	}
	if !host.CanManageServices() && !cfg.SkipServices {
		logger.Warn(cmd.Context(), "no service manager detected, starting services will fail; consider --skip-services",
			ports.F("platform", host.String()))
	}

	deps := provider.Deps{
		Runner:   runner,
		Lookup:   lookup,
		Dialer:   &net.Dialer{Timeout: 5 * time.Second},
		FS:       osfs.New("/"),
		Platform: adapter,
	}
	store := statefile.New(statefile.DefaultPath(cfg.ProjectDir))
	confirmer := prompt.New(os.Stdin, os.Stderr, cfg.NonInteractive)

	styles := report.DefaultStyles()
	s.prov = app.New(deps, store, confirmer, cmd.OutOrStdout()).
		WithLogger(logger).
		WithObserver(report.NewProgress(cmd.ErrOrStderr(), styles))

	logger.Debug(cmd.Context(), "session ready",
		ports.F("project_dir", cfg.ProjectDir),
		ports.F("platform", host.String()),
		ports.F("adapter", adapter.Name()),
		ports.F("ledger", store.Path()))
	return s, nil
}

// finish renders the summary and turns a failed run into an error.
func finish(s *session, summary report.Summary, runErr error) error {
	if summary.RunID != "" {
		if err := s.prov.Report(summary, s.cfg.Output); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return runErr
}
