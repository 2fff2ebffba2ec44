// Package cmd provides the CLI commands for fixrecall.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fixrecall/internal/config"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
	"github.com/Aman-CERP/fixrecall/internal/logging"
	"github.com/Aman-CERP/fixrecall/internal/profiling"
	"github.com/Aman-CERP/fixrecall/pkg/version"
)

// Persistent flags
var (
	configDir      string
	debugMode      bool
	noColor        bool
	loggingCleanup func()

	profileOpts profiling.Options
	profile     *profiling.Session
)

// NewRootCmd creates the root command for the fixrecall CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixrecall",
		Short: "Find how past incidents were fixed",
		Long: `fixrecall answers "how did we fix this last time?" for error messages.

It searches local logs and reports, GitHub issues and wiki pages with a
hybrid lexical + semantic ranker, asks a local LLM for a suggested fix
grounded in the related incidents, and learns from your feedback.

Start with 'fixrecall reindex', then 'fixrecall analyze "<error text>"'.`,
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("fixrecall version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing .fixrecall.yaml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr and ~/.fixrecall/logs/")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")
	for _, name := range []string{"profile-cpu", "profile-mem", "profile-trace"} {
		_ = cmd.PersistentFlags().MarkHidden(name)
	}

	cmd.PersistentPreRunE = startRun
	cmd.PersistentPostRunE = stopRun

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newFeedbackCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newSetupCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startRun starts profiling when requested, then logging.
func startRun(cmd *cobra.Command, args []string) error {
	if profileOpts.Enabled() {
		s, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profile = s
	}
	return startLogging(cmd, args)
}

// stopRun flushes profiles and closes the log file. Execute calls it again
// on failure, since cobra skips post-run hooks when RunE errors.
func stopRun(cmd *cobra.Command, args []string) error {
	err := profile.Stop()
	profile = nil
	_ = stopLogging(cmd, args)
	return err
}

// startLogging configures slog from the logging section of the config.
// A config that fails to load is reported by the command itself; logging
// then uses the defaults.
func startLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if cfg, err := config.Load(configDir); err == nil {
		logCfg.Level = cfg.Logging.Level
		if cfg.Logging.File != "" {
			logCfg.FilePath = cfg.Logging.File
		}
		logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
		logCfg.MaxFiles = cfg.Logging.MaxFiles
		logCfg.WriteToStderr = cfg.Logging.Stderr
	}
	if debugMode {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("logging_started",
		slog.String("log_file", logCfg.FilePath),
		slog.String("version", version.Get().Version))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and prints a failure the way users expect
// to read it. Commands run with --json report failures as JSON on stderr.
func Execute() error {
	cmd, err := NewRootCmd().ExecuteC()
	_ = stopRun(nil, nil)
	if err == nil {
		return nil
	}
	if wantsJSON(cmd) {
		if data, jerr := fixerrors.FormatJSON(err); jerr == nil {
			fmt.Fprintln(os.Stderr, string(data))
			return err
		}
	}
	fmt.Fprintln(os.Stderr, fixerrors.FormatForCLI(err))
	return err
}

func wantsJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}
	on, err := cmd.Flags().GetBool("json")
	return err == nil && on
}
