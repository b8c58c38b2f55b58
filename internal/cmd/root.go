// Package cmd implements the runwatch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/runwatch/internal/config"
	"github.com/3leaps/runwatch/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var appIdentity *config.AppIdentity

// GetAppIdentity returns the identity resolved at startup, or nil before it.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

var (
	cfgFile    string
	logLevel   string
	logFormat  string
	manifestFl string
	dataDirFl  string
	workspaces []string
	tokens     []string

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "runwatch",
	Short: "Alert on job runs that have been running for too long",
	Long: `runwatch polls job runs across one or more workspaces, reports runs that
have been RUNNING longer than a threshold, enriches them with cluster and tag
details, and posts alerts to an incoming webhook.

Workspaces come from an alert manifest (--manifest) or from --workspace and
--token pairs (also RUNWATCH_WORKSPACE_URLS and RUNWATCH_WORKSPACE_TOKENS).`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/runwatch/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: console or json")
	pf.StringVarP(&manifestFl, "manifest", "m", "", "Alert manifest (YAML or JSON)")
	pf.StringVar(&dataDirFl, "data-dir", "", "Directory for check history")
	pf.StringSliceVar(&workspaces, "workspace", nil, "Workspace URL (repeatable, pairs with --token)")
	pf.StringSliceVar(&tokens, "token", nil, "Workspace token (repeatable, pairs with --workspace)")
}

// flagOverrides maps explicitly set persistent flags onto config keys.
func flagOverrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	set := func(flag string, apply func()) {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			apply()
		}
	}
	logging := map[string]any{}
	set("log-level", func() { logging["level"] = logLevel })
	set("log-format", func() { logging["format"] = logFormat })
	if len(logging) > 0 {
		out["logging"] = logging
	}
	ws := map[string]any{}
	set("workspace", func() { ws["urls"] = workspaces })
	set("token", func() { ws["tokens"] = tokens })
	if len(ws) > 0 {
		out["workspaces"] = ws
	}
	set("manifest", func() { out["manifest"] = manifestFl })
	set("data-dir", func() { out["data_dir"] = dataDirFl })
	return out
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	if appIdentity == nil {
		appIdentity = config.DefaultIdentity()
		config.SetIdentity(appIdentity)
	}
	cfg, err := config.LoadFile(cmd.Context(), cfgFile, flagOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid configuration", err)
	}
	appConfig = cfg
	if err := observability.InitCLILoggerWithOptions(observability.Options{
		Service: appIdentity.BinaryName,
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
	}); err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid logging configuration", err)
	}
	return nil
}

// currentConfig returns the loaded config, loading defaults when a command
// runs without the root pre-run (tests).
func currentConfig(ctx context.Context) (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	return config.Load(ctx)
}

type exitCodeError struct {
	code int
	msg  string
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *exitCodeError) Unwrap() error { return e.err }

// exitError attaches a process exit code to err.
func exitError[C ~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8](code C, msg string, err error) error {
	return &exitCodeError{code: int(code), msg: msg, err: err}
}

// exitCode returns the exit code carried by err, or 1.
func exitCode(err error) int {
	var e *exitCodeError
	if errors.As(err, &e) {
		return e.code
	}
	return 1
}

// ExitWithCode logs msg and err and terminates the process with code.
func ExitWithCode[C ~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8](logger *zap.Logger, code C, msg string, err error) {
	logger.Error(msg, zap.Error(err), zap.Int("exit_code", int(code)))
	observability.Sync()
	os.Exit(int(code))
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	defer observability.Sync()
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		observability.CLILogger.Warn("interrupted")
		return int(foundry.ExitSignalInt)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitCode(err)
}
