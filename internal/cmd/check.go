package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/runwatch/internal/observability"
	"github.com/3leaps/runwatch/pkg/archive"
	"github.com/3leaps/runwatch/pkg/check"
	"github.com/3leaps/runwatch/pkg/checkstore"
	"github.com/3leaps/runwatch/pkg/manifest"
	"github.com/3leaps/runwatch/pkg/match"
	"github.com/3leaps/runwatch/pkg/pipeline"
	"github.com/3leaps/runwatch/pkg/slack"
)

// checkFlags override manifest check and notify settings.
type checkFlags struct {
	olderThan        float64
	limit            int
	includeStreaming bool
	includes         []string
	excludes         []string
	noPost           bool
	postEmpty        bool
	compact          bool
	archiveURI       string
	noHistory        bool
}

func (f *checkFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.Float64Var(&f.olderThan, "older-than", manifest.DefaultOlderThanHours, "Report runs running longer than this many hours")
	fl.IntVar(&f.limit, "limit", manifest.DefaultLimit, "Maximum runs per workspace (0 = all)")
	fl.BoolVar(&f.includeStreaming, "include-streaming", false, "Keep runs of streaming jobs")
	fl.StringSliceVar(&f.includes, "run-name", nil, "Only report runs whose name matches this glob (repeatable)")
	fl.StringSliceVar(&f.excludes, "exclude-run-name", nil, "Skip runs whose name matches this glob (repeatable)")
	fl.BoolVar(&f.noPost, "no-post", false, "Do not post alerts")
	fl.BoolVar(&f.postEmpty, "post-empty", false, "Post a header for workspaces without stuck runs")
	fl.BoolVar(&f.compact, "compact", false, "Pack several runs into each alert payload")
	fl.StringVar(&f.archiveURI, "archive", "", "Archive reports to s3://bucket/prefix/ or file:///dir")
	fl.BoolVar(&f.noHistory, "no-history", false, "Do not record the check in local history")
}

// apply overlays explicitly set flags onto opts.
func (f *checkFlags) apply(cmd *cobra.Command, opts pipeline.Options) (pipeline.Options, error) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if changed("older-than") {
		if f.olderThan < 0 {
			return opts, exitError(foundry.ExitInvalidArgument, "invalid --older-than", fmt.Errorf("must be >= 0"))
		}
		opts.OlderThanHours = f.olderThan
	}
	if changed("limit") {
		opts.Limit = f.limit
	}
	if changed("include-streaming") {
		opts.IncludeStreamingJobs = f.includeStreaming
	}
	if changed("run-name") || changed("exclude-run-name") {
		m, err := match.New(match.Config{Includes: f.includes, Excludes: f.excludes})
		if err != nil {
			return opts, exitError(foundry.ExitInvalidArgument, "invalid run name pattern", err)
		}
		opts.RunNames = m
	}
	return opts, nil
}

var (
	checkOpts   checkFlags
	checkOutput string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report and alert on runs that have been running too long",
	Long: `Run one check: list RUNNING job runs in every workspace, keep those older
than the threshold, enrich them with cluster and tag details, drop streaming
jobs, then write JSONL records, post alerts and archive the report.

Examples:
  runwatch check --manifest alerts.yaml
  runwatch check --workspace https://a.example.com --token "$TOKEN" --older-than 6 --no-post
  runwatch check -m alerts.yaml --archive file:///var/lib/runwatch/reports`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkOpts.bind(checkCmd)
	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "-", "Write JSONL records to this file (- for stdout)")
}

// checkSession is a wired runner plus what must be released afterwards.
type checkSession struct {
	alerter *alerter
	runner  *check.Runner
	opts    pipeline.Options
	archive *archive.Archive
}

func (s *checkSession) Close() error {
	if s.archive != nil {
		return s.archive.Close()
	}
	return nil
}

func newCheckSession(ctx context.Context, cmd *cobra.Command, f *checkFlags, out io.Writer) (*checkSession, error) {
	logger := observability.CLILogger
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "invalid configuration", err)
	}
	a, err := newAlerter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts, err := a.options()
	if err != nil {
		return nil, err
	}
	if opts, err = f.apply(cmd, opts); err != nil {
		return nil, err
	}

	fcfg := slack.FormatterConfig{Logger: logger, PostEmpty: f.postEmpty, Compact: f.compact}
	postRate := cfg.Notify.RateLimit
	if a.manifest != nil {
		fcfg.PostEmpty = fcfg.PostEmpty || a.manifest.Notify.PostEmpty
		fcfg.Compact = fcfg.Compact || a.manifest.Notify.Compact
		postRate = *a.manifest.Notify.RateLimit
	}

	s := &checkSession{alerter: a, opts: opts}
	rcfg := check.Config{
		Source:       a.pipeline,
		Order:        a.set.URLs(),
		Formatter:    slack.NewFormatter(fcfg),
		Output:       out,
		ManifestPath: cfg.Manifest,
		Logger:       logger,
	}

	if !f.noPost {
		hook, err := a.webhook(ctx)
		if err != nil {
			return nil, err
		}
		if hook != "" {
			poster, err := slack.NewPoster(hook, slack.WithPostRate(postRate), slack.WithPostLogger(logger))
			if err != nil {
				return nil, exitError(foundry.ExitInvalidArgument, "invalid webhook", err)
			}
			rcfg.Notifier = poster
		} else {
			logger.Info("No webhook configured, alerts will not be posted")
		}
	}

	acfg := a.archiveConfig()
	if f.archiveURI != "" {
		if acfg == nil {
			acfg = &archive.Config{}
		}
		acfg.URI = f.archiveURI
	}
	if acfg != nil {
		arc, err := archive.Open(ctx, *acfg, logger)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "cannot open archive", err)
		}
		s.archive = arc
		rcfg.Archive = arc
	}

	if !f.noHistory {
		rcfg.Store = openCheckStore(cfg)
	}

	s.runner, err = check.New(rcfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out, closeOut, err := stdoutOrFile(cmd, checkOutput)
	if err != nil {
		return err
	}
	defer func() { _ = closeOut() }()

	s, err := newCheckSession(ctx, cmd, &checkOpts, out)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	rep, err := s.runner.Run(ctx, s.opts)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "check failed", err)
	}
	logReport(observability.CLILogger, rep)

	if rep.State == checkstore.StateFailed {
		return exitError(foundry.ExitExternalServiceUnavailable, "every workspace failed", fmt.Errorf("check %s", rep.CheckID))
	}
	return nil
}

func logReport(logger *zap.Logger, rep *check.Report) {
	fields := []zap.Field{
		zap.String("check_id", rep.CheckID),
		zap.String("state", string(rep.State)),
		zap.Int("workspaces", rep.Summary.Workspaces),
		zap.Int("workspaces_failed", rep.Summary.WorkspacesFailed),
		zap.Int("runs", rep.Summary.Runs),
		zap.Int("payloads_posted", rep.Summary.PayloadsPosted),
		zap.Int("payloads_failed", rep.Summary.PayloadsFailed),
		zap.String("duration", rep.Summary.DurationHuman),
	}
	if rep.ArchiveKey != "" {
		fields = append(fields, zap.String("archive_key", rep.ArchiveKey))
	}
	for _, err := range rep.Errors {
		logger.Warn("Check stage failed", zap.String("check_id", rep.CheckID), zap.Error(err))
	}
	logger.Info("Check report", fields...)
}

// stdoutOrFile returns stdout for "" or "-", or creates path.
func stdoutOrFile(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, exitError(foundry.ExitFileWriteError, "cannot create output file", err)
	}
	return f, f.Close, nil
}
