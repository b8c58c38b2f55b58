package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/runwatch/internal/observability"
	"github.com/3leaps/runwatch/pkg/archive"
	"github.com/3leaps/runwatch/pkg/checkstore"
	"github.com/3leaps/runwatch/pkg/provider"
)

var (
	historyLimit   int
	historyArchive string
	historyDay     string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past checks and archived reports",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded checks, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <check-id>",
	Short: "Show one recorded check",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyReportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List archived JSONL reports",
	Args:  cobra.NoArgs,
	RunE:  runHistoryReports,
}

var historyReportCmd = &cobra.Command{
	Use:   "report <key>",
	Short: "Print one archived JSONL report",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryReport,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyReportsCmd, historyReportCmd)

	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum checks to list (0 = all)")
	for _, c := range []*cobra.Command{historyReportsCmd, historyReportCmd} {
		c.Flags().StringVar(&historyArchive, "archive", "", "Archive URI (default: the manifest's archive)")
	}
	historyReportsCmd.Flags().StringVar(&historyDay, "day", "", "Only list reports from this UTC day (YYYY-MM-DD)")
}

func historyStore(cmd *cobra.Command) (*checkstore.Store, error) {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "invalid configuration", err)
	}
	return openCheckStore(cfg), nil
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	store, err := historyStore(cmd)
	if err != nil {
		return err
	}
	records, err := store.List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "cannot read check history", err)
	}
	if historyLimit > 0 && len(records) > historyLimit {
		records = records[:historyLimit]
	}
	if records == nil {
		records = []checkstore.Record{}
	}
	return printJSON(cmd.OutOrStdout(), records)
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := historyStore(cmd)
	if err != nil {
		return err
	}
	rec, err := store.Get(args[0])
	if err != nil {
		if checkstore.IsNotFound(err) {
			return exitError(foundry.ExitFileNotFound, "check not found", err)
		}
		return exitError(foundry.ExitFileReadError, "cannot read check", err)
	}
	return printJSON(cmd.OutOrStdout(), rec)
}

// openHistoryArchive opens --archive, or the manifest's archive.
func openHistoryArchive(ctx context.Context) (*archive.Archive, error) {
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "invalid configuration", err)
	}
	acfg := archive.Config{URI: historyArchive}
	if acfg.URI == "" {
		m, err := loadManifest(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		if m == nil || m.Archive == nil {
			return nil, exitError(foundry.ExitInvalidArgument, "no archive configured",
				fmt.Errorf("use --archive or a manifest with an archive section"))
		}
		acfg = archive.Config{
			URI:            m.Archive.URI,
			Region:         m.Archive.Region,
			Endpoint:       m.Archive.Endpoint,
			Profile:        m.Archive.Profile,
			ForcePathStyle: m.Archive.ForcePathStyle,
		}
	}
	arc, err := archive.Open(ctx, acfg, observability.CLILogger)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "cannot open archive", err)
	}
	return arc, nil
}

func runHistoryReports(cmd *cobra.Command, _ []string) error {
	var day time.Time
	if historyDay != "" {
		d, err := time.Parse(time.DateOnly, historyDay)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "invalid --day", err)
		}
		day = d
	}
	arc, err := openHistoryArchive(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = arc.Close() }()

	reports, err := arc.List(cmd.Context(), day)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "cannot list reports", err)
	}
	if reports == nil {
		reports = []archive.Report{}
	}
	return printJSON(cmd.OutOrStdout(), reports)
}

func runHistoryReport(cmd *cobra.Command, args []string) error {
	arc, err := openHistoryArchive(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = arc.Close() }()

	body, err := arc.Get(cmd.Context(), args[0])
	if err != nil {
		if provider.IsNotFound(err) {
			return exitError(foundry.ExitFileNotFound, "report not found", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "cannot read report", err)
	}
	_, err = cmd.OutOrStdout().Write(body)
	return err
}
