package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/runwatch/internal/observability"
	"github.com/3leaps/runwatch/pkg/inventory"
	"github.com/3leaps/runwatch/pkg/pipeline"
	"github.com/3leaps/runwatch/pkg/workspace"
)

var (
	durationsOpts checkFlags

	clustersAlive bool
	jobsLimit     int

	runHistory  bool
	runResolved bool
)

var durationsCmd = &cobra.Command{
	Use:   "durations",
	Short: "Print elapsed hours of long-running runs by workspace and run name",
	Long: `List long-running runs like check does, without alerting, and print a map of
workspace to run name to elapsed hours. Duplicate run names get a trailing
underscore per repeat.`,
	RunE: runDurations,
}

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List clusters in every workspace",
	RunE:  runClusters,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs in every workspace",
	RunE:  runJobs,
}

var nodeTypesCmd = &cobra.Command{
	Use:   "node-types",
	Short: "List available node types in every workspace",
	RunE:  runNodeTypes,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inspect job runs",
}

var runGetCmd = &cobra.Command{
	Use:   "get <workspace-url> <run-id>",
	Short: "Fetch one job run",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunGet,
}

func init() {
	rootCmd.AddCommand(durationsCmd, clustersCmd, jobsCmd, nodeTypesCmd, runCmd)
	runCmd.AddCommand(runGetCmd)

	durationsOpts.bind(durationsCmd)
	clustersCmd.Flags().BoolVar(&clustersAlive, "alive", false, "Only list RUNNING clusters")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Jobs per workspace (1-100)")
	runGetCmd.Flags().BoolVar(&runHistory, "include-history", false, "Include repair history")
	runGetCmd.Flags().BoolVar(&runResolved, "include-resolved-values", false, "Include resolved parameter values")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitError(foundry.ExitFileWriteError, "cannot write output", err)
	}
	return nil
}

func inventoryFor(cmd *cobra.Command) (*alerter, *inventory.Inventory, error) {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "invalid configuration", err)
	}
	a, err := newAlerter(ctx, cfg, observability.CLILogger)
	if err != nil {
		return nil, nil, err
	}
	return a, inventory.New(a.api, observability.CLILogger), nil
}

func runDurations(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid configuration", err)
	}
	a, err := newAlerter(ctx, cfg, observability.CLILogger)
	if err != nil {
		return err
	}
	opts, err := a.options()
	if err != nil {
		return err
	}
	if opts, err = durationsOpts.apply(cmd, opts); err != nil {
		return err
	}
	set := a.pipeline.GetJobRuns(ctx, opts)
	observability.CLILogger.Debug("Collected runs", zap.Int("runs", set.Total()))
	return printJSON(cmd.OutOrStdout(), pipeline.Durations(set))
}

func runClusters(cmd *cobra.Command, _ []string) error {
	_, inv, err := inventoryFor(cmd)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), inv.Clusters(cmd.Context(), clustersAlive))
}

func runJobs(cmd *cobra.Command, _ []string) error {
	if jobsLimit < inventory.MinJobsLimit || jobsLimit > inventory.MaxJobsLimit {
		return exitError(foundry.ExitInvalidArgument, "invalid --limit", inventory.ErrJobsLimitRange)
	}
	_, inv, err := inventoryFor(cmd)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), inv.Jobs(cmd.Context(), jobsLimit))
}

func runNodeTypes(cmd *cobra.Command, _ []string) error {
	_, inv, err := inventoryFor(cmd)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), inv.NodeTypes(cmd.Context()))
}

func runRunGet(cmd *cobra.Command, args []string) error {
	base, ok := workspace.Normalize(args[0])
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "invalid workspace url",
			fmt.Errorf("%q must start with %s", args[0], workspace.RequiredScheme))
	}
	runID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid run id", err)
	}
	_, inv, err := inventoryFor(cmd)
	if err != nil {
		return err
	}
	resp := inv.JobRun(cmd.Context(), base, runID, runHistory, runResolved)
	if !resp.OK() {
		return exitError(foundry.ExitExternalServiceUnavailable, "cannot fetch run",
			fmt.Errorf("%s run %d: status %d: %v", base, runID, resp.StatusCode, resp.Err))
	}
	return printJSON(cmd.OutOrStdout(), resp.Body)
}
