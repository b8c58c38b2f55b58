package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/runwatch/pkg/manifest"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Work with alert manifests",
}

var manifestValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate an alert manifest against the schema",
	Long: `Validate an alert manifest and print the effective check settings.

Validation checks the schema and the run-name patterns. Token and webhook
sources are not resolved.`,
	Args: cobra.ExactArgs(1),
	RunE: runManifestValidate,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestValidateCmd)
}

func runManifestValidate(cmd *cobra.Command, args []string) error {
	m, err := manifest.Load(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	opts, err := m.Check.Options()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "✅ %s is valid\n", args[0])
	_, _ = fmt.Fprintf(out, "  workspaces:       %d\n", len(m.Workspaces))
	_, _ = fmt.Fprintf(out, "  older than hours: %g\n", opts.OlderThanHours)
	_, _ = fmt.Fprintf(out, "  limit:            %d\n", opts.Limit)
	_, _ = fmt.Fprintf(out, "  streaming tag:    %s\n", m.Check.StreamingTag)
	_, _ = fmt.Fprintf(out, "  webhook:          %t\n", m.Notify.Webhook != nil)
	if m.Archive != nil {
		_, _ = fmt.Fprintf(out, "  archive:          %s\n", m.Archive.URI)
	}
	return nil
}
