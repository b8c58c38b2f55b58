package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/runwatch/internal/observability"
	"github.com/3leaps/runwatch/pkg/secrets"
	"github.com/3leaps/runwatch/pkg/workspace"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Read workspace secrets",
	Long: `Read scopes, keys and values from a workspace secrets API.

The workspace is the manifest's secrets workspace, or the first configured
workspace when no manifest is given.`,
}

var secretsScopesCmd = &cobra.Command{
	Use:   "scopes",
	Short: "List secret scopes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := secretsClient(cmd)
		if err != nil {
			return err
		}
		scopes, err := c.Scopes(cmd.Context())
		if err != nil {
			return secretsError(err)
		}
		return printJSON(cmd.OutOrStdout(), scopes)
	},
}

var secretsKeysCmd = &cobra.Command{
	Use:   "keys <scope>",
	Short: "List the keys in a scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := secretsClient(cmd)
		if err != nil {
			return err
		}
		keys, err := c.Keys(cmd.Context(), args[0])
		if err != nil {
			return secretsError(err)
		}
		return printJSON(cmd.OutOrStdout(), keys)
	},
}

var secretsGetCmd = &cobra.Command{
	Use:   "get <scope> <key>",
	Short: "Print a decoded secret value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := secretsClient(cmd)
		if err != nil {
			return err
		}
		value, err := c.Secret(cmd.Context(), args[0], args[1])
		if err != nil {
			return secretsError(err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
		return err
	},
}

func init() {
	rootCmd.AddCommand(secretsCmd)
	secretsCmd.AddCommand(secretsScopesCmd, secretsKeysCmd, secretsGetCmd)
}

func secretsClient(cmd *cobra.Command) (*secrets.Client, error) {
	ctx := cmd.Context()
	logger := observability.CLILogger
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "invalid configuration", err)
	}
	m, err := loadManifest(cfg.Manifest)
	if err != nil {
		return nil, err
	}
	if m != nil {
		c, err := newSecretsClient(ctx, m, cfg, logger)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "cannot open secrets workspace", err)
		}
		return c, nil
	}
	urls, toks, err := resolveWorkspaces(ctx, nil, cfg, nil)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "cannot resolve workspaces", err)
	}
	set, err := workspace.New(urls[:1], toks[:min(1, len(toks))], logger)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "invalid workspaces", err)
	}
	return secrets.New(newAPIClient(set, cfg, logger), set.URLs()[0], logger), nil
}

func secretsError(err error) error {
	if secrets.IsNotFound(err) {
		return exitError(foundry.ExitFileNotFound, "secret not found", err)
	}
	return exitError(foundry.ExitExternalServiceUnavailable, "secrets request failed", err)
}
