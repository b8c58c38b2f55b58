package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/runwatch/internal/config"
	"github.com/3leaps/runwatch/pkg/archive"
	"github.com/3leaps/runwatch/pkg/checkstore"
	"github.com/3leaps/runwatch/pkg/manifest"
	"github.com/3leaps/runwatch/pkg/pipeline"
	"github.com/3leaps/runwatch/pkg/resolver"
	"github.com/3leaps/runwatch/pkg/restapi"
	"github.com/3leaps/runwatch/pkg/secrets"
	"github.com/3leaps/runwatch/pkg/workspace"
)

// alerter bundles the clients every workspace-facing command needs.
type alerter struct {
	cfg      *config.Config
	manifest *manifest.Manifest
	set      *workspace.Set
	api      *restapi.Client
	jobs     *resolver.Cached
	pipeline *pipeline.Pipeline
	secrets  *secrets.Client
	logger   *zap.Logger
}

func newAPIClient(set *workspace.Set, cfg *config.Config, logger *zap.Logger) *restapi.Client {
	opts := []restapi.Option{
		restapi.WithTimeout(cfg.HTTP.Timeout),
		restapi.WithRateLimit(cfg.HTTP.RateLimit),
		restapi.WithUserAgent("runwatch/" + versionInfo.Version),
		restapi.WithLogger(logger),
	}
	if cfg.HTTP.APIVersion != "" {
		opts = append(opts, restapi.WithAPIVersion(cfg.HTTP.APIVersion))
	}
	return restapi.New(set, opts...)
}

// loadManifest loads path, returning nil when path is empty.
func loadManifest(path string) (*manifest.Manifest, error) {
	if path == "" {
		return nil, nil
	}
	m, err := manifest.Load(path)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "invalid manifest", err)
	}
	return m, nil
}

// newSecretsClient builds a secrets client for the manifest's secrets
// workspace. Its token must not itself come from the secrets API.
func newSecretsClient(ctx context.Context, m *manifest.Manifest, cfg *config.Config, logger *zap.Logger) (*secrets.Client, error) {
	ws := m.SecretsWorkspace()
	if ws.Token.Secret != nil {
		return nil, fmt.Errorf("secrets workspace %s: token cannot be read from the secrets api", ws.URL)
	}
	token, err := ws.Token.Resolve(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets workspace %s: %w", ws.URL, err)
	}
	set, err := workspace.New([]string{ws.URL}, []string{token}, logger)
	if err != nil {
		return nil, fmt.Errorf("secrets workspace: %w", err)
	}
	base := set.URLs()[0]
	return secrets.New(newAPIClient(set, cfg, logger), base, logger), nil
}

// resolveWorkspaces returns aligned urls and tokens from the manifest, or
// from configuration when m is nil.
func resolveWorkspaces(ctx context.Context, m *manifest.Manifest, cfg *config.Config, reader manifest.SecretReader) ([]string, []string, error) {
	if m == nil {
		if len(cfg.Workspaces.URLs) == 0 {
			return nil, nil, fmt.Errorf("no workspaces configured: use --manifest or --workspace/--token")
		}
		return cfg.Workspaces.URLs, cfg.Workspaces.Tokens, nil
	}
	urls := m.URLs()
	toks := make([]string, len(m.Workspaces))
	for i, ws := range m.Workspaces {
		tok, err := ws.Token.Resolve(ctx, reader)
		if err != nil {
			return nil, nil, fmt.Errorf("workspace %s token (%s): %w", ws.URL, ws.Token, err)
		}
		toks[i] = tok
	}
	return urls, toks, nil
}

// newAlerter wires workspaces, the API client and the pipeline.
func newAlerter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*alerter, error) {
	m, err := loadManifest(cfg.Manifest)
	if err != nil {
		return nil, err
	}

	a := &alerter{cfg: cfg, manifest: m, logger: logger}
	var reader manifest.SecretReader
	if m != nil && m.NeedsSecrets() {
		a.secrets, err = newSecretsClient(ctx, m, cfg, logger)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "cannot read secrets", err)
		}
		reader = a.secrets
	}

	urls, toks, err := resolveWorkspaces(ctx, m, cfg, reader)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "cannot resolve workspaces", err)
	}
	a.set, err = workspace.New(urls, toks, logger)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "invalid workspaces", err)
	}

	a.api = newAPIClient(a.set, cfg, logger)
	a.jobs = resolver.NewCached(resolver.New(a.api, logger))

	pcfg := pipeline.Config{
		StreamingTag: cfg.Pipeline.StreamingTag,
		PageSize:     cfg.Pipeline.PageSize,
		Concurrency:  cfg.Pipeline.Concurrency,
		Logger:       logger,
	}
	if m != nil {
		pcfg.StreamingTag = m.Check.StreamingTag
		pcfg.Concurrency = m.Check.Concurrency
	}
	a.pipeline = pipeline.New(a.api, a.jobs, a.jobs, pcfg)
	return a, nil
}

// options returns the manifest's check options, or defaults without one.
func (a *alerter) options() (pipeline.Options, error) {
	if a.manifest == nil {
		opts := pipeline.DefaultOptions()
		opts.OlderThanHours = manifest.DefaultOlderThanHours
		opts.Limit = manifest.DefaultLimit
		opts.SimplifiedOutput = true
		return opts, nil
	}
	opts, err := a.manifest.Check.Options()
	if err != nil {
		return pipeline.Options{}, exitError(foundry.ExitInvalidArgument, "invalid check options", err)
	}
	return opts, nil
}

// webhook resolves the alert webhook URL. Empty means posting is disabled.
func (a *alerter) webhook(ctx context.Context) (string, error) {
	if a.manifest != nil && a.manifest.Notify.Webhook != nil {
		var reader manifest.SecretReader
		if a.secrets != nil {
			reader = a.secrets
		}
		url, err := a.manifest.Notify.Webhook.Resolve(ctx, reader)
		if err != nil {
			return "", exitError(foundry.ExitInvalidArgument, "cannot resolve webhook", err)
		}
		return url, nil
	}
	return a.cfg.Notify.Webhook, nil
}

// archiveConfig returns the manifest archive settings, or nil.
func (a *alerter) archiveConfig() *archive.Config {
	if a.manifest == nil || a.manifest.Archive == nil {
		return nil
	}
	ac := a.manifest.Archive
	return &archive.Config{
		URI:            ac.URI,
		Region:         ac.Region,
		Endpoint:       ac.Endpoint,
		Profile:        ac.Profile,
		ForcePathStyle: ac.ForcePathStyle,
		IMDSRegion:     ac.IMDSRegion,
	}
}

// dataDir returns the configured history directory.
func dataDir(cfg *config.Config) string {
	if cfg.DataDir != "" {
		return cfg.DataDir
	}
	name := "runwatch"
	if id := GetAppIdentity(); id != nil && id.ConfigName != "" {
		name = id.ConfigName
	}
	return gfconfig.GetAppDataDir(name)
}

// openCheckStore opens the check history under the data dir.
func openCheckStore(cfg *config.Config) *checkstore.Store {
	return checkstore.NewStore(filepath.Join(dataDir(cfg), "checks"))
}
