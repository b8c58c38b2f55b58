package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/runwatch/internal/observability"
	"github.com/3leaps/runwatch/internal/server"
	"github.com/3leaps/runwatch/internal/server/handlers"
	"github.com/3leaps/runwatch/pkg/check"
	"github.com/3leaps/runwatch/pkg/checkstore"
)

var (
	serveOpts     checkFlags
	serveHost     string
	servePort     int
	serveInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run checks on an interval and serve results over HTTP",
	Long: `Run a check immediately and then every --interval, serving health checks,
the build version and the latest results:

  GET /health, /health/live, /health/ready, /health/startup
  GET /version
  GET /v1/runs        latest enriched runs by workspace
  GET /v1/durations   latest duration maps
  GET /v1/checks      recorded checks (and /v1/checks/{id})`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveOpts.bind(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: server.port)")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "Time between checks (default: server.interval)")
}

// signalHealthChecker reports healthy while the process handles requests.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error {
	return nil
}

// identityHealthChecker verifies the app identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("identity: missing env prefix")
	case c.configName == "":
		return errors.New("identity: missing config name")
	}
	return nil
}

// checkHealthChecker is unhealthy once the latest check failed outright or
// no check has finished within maxAge.
type checkHealthChecker struct {
	mu       sync.RWMutex
	lastRun  time.Time
	lastErr  error
	maxAge   time.Duration
	now      func() time.Time
	started  time.Time
	hasCheck bool
}

func newCheckHealthChecker(interval time.Duration) *checkHealthChecker {
	return &checkHealthChecker{maxAge: 3 * interval, now: time.Now, started: time.Now()}
}

func (c *checkHealthChecker) observe(rep *check.Report, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRun = c.now()
	c.hasCheck = true
	switch {
	case err != nil:
		c.lastErr = err
	case rep.State == checkstore.StateFailed:
		c.lastErr = fmt.Errorf("check %s: every workspace failed", rep.CheckID)
	default:
		c.lastErr = nil
	}
}

func (c *checkHealthChecker) CheckHealth(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastErr != nil {
		return c.lastErr
	}
	ref := c.lastRun
	if !c.hasCheck {
		ref = c.started
	}
	if c.maxAge > 0 && c.now().Sub(ref) > c.maxAge {
		return fmt.Errorf("no check completed in %s", c.maxAge)
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid configuration", err)
	}

	host, port, interval := cfg.Server.Host, cfg.Server.Port, cfg.Server.Interval
	if serveHost != "" {
		host = serveHost
	}
	if cmd.Flags().Changed("port") {
		port = servePort
	}
	if serveInterval > 0 {
		interval = serveInterval
	}
	if interval <= 0 {
		return exitError(foundry.ExitInvalidArgument, "invalid interval", fmt.Errorf("interval must be positive"))
	}

	// Serve mode keeps JSONL in the archive and history; stdout stays quiet.
	s, err := newCheckSession(ctx, cmd, &serveOpts, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	id := GetAppIdentity()
	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("signal", signalHealthChecker{})
	if id != nil {
		health.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}
	checks := newCheckHealthChecker(interval)
	if cfg.Health.Enabled {
		health.RegisterChecker("check", checks)
	}

	latest := &handlers.LatestReport{}
	opts := []server.Option{
		server.WithVersion(handlers.NewVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)),
		server.WithReports(latest),
		server.WithLogger(logger),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
	}
	if !serveOpts.noHistory {
		opts = append(opts, server.WithHistory(openCheckStore(cfg)))
	}
	srv := server.New(host, port, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pollLoop(ctx, interval, func(ctx context.Context) {
			rep, err := s.runner.Run(ctx, s.opts)
			checks.observe(rep, err)
			if err != nil {
				logger.Error("Check failed", zap.Error(err))
				return
			}
			latest.Set(rep)
			logReport(logger, rep)
		})
	}()

	logger.Info("Serving", zap.String("addr", srv.Addr()), zap.Duration("interval", interval))
	err = srv.Run(ctx)
	cancel()
	wg.Wait()
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "server failed", err)
	}
	return nil
}

// pollLoop calls fn immediately and then on every tick until ctx is done.
func pollLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
