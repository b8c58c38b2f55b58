package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/3leaps/runwatch/internal/errors"
	"github.com/3leaps/runwatch/internal/observability"
	"github.com/3leaps/runwatch/pkg/archive"
	"github.com/3leaps/runwatch/pkg/manifest"
)

var doctorArchive string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment and suggest fixes for common issues.

With --manifest the manifest is validated. With --archive (or a manifest
archive section) the archive destination is checked, including AWS
credentials for s3:// destinations.

Examples:
  runwatch doctor
  runwatch doctor --manifest alerts.yaml
  runwatch doctor --archive s3://reports-bucket/runwatch/`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorArchive, "archive", "", "Archive URI to check (s3://... or file://...)")
}

func runDoctor(cmd *cobra.Command, args []string) {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitInvalidArgument, "Invalid configuration",
			errwrap.NewInvalidArgument("configuration did not load", err))
	}

	var m *manifest.Manifest
	var manifestErr error
	if cfg.Manifest != "" {
		m, manifestErr = manifest.Load(cfg.Manifest)
	}
	archiveURI := doctorArchive
	if archiveURI == "" && m != nil && m.Archive != nil {
		archiveURI = m.Archive.URI
	}

	allChecks := true
	checkNum := 1
	totalChecks := 5
	if cfg.Manifest != "" {
		totalChecks++
	}
	var dest archive.Destination
	var destErr error
	if archiveURI != "" {
		dest, destErr = archive.ParseURI(archiveURI)
		totalChecks++
		if destErr == nil && dest.Scheme == archive.SchemeS3 {
			totalChecks += 2
		}
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible and Gofulmen
	version := crucible.GetVersion()
	if version.Crucible != "" && version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible and Gofulmen... ✅ v%s / v%s", checkNum, totalChecks, version.Crucible, version.Gofulmen),
			zap.String("crucible_version", version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Crucible and Gofulmen... ❌ version metadata unavailable", checkNum, totalChecks))
		ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			errwrap.NewExternalServiceError("Crucible version metadata unavailable"))
	}
	checkNum++

	// Check 3: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot find config directory",
			errwrap.WrapInternal(cmd.Context(), err, "Cannot find config directory"))
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
		zap.String("config_dir", configDir))
	checkNum++

	// Check 4: History directory
	historyDir := filepath.Join(dataDir(cfg), "checks")
	if err := checkWritableDir(historyDir); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking history directory... ❌ %s is not writable", checkNum, totalChecks, historyDir),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking history directory... ✅ %s", checkNum, totalChecks, historyDir),
			zap.String("history_dir", historyDir))
	}
	checkNum++

	// Check 5: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if cfg.Manifest != "" {
		if manifestErr != nil {
			observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking manifest... ❌ %s", checkNum, totalChecks, cfg.Manifest),
				zap.Error(manifestErr))
			allChecks = false
		} else {
			observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking manifest... ✅ %d workspace(s)", checkNum, totalChecks, len(m.Workspaces)),
				zap.String("manifest", cfg.Manifest))
		}
		checkNum++
	}

	if archiveURI != "" {
		if destErr != nil {
			observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking archive destination... ❌ %s", checkNum, totalChecks, archiveURI),
				zap.Error(destErr))
			allChecks = false
		} else {
			observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking archive destination... ✅ %s", checkNum, totalChecks, dest),
				zap.String("scheme", dest.Scheme))
			checkNum++
			if dest.Scheme == archive.SchemeS3 {
				allChecks = runS3Checks(cmd.Context(), checkNum, totalChecks, allChecks)
			} else if err := checkWritableDir(dest.Prefix); err != nil {
				observability.CLILogger.Error("Archive directory is not writable", zap.String("dir", dest.Prefix), zap.Error(err))
				allChecks = false
			}
		}
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// checkWritableDir creates dir if needed and writes a temp file to it.
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".runwatch-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Archive Checks:")

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	maskedKey := maskAccessKey(creds.AccessKeyID)
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskedKey),
		zap.String("source", creds.Source))
	checkNum++

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))

	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials for report archiving:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile and name it in archive.profile, or")
	observability.CLILogger.Info("  3. Use an IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set archive.endpoint")
	observability.CLILogger.Info("and archive.force_path_style in the manifest.")
	observability.CLILogger.Info("")
}
