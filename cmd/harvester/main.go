package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/app"
	"github.com/ternarybob/harvester/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	portalURL    = flag.String("portal", "", "Portal listing URL (overrides config)")
	reportPath   = flag.String("report", "", "Report output path, .json or .yaml (overrides config)")
	force        = flag.Bool("force", false, "Refetch every instrument regardless of cache age")
	limit        = flag.Int("limit", 0, "Process at most N instruments")
	schedule     = flag.String("schedule", "", "Run on a cron schedule instead of once, e.g. \"30 18 * * 1-5\"")
	listCache    = flag.Bool("list-cache", false, "Print cached instrument identities and exit")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Harvester version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("harvester.toml"); err == nil {
			configFiles = append(configFiles, "harvester.toml")
		} else if _, err := os.Stat("deployments/local/harvester.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/harvester.toml")
		}
	}

	// 1. Load configuration (default -> file1 -> file2 -> ... -> env)
	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		os.Exit(1)
	}

	// 2. Apply command-line flag overrides (highest priority)
	common.ApplyFlagOverrides(config, common.FlagOverrides{
		PortalURL:  *portalURL,
		ReportPath: *reportPath,
		Force:      *force,
		Limit:      *limit,
		Schedule:   *schedule,
	})

	if err := config.Validate(); err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	// 3. Initialize logger with final configuration
	logger := common.InitLogger(config)
	if logDir, err := common.ResolveLogDir(config); err == nil {
		common.InstallCrashHandler(logDir)
	}

	// 4. Print banner
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("portal", config.Portal.BaseURL).
		Str("storage_type", config.Storage.Type).
		Bool("headless", config.Browser.Headless).
		Bool("scheduled", config.Schedule.Enabled).
		Str("log_file", common.GetLogFilePath(logger)).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	common.SafeGo(logger, "signal-handler", func() {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("Interrupt signal received - stopping after current instrument")
			cancel()
		case <-ctx.Done():
		}
	})

	code := execute(ctx, application, *listCache, os.Stdout)
	cancel()
	os.Exit(code)
}

// execute runs the selected mode and returns the process exit code. The
// application is closed on every path.
func execute(ctx context.Context, application *app.App, listOnly bool, out io.Writer) int {
	defer application.Close()

	config := application.Config
	logger := application.Logger

	if listOnly {
		ids, err := application.CachedIdentities(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to list cache")
			return 1
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return 0
	}

	if config.Schedule.Enabled {
		if err := application.RunScheduled(ctx, config.Schedule.Cron); err != nil {
			logger.Error().Err(err).Msg("Scheduler failed")
			return 1
		}
		return 0
	}

	report, err := application.RunOnce(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Harvest failed")
		return 1
	}

	if report.FailureCount > 0 && report.SuccessCount == 0 {
		return 2
	}
	return 0
}
