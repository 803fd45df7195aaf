package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/boostorg/boost-archives/internal/config"
	"github.com/boostorg/boost-archives/internal/database"
	"github.com/boostorg/boost-archives/internal/httpclient"
	"github.com/boostorg/boost-archives/internal/versions"
	"github.com/boostorg/boost-archives/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	Cfg      *config.Config
	Version  string
)

var RootCmd = &cobra.Command{
	Use:   "boost-archives",
	Short: "Boost Archives - mirrors Boost release files into blob storage",
	Long: `Boost Archives discovers the release archives Boost publishes on SourceForge,
verifies their checksums and stores them, with a metadata sidecar, in blob storage.`,
	SilenceUsage: true,
}

func Execute(version string) error {
	Version = version
	return RootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config file)")
}

func initConfig() {
	var err error

	Cfg, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Configuration could not be loaded: %v\n", err)
		os.Exit(1)
	}

	if logLevel != "" {
		Cfg.Logging.Level = logLevel
	}

	if err := logger.Init(Cfg.LoggerConfig("root")); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Logger could not be initialized: %v\n", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newHTTPClient(cfg *config.Config) *httpclient.Client {
	return httpclient.New(httpclient.OptionsFromConfig(cfg.HTTP), logger.NewLogger("http"))
}

// loadVersions reads the catalogue from the configured source.
func loadVersions(ctx context.Context, cfg *config.Config) ([]versions.Version, error) {
	var src versions.Source
	switch cfg.Versions.Source {
	case "sqlite":
		db, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		src = versions.SQLiteSource{DB: db}
	default:
		src = versions.YAMLSource{Path: cfg.Versions.File}
	}
	return src.Versions(ctx)
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}
	return db, nil
}
