package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-ledger/internal/backendfactory"
	"github.com/aqasim81/migration-ledger/internal/config"
	"github.com/aqasim81/migration-ledger/internal/logging"
)

const version = "0.1.0"

// AppConfig holds the loaded configuration, set during PersistentPreRunE.
var AppConfig *config.Config //nolint:gochecknoglobals // standard Cobra pattern for shared config

// AppLogger is built from AppConfig during PersistentPreRunE.
var AppLogger *logrus.Logger //nolint:gochecknoglobals // shared with subcommands like AppConfig

// rootCmd is the base command for the ledger CLI.
var rootCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:     "ledger",
	Version: version,
	Short:   "Inspect the migration ledger",
	Long: `ledger reads the durable record of migration attempts kept by a
migration engine: which scripts were started, how many steps succeeded,
which finished, and whether any script on disk drifted from what was applied.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadConfig(cmd)
	},
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	rootCmd.PersistentFlags().String("config", "ledger.yml", "path to configuration file")
	rootCmd.PersistentFlags().String("backend", "", "ledger backend (postgres, sqlite, etcd, redis, memory)")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	rootCmd.PersistentFlags().Int32("max-conns", 0, "maximum PostgreSQL pool connections (0 keeps the default)")
	rootCmd.PersistentFlags().String("sqlite-path", "", "path to the SQLite ledger file")
	rootCmd.PersistentFlags().String("migrations-dir", "", "path to migration directories")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads configuration with precedence: flag > env > file.
func loadConfig(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	allowMissing := !cmd.Flags().Changed("config")

	cfg, err := config.Load(configPath, allowMissing)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	config.MergeEnv(cfg)
	mergeFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	AppConfig = cfg
	AppLogger = logger

	return nil
}

// mergeFlags overrides config with explicitly-set CLI flags.
func mergeFlags(cmd *cobra.Command, cfg *config.Config) {
	stringFlags := map[string]*string{
		"backend":        &cfg.Backend,
		"database-url":   &cfg.DatabaseURL,
		"sqlite-path":    &cfg.SQLitePath,
		"migrations-dir": &cfg.MigrationsDir,
	}

	for name, dst := range stringFlags {
		if cmd.Flags().Lookup(name) != nil && cmd.Flags().Changed(name) {
			*dst, _ = cmd.Flags().GetString(name)
		}
	}

	if cmd.Flags().Lookup("max-conns") != nil && cmd.Flags().Changed("max-conns") {
		cfg.MaxConns, _ = cmd.Flags().GetInt32("max-conns")
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
}

// openLedger connects to the configured backend.
func openLedger(cmd *cobra.Command) (*backendfactory.Handle, error) {
	ctx := commandContext(cmd)
	cfg := AppConfig

	AppLogger.WithFields(cfg.LogFields()).Debug("opening ledger")

	h, err := backendfactory.Open(ctx, cfg, AppLogger)
	if err != nil {
		return nil, fmt.Errorf("opening %s ledger: %w", cfg.Backend, err)
	}

	return h, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}
