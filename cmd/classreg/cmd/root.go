package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/classreg/internal/archive"
	"github.com/classreg/internal/dumper"
	"github.com/classreg/internal/repository"
	"github.com/classreg/internal/storage"
	"github.com/classreg/pkg/config"
	"github.com/classreg/pkg/telemetry"
	"github.com/classreg/pkg/utils"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg             *config.Config
	logger          utils.Logger
	shutdownTracing telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "classreg",
	Short: "Dump, verify and inspect shared type archives",
	Long: `classreg resolves the types named by a classlist through the boot,
platform and app namespaces and writes them to a shared archive. A later
registry attaches the archive and restores those types instead of parsing
them again.

Archives can be published to object storage and recorded in a catalog
database so other hosts can find and fetch them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		level := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			level = utils.LevelDebug
		}
		if cfg.Log.OutputPath != "" {
			fl, err := utils.NewFileLogger(level, cfg.Log.OutputPath)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			logger = fl
		} else {
			logger = utils.NewDefaultLogger(level, os.Stdout)
		}
		utils.SetGlobalLogger(logger)

		tc := telemetry.FromSettings(&cfg.Telemetry)
		tc.ServiceVersion = Version
		tc.ResourceAttrs["classreg.archive.format"] = strconv.Itoa(int(archive.FormatVersion))
		shutdown, err := telemetry.Init(cmd.Context(), tc)
		if err != nil {
			logger.Warn("tracing disabled: %v", err)
		}
		shutdownTracing = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTracing != nil {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Warn("failed to flush traces: %v", err)
			}
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	binName := BinName()
	rootCmd.Example = `  # Dump the types named by a classlist
  ` + binName + ` dump -c ./classreg.yaml --classlist ./classlist -o ./app.jsa

  # Check that an archive still matches the classpath
  ` + binName + ` verify -c ./classreg.yaml --archive ./app.jsa --preload

  # List the contents of an archive
  ` + binName + ` inspect ./app.jsa --types

  # Re-dump whenever the classlist changes
  ` + binName + ` watch -c ./classreg.yaml`
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

// session is a dumper with the store and catalog the configuration
// enables.
type session struct {
	dumper *dumper.Dumper
	repos  *repository.Repositories
}

func newSession() (*session, error) {
	s := &session{}
	opts := dumper.Options{Config: cfg, Logger: logger}

	if storage.Enabled(&cfg.Storage) {
		store, err := storage.NewStore(&cfg.Storage)
		if err != nil {
			return nil, err
		}
		opts.Store = store
		logger.Debug("publishing archives to %s storage", cfg.Storage.Type)
	}
	if cfg.Database.Enabled {
		repos, err := repository.Open(&cfg.Database)
		if err != nil {
			return nil, err
		}
		s.repos = repos
		opts.Catalog = repos.Catalog
		logger.Debug("recording archives in %s catalog", cfg.Database.Type)
	}

	d, err := dumper.New(opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.dumper = d
	return s, nil
}

func (s *session) Close() {
	if s.repos != nil {
		if err := s.repos.Close(); err != nil {
			logger.Warn("failed to close catalog: %v", err)
		}
	}
}
