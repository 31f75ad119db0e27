package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/visage/internal/config"
	"github.com/andresmejia3/visage/internal/kv"
	"github.com/andresmejia3/visage/internal/library"
	"github.com/andresmejia3/visage/internal/logging"
	"github.com/andresmejia3/visage/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Cfg is the loaded configuration shared by subcommands
	Cfg *config.Config
	// Log is the process logger
	Log *zap.Logger
	// DB is set when the video list lives in PostgreSQL
	DB *store.Store
	// Videos is the session list, restored before any subcommand runs
	Videos *library.Library

	cfgPath string
	dbURL   string
	debug   bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "visage",
	Short:   "Face-tracking camera recorder",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		// If no flag was provided, try to build the connection string from the environment
		if dbURL == "" {
			if host := os.Getenv("POSTGRES_HOST"); host != "" {
				user := os.Getenv("POSTGRES_USER")
				pass := os.Getenv("POSTGRES_PASSWORD")
				name := os.Getenv("POSTGRES_DB")
				port := os.Getenv("POSTGRES_PORT")
				if port == "" {
					port = "5432"
				}
				dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
			}
		}
		if dbURL != "" {
			cfg.Storage.Backend = "postgres"
			cfg.Storage.DatabaseURL = dbURL
		}
		if debug {
			cfg.Log.Level = "debug"
		}
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		Cfg = cfg

		Log, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}

		// Use the command's context (which will be cancellable) for the connection
		backend, err := openStore(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}

		Videos = library.New(backend, cfg.Storage.Key, Log)
		Videos.Load(cmd.Context())
		Log.Debug("configuration loaded",
			zap.String("config", cfgPath),
			zap.String("storage", cfg.Storage.Backend),
			zap.Int("videos", Videos.Len()),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		if Log != nil {
			Log.Sync()
		}
	},
}

// openStore returns the persistence backend selected by cfg.
func openStore(ctx context.Context, cfg config.StorageConfig) (kv.Store, error) {
	switch cfg.Backend {
	case "postgres":
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		DB = db
		return db, nil
	case "memory":
		return kv.NewMemory(), nil
	default:
		return kv.NewFile(cfg.Path), nil
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "visage.yaml", "Path to the YAML configuration file (missing file means defaults)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string; stores the video list in the database instead of a file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
