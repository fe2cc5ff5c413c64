package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dropalltables/oncall/internal/api"
	"github.com/dropalltables/oncall/internal/config"
	"github.com/dropalltables/oncall/internal/events"
	"github.com/dropalltables/oncall/internal/models"
	"github.com/dropalltables/oncall/internal/push"
	"github.com/dropalltables/oncall/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "oncall",
		Short: "oncall is a self-hosted interactive push notification relay",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(vapidCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the oncall server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Optional .env next to the binary, mostly for dev setups.
			_ = godotenv.Load()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			if cfg.Auth.Token == "" {
				return fmt.Errorf("auth token is required (set auth.token or ONCALL_AUTH_TOKEN; generate one with `oncall token`)")
			}

			if cfg.Push.VAPIDPublicKey == "" || cfg.Push.VAPIDPrivateKey == "" {
				priv, pub, err := webpush.GenerateVAPIDKeys()
				if err != nil {
					return fmt.Errorf("failed to generate VAPID keys: %w", err)
				}
				cfg.Push.VAPIDPrivateKey = priv
				cfg.Push.VAPIDPublicKey = pub
				log.Warn().
					Str("vapid_public_key", pub).
					Str("vapid_private_key", priv).
					Msg("generated ephemeral VAPID keys; persist them in config to keep subscriptions valid across restarts")
			}

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			hub := events.NewHub(log)
			webhooks := events.NewWebhookNotifier(cfg.Webhooks, store, log)
			dispatcher := push.NewDispatcher(cfg.Push, store, log)

			server := api.NewServer(cfg.Server, api.Deps{
				Store:          store,
				Dispatcher:     dispatcher,
				Hub:            hub,
				Webhooks:       webhooks,
				Token:          cfg.Auth.Token,
				VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
			}, log)

			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("storage", cfg.Storage.Driver).
				Msg("oncall is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			log.Info().Msg("oncall stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func vapidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid",
		Short: "Generate a VAPID key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pub, err := webpush.GenerateVAPIDKeys()
			if err != nil {
				return fmt.Errorf("failed to generate VAPID keys: %w", err)
			}
			fmt.Printf("ONCALL_PUSH_VAPID_PUBLIC_KEY=%s\nONCALL_PUSH_VAPID_PRIVATE_KEY=%s\n", pub, priv)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Generate a shared-secret API token",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ONCALL_AUTH_TOKEN=%s\n", models.NewToken())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("oncall v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
