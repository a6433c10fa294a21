package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/custodia-labs/tutor-core/internal/adapters/driven/auth"
	"github.com/custodia-labs/tutor-core/internal/adapters/driven/postgres"
	"github.com/custodia-labs/tutor-core/internal/config"
	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/telemetry"
)

const rootLongDesc string = `tutor-core generates course outlines and paragraphs on demand
and tracks each learner's reading progress.

Run services using:
  tutor-core serve     Run the HTTP API
  tutor-core worker    Run the task worker and scheduler
  tutor-core all       Run both together`

// rootCommander holds state shared by every subcommand
type rootCommander struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &rootCommander{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:           "tutor-core",
		Short:         "Progressive learning content pipeline",
		Long:          rootLongDesc,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to a config file (yaml, toml or json)")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")
	_ = c.v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", cmd.PersistentFlags().Lookup("log-format"))

	cmd.AddCommand(c.newServeCmd())
	cmd.AddCommand(c.newWorkerCmd())
	cmd.AddCommand(c.newAllCmd())
	cmd.AddCommand(c.newMigrateCmd())
	cmd.AddCommand(c.newTokenCmd())

	return cmd
}

func (c *rootCommander) load() error {
	cfg, err := config.Load(c.v, c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = newLogger(cfg.Log)
	slog.SetDefault(c.logger)
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// mode runs one of the long-lived process modes
type mode struct {
	api    bool
	worker bool
}

func (c *rootCommander) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd.Context(), mode{api: true})
		},
	}
	cmd.Flags().Int("port", 8080, "Port to listen on")
	_ = c.v.BindPFlag("http.port", cmd.Flags().Lookup("port"))
	return cmd
}

func (c *rootCommander) newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the task worker and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd.Context(), mode{worker: true})
		},
	}
	cmd.Flags().Int("concurrency", 2, "Number of tasks processed in parallel")
	_ = c.v.BindPFlag("worker.concurrency", cmd.Flags().Lookup("concurrency"))
	return cmd
}

func (c *rootCommander) newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run the HTTP API and the worker in one process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd.Context(), mode{api: true, worker: true})
		},
	}
}

func (c *rootCommander) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			db, err := postgres.Connect(ctx, postgresConfig(c.cfg.Database))
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.InitSchema(ctx); err != nil {
				return err
			}
			c.logger.Info("schema applied")
			return nil
		},
	}
}

func (c *rootCommander) newTokenCmd() *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <owner-id>",
		Short: "Sign a bearer token for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not set")
			}
			if ttl <= 0 {
				ttl = c.cfg.Auth.TokenTTL
			}
			adapter := auth.NewAdapter(c.cfg.Auth.JWTSecret, c.cfg.Auth.Issuer)
			token, err := adapter.GenerateToken(domain.NewTokenClaims(args[0], name, ttl))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.token_ttl)")
	return cmd
}

// run builds the application and blocks until SIGINT or SIGTERM
func (c *rootCommander) run(parent context.Context, m mode) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     c.cfg.Telemetry.Enabled,
		ServiceName: "tutor-core",
		Version:     version,
		Exporter:    c.cfg.Telemetry.Exporter,
		Endpoint:    c.cfg.Telemetry.OTLPEndpoint,
		Insecure:    true,
		SampleRatio: c.cfg.Telemetry.SampleRatio,
	}, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			c.logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx, m)
}

func postgresConfig(cfg config.DatabaseConfig) postgres.Config {
	return postgres.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}
