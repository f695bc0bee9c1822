package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	internalserver "github.com/workmesh/assign-sdk/internal/server"
	"github.com/workmesh/assign-sdk/modules"
	"github.com/workmesh/assign-sdk/modules/assignment/services"
	"github.com/workmesh/assign-sdk/pkg/application"
	"github.com/workmesh/assign-sdk/pkg/configuration"
	"github.com/workmesh/assign-sdk/pkg/eventbus"
	"github.com/workmesh/assign-sdk/pkg/metrics"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "assign-engine",
		Short:         "Auto-assignment matching and queue engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Apply database migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) > 0 {
				direction = args[0]
			}
			return migrate(cmd.Context(), direction)
		},
	}
	return cmd
}

func serve(ctx context.Context) error {
	conf := configuration.Use()
	logger := conf.Logger()

	poolCtx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(poolCtx, conf.Database.Opts)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
	})
	if err := modules.Load(app, modules.BuiltInModules...); err != nil {
		return fmt.Errorf("failed to load modules: %w", err)
	}
	commandCenter := app.Service(services.CommandCenterService{}).(*services.CommandCenterService)
	defer commandCenter.Close()
	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	serverInstance, err := internalserver.Default(&internalserver.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
		Pool:          pool,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Infof("listening on %s", conf.SocketAddress)
	return serverInstance.Start(conf.SocketAddress)
}

func migrate(ctx context.Context, direction string) error {
	conf := configuration.Use()

	db, err := sql.Open("pgx", conf.Database.Opts)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	const dir = "migrations/assignment"
	switch direction {
	case "up":
		return goose.UpContext(ctx, db, dir)
	case "down":
		return goose.DownContext(ctx, db, dir)
	case "status":
		return goose.StatusContext(ctx, db, dir)
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
