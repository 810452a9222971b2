package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/metalagman/accord/internal/config"
	"github.com/metalagman/accord/internal/contract"
	"github.com/metalagman/accord/internal/db"
	"github.com/metalagman/accord/internal/logging"
	"github.com/metalagman/accord/internal/reconcile"
	"github.com/metalagman/accord/internal/validator"
	"github.com/metalagman/accord/internal/validators/builtin"
	"github.com/metalagman/accord/internal/verify"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
)

const stopTimeout = 10 * time.Second

// projectRoot is the directory holding .accord.
type projectRoot string

// app is everything a command can ask for.
type app struct {
	fx.In

	Root         projectRoot
	Config       config.Config
	DB           *sql.DB
	Contracts    *contract.Store
	History      *db.Store
	Registry     *validator.Registry
	Orchestrator *verify.Orchestrator
}

// withApp builds the application graph, starts it, runs fn and stops it again.
func withApp(ctx context.Context, fn func(context.Context, app) error) error {
	root, err := workDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	var deps app
	fxApp := fx.New(
		fx.NopLogger,
		fx.Supply(cfg, projectRoot(root)),
		fx.Provide(
			openDatabase,
			contract.NewStore,
			db.NewStore,
			newRegistry,
			newOrchestrator,
		),
		fx.Invoke(reconcileOnStart),
		fx.Invoke(func(d app) { deps = d }),
	)
	if err := fxApp.Err(); err != nil {
		return err
	}
	if err := fxApp.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := fxApp.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("stop application")
		}
	}()
	return fn(ctx, deps)
}

func openDatabase(lc fx.Lifecycle, cfg config.Config, root projectRoot) (*sql.DB, error) {
	database, err := db.Open(cfg.DBPath(string(root)))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return database.Close()
		},
	})
	return database, nil
}

func newRegistry(cfg config.Config) (*validator.Registry, error) {
	reg := validator.NewRegistry()
	if err := builtin.Register(reg, cfg.Validators); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	return reg, nil
}

func newOrchestrator(reg *validator.Registry, cfg config.Config, history *db.Store) *verify.Orchestrator {
	return verify.New(reg, verify.Config{
		Concurrency:     cfg.Orchestrator.Concurrency,
		Deadline:        cfg.Orchestrator.Deadline,
		TeardownTimeout: cfg.Orchestrator.TeardownTimeout,
	},
		verify.WithLogger(logging.Component("verify")),
		verify.WithRecorder(history),
	)
}

func reconcileOnStart(lc fx.Lifecycle, history *db.Store, root projectRoot) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			res, err := reconcile.Run(ctx, history, locksDir(string(root)))
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			if res.Aborted > 0 {
				log.Info().Int("aborted", res.Aborted).Int("active", res.Active).Msg("recovered interrupted verifications")
			}
			return nil
		},
	})
}
