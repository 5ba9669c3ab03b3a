// Package app wires the round engine, its audit chain and the HTTP surface
// into one process with a start/shutdown lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/MJE43/pfrace/internal/api"
	"github.com/MJE43/pfrace/internal/chain"
	"github.com/MJE43/pfrace/internal/config"
	"github.com/MJE43/pfrace/internal/events"
	"github.com/MJE43/pfrace/internal/game"
	"github.com/MJE43/pfrace/internal/httpserver"
	"github.com/MJE43/pfrace/internal/ledger"
	"github.com/MJE43/pfrace/internal/oracle"
	"github.com/MJE43/pfrace/internal/proof"
	"github.com/MJE43/pfrace/internal/store"
)

// App owns the store, the engine and the HTTP server.
type App struct {
	cfg    config.Config
	db     *store.SQLiteDB
	chain  *chain.Chain
	hub    *events.Hub
	engine *game.Engine
	server *httpserver.Server
	logger *log.Logger
}

// New opens the store, migrates it and builds every component.
// Nothing listens until Start.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := log.New(os.Stdout, "[APP] ", log.LstdFlags)

	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	c, err := chain.New(ctx, db, chain.Config{
		GasPriceGwei: cfg.GasPriceGwei,
		MiningDelay:  cfg.MiningDelay,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init chain: %w", err)
	}

	sim, err := oracle.NewSimulator()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init oracle: %w", err)
	}

	hub := events.NewHub(nil)

	eng, err := game.NewEngine(game.Deps{
		Ledger:      ledger.New(),
		Oracle:      sim,
		Gate:        proof.Simulator{},
		Recorder:    c,
		Publisher:   hub,
		SeedMode:    game.SeedMode(cfg.SeedMode),
		SeedTimeout: cfg.SeedTimeout,
	})
	if err != nil {
		hub.Close()
		db.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}

	srv, err := api.NewServer(api.Options{
		Engine:      eng,
		Store:       db,
		Chain:       c,
		Hub:         hub,
		CORSOrigins: cfg.CORSOrigins,
	})
	if err != nil {
		hub.Close()
		db.Close()
		return nil, fmt.Errorf("init api: %w", err)
	}

	return &App{
		cfg:    cfg,
		db:     db,
		chain:  c,
		hub:    hub,
		engine: eng,
		server: httpserver.New(cfg.Addr, srv.Routes()),
		logger: logger,
	}, nil
}

// SetLogger replaces the lifecycle logger.
func (a *App) SetLogger(l *log.Logger) { a.logger = l }

// Engine exposes the round engine.
func (a *App) Engine() *game.Engine { return a.engine }

// Start binds the listen address and begins serving.
func (a *App) Start() error {
	if err := a.server.Start(); err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Addr, err)
	}
	a.logger.Printf("server_started addr=%s db=%s seed_mode=%s block_height=%d",
		a.server.Addr(), a.cfg.DBPath, a.cfg.SeedMode, a.chain.Height())
	return nil
}

// Addr returns the bound listen address.
func (a *App) Addr() string { return a.server.Addr() }

// Wait blocks until the HTTP server stops.
func (a *App) Wait() error { return a.server.Wait() }

// Shutdown stops accepting requests, drains pending seed fulfillments
// and closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.hub.Close()
	a.engine.Wait()
	if cerr := a.db.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	recorded, failed := a.chain.Stats()
	a.logger.Printf("server_stopped block_height=%d recorded=%d failed=%d", a.chain.Height(), recorded, failed)
	return err
}
