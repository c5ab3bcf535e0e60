package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mattjoyce/warelay/internal/api"
	"github.com/mattjoyce/warelay/internal/config"
	"github.com/mattjoyce/warelay/internal/delivery"
	"github.com/mattjoyce/warelay/internal/events"
	"github.com/mattjoyce/warelay/internal/log"
	"github.com/mattjoyce/warelay/internal/state"
	"github.com/mattjoyce/warelay/internal/storage"
	"github.com/mattjoyce/warelay/internal/upstream"
	"github.com/mattjoyce/warelay/internal/webhook"
)

// sqliteFile is the database name used by the sqlite backend inside state.dir.
const sqliteFile = "warelay.db"

// relay is the wired process: one store shared by ingress and admin API.
type relay struct {
	store  *state.Store
	hub    *events.Hub
	engine *delivery.Engine
	server *api.Server
	close  func() error
}

// openDocuments returns the document backend selected by state.backend.
func openDocuments(ctx context.Context, cfg *config.Config) (state.DocumentStore, func() error, error) {
	switch cfg.State.Backend {
	case config.BackendSQLite:
		db, err := storage.OpenSQLite(ctx, filepath.Join(cfg.State.Dir, sqliteFile))
		if err != nil {
			return nil, nil, err
		}
		return storage.NewSQLiteDocuments(db), db.Close, nil
	case config.BackendFile, "":
		return storage.NewFileDocuments(cfg.State.Dir), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// newRelay wires the store, delivery engine, ingress and admin API from cfg
// and restores persisted state.
func newRelay(ctx context.Context, cfg *config.Config) (*relay, error) {
	docs, closeDocs, err := openDocuments(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open state backend: %w", err)
	}

	store := state.NewStore(docs,
		state.WithLogCap(cfg.State.LogCap),
		state.WithLogger(log.WithComponent("state")),
	)
	store.Load(ctx)

	hub := events.NewHub(256)
	engine := delivery.New(store, delivery.Options{
		Timeout:       cfg.Delivery.Timeout,
		MaxConcurrent: cfg.Delivery.MaxConcurrent,
		Events:        hub,
		Logger:        log.WithComponent("delivery"),
	})

	ingressConfig, err := webhook.FromGlobalConfig(cfg)
	if err != nil {
		return nil, errors.Join(err, closeDocs())
	}
	ingress := webhook.New(ingressConfig, store, engine, hub, log.WithComponent("webhook"))

	media, err := upstream.New(cfg.Upstream.URL, cfg.Upstream.Timeout, log.WithComponent("upstream"))
	if err != nil {
		return nil, errors.Join(err, closeDocs())
	}

	server := api.New(api.Config{
		Listen:         cfg.Server.Listen,
		Username:       cfg.Admin.Username,
		Password:       cfg.Admin.Password,
		AllowedOrigins: cfg.Admin.CORS.AllowedOrigins,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
	}, store, engine, media, hub, log.WithComponent("api"))
	server.Mount(ingress)

	return &relay{
		store:  store,
		hub:    hub,
		engine: engine,
		server: server,
		close:  closeDocs,
	}, nil
}
