// Package app wires the process-wide components together: one store
// handle, one network monitor, one sync engine, one task service. The App
// is constructed once at startup, passed to consumers and torn down once
// at shutdown; nothing opens competing handles behind its back.
package app

import (
	"context"
	"time"

	"github.com/quietgrid/tasksync/internal/config"
	"github.com/quietgrid/tasksync/internal/gateway"
	"github.com/quietgrid/tasksync/internal/logger"
	"github.com/quietgrid/tasksync/internal/netmon"
	"github.com/quietgrid/tasksync/internal/service"
	"github.com/quietgrid/tasksync/internal/store"
	"github.com/quietgrid/tasksync/internal/sync"
)

// App is the explicit application context.
type App struct {
	Config  *config.Config
	Store   store.Store
	Monitor *netmon.HTTPMonitor
	Gateway gateway.Client
	Engine  *sync.Engine
	Service *service.TaskService
}

// New builds the full component graph and starts the background pieces
// (network probing, connectivity-driven sync).
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := store.Open(ctx, store.Options{
		Dir:     cfg.DataDir,
		Backend: cfg.StorageBackend,
	})
	if err != nil {
		return nil, err
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		logger.Warn("Failed to load credentials", logger.F("error", err))
		creds = &config.Credentials{}
	}

	monitor := netmon.NewHTTPMonitor(cfg.ProbeURL,
		time.Duration(cfg.ProbeIntervalSeconds)*time.Second)
	monitor.Start(ctx)

	gw := gateway.NewHTTPClient(cfg.APIBaseURL,
		time.Duration(cfg.APITimeoutSeconds)*time.Second,
		func() string { return creds.Token })

	engine := sync.New(st, gw, monitor, sync.Options{
		AutoSyncInterval: time.Duration(cfg.AutoSyncIntervalSeconds) * time.Second,
		AutoSync:         cfg.AutoSync,
	})
	engine.Start(ctx)

	return &App{
		Config:  cfg,
		Store:   st,
		Monitor: monitor,
		Gateway: gw,
		Engine:  engine,
		Service: service.New(st, engine, monitor),
	}, nil
}

// Close tears the components down in reverse dependency order. The store
// handle is released last so an in-flight sync can finish its writes.
func (a *App) Close() {
	a.Engine.Close()
	a.Monitor.Stop()
	if err := a.Store.Close(); err != nil {
		logger.Warn("Failed to close store", logger.F("error", err))
	}
	logger.Info("Application context closed")
}
