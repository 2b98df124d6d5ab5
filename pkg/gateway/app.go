package gateway

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/batteryshark/agent-armory/internal/config"
	"github.com/batteryshark/agent-armory/internal/metrics"
	"github.com/batteryshark/agent-armory/pkg/contextstore"
	"github.com/batteryshark/agent-armory/pkg/engine"
	"github.com/batteryshark/agent-armory/pkg/events"
	"github.com/batteryshark/agent-armory/pkg/history"
	"github.com/batteryshark/agent-armory/pkg/maintenance"
	"github.com/batteryshark/agent-armory/pkg/ratelimit"
	"github.com/batteryshark/agent-armory/pkg/registry"
	"github.com/batteryshark/agent-armory/pkg/router"
	"github.com/batteryshark/agent-armory/pkg/tools"
)

// App assembles the full server from configuration: registry, limiter,
// publisher, context store, engine, router, history, maintenance, and
// the gateway server on top.
type App struct {
	Config    *config.Config
	Registry  *registry.Registry
	Limiter   *ratelimit.Limiter
	Publisher *events.Publisher
	Store     *contextstore.Store
	Engine    *engine.Engine
	Router    *router.Router
	History   *history.Store
	Server    *Server

	scheduler *maintenance.Scheduler
	watcher   *config.ToolConfigWatcher
	logger    zerolog.Logger
}

// NewApp wires every component together. Nothing is started yet; call
// Start.
func NewApp(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics.EnsureRegistered()

	app := &App{
		Config:    cfg,
		Registry:  registry.New(),
		Limiter:   ratelimit.New(),
		Publisher: events.NewPublisher(cfg.Events.BufferCapacity, logger),
		logger:    logger,
	}

	// Evicting a session cancels its in-flight work and discards its
	// event stream.
	app.Store = contextstore.New(contextstore.Config{
		TTL:       time.Duration(cfg.Context.TTL) * time.Minute,
		Publisher: app.Publisher,
		Logger:    logger,
		OnEvict: func(sessionID string) {
			if app.Engine != nil {
				app.Engine.CancelSession(sessionID)
			}
			app.Publisher.DropSession(sessionID)
		},
	})

	if cfg.History.Enabled {
		hist, err := history.New(history.Config{DBPath: cfg.History.DBPath, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		app.History = hist
	}

	engCfg := engine.Config{
		Registry:       app.Registry,
		Limiter:        app.Limiter,
		Publisher:      app.Publisher,
		Logger:         logger,
		DefaultTimeout: time.Duration(cfg.Engine.DefaultTimeout) * time.Second,
		MaxInFlight:    cfg.Engine.MaxInFlight,
	}
	if app.History != nil {
		engCfg.Archiver = app.History
	}
	app.Engine = engine.New(engCfg)

	toolConfigs, err := config.LoadToolConfigs(cfg.Tools.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool configs: %w", err)
	}
	if err := tools.RegisterBuiltins(app.Registry, app.Limiter, tools.Options{
		Configs: toolConfigs,
		Logger:  logger,
	}); err != nil {
		return nil, err
	}

	routerCfg := router.Config{
		Registry: app.Registry,
		Engine:   app.Engine,
		Store:    app.Store,
		Logger:   logger,
		SyncWait: time.Duration(cfg.Engine.SyncWait) * time.Millisecond,
	}
	if app.History != nil {
		routerCfg.History = app.History
	}
	app.Router = router.New(routerCfg)

	schedCfg := maintenance.Config{
		Store:            app.Store,
		Engine:           app.Engine,
		Logger:           logger,
		SweepInterval:    time.Duration(cfg.Context.SweepInterval) * time.Second,
		RecordRetention:  time.Duration(cfg.Engine.RecordRetention) * time.Minute,
		HistoryRetention: time.Duration(cfg.History.Retention) * 24 * time.Hour,
	}
	if app.History != nil {
		schedCfg.History = app.History
	}
	app.scheduler, err = maintenance.New(schedCfg)
	if err != nil {
		return nil, err
	}

	if cfg.Tools.HotReload {
		watcher, err := config.NewToolConfigWatcher(cfg.Tools.ConfigDir, app.reloadTool, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create tool config watcher: %w", err)
		}
		app.watcher = watcher
	}

	app.Server, err = NewServer(Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Name:      cfg.Server.Name,
		Router:    app.Router,
		Publisher: app.Publisher,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return app, nil
}

// reloadTool re-applies a changed tool config file to the live
// descriptor. Rate limit policy stays fixed for the process lifetime;
// only timeout, concurrency, and settings-independent fields move.
func (a *App) reloadTool(tool string) {
	desc, err := a.Registry.Lookup(tool)
	if err != nil {
		a.logger.Debug().Str("tool", tool).Msg("Config changed for unregistered tool, ignoring")
		return
	}

	tc, err := config.LoadToolConfig(a.Config.Tools.ConfigDir, tool)
	if err != nil {
		a.logger.Error().Err(err).Str("tool", tool).Msg("Failed to reload tool config")
		return
	}

	updated := *desc
	if tc.Timeout > 0 {
		updated.Timeout = time.Duration(tc.Timeout) * time.Second
	}
	if tc.MaxConcurrent > 0 {
		updated.MaxConcurrent = tc.MaxConcurrent
	}

	// Same name, same version: deregister first or the registry treats
	// it as a duplicate. The gap is tolerable in a debug-mode reload.
	a.Registry.Deregister(tool)
	if err := a.Registry.Register(updated); err != nil {
		a.logger.Error().Err(err).Str("tool", tool).Msg("Failed to re-register tool")
		return
	}
	a.logger.Info().Str("tool", tool).Msg("Tool config reloaded")
}

// Start launches the server, the maintenance scheduler, and the config
// watcher when enabled.
func (a *App) Start() error {
	if err := a.Server.Start(); err != nil {
		return err
	}
	a.scheduler.Start()
	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			a.logger.Warn().Err(err).Msg("Tool config watcher failed to start")
		}
	}
	return nil
}

// Stop tears everything down in reverse order.
func (a *App) Stop() error {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.scheduler.Stop()
	err := a.Server.Stop()
	if a.History != nil {
		if cerr := a.History.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
