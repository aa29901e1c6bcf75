// Package internal contains core application functionality
package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/karloscodes/cartridge"

	"vitalsreport/internal/config"
	"vitalsreport/internal/database"
)

// Application wraps cartridge.Application with the report services
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Services  *Services
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	services, err := NewServices(context.Background(), cfg, logger, dbManager)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		RouteMountFunc:    services.MountRoutes,
		BackgroundWorkers: []cartridge.BackgroundWorker{services.Scheduler},
	})
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Services:    services,
	}, nil
}

// Shutdown stops the server and background jobs, then flushes and closes the cache.
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.Application.Shutdown(ctx)
	a.Services.Scheduler.Stop()
	return errors.Join(err, a.Services.Close())
}
