package main

import (
	"context"
	"fmt"

	"github.com/granthlabs/granth/pkg/config"
	"github.com/granthlabs/granth/pkg/extract"
	"github.com/granthlabs/granth/pkg/registry"
	"github.com/granthlabs/granth/pkg/runtime"
	"github.com/granthlabs/granth/pkg/session"
)

// app holds the wired service stack shared by serve, index and query.
// All three stores share one connection pool so sqlite does not run into
// "database is locked" errors.
type app struct {
	cfg         *config.Config
	pool        *config.DBPool
	registry    registry.Registry
	sessions    session.Store
	coordinator *runtime.Coordinator
	ocr         *extract.OCREngine
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	pool := config.NewDBPool()
	db, err := pool.Get(&cfg.Database)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	dialect := cfg.Database.Driver

	reg, err := registry.NewSQLRegistry(db, dialect)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create document registry: %w", err)
	}
	sessions, err := session.NewSQLStore(db, dialect)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	configStore, err := runtime.NewSQLConfigStore(db, dialect)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create configuration store: %w", err)
	}

	ocr := extract.NewOCREngine(true)
	extractor := extract.NewExtractor(ocr)

	coord := runtime.NewCoordinator(configStore, reg, extractor, runtime.DefaultOwner)
	if err := coord.Bootstrap(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap failed: %w", err)
	}

	return &app{
		cfg:         cfg,
		pool:        pool,
		registry:    reg,
		sessions:    sessions,
		coordinator: coord,
		ocr:         ocr,
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}
