package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/granthlabs/granth/pkg/observability"
	"github.com/granthlabs/granth/pkg/pipeline"
	"github.com/granthlabs/granth/pkg/server"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	a, err := newApp(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Port != 0 {
		a.cfg.Server.Port = c.Port
	}

	if a.cfg.Observability.MetricsEnabled || a.cfg.Observability.TracingEnabled {
		obs := observability.NewManager(observability.Config{
			Tracing: observability.TracerConfig{
				Enabled:      a.cfg.Observability.TracingEnabled,
				EndpointURL:  a.cfg.Observability.OTLPEndpoint,
				SamplingRate: a.cfg.Observability.SamplingRate,
				ServiceName:  a.cfg.Observability.ServiceName,
			},
			Metrics: observability.MetricsConfig{
				Enabled: a.cfg.Observability.MetricsEnabled,
			},
		})
		if err := obs.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize observability: %w", err)
		}
		defer func() {
			if err := obs.Shutdown(context.Background()); err != nil {
				slog.Warn("Observability shutdown failed", "error", err)
			}
		}()
	}

	// The watcher needs the active pipeline's processor. When no
	// configuration is active yet, watching stays off for this run.
	if a.cfg.Uploads.Watch {
		if active, err := a.coordinator.GetActivePipeline(ctx); err != nil {
			slog.Warn("Upload watching disabled: no active configuration", "error", err)
		} else {
			w, err := pipeline.NewWatcher(a.cfg.Uploads.Dir, active.Processor, a.registry)
			if err != nil {
				return fmt.Errorf("failed to create upload watcher: %w", err)
			}
			go func() {
				if err := w.Run(ctx); err != nil && ctx.Err() == nil {
					slog.Error("Upload watcher stopped", "error", err)
				}
			}()
		}
	}

	srv := server.New(a.cfg, a.coordinator, a.registry, a.sessions, a.ocr)

	fmt.Printf("\nGranth ready on http://%s\n", a.cfg.Server.Address())
	fmt.Printf("   Health:   http://%s/health\n", a.cfg.Server.Address())
	if a.cfg.Observability.MetricsEnabled {
		fmt.Printf("   Metrics:  http://%s/metrics\n", a.cfg.Server.Address())
	}
	fmt.Printf("   Uploads:  %s (watch=%v)\n", a.cfg.Uploads.Dir, a.cfg.Uploads.Watch)
	if a.ocr.Available() {
		fmt.Printf("   OCR:      enabled\n")
	} else {
		fmt.Printf("   OCR:      unavailable (tesseract not found)\n")
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}
