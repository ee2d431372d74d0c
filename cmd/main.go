package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/angeloszaimis/api-gateway/config"
	"github.com/angeloszaimis/api-gateway/internal/admin"
	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/dispatcher"
	"github.com/angeloszaimis/api-gateway/internal/httpserver"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
	"github.com/angeloszaimis/api-gateway/internal/registry"
	"github.com/angeloszaimis/api-gateway/pkg/logger"
)

const (
	defaultHealthPath = "/health"
	defaultTimeout    = 5 * time.Second
	collectorBuffer   = 1024
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	descriptors, err := buildDescriptors(cfg)
	if err != nil {
		log.Error("Failed to build service descriptors", slog.Any("err", err))
		os.Exit(1)
	}

	pollInterval, err := time.ParseDuration(cfg.Polling.Interval)
	if err != nil {
		log.Error("Invalid polling interval", slog.Any("err", err))
		os.Exit(1)
	}

	reg := registry.New(log)
	reg.RegisterAll(descriptors)
	reg.StartPeriodicPolling(pollInterval)
	defer reg.Stop()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), log)
	for _, d := range descriptors {
		breakers.Configure(d.Name, circuitbreaker.Config{
			FailureThreshold: d.FailureThreshold,
			RecoveryTimeout:  d.RecoveryTimeout,
			HalfOpenQuota:    d.HalfOpenQuota,
		})
	}

	collector := metrics.NewCollector(collectorBuffer, log)
	collector.Start(ctx)

	routes := dispatcher.NewRouteTable(buildRoutes(cfg))
	disp := dispatcher.New(log, routes, descriptors, breakers, collector)
	adminHandler := admin.NewHandler(log, reg, breakers)

	mux := setupRouter(disp, adminHandler)

	srv, err := httpserver.New(cfg.Server.Address, mux)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Gateway started",
		slog.String("address", cfg.Server.Address),
		slog.Int("services", len(descriptors)),
		slog.Int("routes", len(cfg.Routes)))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		reg.Stop()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting gateway", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// buildDescriptors turns validated config entries into immutable service
// descriptors, applying the health-path and timeout defaults.
func buildDescriptors(cfg *config.Config) ([]registry.ServiceDescriptor, error) {
	descriptors := make([]registry.ServiceDescriptor, 0, len(cfg.Services))

	for _, svc := range cfg.Services {
		baseURL, err := url.Parse(svc.URL)
		if err != nil {
			return nil, err
		}

		d := registry.ServiceDescriptor{
			Name:             svc.Name,
			BaseURL:          baseURL,
			HealthPath:       svc.HealthPath,
			Timeout:          defaultTimeout,
			FailureThreshold: svc.FailureThreshold,
			HalfOpenQuota:    svc.HalfOpenQuota,
		}
		if d.HealthPath == "" {
			d.HealthPath = defaultHealthPath
		}
		if svc.Timeout != "" {
			d.Timeout, err = time.ParseDuration(svc.Timeout)
			if err != nil {
				return nil, err
			}
		}
		if svc.RecoveryTimeout != "" {
			d.RecoveryTimeout, err = time.ParseDuration(svc.RecoveryTimeout)
			if err != nil {
				return nil, err
			}
		}

		descriptors = append(descriptors, d)
	}

	return descriptors, nil
}

func buildRoutes(cfg *config.Config) []dispatcher.RouteEntry {
	entries := make([]dispatcher.RouteEntry, 0, len(cfg.Routes))
	for _, route := range cfg.Routes {
		entries = append(entries, dispatcher.RouteEntry{
			Prefix:  route.Prefix,
			Service: route.Service,
		})
	}
	return entries
}
