// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command broker runs the workflow control-plane broker: the authoritative
// state store, operation registry, and HTTP surface bots and the control
// façade talk to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	brokerapi "github.com/lumenops/tradingbroker/internal/broker/api"
	brokerconfig "github.com/lumenops/tradingbroker/internal/broker/config"
	"github.com/lumenops/tradingbroker/internal/broker/operation"
	"github.com/lumenops/tradingbroker/internal/broker/state"
	"github.com/lumenops/tradingbroker/internal/log"
	"github.com/lumenops/tradingbroker/internal/tracing"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("broker %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := brokerconfig.FromEnv()
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	otelProvider, err := tracing.NewOTelProvider("tradingbroker-broker", version)
	if err != nil {
		logger.Error("failed to initialize tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(ctx)
	}()

	store, err := state.Open(cfg.StateFile, cfg.AuditFile)
	if err != nil {
		logger.Error("failed to open state store", slog.Any("error", err))
		os.Exit(1)
	}

	svc := brokerapi.NewService(store)
	svc.SetMetrics(otelProvider.MetricsCollector())
	router := brokerapi.NewRouter(brokerapi.RouterConfig{
		Version:      version,
		Commit:       commit,
		BuildDate:    buildDate,
		Project:      cfg.Project,
		Location:     cfg.Location,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, svc)
	router.Mux().Handle("GET /metrics", otelProvider.MetricsHandler())

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	stopEviction := make(chan struct{})
	go evictionLoop(store, stopEviction, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("broker listening", slog.String("addr", cfg.Addr()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.Any("signal", sig))
	case err := <-errCh:
		logger.Error("broker server error", slog.Any("error", err))
	}

	cancel()
	close(stopEviction)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down HTTP server", slog.Any("error", err))
	}
	if err := store.Shutdown(shutdownCtx); err != nil {
		logger.Error("error draining state store", slog.Any("error", err))
	}
}

// evictionLoop periodically prunes the operation registry's request-index
// entries per §5's cache-pressure bounds.
func evictionLoop(store *state.Store, stop <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			var evicted int
			_ = store.Mutate(func(snap *state.Snapshot) error {
				evicted = operation.Evict(snap.Operations(), operation.DefaultEvictionConfig(), time.Now().UTC())
				return nil
			})
			if evicted > 0 {
				logger.Info("evicted stale operations", slog.Int("count", evicted))
			}
		case <-stop:
			return
		}
	}
}
