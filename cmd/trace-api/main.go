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

// Command trace-api runs the control façade: the authenticated proxy that
// forwards control actions to the broker, composes fused trace resources
// from broker state and the trade journal, and supervises bot processes.
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

	facadeapi "github.com/lumenops/tradingbroker/internal/facade/api"
	"github.com/lumenops/tradingbroker/internal/facade/auditlog"
	facadeconfig "github.com/lumenops/tradingbroker/internal/facade/config"
	"github.com/lumenops/tradingbroker/internal/facade/ingest"
	"github.com/lumenops/tradingbroker/internal/facade/supervisor"
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
		fmt.Printf("trace-api %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := facadeconfig.FromEnv()
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.IsDevToken() {
		logger.Warn("OBS_CONTROL_TOKEN is unset; using the insecure development default")
	}

	otelProvider, err := tracing.NewOTelProvider("tradingbroker-trace-api", version)
	if err != nil {
		logger.Error("failed to initialize tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(ctx)
	}()

	broker := facadeapi.NewBrokerClient(cfg.BrokerBaseURL, cfg.Project, cfg.Location)
	scanner := ingest.NewScanner(cfg.TradesDir, logger)
	probe := supervisor.New(cfg.SupervisorDir)
	audit := auditlog.Open(cfg.ControlAuditFile)
	defer audit.Close()

	svc := facadeapi.NewService(broker, scanner, probe, audit, cfg.Project, cfg.Location)
	svc.SetMetrics(otelProvider.MetricsCollector())
	validator := facadeapi.NewTokenValidator(cfg.ControlToken)
	defer validator.Close()

	router := facadeapi.NewRouter(facadeapi.RouterConfig{
		Version:                version,
		Project:                cfg.Project,
		Location:               cfg.Location,
		MaxBodyBytes:           cfg.MaxBodyBytes,
		ControlTokenConfigured: !cfg.IsDevToken(),
	}, svc, validator)
	router.Mux().Handle("GET /metrics", otelProvider.MetricsHandler())

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := ingest.NewWatcher(cfg.TradesDir, func() {
		logger.Debug("trade journal changed, next read will rescan")
	}, logger)
	go watcher.Run(ctx)

	stopEviction := make(chan struct{})
	go evictionLoop(svc, stopEviction, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("trace-api listening", slog.String("addr", cfg.Addr()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.Any("signal", sig))
	case err := <-errCh:
		logger.Error("trace-api server error", slog.Any("error", err))
	}

	cancel()
	close(stopEviction)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down HTTP server", slog.Any("error", err))
	}
}

func evictionLoop(svc *facadeapi.Service, stop <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if evicted := svc.EvictExpiredOperations(); evicted > 0 {
				logger.Info("evicted stale local operations", slog.Int("count", evicted))
			}
		case <-stop:
			return
		}
	}
}
