// Copyright 2025 Blink Labs Software
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

package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/deed"
	"github.com/blinklabs-io/deed/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func serveRun(_ *cobra.Command, _ []string, cfg *config.Config) {
	logger := commonRun()

	tickInterval, err := time.ParseDuration(cfg.TickInterval)
	if err != nil {
		slog.Error(fmt.Sprintf("invalid tick interval: %s", err))
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := deed.New(
		deed.NewConfig(
			deed.WithLogger(logger),
			deed.WithDataDir(cfg.DataDir),
			deed.WithArchiveDir(cfg.ArchiveDir),
			deed.WithArchiveDisabled(cfg.ArchiveDisabled),
			deed.WithPrometheusRegistry(promRegistry),
			deed.WithTreasuryAccount(cfg.TreasuryAccount),
			deed.WithAuctionTicks(cfg.AuctionTicks),
			deed.WithBucketCapacity(cfg.BucketCapacity),
		),
	)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	// Metrics listener
	if cfg.MetricsPort > 0 {
		metricsListenAddr := fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		)
		logger.Info(
			"serving prometheus metrics on "+metricsListenAddr,
			"component", programName,
		)
		go func() {
			mux := http.NewServeMux()
			mux.Handle(
				"/metrics",
				promhttp.HandlerFor(
					promRegistry,
					promhttp.HandlerOpts{},
				),
			)
			server := &http.Server{
				Addr:         metricsListenAddr,
				Handler:      mux,
				ReadTimeout:  60 * time.Second,
				WriteTimeout: 60 * time.Second,
			}
			if err := server.ListenAndServe(); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		}()
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	// Tick loop
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := engine.AdvanceTick(); err != nil {
				logger.Error(
					"tick advance failed",
					"component", programName,
					"tick", engine.CurrentTick(),
					"error", err,
				)
			}
		case sig := <-signalCh:
			logger.Info(
				fmt.Sprintf("received signal: %s, shutting down", sig),
				"component", programName,
			)
			if err := engine.Stop(); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			return
		}
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the settlement engine",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			serveRun(cmd, args, cfg)
		},
	}
}
