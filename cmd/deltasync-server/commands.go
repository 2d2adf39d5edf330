// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/deltasync/demo"
	"github.com/AleutianAI/deltasync/history"
	"github.com/AleutianAI/deltasync/pkg/logging"
	"github.com/AleutianAI/deltasync/store"
	"github.com/AleutianAI/deltasync/transport/wsserver"
	"github.com/AleutianAI/deltasync/wire"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "deltasync-server",
	Short: "Serves the demo delta-sync model over WebSocket",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig(configPath)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WebSocket server and block until interrupted",
	Run:   runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config.yaml")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig(path string) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("no config file found, using defaults", slog.String("path", path))
			config = cfg
			return
		}
		slog.Error("failed to read config", slog.String("path", path), slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		slog.Error("failed to parse config", slog.String("path", path), slog.String("error", err.Error()))
		os.Exit(1)
	}
	config = cfg
}

func runServe(cmd *cobra.Command, args []string) {
	lg, err := newLogger(config)
	if err != nil {
		slog.Error("failed to build logger", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer lg.Close()
	logger := lg.Slog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := newTracerProvider(ctx, config.Tracing)
	if err != nil {
		logger.Error("failed to build tracer provider", slog.String("error", err.Error()))
		os.Exit(1)
	}

	metrics := newServerMetrics()
	s := store.New[demo.Address](demo.Address{Name: "unnamed", Number: 0}, store.NoopReferenceAdder[demo.Address], demo.HashModelID, metrics.storeMetrics())
	logger.Info("store initialized", logging.ModelAttr(s.ModelID()))

	if config.History.Enabled {
		rec, err := history.NewRecorder[demo.Address](history.Config{
			Path:   config.History.Path,
			Logger: logger,
		})
		if err != nil {
			logger.Error("failed to open history recorder", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rec.Close()
		s.Observe(rec)
	}

	handler := wsserver.NewHandler[demo.Address](s, store.NoopReferenceAdder[demo.Address], wire.JSONModelCodec[demo.Address]{}, demo.DeltaCodec{}, func() int64 { return time.Now().UnixMilli() }, metrics.dispatchMetrics(), logger)

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("deltasync-server"))
	router.GET("/ws", handler.Handle)
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})))

	httpSrv := &http.Server{Addr: config.ListenAddr, Handler: router}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", slog.String("addr", config.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		logger.Error("failed to flush tracer provider", slog.String("error", err.Error()))
	}
}
