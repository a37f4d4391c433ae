// (c) 2024-2025, the Sequencer Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// sequencerd is the operational shell of the consensus context: it loads and
// validates the deployment configuration, sets up logging and serves the
// metrics endpoint. The embedding node wires the collaborator clients
// (batcher, network, oracles, cende, state sync) and constructs the context
// via orchestrator.New.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cptartur/sequencer/orchestrator"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to the context config file (json/toml/yaml)",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log verbosity (trace, debug, info, warn, error)",
		Value: "info",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Rotating log file; stderr only when empty",
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "Listen address for the prometheus endpoint",
		Value: "127.0.0.1:9190",
	}
)

var app = &cli.App{
	Name:   "sequencerd",
	Usage:  "sequencer consensus context daemon",
	Flags:  []cli.Flag{configFlag, logLevelFlag, logFileFlag, metricsAddrFlag},
	Action: run,
}

func run(c *cli.Context) error {
	if err := setupLogging(c.String(logLevelFlag.Name), c.String(logFileFlag.Name)); err != nil {
		return err
	}
	cfg, err := loadContextConfig(c.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("sequencerd starting", "chain", cfg.ChainID, "validators", cfg.NumValidators,
		"proposalBuffer", cfg.ProposalBufferSize)

	registry := prometheus.NewRegistry()
	orchestrator.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: c.String(metricsAddrFlag.Name), Handler: mux}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	err = group.Wait()
	log.Info("sequencerd stopped")
	return err
}

func setupLogging(level, file string) error {
	lvl := log.LevelInfo
	switch level {
	case "trace":
		lvl = log.LevelTrace
	case "debug":
		lvl = log.LevelDebug
	case "info":
	case "warn":
		lvl = log.LevelWarn
	case "error":
		lvl = log.LevelError
	default:
		return fmt.Errorf("invalid log level %q", level)
	}
	if file == "" {
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
		return nil
	}
	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    100, // MB
		MaxBackups: 10,
		Compress:   true,
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(rotator, lvl, false)))
	return nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
