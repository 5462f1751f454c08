// Command repeater runs the market-data repeater: it dials the upstream
// exchange feeds named in its config, filters them through a monotonic
// sequence watermark, and fans the admitted frames out to any number of
// downstream WebSocket subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/HanshengGUO/okx-websocket-repeater/internal/config"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/logging"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/metrics"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to repeater_config.json")
	debug := flag.Bool("debug", false, "enable debug logging (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "repeater: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}

	// threads is the worker count: it replaces the GOMAXPROCS value
	// automaxprocs picked at init.
	runtime.GOMAXPROCS(cfg.Threads)

	logger := logging.New(cfg.Debug)
	logger.Info().
		Int("threads", cfg.Threads).
		Int("gomaxprocs", runtime.GOMAXPROCS(0)).
		Int("upstreams", len(cfg.OkxConnections)).
		Str("broadcast_addr", cfg.Addr()).
		Str("control_addr", cfg.ControlAddr).
		Msg("repeater: starting")

	reg := metrics.New()

	orch, err := orchestrator.New(cfg, logger, reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("repeater: failed to construct orchestrator")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orch.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("repeater: fatal error")
	}

	logger.Info().Msg("repeater: shut down cleanly")
}
