// Command router runs the federation-wide dispatcher process: the
// availability index, job queue, and dispatch algorithm described by the
// component design.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/llmfed/dispatcher/internal/config"
	"github.com/llmfed/dispatcher/internal/persistence"
	"github.com/llmfed/dispatcher/internal/router"
	"github.com/llmfed/dispatcher/internal/transport"
)

func main() {
	cfg := config.NewDefaultRouterConfig()

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a JSON config overlay")
	flag.StringVar(&cfg.Listen, "listen", cfg.Listen, "address to listen on")
	flag.StringVar(&cfg.StatePath, "state", cfg.StatePath, "path to the persisted router state file")
	flag.Parse()

	if configPath != "" {
		if err := config.LoadOverlay(configPath, cfg); err != nil {
			hclog.Default().Error("failed to load config overlay", "err", err)
			os.Exit(1)
		}
	}

	log := hclog.New(&hclog.LoggerOptions{Name: "router", Level: hclog.Info})

	store := persistence.NewFileStore(cfg.StatePath)
	tr := transport.NewHTTP(cfg.Listen, log)

	r, err := router.New(cfg, tr, store, log)
	if err != nil {
		log.Error("failed to construct router", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go r.Run(ctx)

	log.Info("router listening", "addr", cfg.Listen)
	if err := r.Serve(ctx); err != nil {
		log.Error("router serve exited with error", "err", err)
		os.Exit(1)
	}
}
