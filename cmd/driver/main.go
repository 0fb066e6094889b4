// Command driver runs a per-node gateway process: it bridges local clients
// to a sidecar or to the router, depending on how it has been configured by
// the admin CLI.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/llmfed/dispatcher/internal/config"
	"github.com/llmfed/dispatcher/internal/driver"
	"github.com/llmfed/dispatcher/internal/persistence"
	"github.com/llmfed/dispatcher/internal/sidecar"
	"github.com/llmfed/dispatcher/internal/transport"
)

func buildSidecar(provider string) sidecar.Sidecar {
	switch provider {
	case "openai":
		return sidecar.NewOpenAI()
	case "groq":
		return sidecar.NewGroq()
	case "claude":
		return sidecar.NewClaude()
	case "llamacpp":
		return sidecar.NewLlamaCpp("")
	case "":
		return nil
	default:
		hclog.Default().Warn("unknown sidecar provider, jobs served by this node will fail", "provider", provider)
		return nil
	}
}

func main() {
	cfg := config.NewDefaultDriverConfig()

	var configPath, provider string
	flag.StringVar(&configPath, "config", "", "path to a JSON config overlay")
	flag.StringVar(&cfg.Node, "node", cfg.Node, "this node's own address, for authorization checks")
	flag.StringVar(&cfg.Listen, "listen", cfg.Listen, "address to listen on")
	flag.StringVar(&cfg.StatePath, "state", cfg.StatePath, "path to the persisted driver state file")
	flag.StringVar(&cfg.RouterNode, "router", cfg.RouterNode, "router node address")
	flag.StringVar(&cfg.SidecarAPIKey, "api-key", "", "credential for the configured sidecar provider")
	flag.StringVar(&provider, "provider", "", "sidecar provider: openai, groq, claude, llamacpp")
	flag.Parse()

	if configPath != "" {
		if err := config.LoadOverlay(configPath, cfg); err != nil {
			hclog.Default().Error("failed to load config overlay", "err", err)
			os.Exit(1)
		}
	}

	log := hclog.New(&hclog.LoggerOptions{Name: "driver", Level: hclog.Info})

	store := persistence.NewFileStore(cfg.StatePath)
	tr := transport.NewHTTP(cfg.Listen, log)
	sc := buildSidecar(provider)

	d, err := driver.New(cfg, tr, store, log, sc)
	if err != nil {
		log.Error("failed to construct driver", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go d.Run(ctx)

	log.Info("driver listening", "addr", cfg.Listen, "node", cfg.Node)
	if err := d.Serve(ctx); err != nil {
		log.Error("driver serve exited with error", "err", err)
		os.Exit(1)
	}
}
