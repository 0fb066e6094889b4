package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/llmfed/dispatcher/internal/envelope"
	"github.com/llmfed/dispatcher/internal/transport"
	"github.com/llmfed/dispatcher/pkg/ids"
)

type setRouterCommand struct{}

func (c *setRouterCommand) Synopsis() string { return "point a driver at a router" }

func (c *setRouterCommand) Help() string {
	return "Usage: admin set-router -driver addr -router-node node [-router-process id]"
}

func (c *setRouterCommand) Run(args []string) int {
	fs := flag.NewFlagSet("set-router", flag.ContinueOnError)
	driverAddr := fs.String("driver", "127.0.0.1:9002", "driver node address")
	routerNode := fs.String("router-node", "", "router node address")
	routerProcess := fs.String("router-process", "router:llmfed", "router process id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *routerNode == "" {
		fmt.Fprintln(os.Stderr, "missing -router-node")
		return 1
	}

	tr := transport.NewHTTP("", hclog.Default())
	req := envelope.New(envelope.KindAdminSetRouter, envelope.Address{Node: "admin", ProcessID: ids.New()}, envelope.SetRouterBody{
		RouterNode:      *routerNode,
		RouterProcessID: *routerProcess,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reply, err := tr.Send(ctx, envelope.Address{Node: *driverAddr}, req, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to reach driver:", err)
		return 1
	}
	if reply.Kind == envelope.KindError {
		var body envelope.ErrorBody
		reply.Decode(&body)
		fmt.Fprintln(os.Stderr, "driver rejected request:", body.Message)
		return 1
	}
	fmt.Println("ok")
	return 0
}
