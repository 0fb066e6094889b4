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

type setLocalDriverCommand struct{}

func (c *setLocalDriverCommand) Synopsis() string {
	return "configure the local driver to serve a model"
}

func (c *setLocalDriverCommand) Help() string {
	return "Usage: admin set-local-driver -driver addr -model name [-public]"
}

func (c *setLocalDriverCommand) Run(args []string) int {
	fs := flag.NewFlagSet("set-local-driver", flag.ContinueOnError)
	driverAddr := fs.String("driver", "127.0.0.1:9002", "driver node address")
	model := fs.String("model", "", "model name this node serves")
	public := fs.Bool("public", false, "advertise this model to the router")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *model == "" {
		fmt.Fprintln(os.Stderr, "missing -model")
		return 1
	}

	tr := transport.NewHTTP("", hclog.Default())
	req := envelope.New(envelope.KindAdminSetLocalDriver, envelope.Address{Node: "admin", ProcessID: ids.New()}, envelope.SetLocalDriverBody{
		Model:    *model,
		IsPublic: *public,
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
