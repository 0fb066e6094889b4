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

// runJobCommand submits one job to a local driver and waits for the
// resulting JobUpdate, grounded line-for-line on the source's run_job
// script: send RunJob, confirm the ack, then block for the next message
// and print its blob as the job's output.
type runJobCommand struct{}

func (c *runJobCommand) Synopsis() string { return "run a single job and print its result" }

func (c *runJobCommand) Help() string {
	return "Usage: admin run-job -driver addr -model name -prompt text [-listen addr] [-timeout seconds]"
}

func (c *runJobCommand) Run(args []string) int {
	fs := flag.NewFlagSet("run-job", flag.ContinueOnError)
	driverAddr := fs.String("driver", "127.0.0.1:9002", "driver node address")
	model := fs.String("model", "", "model to run the prompt against")
	prompt := fs.String("prompt", "", "the prompt text")
	listen := fs.String("listen", "127.0.0.1:9099", "address this CLI listens on for the JobUpdate callback")
	timeoutSeconds := fs.Int("timeout", 60, "how long to wait for a result")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *model == "" || *prompt == "" {
		fmt.Fprintln(os.Stderr, "missing -model or -prompt")
		return 1
	}

	log := hclog.Default()
	updateCh := make(chan envelope.Envelope, 1)

	listener := transport.NewHTTP(*listen, log)
	serveCtx, stopServe := context.WithCancel(context.Background())
	defer stopServe()
	go listener.Serve(serveCtx, func(_ context.Context, env envelope.Envelope) envelope.Envelope {
		if env.Kind == envelope.KindJobUpdate {
			updateCh <- env
			return envelope.New(envelope.KindJobUpdateAck, envelope.Address{Node: *listen}, struct{}{})
		}
		return envelope.New(envelope.KindError, envelope.Address{Node: *listen}, envelope.ErrorBody{Message: "unexpected message"})
	})
	// give the listener a moment to bind before we depend on it.
	time.Sleep(100 * time.Millisecond)

	sender := transport.NewHTTP("", log)
	req := envelope.New(envelope.KindClientRunJob, envelope.Address{Node: *listen, ProcessID: ids.New()}, envelope.RunJobBody{
		Job: envelope.JobSpec{Model: *model, Prompt: *prompt},
	})

	sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ack, err := sender.Send(sendCtx, envelope.Address{Node: *driverAddr}, req, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to submit job:", err)
		return 1
	}
	if ack.Kind == envelope.KindError {
		var body envelope.ErrorBody
		ack.Decode(&body)
		fmt.Fprintln(os.Stderr, "driver rejected job:", body.Message)
		return 1
	}

	select {
	case update := <-updateCh:
		var body envelope.JobUpdateBody
		update.Decode(&body)
		if body.Error != "" {
			fmt.Fprintln(os.Stderr, "job failed:", body.Error)
			return 1
		}
		fmt.Println(string(update.Blob))
		return 0
	case <-time.After(time.Duration(*timeoutSeconds) * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for a result")
		return 1
	}
}
