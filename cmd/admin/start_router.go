package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
)

// startRouterCommand execs the router binary as a detached child process,
// grounded on the source admin process's AdminRequest::StartRouter verb,
// which spawns the router as a long-lived sibling process rather than
// making the admin CLI itself own the router's lifetime.
type startRouterCommand struct{}

func (c *startRouterCommand) Synopsis() string { return "spawn a router process" }

func (c *startRouterCommand) Help() string {
	return "Usage: admin start-router [-listen addr] [-state path] [-bin path]"
}

func (c *startRouterCommand) Run(args []string) int {
	fs := flag.NewFlagSet("start-router", flag.ContinueOnError)
	listen := fs.String("listen", ":9001", "address for the router to listen on")
	state := fs.String("state", "router.state.json", "path to the router's persisted state file")
	bin := fs.String("bin", "router", "path to the router binary")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cmd := exec.Command(*bin, "-listen", *listen, "-state", *state)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to start router:", err)
		return 1
	}
	fmt.Printf("router started, pid %d, listening on %s\n", cmd.Process.Pid, *listen)

	// Detach: the admin CLI exits once the child is launched, same as the
	// source's fire-and-forget spawn — it does not wait on the router.
	_ = cmd.Process.Release()
	return 0
}
