// Command admin is the operator-facing CLI for the federation: start a
// router, point a driver at one, configure what a driver serves, and submit
// a one-off job and wait for its result.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"
)

func main() {
	c := cli.NewCLI("admin", "0.1.0")
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"start-router":     func() (cli.Command, error) { return &startRouterCommand{}, nil },
		"set-local-driver": func() (cli.Command, error) { return &setLocalDriverCommand{}, nil },
		"set-router":       func() (cli.Command, error) { return &setRouterCommand{}, nil },
		"run-job":          func() (cli.Command, error) { return &runJobCommand{}, nil },
	}

	exitStatus, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitStatus)
}
