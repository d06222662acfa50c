// Command s4 is the entry point for the storage gateway CLI.
// It dispatches to the setup, adduser, and server subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/jonbarlo/s4/internal/cmd/adduser"
	"github.com/jonbarlo/s4/internal/cmd/server"
	"github.com/jonbarlo/s4/internal/cmd/setup"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(argv []string) error {
	if len(argv) < 2 {
		usage()
		return fmt.Errorf("missing subcommand")
	}

	switch argv[1] {
	case "setup":
		return setup.Run(argv[2:])
	case "adduser":
		return adduser.Run(argv[2:])
	case "server":
		return server.Run(argv[2:])
	case "-h", "--help", "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown subcommand: %s", argv[1])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "s4 <setup|adduser|server> [flags]")
}
