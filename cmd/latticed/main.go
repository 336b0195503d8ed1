// Command latticed runs the assistant runtime and its policy CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lattice-run/lattice/cmd/latticed/internal/policycmd"
	"github.com/lattice-run/lattice/cmd/latticed/internal/serve"
)

func main() {
	var cfgPath string
	var debug bool

	root := &cobra.Command{
		Use:   "latticed",
		Short: "Multi-channel personal assistant runtime",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.json", "Path to config file")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(serve.NewCommand(&cfgPath, &debug))
	root.AddCommand(policycmd.NewCommand(&cfgPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
