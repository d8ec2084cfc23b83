package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd assembles the mercy binary's subcommand tree, the same flat
// single-binary pattern as the teacher's hydra daemon rather than helix's
// large multi-surface CLI, since Mercy only ever exposes one service plus a
// handful of operator utilities.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mercy",
		Short: "Mercy",
		Long:  "Mercy locates Mercenary Exchange buildings in a browser strategy game by driving a headless browser, matching screenshots against a reference template, and confirming candidates through the in-game building popup.",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newCalibrateCmd())
	root.AddCommand(newListExchangesCmd())

	return root
}

func execute() {
	root := newRootCmd()
	root.SetContext(context.Background())
	root.SetOut(os.Stdout)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
