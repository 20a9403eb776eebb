package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is the termexecd release version, bumped by hand per release.
const Version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "termexecd",
		Short: "JSON-RPC daemon that spawns shell commands and classifies their liveness",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newExecCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the termexecd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
			return nil
		},
	}
}
