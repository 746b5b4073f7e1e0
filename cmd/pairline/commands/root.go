// Package commands is the pairline CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// Execute runs the root command. Without a subcommand it serves.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	serve := serveCmd()

	root := &cobra.Command{
		Use:          "pairline",
		Short:        "Multi-session WhatsApp Web gateway",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, hashPasswordCmd(), keygenCmd())
	return root
}
