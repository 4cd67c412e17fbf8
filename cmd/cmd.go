package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

const version = "0.2.0"

// NewRootCmd builds the goshare command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "goshare",
		Short:        "Goshare relays files between named users through a central server",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServerCmd(), newClientCmd(), newCertCmd())
	return root
}

func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
