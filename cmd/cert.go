package cmd

import (
	"fmt"

	"goshare-relay/internal/transport"

	"github.com/spf13/cobra"
)

func newCertCmd() *cobra.Command {
	var dir string
	command := &cobra.Command{
		Use:   "cert",
		Short: "Write a self-signed certificate for the QUIC listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			certFile, keyFile, err := transport.WriteCertificate(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Certificate: %s\nKey: %s\n", certFile, keyFile)
			return nil
		},
	}
	command.Flags().StringVar(&dir, "dir", ".", "directory for relay.crt and relay.key")
	return command
}
