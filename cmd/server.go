package cmd

import (
	"context"
	"fmt"
	"io"

	"goshare-relay/internal/config"
	"goshare-relay/internal/discovery"
	"goshare-relay/internal/relay"
	"goshare-relay/internal/store"
	"goshare-relay/internal/transport"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serverFlags struct {
	host        string
	port        int
	quic        bool
	quicPort    int
	cert        string
	key         string
	announce    bool
	relayBuffer int
	logLevel    string
}

func newServerCmd() *cobra.Command {
	var flags serverFlags
	command := &cobra.Command{
		Use:   "server",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadServer()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.SetupLogging(cfg.LogLevel); err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	f := command.Flags()
	f.StringVar(&flags.host, "host", "0.0.0.0", "address to listen on")
	f.IntVar(&flags.port, "port", config.DefaultPort, "TCP port")
	f.BoolVar(&flags.quic, "quic", false, "also accept QUIC connections")
	f.IntVar(&flags.quicPort, "quic-port", config.DefaultQUICPort, "UDP port for QUIC")
	f.StringVar(&flags.cert, "cert", "", "TLS certificate for QUIC (self-signed when empty)")
	f.StringVar(&flags.key, "key", "", "TLS key for QUIC")
	f.BoolVar(&flags.announce, "announce", false, "announce the relay over mDNS")
	f.IntVar(&flags.relayBuffer, "relay-buffer", 4096, "bytes copied per relay step")
	f.StringVar(&flags.logLevel, "log-level", "info", "log level")
	return command
}

func (f serverFlags) apply(cmd *cobra.Command, cfg *config.Server) {
	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Host = f.host
	}
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("quic") {
		cfg.QUIC = f.quic
	}
	if changed("quic-port") {
		cfg.QUICPort = f.quicPort
	}
	if changed("cert") {
		cfg.CertFile = f.cert
	}
	if changed("key") {
		cfg.KeyFile = f.key
	}
	if changed("announce") {
		cfg.Announce = f.announce
	}
	if changed("relay-buffer") {
		cfg.RelayBuffer = f.relayBuffer
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
}

func runServer(ctx context.Context, cfg config.Server, out io.Writer) error {
	listeners := make([]transport.Listener, 0, 2)
	tcp, err := transport.ListenTCP(cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to start TCP listener: %w", err)
	}
	listeners = append(listeners, tcp)

	if cfg.QUIC {
		tlsConfig, err := transport.ServerTLSConfig(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			_ = tcp.Close()
			return err
		}
		ln, err := transport.ListenQUIC(cfg.QUICAddress(), tlsConfig)
		if err != nil {
			_ = tcp.Close()
			return fmt.Errorf("failed to start QUIC listener: %w", err)
		}
		listeners = append(listeners, ln)
	}

	if cfg.Announce {
		beacon, err := discovery.Announce("", cfg.Port)
		if err != nil {
			logrus.WithError(err).Warn("Relay will not be discoverable")
		} else {
			defer beacon.Shutdown()
		}
	}

	srv := relay.NewServer(store.NewRegistry(), relay.WithRelayBuffer(cfg.RelayBuffer))
	fmt.Fprintf(out, "Goshare relay - version %s\n", version)
	fmt.Fprintf(out, "Listening on %s", tcp.Addr())
	if cfg.QUIC {
		fmt.Fprintf(out, " and QUIC %s", cfg.QUICAddress())
	}
	fmt.Fprintln(out)

	eg, ctx := errgroup.WithContext(ctx)
	for _, ln := range listeners {
		ln := ln
		eg.Go(func() error {
			return srv.Serve(ctx, ln)
		})
	}
	err = eg.Wait()
	fmt.Fprintln(out, "Shutdown signal received, cleaning up...")
	srv.Shutdown()
	return err
}
