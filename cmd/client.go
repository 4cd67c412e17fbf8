package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"goshare-relay/internal/client"
	"goshare-relay/internal/config"
	"goshare-relay/internal/discovery"
	"goshare-relay/internal/transport"

	"github.com/spf13/cobra"
)

const discoverTimeout = 3 * time.Second

type clientFlags struct {
	server      string
	username    string
	transport   string
	discover    bool
	downloadDir string
	intervals   string
	logLevel    string
}

func newClientCmd() *cobra.Command {
	var flags clientFlags
	command := &cobra.Command{
		Use:   "client",
		Short: "Connect to a relay and exchange files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)

			input := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()
			if cfg.Username == "" {
				if cfg.Username, err = promptUsername(input, out); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.SetupLogging(cfg.LogLevel); err != nil {
				return err
			}
			return runClient(cmd.Context(), cfg, input, out)
		},
	}

	f := command.Flags()
	f.StringVar(&flags.server, "server", fmt.Sprintf("localhost:%d", config.DefaultPort), "relay address host:port")
	f.StringVarP(&flags.username, "username", "u", "", "username to register")
	f.StringVar(&flags.transport, "transport", "tcp", "transport to the relay: tcp or quic")
	f.BoolVar(&flags.discover, "discover", false, "find the relay over mDNS")
	f.StringVar(&flags.downloadDir, "download-dir", ".", "directory for received files")
	f.StringVar(&flags.intervals, "reconnect-intervals", client.DefaultBackOffPolicy.String(), "comma separated waits between reconnection attempts")
	f.StringVar(&flags.logLevel, "log-level", "info", "log level")
	return command
}

func (f clientFlags) apply(cmd *cobra.Command, cfg *config.Client) {
	changed := cmd.Flags().Changed
	if changed("server") {
		cfg.Server = f.server
	}
	if changed("username") {
		cfg.Username = f.username
	}
	if changed("transport") {
		cfg.Transport = f.transport
	}
	if changed("discover") {
		cfg.Discover = f.discover
	}
	if changed("download-dir") {
		cfg.DownloadDir = f.downloadDir
	}
	if changed("reconnect-intervals") {
		cfg.ReconnectIntervals = f.intervals
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
}

func promptUsername(input *bufio.Reader, out io.Writer) (string, error) {
	for {
		fmt.Fprint(out, "Enter username: ")
		line, err := input.ReadString('\n')
		username := strings.TrimSpace(line)
		if username != "" && !strings.ContainsAny(username, " \t") {
			return username, nil
		}
		if err != nil {
			return "", fmt.Errorf("error while reading username: %w", err)
		}
		fmt.Fprintln(out, "Username must be a single word.")
	}
}

func runClient(ctx context.Context, cfg config.Client, input io.Reader, out io.Writer) error {
	if cfg.Discover {
		addr, err := discovery.Discover(ctx, discoverTimeout)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Found relay at %s\n", addr)
		cfg.Server = addr
	}

	policy, err := cfg.BackOffPolicy()
	if err != nil {
		return err
	}
	var dialer transport.Dialer = transport.TCPDialer{Address: cfg.Server, Timeout: 10 * time.Second}
	if cfg.Transport == "quic" {
		dialer = transport.QUICDialer{Address: cfg.Server}
	}

	session := client.NewSession(cfg.Username, dialer,
		client.WithBackOffPolicy(policy),
		client.WithDownloadDir(cfg.DownloadDir),
		client.WithOutput(out),
	)
	defer session.Close()

	fmt.Fprintf(out, "Goshare - version %s\n", version)
	fmt.Fprintf(out, "Connecting to %s as %s over %s. Type 'help' for a list of commands.\n\n",
		cfg.Server, cfg.Username, cfg.Transport)
	go func() { _ = session.Start(ctx) }()

	return session.Run(ctx, input)
}
