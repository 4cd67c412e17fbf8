package client

import (
	"bufio"
	"context"
	"io"
	"strings"

	"goshare-relay/internal/fileshare"
)

func (s *Session) printHelp() {
	s.console.plain("Available commands:")
	s.console.plain("  sendfile <path> <username>  - Send a local file to a connected user.")
	s.console.plain("  reconnect                   - Connect to the server again right now.")
	s.console.plain("  roster                      - Show the connected users.")
	s.console.plain("  transfers                   - Show the transfers of this session.")
	s.console.plain("  exit                        - Stop reading commands.")
	s.console.plain("  help                        - Show this help message.")
}

// Run reads commands from input until exit, end of input or ctx
// cancellation. It stops only the command loop: the listener and any pending
// reconnection keep running until the process ends.
func (s *Session) Run(ctx context.Context, input io.Reader) error {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if s.Execute(ctx, line) {
			return nil
		}
	}
	return scanner.Err()
}

// Execute runs one command line and reports whether it was exit.
func (s *Session) Execute(ctx context.Context, line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}

	switch strings.ToLower(args[0]) {
	case "sendfile":
		if len(args) != 3 {
			s.console.plain("Usage: sendfile <path> <username>")
			return false
		}
		if err := s.SendFile(args[1], args[2]); err != nil {
			s.console.error("%v", err)
		}
	case "reconnect":
		if err := s.Reconnect(ctx); err != nil {
			s.console.error("%v", err)
		}
	case "roster":
		s.console.info("Connected clients: %s", strings.Join(s.Roster(), " "))
	case "transfers":
		s.printTransfers()
	case "exit":
		s.console.plain("Exiting command loop...")
		return true
	case "help":
		s.printHelp()
	default:
		s.console.plain("Unknown command. Type 'help' for a list of commands.")
	}
	return false
}

func (s *Session) printTransfers() {
	transfers := s.transfers.List()
	if len(transfers) == 0 {
		s.console.plain("No transfers yet.")
		return
	}
	for _, t := range transfers {
		direction := "to"
		if t.Direction == fileshare.RECEIVING {
			direction = "from"
		}
		s.console.plain("%s %s %s  %d bytes  %s", t.FileInfo.Filename, direction, t.Peer, t.FileInfo.Size, t.Status)
	}
}
