// Package discovery announces a relay on the local network over mDNS and lets
// clients find it.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	ServiceName = "_goshare-relay._tcp"
	Domain      = "local."
)

var ErrNoRelay = errors.New("no relay found on the local network")

// Announce registers the relay's TCP port. The caller shuts the returned
// server down when the relay stops.
func Announce(instance string, port int) (*zeroconf.Server, error) {
	if instance == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		instance = hostname
	}
	server, err := zeroconf.Register(instance, ServiceName, Domain, port, []string{"txtv=0", "proto=goshare"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to announce relay: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Announce",
		"instance": instance,
		"port":     port,
	}).Info("Relay discovery beacon started")
	return server, nil
}

// Discover browses for timeout and returns host:port of the first relay that
// advertises an IPv4 address.
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func() {
		for entry := range entries {
			addr, ok := addressFromEntry(entry)
			if !ok {
				continue
			}
			logrus.WithFields(logrus.Fields{
				"function": "Discover",
				"instance": entry.Instance,
				"address":  addr,
			}).Debug("Relay found")
			select {
			case found <- addr:
				cancel()
			default:
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceName, Domain, entries); err != nil {
		return "", fmt.Errorf("failed to browse: %w", err)
	}

	select {
	case addr := <-found:
		return addr, nil
	case <-ctx.Done():
	}
	// A relay found right at the deadline still wins.
	select {
	case addr := <-found:
		return addr, nil
	default:
		return "", ErrNoRelay
	}
}

func addressFromEntry(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port <= 0 || len(entry.AddrIPv4) == 0 {
		return "", false
	}
	return net.JoinHostPort(entry.AddrIPv4[0].String(), strconv.Itoa(entry.Port)), true
}
