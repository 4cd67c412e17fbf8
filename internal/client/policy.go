package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// BackOffPolicy is the ordered list of waits between reconnection attempts.
// Once every wait has been used the session gives up.
type BackOffPolicy []time.Duration

var DefaultBackOffPolicy = BackOffPolicy{
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	20 * time.Second,
	25 * time.Second,
}

func (p BackOffPolicy) NewBackOff() backoff.BackOff {
	return &sequenceBackOff{intervals: p}
}

func (p BackOffPolicy) String() string {
	parts := make([]string, len(p))
	for i, d := range p {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}

// ParseBackOffPolicy reads a comma separated list of durations such as
// "5s,10s,15s".
func ParseBackOffPolicy(s string) (BackOffPolicy, error) {
	var policy BackOffPolicy
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid reconnect interval %q: %w", part, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("negative reconnect interval %q", part)
		}
		policy = append(policy, d)
	}
	return policy, nil
}

type sequenceBackOff struct {
	intervals []time.Duration
	next      int
}

func (b *sequenceBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.intervals) {
		return backoff.Stop
	}
	d := b.intervals[b.next]
	b.next++
	return d
}

func (b *sequenceBackOff) Reset() {
	b.next = 0
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
