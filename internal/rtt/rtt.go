// Package rtt connects to the RTT channel a debug server exposes as a
// local TCP port. The port only starts accepting once the target is
// running and the server has located the RTT control block, so Dial
// retries until the configured window elapses.
package rtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// DefaultPort is the TCP port debug servers conventionally expose
	// RTT channel 0 on.
	DefaultPort = 19021

	// DefaultTimeout is how long Dial keeps retrying before giving up.
	DefaultTimeout = 12 * time.Second

	retryInterval = 100 * time.Millisecond
)

var ErrTimeout = errors.New("rtt: timed out waiting for connection")

// Addr returns the local dial address for an RTT port.
func Addr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// Dial connects to addr, retrying refused attempts until timeout elapses
// or ctx is cancelled. A timeout of zero or less uses DefaultTimeout.
//
// The returned connection is the run's frame stream; closing it stops
// the capture.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	dialer := net.Dialer{Deadline: deadline}

	var lastErr error
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("rtt: dial %s: %w", addr, ctx.Err())
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s (last error: %v)", ErrTimeout, addr, lastErr)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rtt: dial %s: %w", addr, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}
