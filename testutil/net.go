/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"fmt"
	"net"
	"time"
)

// GetLocalAddrWithFreeTCPPort returns a "127.0.0.1:<port>" address nobody listens on at the moment of the call.
func GetLocalAddrWithFreeTCPPort() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().String()
}

// WaitListeningServer polls addr until a TCP connection succeeds or timeout elapses.
func WaitListeningServer(addr string, timeout time.Duration) error {
	const pollInterval = 10 * time.Millisecond
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, time.Until(deadline))
		if err == nil {
			return conn.Close()
		}
		lastErr = err
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("server at %s is not listening after %s: %w", addr, timeout, lastErr)
}
