// Package health watches the proxies and social tokens attached to wallets,
// retiring a resource after repeated connectivity failures and swapping in a
// spare from the reserve pool.
package health

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// ConnectivityError marks an error as a network/proxy failure regardless of
// its text. Clients wrap transport errors with Connectivity.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string { return "connectivity: " + e.Err.Error() }

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Connectivity wraps err as a connectivity-class failure
func Connectivity(err error) error {
	if err == nil {
		return nil
	}
	return &ConnectivityError{Err: err}
}

// LogicalError marks an answer the service gave on purpose. It is never
// connectivity, whatever its text says. Retry reports whether asking again
// can change the answer.
type LogicalError struct {
	Err   error
	Retry bool
}

func (e *LogicalError) Error() string { return e.Err.Error() }

func (e *LogicalError) Unwrap() error { return e.Err }

// Logical wraps err as a final logical failure
func Logical(err error) error {
	if err == nil {
		return nil
	}
	return &LogicalError{Err: err}
}

// LogicalRetryable wraps err as a logical failure worth another attempt
func LogicalRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &LogicalError{Err: err, Retry: true}
}

// Fallback markers for untyped errors only. Kept anchored so words like
// "connections" or "thereof" do not match.
var connectivityMarkers = []string{
	"proxy error",
	"proxyconnect",
	"connection refused",
	"connection reset",
	"connection closed",
	"connection aborted",
	"cannot connect",
	"could not connect",
	"failed to connect",
	"timeout",
	"timed out",
	"reset by peer",
	"broken pipe",
	"unexpected eof",
	"no such host",
	"tls handshake",
	"network is unreachable",
}

// IsConnectivity reports whether err is a resource-class failure (the route
// to the service is broken) rather than a logical one (the service answered
// and said no). Cancellation is never connectivity.
func IsConnectivity(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return true
	}
	var le *LogicalError
	if errors.As(err, &le) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range connectivityMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
