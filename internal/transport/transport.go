//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=../../mocks/mock_transport.go -package=mocks

// Package transport provides the byte-stream connections the relay runs on.
// TCP connections and QUIC streams both satisfy Conn.
package transport

import (
	"context"
	"io"
	"net"
)

type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() net.Addr
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
