package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

const streamAcceptTimeout = 10 * time.Second

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
	}
}

// quicConn carries one relay connection on the first bidirectional stream
// of a QUIC connection.
type quicConn struct {
	conn   quic.Connection
	stream quic.Stream
}

func (c *quicConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *quicConn) Write(p []byte) (int, error) { return c.stream.Write(p) }
func (c *quicConn) RemoteAddr() net.Addr        { return c.conn.RemoteAddr() }

func (c *quicConn) Close() error {
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "connection closed")
}

type quicListener struct {
	ln     *quic.Listener
	conns  chan Conn
	done   chan struct{}
	err    error
	ctx    context.Context
	cancel context.CancelFunc
}

func ListenQUIC(addr string, tlsConfig *tls.Config) (Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &quicListener{
		ln:     ln,
		conns:  make(chan Conn),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go l.acceptLoop()
	return l, nil
}

func (l *quicListener) acceptLoop() {
	defer close(l.done)
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			l.err = err
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "acceptLoop",
			"remote":   conn.RemoteAddr().String(),
		}).Debug("QUIC connection accepted")
		go l.acceptStream(conn)
	}
}

// acceptStream waits for the client to open its stream. The stream only
// becomes visible once the client has written to it.
func (l *quicListener) acceptStream(conn quic.Connection) {
	ctx, cancel := context.WithTimeout(l.ctx, streamAcceptTimeout)
	defer cancel()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "acceptStream",
			"remote":   conn.RemoteAddr().String(),
			"error":    err.Error(),
		}).Warn("No stream opened on QUIC connection")
		_ = conn.CloseWithError(0, "no stream opened")
		return
	}
	select {
	case l.conns <- &quicConn{conn: conn, stream: stream}:
	case <-l.ctx.Done():
		_ = conn.CloseWithError(0, "listener closed")
	}
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *quicListener) Close() error {
	l.cancel()
	return l.ln.Close()
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

type QUICDialer struct {
	Address string
}

func (d QUICDialer) Dial(ctx context.Context) (Conn, error) {
	conn, err := quic.DialAddr(ctx, d.Address, ClientTLSConfig(), quicConfig())
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "failed to open stream")
		return nil, err
	}
	return &quicConn{conn: conn, stream: stream}, nil
}
