package relay

import (
	"bufio"
	"errors"
	"io"

	"goshare-relay/internal/protocol"
	"goshare-relay/internal/store"
	"goshare-relay/internal/transport"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type handlerState int

const (
	awaitingRegistration handlerState = iota
	active
	closed
)

func (s handlerState) String() string {
	switch s {
	case awaitingRegistration:
		return "awaiting-registration"
	case active:
		return "active"
	default:
		return "closed"
	}
}

// Transfer describes one SEND_FILE frame while it is being relayed.
type Transfer struct {
	ID       string
	FileName string
	Source   string
	Target   string
	Declared int64
	Relayed  int64
}

type handler struct {
	server *Server
	conn   transport.Conn
	reader *bufio.Reader
	outbox *store.Outbox
	peer   *store.Peer
	state  handlerState
	buf    []byte
	log    *logrus.Entry
}

func newHandler(s *Server, conn transport.Conn) *handler {
	return &handler{
		server: s,
		conn:   conn,
		reader: bufio.NewReader(conn),
		outbox: store.NewOutbox(conn),
		state:  awaitingRegistration,
		buf:    make([]byte, s.relayBuffer),
		log:    logrus.WithField("remote", conn.RemoteAddr().String()),
	}
}

func (h *handler) run() {
	defer h.close()

	username, err := protocol.ReadFrame(h.reader)
	if err != nil {
		h.log.WithError(err).Warn("Connection closed before registration")
		return
	}
	h.peer = h.server.registry.Register(username, h.outbox)
	h.state = active
	h.log = h.log.WithFields(logrus.Fields{"username": username, "peer_id": h.peer.ID})
	h.log.Info("Client registered")

	for {
		frame, err := protocol.ReadFrame(h.reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				h.log.Info("Client disconnected")
			} else {
				h.log.WithError(err).Warn("Client connection interrupted")
			}
			return
		}
		if err := h.dispatch(frame); err != nil {
			h.log.WithError(err).Error("Closing connection")
			return
		}
	}
}

func (h *handler) dispatch(frame string) error {
	cmd, err := protocol.Parse(frame)
	if err != nil {
		return err
	}
	switch cmd.Name {
	case protocol.CmdSendFile:
		return h.relayFile(cmd.FileName, cmd.Peer)
	default:
		h.log.WithField("frame", frame).Warn("Unsupported frame ignored")
		return nil
	}
}

// relayFile streams one SEND_FILE body to its target. A returned error means
// this handler's own connection can no longer be trusted.
func (h *handler) relayFile(fileName, targetName string) error {
	length, err := protocol.ReadLength(h.reader)
	if err != nil {
		return err
	}
	transfer := &Transfer{
		ID:       uuid.New().String(),
		FileName: fileName,
		Source:   h.peer.Username,
		Target:   targetName,
		Declared: length,
	}
	log := h.log.WithFields(logrus.Fields{
		"transfer": transfer.ID,
		"file":     fileName,
		"target":   targetName,
		"length":   length,
	})

	target, found := h.server.registry.Lookup(targetName)
	if !found {
		log.Warn("Target user not found, discarding transfer")
		if _, err := relayBlocks(io.Discard, h.reader, length, h.buf); err != nil {
			return err
		}
		return h.outbox.Send(protocol.TransferFailed(fileName, targetName))
	}

	var sourceErr error
	started := false
	targetErr := target.Outbox.Stream(func(w io.Writer) error {
		started = true
		dst := &stickyWriter{w: w}
		_ = protocol.WriteFrame(dst, protocol.ReceiveFile(fileName, transfer.Source))
		_ = protocol.WriteLength(dst, length)
		transfer.Relayed, sourceErr = relayBlocks(dst, h.reader, length, h.buf)
		return dst.err
	})
	if !started {
		// The target closed before its turn; nothing reached it.
		if _, err := relayBlocks(io.Discard, h.reader, length, h.buf); err != nil {
			return err
		}
	}

	if sourceErr != nil {
		// The target already holds part of a block; its stream cannot be resynced.
		log.WithError(sourceErr).Warn("Source failed mid-transfer, closing target connection")
		_ = target.Outbox.Close()
		return sourceErr
	}
	if targetErr != nil {
		log.WithError(targetErr).Warn("Target unreachable, transfer dropped")
		return h.outbox.Send(protocol.TransferFailed(fileName, targetName))
	}

	log.WithField("relayed", transfer.Relayed).Info("File relayed")
	return h.outbox.Send(protocol.AckFileReceived(fileName))
}

func (h *handler) close() {
	if h.peer != nil && h.server.registry.Deregister(h.peer) {
		h.log.WithField("state", h.state).Info("Client unregistered")
	}
	h.state = closed
	_ = h.outbox.Close()
}

// relayBlocks copies length bytes of block content from src to dst, passing
// each advisory frame through unchanged. buf bounds every single copy.
func relayBlocks(dst io.Writer, src io.Reader, length int64, buf []byte) (int64, error) {
	var relayed int64
	for relayed < length {
		advisory, err := protocol.ReadFrame(src)
		if err != nil {
			return relayed, err
		}
		if err := protocol.WriteFrame(dst, advisory); err != nil {
			return relayed, err
		}
		n := protocol.NextBlock(length - relayed)
		copied, err := io.CopyBuffer(dst, io.LimitReader(src, n), buf)
		relayed += copied
		if err != nil {
			return relayed, err
		}
		if copied < n {
			return relayed, io.ErrUnexpectedEOF
		}
	}
	return relayed, nil
}

// stickyWriter remembers the first write error and discards everything after
// it, so a relay keeps draining its source when the target goes away.
type stickyWriter struct {
	w   io.Writer
	err error
}

func (s *stickyWriter) Write(p []byte) (int, error) {
	if s.err == nil {
		_, s.err = s.w.Write(p)
	}
	return len(p), nil
}
