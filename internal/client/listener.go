package client

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"goshare-relay/internal/fileshare"
	"goshare-relay/internal/protocol"
	"goshare-relay/internal/transport"

	"github.com/sirupsen/logrus"
)

// listen decodes frames from conn until it fails. A failure on the current
// connection starts the reconnection policy; a failure on a connection that
// was already replaced or closed ends quietly.
func (s *Session) listen(ctx context.Context, conn transport.Conn) {
	err := s.readLoop(bufio.NewReader(conn))
	if !s.detach(conn) {
		return
	}
	_ = conn.Close()

	logrus.WithFields(logrus.Fields{
		"function": "listen",
		"username": s.username,
		"error":    err.Error(),
	}).Warn("Lost connection to relay")
	s.console.warn("Disconnected from server. Attempting to reconnect...")
	s.reconnectWithBackOff(ctx)
}

func (s *Session) readLoop(r *bufio.Reader) error {
	for {
		frame, err := protocol.ReadFrame(r)
		if err != nil {
			return err
		}
		if err := s.handleFrame(r, frame); err != nil {
			return err
		}
	}
}

func (s *Session) handleFrame(r io.Reader, frame string) error {
	cmd, err := protocol.Parse(frame)
	if err != nil {
		return err
	}
	switch cmd.Name {
	case protocol.CmdClientList:
		s.setRoster(cmd.Roster)
		s.console.info("Connected clients: %s", strings.Join(cmd.Roster, " "))
	case protocol.CmdReceiveFile:
		return s.receiveFile(r, cmd.FileName, cmd.Peer)
	case protocol.CmdAckFileReceived:
		s.transfers.Acknowledge(cmd.FileName)
		s.console.success("File %s was sent.", cmd.FileName)
	case protocol.CmdTransferFailed:
		s.transfers.Reject(cmd.FileName, cmd.Peer)
		s.console.error("File %s was not delivered: user %s is not connected.", cmd.FileName, cmd.Peer)
	default:
		s.console.plain("Server: %s", frame)
	}
	return nil
}

// receiveFile stores an incoming file under <downloadDir>/<username>/. When
// the destination cannot be created the body is still consumed so the stream
// stays aligned.
func (s *Session) receiveFile(r io.Reader, fileName, source string) error {
	length, err := protocol.ReadLength(r)
	if err != nil {
		return err
	}
	id := s.transfers.CreateTransfer(fileshare.FileInfo{Filename: fileName, Size: length}, source, fileshare.RECEIVING)
	log := logrus.WithFields(logrus.Fields{
		"function": "receiveFile",
		"file":     fileName,
		"from":     source,
		"length":   length,
	})

	file, err := fileshare.CreateDestination(s.downloadDir, s.username, fileName)
	if err != nil {
		log.WithError(err).Error("Cannot create destination file")
		_ = s.transfers.FailTransfer(id, err)
		s.console.error("Cannot save %s from %s: %v", fileName, source, err)
		return fileshare.ReceiveBlocks(r, io.Discard, length, nil)
	}

	s.console.info("Starting receive file %s from client %s...", fileName, source)
	bar := s.console.progress(length, "Receiving "+fileName)
	err = fileshare.ReceiveBlocks(r, file, length, func(n int64) {
		_ = s.transfers.UpdateTransferProgress(id, n)
		if bar != nil {
			_ = bar.Set64(n)
		}
	})
	closeErr := file.Close()
	if err != nil {
		log.WithError(err).Error("File receive failed, removing partial file")
		if rmErr := os.Remove(file.Name()); rmErr != nil {
			log.WithError(rmErr).Warn("Cannot remove partial file")
		}
		_ = s.transfers.FailTransfer(id, err)
		return err
	}
	if closeErr != nil {
		log.WithError(closeErr).Error("Failed to flush received file")
		_ = s.transfers.FailTransfer(id, closeErr)
		s.console.error("Cannot save %s from %s: %v", fileName, source, closeErr)
		return nil
	}

	_ = s.transfers.CompleteTransfer(id)
	log.Info("File received")
	s.console.success("Received file: %s from %s", fileName, source)
	return nil
}
