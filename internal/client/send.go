package client

import (
	"bufio"
	"fmt"
	"io"
	"os"

	apperr "goshare-relay/internal/errors"
	"goshare-relay/internal/fileshare"
	"goshare-relay/internal/protocol"

	"github.com/sirupsen/logrus"
)

// SendFile streams the file at filePath to target through the relay. The
// local file is validated first; a validation error involves no network I/O.
// It returns once the last block is written; the relay's acknowledgment
// arrives later on the listener.
func (s *Session) SendFile(filePath, target string) error {
	info, err := fileshare.Stat(filePath)
	if err != nil {
		return err
	}
	if target == "" {
		return apperr.NewError(apperr.ErrValidation, apperr.ERROR, "client.SendFile",
			"target username is empty", nil)
	}
	conn := s.current()
	if conn == nil {
		return apperr.NewError(apperr.ErrConnection, apperr.ERROR, "client.SendFile",
			"cannot send file", apperr.ErrNotConnected)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return apperr.NewError(apperr.ErrValidation, apperr.ERROR, "client.SendFile",
			fmt.Sprintf("cannot open %s", filePath), err)
	}
	defer file.Close()

	id := s.transfers.CreateTransfer(info, target, fileshare.SENDING)
	logrus.WithFields(logrus.Fields{
		"function": "SendFile",
		"transfer": id,
		"file":     info.Filename,
		"size":     info.Size,
		"mime":     info.MimeType,
		"target":   target,
	}).Info("Sending file")
	s.console.info("Starting send file %s to %s...", filePath, target)

	bar := s.console.progress(info.Size, fmt.Sprintf("Sending %s", info.Filename))
	err = writeTransfer(conn, info, target, file, func(n int64) {
		_ = s.transfers.UpdateTransferProgress(id, n)
		if bar != nil {
			_ = bar.Set64(n)
		}
	})
	if err != nil {
		_ = s.transfers.FailTransfer(id, err)
		// A partially written body leaves the relay reading garbage; drop the
		// connection and let the listener reconnect.
		_ = conn.Close()
		return apperr.NewError(apperr.ErrFileTransfer, apperr.ERROR, "client.SendFile",
			fmt.Sprintf("sending %s failed", info.Filename), err)
	}

	_ = s.transfers.MarkSent(id)
	s.console.info("All blocks of %s were sent", info.Filename)
	return nil
}

func writeTransfer(w io.Writer, info fileshare.FileInfo, target string, src io.Reader, progress func(int64)) error {
	buffered := bufio.NewWriterSize(w, 2*protocol.BlockSize)
	if err := protocol.WriteFrame(buffered, protocol.SendFile(info.Filename, target)); err != nil {
		return err
	}
	if err := protocol.WriteLength(buffered, info.Size); err != nil {
		return err
	}
	if err := fileshare.SendBlocks(buffered, src, info.Size, progress); err != nil {
		return err
	}
	return buffered.Flush()
}
