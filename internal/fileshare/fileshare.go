package fileshare

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	apperr "goshare-relay/internal/errors"
	"goshare-relay/internal/protocol"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

// Stat validates a local file for sending and describes it.
func Stat(filePath string) (FileInfo, error) {
	stats, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, apperr.NewError(apperr.ErrValidation, apperr.ERROR, "fileshare.Stat",
				fmt.Sprintf("file does not exist: %s", filePath), apperr.ErrFileNotFound)
		}
		return FileInfo{}, apperr.NewError(apperr.ErrValidation, apperr.ERROR, "fileshare.Stat",
			fmt.Sprintf("cannot access %s", filePath), err)
	}
	if !stats.Mode().IsRegular() {
		return FileInfo{}, apperr.NewError(apperr.ErrValidation, apperr.ERROR, "fileshare.Stat",
			fmt.Sprintf("not a regular file: %s", filePath), apperr.ErrFileNotFound)
	}
	if err := protocol.ValidateFileName(stats.Name()); err != nil {
		return FileInfo{}, err
	}

	info := FileInfo{Filename: stats.Name(), Size: stats.Size()}
	if mtype, err := mimetype.DetectFile(filePath); err == nil {
		info.MimeType = mtype.String()
	}
	return info, nil
}

// SendBlocks streams exactly length bytes from src to w. Each block is
// preceded by its advisory frame; progress receives the running total.
func SendBlocks(w io.Writer, src io.Reader, length int64, progress func(int64)) error {
	buf := make([]byte, protocol.BlockSize)
	var sent int64
	for index := 1; sent < length; index++ {
		n := protocol.NextBlock(length - sent)
		if _, err := io.ReadFull(src, buf[:n]); err != nil {
			return apperr.NewError(apperr.ErrFileTransfer, apperr.FATAL, "fileshare.SendBlocks",
				fmt.Sprintf("source ended at block %d", index), err)
		}
		if err := protocol.WriteFrame(w, protocol.Advisory(index, n)); err != nil {
			return err
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		sent += n
		if progress != nil {
			progress(sent)
		}
	}
	return nil
}

// ReceiveBlocks reads length bytes of block content from r into dst. The
// advisory frame before each block is read and discarded.
func ReceiveBlocks(r io.Reader, dst io.Writer, length int64, progress func(int64)) error {
	buf := make([]byte, protocol.BlockSize)
	remaining := length
	for remaining > 0 {
		advisory, err := protocol.ReadFrame(r)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"function": "ReceiveBlocks",
			"advisory": advisory,
		}).Trace("Block header received")

		n := min(int64(len(buf)), remaining)
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return err
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return apperr.NewError(apperr.ErrFileTransfer, apperr.FATAL, "fileshare.ReceiveBlocks",
				"failed to write to destination", err)
		}
		remaining -= n
		if progress != nil {
			progress(length - remaining)
		}
	}
	return nil
}

// CreateDestination opens <root>/<username>/<filename> for writing, creating
// the user directory when missing. An existing file is truncated.
func CreateDestination(root, username, filename string) (*os.File, error) {
	if err := protocol.ValidateFileName(filename); err != nil {
		return nil, err
	}
	dir := filepath.Join(root, username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return os.Create(filepath.Join(dir, filename))
}
