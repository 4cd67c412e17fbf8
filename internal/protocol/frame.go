// Package protocol implements the relay wire format.
//
// A text frame is a 2-byte big-endian length followed by that many UTF-8
// bytes. A declared file length is an 8-byte big-endian signed integer. File
// content follows a length as a sequence of blocks, each preceded by one
// advisory text frame. Every block except the last carries exactly BlockSize
// bytes, so a reader always knows how much to read without parsing the
// advisory text.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	apperr "goshare-relay/internal/errors"
)

const (
	MaxFrameSize = 65535
	BlockSize    = 4096
)

func WriteFrame(w io.Writer, frame string) error {
	if len(frame) > MaxFrameSize {
		return apperr.NewError(apperr.ErrProtocol, apperr.ERROR, "protocol.WriteFrame",
			fmt.Sprintf("frame of %d bytes", len(frame)), apperr.ErrFrameTooLarge)
	}
	buf := make([]byte, 2+len(frame))
	binary.BigEndian.PutUint16(buf, uint16(len(frame)))
	copy(buf[2:], frame)
	_, err := w.Write(buf)
	return err
}

func ReadFrame(r io.Reader) (string, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", err
	}
	payload := make([]byte, binary.BigEndian.Uint16(header[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", err
	}
	if !utf8.Valid(payload) {
		return "", apperr.NewError(apperr.ErrProtocol, apperr.FATAL, "protocol.ReadFrame",
			"frame is not valid UTF-8", apperr.ErrMalformedFrame)
	}
	return string(payload), nil
}

func WriteLength(w io.Writer, length int64) error {
	if length < 0 {
		return invalidLength("protocol.WriteLength", length)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(length))
	_, err := w.Write(buf[:])
	return err
}

// ReadLength reads a declared length. Negative values are rejected with
// ErrInvalidLength at FATAL level.
func ReadLength(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	length := int64(binary.BigEndian.Uint64(buf[:]))
	if length < 0 {
		return 0, invalidLength("protocol.ReadLength", length)
	}
	return length, nil
}

func invalidLength(source string, length int64) error {
	return apperr.NewError(apperr.ErrValidation, apperr.FATAL, source,
		fmt.Sprintf("declared length %d", length), apperr.ErrInvalidLength)
}

// NextBlock returns the size of the block that follows when remaining bytes
// are still expected.
func NextBlock(remaining int64) int64 {
	return min(int64(BlockSize), remaining)
}

func Advisory(index int, size int64) string {
	return fmt.Sprintf("block #%d with size %d", index, size)
}
