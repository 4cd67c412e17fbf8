package protocol

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	apperr "goshare-relay/internal/errors"
)

const (
	CmdClientList      = "CLIENT_LIST"
	CmdSendFile        = "SEND_FILE"
	CmdReceiveFile     = "RECEIVE_FILE"
	CmdAckFileReceived = "ACK_FILE_RECEIVED"
	CmdTransferFailed  = "TRANSFER_FAILED"
)

// Command is a parsed text frame. Peer holds the target username for
// SEND_FILE and TRANSFER_FAILED, and the source username for RECEIVE_FILE.
type Command struct {
	Name     string
	FileName string
	Peer     string
	Roster   []string
	Raw      string
}

// Parse decodes a frame by its leading token. Frames with an unknown token
// are returned with only Name and Raw set; a known token with the wrong
// shape is ErrMalformedFrame.
func Parse(frame string) (Command, error) {
	fields := strings.Fields(frame)
	cmd := Command{Raw: frame}
	if len(fields) == 0 {
		return cmd, nil
	}
	cmd.Name = fields[0]
	args := fields[1:]

	switch cmd.Name {
	case CmdClientList:
		cmd.Roster = args
		return cmd, nil
	case CmdSendFile, CmdTransferFailed:
		if len(args) != 2 {
			return cmd, malformed(frame)
		}
		cmd.FileName, cmd.Peer = args[0], args[1]
	case CmdReceiveFile:
		if len(args) != 3 || args[1] != "from" {
			return cmd, malformed(frame)
		}
		cmd.FileName, cmd.Peer = args[0], args[2]
	case CmdAckFileReceived:
		if len(args) != 1 {
			return cmd, malformed(frame)
		}
		cmd.FileName = args[0]
	default:
		return cmd, nil
	}

	if err := ValidateFileName(cmd.FileName); err != nil {
		return cmd, err
	}
	return cmd, nil
}

func malformed(frame string) error {
	return apperr.NewError(apperr.ErrProtocol, apperr.FATAL, "protocol.Parse",
		fmt.Sprintf("unexpected frame shape %q", frame), apperr.ErrMalformedFrame)
}

// ValidateFileName accepts bare base names without whitespace.
func ValidateFileName(name string) error {
	invalid := name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) ||
		filepath.Base(name) != name ||
		strings.IndexFunc(name, unicode.IsSpace) >= 0
	if invalid {
		return apperr.NewError(apperr.ErrValidation, apperr.FATAL, "protocol.ValidateFileName",
			fmt.Sprintf("file name %q", name), apperr.ErrInvalidFileName)
	}
	return nil
}

func ClientList(roster []string) string {
	if len(roster) == 0 {
		return CmdClientList
	}
	return CmdClientList + " " + strings.Join(roster, " ")
}

func SendFile(fileName, target string) string {
	return fmt.Sprintf("%s %s %s", CmdSendFile, fileName, target)
}

func ReceiveFile(fileName, source string) string {
	return fmt.Sprintf("%s %s from %s", CmdReceiveFile, fileName, source)
}

func AckFileReceived(fileName string) string {
	return fmt.Sprintf("%s %s", CmdAckFileReceived, fileName)
}

func TransferFailed(fileName, target string) string {
	return fmt.Sprintf("%s %s %s", CmdTransferFailed, fileName, target)
}
