package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

type ErrorType int

const (
	ErrProtocol ErrorType = iota
	ErrFileTransfer
	ErrConnection
	ErrValidation
)

func (t ErrorType) String() string {
	switch t {
	case ErrProtocol:
		return "protocol"
	case ErrFileTransfer:
		return "file-transfer"
	case ErrConnection:
		return "connection"
	case ErrValidation:
		return "validation"
	default:
		return "unknown"
	}
}

type ErrorLevel int

const (
	INFO ErrorLevel = iota
	WARNING
	ERROR
	FATAL
)

var (
	ErrMalformedFrame  = stderrors.New("malformed frame")
	ErrFrameTooLarge   = stderrors.New("frame exceeds 65535 bytes")
	ErrInvalidLength   = stderrors.New("declared length is negative")
	ErrInvalidFileName = stderrors.New("invalid file name")
	ErrFileNotFound    = stderrors.New("file does not exist")
	ErrNotConnected    = stderrors.New("not connected to relay")
	ErrTargetNotFound  = stderrors.New("target user not found")
)

type AppError struct {
	Type    ErrorType
	Level   ErrorLevel
	Message string
	Time    time.Time
	Source  string
	Err     error
}

func (c *AppError) Error() string {
	if c.Err == nil {
		return c.Message
	}
	return fmt.Sprintf("%s: %v", c.Message, c.Err)
}

func (c *AppError) Unwrap() error {
	return c.Err
}

func NewError(errtype ErrorType, level ErrorLevel, source string, msg string, uerror error) *AppError {
	return &AppError{
		Type:    errtype,
		Level:   level,
		Message: msg,
		Time:    time.Now(),
		Source:  source,
		Err:     uerror,
	}
}

// IsFatal reports whether the first AppError in err's chain is FATAL.
func IsFatal(err error) bool {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Level == FATAL
	}
	return false
}

// Is and As mirror the standard library helpers.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
