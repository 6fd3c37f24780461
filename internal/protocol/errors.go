package protocol

import "github.com/pkg/errors"

var (
	ErrShortFrame     = errors.New("frame shorter than its payload layout")
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrStringTooLong  = errors.New("string exceeds fixed field size")
	ErrFrameTooLarge  = errors.New("frame exceeds maximum length")
	ErrInvalidAddress = errors.New("invalid bluetooth device address")
)
