package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Frame is one length prefixed unit read off the stream.
type Frame struct {
	Opcode  uint8
	Payload []byte
}

// ReadFrame reads the next non-idle frame. Zero length frames are idle
// markers and are skipped. io.EOF is returned only when the stream ends
// cleanly on a frame boundary.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [2]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return Frame{}, err
		}
		n := int(binary.LittleEndian.Uint16(header[:]))
		if n == 0 {
			continue
		}
		return readFrameBody(r, n)
	}
}

// ReadFrameBody reads the n bytes that follow a length prefix of n.
func ReadFrameBody(r io.Reader, n int) (Frame, error) {
	return readFrameBody(r, n)
}

func readFrameBody(r io.Reader, n int) (Frame, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, errors.Wrap(err, "read frame body")
	}
	return Frame{Opcode: buf[0], Payload: buf[1:]}, nil
}

// WriteFrame writes opcode and payload with a length prefix in a single Write.
func WriteFrame(w io.Writer, opcode uint8, payload []byte) error {
	n := len(payload) + 1
	if n > MaxFrameLength {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes", n)
	}
	buf := make([]byte, 3+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(n))
	buf[2] = opcode
	copy(buf[3:], payload)
	_, err := w.Write(buf)
	return err
}
