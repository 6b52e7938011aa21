package pipemsg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic        = "MAGICPIE"
	HeaderSize   = len(Magic) + 8
	MaxFrameSize = 1 << 20
)

var (
	ErrBadMagic     = errors.New("bad pipe magic")
	ErrBadFrameSize = errors.New("invalid frame size")
)

// EncodeFrame lays out magic, priority and length (both big-endian uint32)
// followed by the payload.
func EncodeFrame(payload []byte, priority uint32) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("payload too large")
	}
	out := make([]byte, HeaderSize+len(payload))
	copy(out, Magic)
	binary.BigEndian.PutUint32(out[len(Magic):], priority)
	binary.BigEndian.PutUint32(out[len(Magic)+4:], uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out, nil
}

func ReadFrame(r io.Reader) ([]byte, uint32, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, 0, err
	}
	if !bytes.Equal(hdr[:len(Magic)], []byte(Magic)) {
		return nil, 0, ErrBadMagic
	}
	priority := binary.BigEndian.Uint32(hdr[len(Magic):])
	n := binary.BigEndian.Uint32(hdr[len(Magic)+4:])
	if n == 0 || n > MaxFrameSize {
		return nil, 0, fmt.Errorf("%w: %d", ErrBadFrameSize, n)
	}
	payload := make([]byte, int(n))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, err
	}
	return payload, priority, nil
}

func WriteFrame(w io.Writer, payload []byte, priority uint32) error {
	frame, err := EncodeFrame(payload, priority)
	if err != nil {
		return err
	}
	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write")
		}
		total += n
	}
	return nil
}
