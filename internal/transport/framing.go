package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame on the wire.
const MaxFrameSize = 10 * 1024 * 1024

// Frame kinds carried in the first byte of every frame.
const (
	FrameHello  byte = 'H'
	FrameAccept byte = 'A'
	FrameData   byte = 'D'
)

func WriteFrame(w io.Writer, kind byte, data []byte) error {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header, uint32(len(data)+1))
	header[4] = kind
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

func ReadFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("failed to read header: %w", err)
	}
	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return 0, nil, fmt.Errorf("empty frame")
	}
	if length > MaxFrameSize {
		return 0, nil, fmt.Errorf("frame too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return payload[0], payload[1:], nil
}
