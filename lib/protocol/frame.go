// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// headerLength is the size of the frame length prefix: one unsigned
// 16-bit big-endian integer.
const headerLength = 2

// MaxFrameLength is the largest payload a 2-byte length prefix can
// describe.
const MaxFrameLength = 0xFFFF

// ErrFrameTooLarge is returned when a payload exceeds the frame
// limit, on either the write or the read side.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// AppendFrame appends the framed form of payload to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameLength {
		return dst, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	return append(dst, payload...), nil
}

// WriteFrame writes payload to w as a single frame. Header and
// payload go out in one Write call so that a frame is never split
// between two writers sharing w.
func WriteFrame(w io.Writer, payload []byte) (int, error) {
	frame, err := AppendFrame(make([]byte, 0, headerLength+len(payload)), payload)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(frame)
	if err != nil {
		return n, fmt.Errorf("write frame: %w", err)
	}
	return n, nil
}

// FrameReader splits a byte stream into frames. Bytes of an
// incomplete frame stay buffered until the rest arrives; ReadFrame
// never returns a partial payload.
type FrameReader struct {
	reader    *bufio.Reader
	maxLength int
}

// NewFrameReader reads frames from r. Frames declaring more than
// maxLength bytes are rejected; maxLength <= 0 or above
// MaxFrameLength means MaxFrameLength.
func NewFrameReader(r io.Reader, maxLength int) *FrameReader {
	if maxLength <= 0 || maxLength > MaxFrameLength {
		maxLength = MaxFrameLength
	}
	return &FrameReader{
		reader:    bufio.NewReaderSize(r, headerLength+maxLength),
		maxLength: maxLength,
	}
}

// ReadFrame returns the next complete frame payload. io.EOF is
// returned only at a clean frame boundary; a stream that ends inside
// a frame yields io.ErrUnexpectedEOF.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(f.reader, header[:]); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(header[:]))
	if length > f.maxLength {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, length, f.maxLength)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(f.reader, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
