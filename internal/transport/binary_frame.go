/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Binary control frame protocol for drum pads and remote controllers.
// Frames are small enough for a single NATS message or a UDP datagram.

// FrameType represents the type of frame being transmitted
type FrameType uint8

const (
	// Performance frame types
	FrameTypeTrigger FrameType = 0x01
	FrameTypeGain    FrameType = 0x02
	FrameTypePan     FrameType = 0x03

	// Control frame types
	FrameTypeHeartbeat FrameType = 0x10
	FrameTypeRestart   FrameType = 0x11

	// Response frame types
	FrameTypeStatus FrameType = 0x21
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeTrigger:
		return "trigger"
	case FrameTypeGain:
		return "gain"
	case FrameTypePan:
		return "pan"
	case FrameTypeHeartbeat:
		return "heartbeat"
	case FrameTypeRestart:
		return "restart"
	case FrameTypeStatus:
		return "status"
	default:
		return fmt.Sprintf("frame(0x%02X)", uint8(t))
	}
}

// Known reports whether t is a frame type this protocol defines
func (t FrameType) Known() bool {
	switch t {
	case FrameTypeTrigger, FrameTypeGain, FrameTypePan, FrameTypeHeartbeat, FrameTypeRestart, FrameTypeStatus:
		return true
	}
	return false
}

// ErrInvalidFrame is wrapped by every framing and payload error
var ErrInvalidFrame = errors.New("invalid frame")

// Frame represents a binary frame in the protocol
type Frame struct {
	Type      FrameType
	SessionID uint32
	Sequence  uint32
	Timestamp uint64
	Data      []byte
}

// FrameHeader represents the fixed-size frame header (24 bytes)
type FrameHeader struct {
	Magic     uint32    // 0x4452554D ("DRUM")
	Type      FrameType // Frame type (1 byte)
	Reserved  uint8     // Reserved for future use (1 byte)
	Length    uint16    // Data payload length (2 bytes)
	SessionID uint32    // Session identifier (4 bytes)
	Sequence  uint32    // Sequence number (4 bytes)
	Timestamp uint64    // Unix timestamp microseconds (8 bytes)
}

const (
	// Magic number for frame validation
	FrameMagic = 0x4452554D // "DRUM" in big-endian

	// Frame size constraints; control payloads are a few bytes
	MaxFrameSize = 256
	HeaderSize   = 24 // Fixed header size
	MaxDataSize  = MaxFrameSize - HeaderSize
)

// Serialize converts a frame to binary format
func (f *Frame) Serialize() ([]byte, error) {
	if len(f.Data) > MaxDataSize {
		return nil, fmt.Errorf("%w: data too large: %d bytes (max %d)", ErrInvalidFrame, len(f.Data), MaxDataSize)
	}

	header := FrameHeader{
		Magic:     FrameMagic,
		Type:      f.Type,
		Reserved:  0,
		Length:    uint16(len(f.Data)), //nolint:gosec // G115: bounded by MaxDataSize above
		SessionID: f.SessionID,
		Sequence:  f.Sequence,
		Timestamp: f.Timestamp,
	}

	buf := bytes.NewBuffer(make([]byte, 0, f.Size()))

	// Write header in big-endian format
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write frame header: %w", err)
	}

	// Write data payload
	if len(f.Data) > 0 {
		if _, err := buf.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write frame data: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DeserializeFrame converts binary data to a frame, validating magic, length and type
func DeserializeFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: frame too small: %d bytes (min %d)", ErrInvalidFrame, len(data), HeaderSize)
	}

	header, err := parseFrameHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}

	// Validate frame size
	expectedSize := HeaderSize + int(header.Length)
	if len(data) != expectedSize {
		return nil, fmt.Errorf("%w: frame size mismatch: got %d bytes, expected %d", ErrInvalidFrame, len(data), expectedSize)
	}

	frame := &Frame{
		Type:      header.Type,
		SessionID: header.SessionID,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
	}

	if header.Length > 0 {
		frame.Data = make([]byte, header.Length)
		copy(frame.Data, data[HeaderSize:])
	}

	return frame, nil
}

// ReadFrame reads one frame from a byte stream, header first, then payload
func ReadFrame(r io.Reader) (*Frame, error) {
	headerData := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerData); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	header, err := parseFrameHeader(headerData)
	if err != nil {
		return nil, err
	}

	frame := &Frame{
		Type:      header.Type,
		SessionID: header.SessionID,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
	}
	if header.Length > 0 {
		frame.Data = make([]byte, header.Length)
		if _, err := io.ReadFull(r, frame.Data); err != nil {
			return nil, fmt.Errorf("failed to read frame data: %w", err)
		}
	}
	return frame, nil
}

// parseFrameHeader parses just the header portion of frame data
func parseFrameHeader(headerData []byte) (*FrameHeader, error) {
	if len(headerData) != HeaderSize {
		return nil, fmt.Errorf("%w: header size %d bytes (expected %d)", ErrInvalidFrame, len(headerData), HeaderSize)
	}

	var header FrameHeader
	if err := binary.Read(bytes.NewReader(headerData), binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	// Validate magic number
	if header.Magic != FrameMagic {
		return nil, fmt.Errorf("%w: magic 0x%08X (expected 0x%08X)", ErrInvalidFrame, header.Magic, FrameMagic)
	}

	// Validate data length doesn't exceed maximum
	if header.Length > MaxDataSize {
		return nil, fmt.Errorf("%w: data too large: %d bytes (max %d)", ErrInvalidFrame, header.Length, MaxDataSize)
	}

	if !header.Type.Known() {
		return nil, fmt.Errorf("%w: unknown type %s", ErrInvalidFrame, header.Type)
	}

	return &header, nil
}

// NewFrame creates a new frame with the specified parameters
func NewFrame(frameType FrameType, sessionID, sequence uint32, timestamp uint64, data []byte) *Frame {
	return &Frame{
		Type:      frameType,
		SessionID: sessionID,
		Sequence:  sequence,
		Timestamp: timestamp,
		Data:      data,
	}
}

// IsValid checks if the frame is structurally valid
func (f *Frame) IsValid() bool {
	return len(f.Data) <= MaxDataSize && f.Type.Known()
}

// Size returns the total serialized size of the frame
func (f *Frame) Size() int {
	return HeaderSize + len(f.Data)
}
