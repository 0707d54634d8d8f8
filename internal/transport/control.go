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
	"encoding/binary"
	"fmt"
	"math"

	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
)

const (
	triggerPayloadSize   = 1
	parameterPayloadSize = 5
	statusPayloadSize    = 2
)

// EncodeTrigger builds the payload of a trigger frame
func EncodeTrigger(voice kit.VoiceID) []byte {
	return []byte{byte(voice)}
}

// DecodeTrigger returns the voice a trigger frame addresses
func DecodeTrigger(f *Frame) (kit.VoiceID, error) {
	if f.Type != FrameTypeTrigger {
		return 0, fmt.Errorf("%w: %s frame is not a trigger", ErrInvalidFrame, f.Type)
	}
	if len(f.Data) != triggerPayloadSize {
		return 0, fmt.Errorf("%w: trigger payload is %d bytes", ErrInvalidFrame, len(f.Data))
	}
	return kit.VoiceID(f.Data[0]), nil
}

// EncodeParameter builds the payload of a gain or pan frame: voice byte,
// then the value as big-endian float32 bits
func EncodeParameter(voice kit.VoiceID, value float32) []byte {
	data := make([]byte, parameterPayloadSize)
	data[0] = byte(voice)
	binary.BigEndian.PutUint32(data[1:], math.Float32bits(value))
	return data
}

// DecodeParameter returns the voice and value of a gain or pan frame
func DecodeParameter(f *Frame) (kit.VoiceID, float32, error) {
	if f.Type != FrameTypeGain && f.Type != FrameTypePan {
		return 0, 0, fmt.Errorf("%w: %s frame is not a parameter", ErrInvalidFrame, f.Type)
	}
	if len(f.Data) != parameterPayloadSize {
		return 0, 0, fmt.Errorf("%w: parameter payload is %d bytes", ErrInvalidFrame, len(f.Data))
	}
	value := math.Float32frombits(binary.BigEndian.Uint32(f.Data[1:]))
	return kit.VoiceID(f.Data[0]), value, nil
}

// EncodeStatus builds the payload of a status frame
func EncodeStatus(state uint8, outputReset bool) []byte {
	data := []byte{state, 0}
	if outputReset {
		data[1] = 1
	}
	return data
}

// DecodeStatus returns the state byte and output-reset flag of a status frame
func DecodeStatus(f *Frame) (uint8, bool, error) {
	if f.Type != FrameTypeStatus {
		return 0, false, fmt.Errorf("%w: %s frame is not a status", ErrInvalidFrame, f.Type)
	}
	if len(f.Data) != statusPayloadSize {
		return 0, false, fmt.Errorf("%w: status payload is %d bytes", ErrInvalidFrame, len(f.Data))
	}
	return f.Data[0], f.Data[1] != 0, nil
}
