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
	"errors"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-drumpad-go/internal/drums"
	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
)

// ErrStaleFrame is returned for parameter frames older than one already applied
var ErrStaleFrame = errors.New("stale frame")

// Engine is the part of the drum engine remote frames can drive
type Engine interface {
	drums.TriggerSink
	drums.ParameterSink
	RestartStream() error
}

type parameterKey struct {
	session uint32
	kind    FrameType
	voice   kit.VoiceID
}

// Dispatcher applies decoded control frames to an Engine. Parameter frames
// are ordered per session and voice by sequence number; triggers are
// always applied.
type Dispatcher struct {
	engine Engine

	mu       sync.Mutex
	lastSeen map[parameterKey]uint32
}

// NewDispatcher creates a dispatcher driving engine
func NewDispatcher(engine Engine) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		lastSeen: make(map[parameterKey]uint32),
	}
}

// Dispatch applies one frame. Heartbeat and status frames carry no command.
func (d *Dispatcher) Dispatch(f *Frame) error {
	switch f.Type {
	case FrameTypeTrigger:
		voice, err := DecodeTrigger(f)
		if err != nil {
			return err
		}
		return d.engine.Trigger(voice)

	case FrameTypeGain, FrameTypePan:
		voice, value, err := DecodeParameter(f)
		if err != nil {
			return err
		}
		if !d.advance(parameterKey{session: f.SessionID, kind: f.Type, voice: voice}, f.Sequence) {
			return fmt.Errorf("%w: %s sequence %d", ErrStaleFrame, f.Type, f.Sequence)
		}
		if f.Type == FrameTypeGain {
			return d.engine.SetGain(voice, value)
		}
		return d.engine.SetPan(voice, value)

	case FrameTypeRestart:
		return d.engine.RestartStream()

	case FrameTypeHeartbeat, FrameTypeStatus:
		return nil

	default:
		return fmt.Errorf("%w: unknown type %s", ErrInvalidFrame, f.Type)
	}
}

// advance records seq for key and reports whether it is newer than the last one.
// Comparison is modulo 2^32 so sequence wraparound is tolerated.
func (d *Dispatcher) advance(key parameterKey, seq uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.lastSeen[key]
	if ok && int32(seq-last) <= 0 { //nolint:gosec // G115: serial number arithmetic
		return false
	}
	d.lastSeen[key] = seq
	return true
}
