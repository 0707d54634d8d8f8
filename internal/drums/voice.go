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

package drums

import (
	"math"
	"sync/atomic"

	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
	"github.com/loqalabs/loqa-drumpad-go/internal/samples"
)

const noCursor = -1

// Voice is one independently triggerable drum sound. Gain, pan and
// trigger requests are written by control goroutines and read by the
// render path through atomics. The cursor is written only by the render
// path, or by Reset while no render is in flight.
type Voice struct {
	id     kit.VoiceID
	sample *samples.Sample

	gain     atomic.Uint32 // float32 bits
	pan      atomic.Uint32 // float32 bits
	triggers atomic.Uint32
	cursor   atomic.Int64

	// last trigger sequence consumed by the render path
	seen uint32
}

func newVoice(id kit.VoiceID, sample *samples.Sample, gain, pan float32) *Voice {
	v := &Voice{id: id, sample: sample}
	v.gain.Store(math.Float32bits(gain))
	v.pan.Store(math.Float32bits(clampPan(pan)))
	v.cursor.Store(noCursor)
	return v
}

// ID returns the kit voice this Voice plays
func (v *Voice) ID() kit.VoiceID { return v.id }

// Loaded reports whether the voice has a sample to play
func (v *Voice) Loaded() bool { return v.sample != nil }

// Gain returns the current linear gain
func (v *Voice) Gain() float32 {
	return math.Float32frombits(v.gain.Load())
}

// SetGain stores a linear gain for the next render cycle
func (v *Voice) SetGain(gain float32) error {
	if !finite(gain) {
		return ErrInvalidValue
	}
	v.gain.Store(math.Float32bits(gain))
	return nil
}

// Pan returns the current pan position in [-1, 1]
func (v *Voice) Pan() float32 {
	return math.Float32frombits(v.pan.Load())
}

// SetPan stores a pan position for the next render cycle, clamped to [-1, 1]
func (v *Voice) SetPan(pan float32) error {
	if !finite(pan) {
		return ErrInvalidValue
	}
	v.pan.Store(math.Float32bits(clampPan(pan)))
	return nil
}

// Trigger requests playback from the first frame on the next render cycle,
// restarting the voice if it is already sounding.
func (v *Voice) Trigger() {
	v.triggers.Add(1)
}

// Cursor returns the next frame to be played, or -1 when the voice is silent
func (v *Voice) Cursor() int64 {
	return v.cursor.Load()
}

// IsPlaying reports whether the voice has a cursor
func (v *Voice) IsPlaying() bool {
	return v.cursor.Load() != noCursor
}

// reset silences the voice and discards pending triggers. Only called
// while no render is in flight.
func (v *Voice) reset() {
	v.seen = v.triggers.Load()
	v.cursor.Store(noCursor)
}

// mixInto adds this voice's contribution to interleaved stereo out.
// Runs on the render path.
func (v *Voice) mixInto(out []float32) {
	cur := v.cursor.Load()
	if t := v.triggers.Load(); t != v.seen {
		v.seen = t
		cur = 0
	}

	s := v.sample
	if cur < 0 || s == nil || s.Frames == 0 {
		v.cursor.Store(noCursor)
		return
	}

	gain := v.Gain()
	r := v.Pan()*0.5 + 0.5
	leftGain := gain * (1 - r)
	rightGain := gain * r

	frames := int64(len(out) / 2)
	end := int64(s.Frames)
	stereo := s.Channels == 2

	for f := int64(0); f < frames; f++ {
		var l, rt float32
		if stereo {
			l = s.Data[2*cur]
			rt = s.Data[2*cur+1]
		} else {
			l = s.Data[cur]
			rt = l
		}
		out[2*f] += l * leftGain
		out[2*f+1] += rt * rightGain

		cur++
		if cur >= end {
			cur = noCursor
			break
		}
	}
	v.cursor.Store(cur)
}

func clampPan(p float32) float32 {
	if p < -1 {
		return -1
	}
	if p > 1 {
		return 1
	}
	return p
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
