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
	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
	"github.com/loqalabs/loqa-drumpad-go/internal/samples"
)

// OutputChannels is the interleaved channel count the mixer renders
const OutputChannels = 2

// Mixer sums every voice into an interleaved stereo buffer
type Mixer struct {
	voices [kit.NumVoices]*Voice
}

// NewMixer creates one voice per kit slot. Voices without a sample in
// the bank exist but never sound.
func NewMixer(bank *samples.Bank, k kit.Kit) *Mixer {
	m := &Mixer{}
	for _, id := range kit.AllVoices() {
		settings := k.Voices[id]
		m.voices[id] = newVoice(id, bank.Sample(id), settings.Gain, settings.Pan)
	}
	return m
}

// Voice returns the voice for id
func (m *Mixer) Voice(id kit.VoiceID) (*Voice, error) {
	if !id.Valid() {
		return nil, ErrInvalidVoice
	}
	return m.voices[id], nil
}

// Render fills out with one buffer period of interleaved stereo frames.
// It runs on the real-time context: no allocation, locking or logging.
func (m *Mixer) Render(out []float32) {
	clear(out)
	for _, v := range m.voices {
		v.mixInto(out)
	}
	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
}

// Reset silences every voice. Callers guarantee no render is in flight.
func (m *Mixer) Reset() {
	for _, v := range m.voices {
		v.reset()
	}
}
