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

package samples

import (
	"time"

	"github.com/loqalabs/loqa-drumpad-go/internal/kit"
)

// Sample is a decoded, immutable PCM buffer. Data holds Frames*Channels
// interleaved float32 values in [-1, 1]. Once handed to a Bank it must
// not be modified.
type Sample struct {
	Data       []float32
	Channels   int
	Frames     int
	SampleRate int
	Format     string
}

// Duration returns the playback length at the sample's own rate
func (s *Sample) Duration() time.Duration {
	if s == nil || s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s.Frames) / float64(s.SampleRate) * float64(time.Second))
}

// Bank holds one sample per kit voice. A nil entry is a voice whose asset
// failed to load; it stays silent for the life of the bank.
type Bank struct {
	samples [kit.NumVoices]*Sample
}

// NewBank builds a bank from per-voice samples. Entries for invalid voice ids are ignored.
func NewBank(loaded map[kit.VoiceID]*Sample) *Bank {
	b := &Bank{}
	for id, s := range loaded {
		if id.Valid() {
			b.samples[id] = s
		}
	}
	return b
}

// Sample returns the buffer for a voice, or nil when the voice has none
func (b *Bank) Sample(id kit.VoiceID) *Sample {
	if b == nil || !id.Valid() {
		return nil
	}
	return b.samples[id]
}

// Loaded returns how many voices have a usable sample
func (b *Bank) Loaded() int {
	if b == nil {
		return 0
	}
	n := 0
	for _, s := range b.samples {
		if s != nil {
			n++
		}
	}
	return n
}
