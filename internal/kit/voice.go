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

package kit

import (
	"fmt"
	"strings"
)

// VoiceID identifies one of the fixed drum voices of a kit
type VoiceID uint8

const (
	BassDrum VoiceID = iota
	SnareDrum
	MidTom
	LowTom
	HiHatOpen
	HiHatClosed
	RideCymbal
	CrashCymbal

	// NumVoices is the size of the fixed voice set
	NumVoices = 8
)

var voiceNames = [NumVoices]string{
	BassDrum:    "bass_drum",
	SnareDrum:   "snare",
	MidTom:      "mid_tom",
	LowTom:      "low_tom",
	HiHatOpen:   "hihat_open",
	HiHatClosed: "hihat_closed",
	RideCymbal:  "ride",
	CrashCymbal: "crash",
}

// aliases accepted by ParseVoice in addition to the canonical names
var voiceAliases = map[string]VoiceID{
	"kick":        BassDrum,
	"bass":        BassDrum,
	"bassdrum":    BassDrum,
	"snaredrum":   SnareDrum,
	"midtom":      MidTom,
	"lowtom":      LowTom,
	"hihatopen":   HiHatOpen,
	"ohh":         HiHatOpen,
	"hihatclosed": HiHatClosed,
	"chh":         HiHatClosed,
	"hihat":       HiHatClosed,
	"ridecymbal":  RideCymbal,
	"crashcymbal": CrashCymbal,
}

// Valid reports whether v is one of the kit voices
func (v VoiceID) Valid() bool {
	return v < NumVoices
}

func (v VoiceID) String() string {
	if !v.Valid() {
		return fmt.Sprintf("voice(%d)", uint8(v))
	}
	return voiceNames[v]
}

// ParseVoice resolves a voice name or alias (case-insensitive, '-' and ' ' treated as '_')
func ParseVoice(name string) (VoiceID, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)

	for i, n := range voiceNames {
		if n == key {
			return VoiceID(i), nil
		}
	}
	if v, ok := voiceAliases[strings.ReplaceAll(key, "_", "")]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVoice, name)
}

// AllVoices returns every voice in identifier order
func AllVoices() []VoiceID {
	voices := make([]VoiceID, NumVoices)
	for i := range voices {
		voices[i] = VoiceID(i)
	}
	return voices
}
